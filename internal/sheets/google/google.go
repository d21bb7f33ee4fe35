// Package google mirrors deposit logs to a Google Spreadsheet, one sheet
// tab per user.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"risparmi/internal/core"
	ports "risparmi/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const dateLayout = "2006-01-02"

var headerRow = []any{"Date", "Amount", "Is Total", "Current Total"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// Ensure interface conformance
var _ ports.Exporter = (*Client)(nil)

// NewFromEnv creates a Sheets client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS (application default credentials).
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var opts []goption.ClientOption
	switch {
	case serviceAccountJSON != "":
		opts = append(opts, goption.WithCredentialsJSON([]byte(serviceAccountJSON)))
	case serviceAccountFile != "":
		opts = append(opts, goption.WithCredentialsFile(serviceAccountFile))
	}
	opts = append(opts, goption.WithScopes(gsheet.SpreadsheetsScope))

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// AppendDeposit appends one row to the user's tab, creating the tab with a
// header row on first use.
func (c *Client) AppendDeposit(ctx context.Context, rec core.DepositRecord) (string, error) {
	if err := c.ensureSheet(ctx, rec.User); err != nil {
		return "", err
	}

	row := depositRow(rec)
	resp, err := c.svc.Spreadsheets.Values.Append(
		c.spreadsheetID,
		sheetRange(rec.User),
		&gsheet.ValueRange{Values: [][]any{row}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append deposit row: %w", err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Deposit appended to sheet",
		"user", rec.User, "deposit_id", rec.ID, "sheet_ref", ref)
	return ref, nil
}

// MirrorLog clears the user's tab and rewrites it from the given records.
func (c *Client) MirrorLog(ctx context.Context, user string, records []core.DepositRecord) error {
	if err := c.ensureSheet(ctx, user); err != nil {
		return err
	}

	if _, err := c.svc.Spreadsheets.Values.Clear(
		c.spreadsheetID, sheetRange(user), &gsheet.ClearValuesRequest{},
	).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet for %s: %w", user, err)
	}

	values := make([][]any, 0, len(records)+1)
	values = append(values, headerRow)
	for _, rec := range records {
		values = append(values, depositRow(rec))
	}

	if _, err := c.svc.Spreadsheets.Values.Update(
		c.spreadsheetID,
		sheetRange(user),
		&gsheet.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write mirror for %s: %w", user, err)
	}

	slog.InfoContext(ctx, "Deposit log mirrored to sheet",
		"user", user, "rows", len(records))
	return nil
}

// ensureSheet creates the user's tab with a header row when it is missing.
func (c *Client) ensureSheet(ctx context.Context, user string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == user {
			return nil
		}
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: user},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheet for %s: %w", user, err)
	}

	if _, err := c.svc.Spreadsheets.Values.Update(
		c.spreadsheetID,
		sheetRange(user),
		&gsheet.ValueRange{Values: [][]any{headerRow}},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header for %s: %w", user, err)
	}

	slog.InfoContext(ctx, "Created backup sheet", "user", user)
	return nil
}

func depositRow(rec core.DepositRecord) []any {
	current := ""
	if rec.CurrentTotal != nil {
		current = strconv.FormatFloat(*rec.CurrentTotal, 'f', 2, 64)
	}
	return []any{
		rec.Date.Format(dateLayout),
		strconv.FormatFloat(rec.Amount, 'f', 2, 64),
		rec.IsTotal,
		current,
	}
}

// sheetRange quotes the tab name so usernames with spaces stay valid A1
// references.
func sheetRange(user string) string {
	return "'" + strings.ReplaceAll(user, "'", "''") + "'!A:D"
}
