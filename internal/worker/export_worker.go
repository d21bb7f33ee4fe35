// Package worker mirrors the deposit log to the configured backup sheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"risparmi/internal/amqp"
	"risparmi/internal/sheets"
	"risparmi/internal/storage"
)

// mirrorConcurrency bounds parallel sheet writes during a full mirror; the
// Sheets API rate limit is per spreadsheet, not per tab.
const mirrorConcurrency = 4

// ExportWorker copies deposits from SQLite to the backup exporter. It is
// driven three ways: AMQP messages for fresh writes, a periodic backlog scan
// for rows whose messages were lost, and a cron full mirror.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	exporter  sheets.Exporter
	batchSize int
}

func NewExportWorker(st *storage.SQLiteRepository, exporter sheets.Exporter, batchSize int) *ExportWorker {
	return &ExportWorker{
		storage:   st,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleMessage processes one export message from AMQP.
func (w *ExportWorker) HandleMessage(ctx context.Context, msg *amqp.ExportMessage) error {
	switch msg.Kind {
	case amqp.KindDepositSync:
		return w.exportDeposit(ctx, msg.DepositID)
	case amqp.KindUserMirror:
		return w.MirrorUser(ctx, msg.User)
	default:
		// Validated on decode; unreachable unless message kinds grow.
		return fmt.Errorf("unhandled message kind %q", msg.Kind)
	}
}

func (w *ExportWorker) exportDeposit(ctx context.Context, id int64) error {
	rec, err := w.storage.GetDeposit(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before the worker got to it; the mirror message that
		// follows a delete settles the sheet.
		slog.WarnContext(ctx, "Deposit vanished before export", "deposit_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get deposit %d: %w", id, err)
	}

	if _, err := w.exporter.AppendDeposit(ctx, rec); err != nil {
		if markErr := w.storage.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "deposit_id", id, "error", markErr)
		}
		return fmt.Errorf("append deposit %d: %w", id, err)
	}

	if err := w.storage.MarkExported(ctx, id); err != nil {
		return fmt.Errorf("mark exported %d: %w", id, err)
	}

	slog.InfoContext(ctx, "Deposit exported", "deposit_id", id, "user", rec.User)
	return nil
}

// MirrorUser rewrites one user's sheet from the database and settles every
// row's export state.
func (w *ExportWorker) MirrorUser(ctx context.Context, user string) error {
	records, err := w.storage.ListDeposits(ctx, user)
	if err != nil {
		return fmt.Errorf("list deposits for %s: %w", user, err)
	}

	if err := w.exporter.MirrorLog(ctx, user, records); err != nil {
		return fmt.Errorf("mirror log for %s: %w", user, err)
	}

	for _, rec := range records {
		if err := w.storage.MarkExported(ctx, rec.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark exported after mirror",
				"deposit_id", rec.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "User log mirrored", "user", user, "records", len(records))
	return nil
}

// ProcessPendingExports retries deposits whose export messages were lost or
// failed. Backup mechanism behind the AMQP path.
func (w *ExportWorker) ProcessPendingExports(ctx context.Context) error {
	pending, err := w.storage.ListPendingExport(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))
	for _, p := range pending {
		if err := w.exportDeposit(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Pending export failed", "deposit_id", p.ID, "error", err)
			continue
		}
	}
	return nil
}

// MirrorAll rewrites every user's sheet, bounded to mirrorConcurrency
// parallel writes.
func (w *ExportWorker) MirrorAll(ctx context.Context) error {
	users, err := w.storage.ListUsersWithDeposits(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Starting full mirror", "users", len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mirrorConcurrency)
	for _, user := range users {
		g.Go(func() error {
			return w.MirrorUser(gctx, user)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("full mirror: %w", err)
	}

	slog.InfoContext(ctx, "Full mirror completed", "users", len(users))
	return nil
}

// RegisterMirrorCron schedules the nightly full mirror.
func (w *ExportWorker) RegisterMirrorCron(ctx context.Context, c *cron.Cron, spec string) error {
	if _, err := c.AddFunc(spec, func() {
		if err := w.MirrorAll(ctx); err != nil {
			slog.ErrorContext(ctx, "Scheduled mirror failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register mirror cron: %w", err)
	}
	return nil
}
