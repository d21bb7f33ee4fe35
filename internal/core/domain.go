package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// DepositRecord is a single logged savings event: either an incremental
	// contribution or an asserted absolute balance ("total") on a given date.
	// Records are immutable once created; they are deleted, never updated.
	DepositRecord struct {
		ID     int64
		User   string
		Date   time.Time
		Amount float64
		// IsTotal marks the record as an absolute balance snapshot. When set,
		// CurrentTotal carries the asserted balance and replaces the running
		// total; otherwise Amount is added to it.
		IsTotal      bool
		CurrentTotal *float64
	}

	// BalancePoint is a reconstructed or projected balance at a point in time.
	BalancePoint struct {
		Date  time.Time `json:"date"`
		Value float64   `json:"value"`
	}

	// ForecastScenario is one forecast run at a fixed annual growth rate.
	ForecastScenario struct {
		Label      string         `json:"label"`
		AnnualRate float64        `json:"annual_rate"`
		Series     []BalancePoint `json:"series"`
	}

	User struct {
		ID           int64
		Username     string
		PasswordHash string
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrEmptyUser     = errors.New("empty username")
	// ErrTotalMismatch reports a record whose IsTotal flag and CurrentTotal
	// field disagree (total without a value, or a value on a non-total).
	ErrTotalMismatch = errors.New("is_total flag and current_total disagree")
)

func (r DepositRecord) Validate() error {
	if strings.TrimSpace(r.User) == "" {
		return ErrEmptyUser
	}
	if r.Date.IsZero() {
		return ErrInvalidDate
	}
	if r.Amount < 0 {
		return ErrInvalidAmount
	}
	if r.IsTotal != (r.CurrentTotal != nil) {
		return ErrTotalMismatch
	}
	if r.CurrentTotal != nil && *r.CurrentTotal < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Total returns the asserted balance for total records and false otherwise.
func (r DepositRecord) Total() (float64, bool) {
	if r.IsTotal && r.CurrentTotal != nil {
		return *r.CurrentTotal, true
	}
	return 0, false
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return ErrEmptyUser
	}
	if len(u.Username) > 64 {
		return errors.New("username too long (max 64 characters)")
	}
	return nil
}
