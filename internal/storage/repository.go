package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"risparmi/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Export states for the backup worker queue.
const (
	ExportPending = "pending"
	ExportSynced  = "synced"
	ExportError   = "error"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// PendingExport is the minimal row the worker needs to pick up a deposit.
type PendingExport struct {
	ID        int64
	Version   int64
	CreatedAt time.Time
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// WAL mode so the worker can read while the API writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser inserts a new user; ErrUsernameTaken on duplicate username.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string) (core.User, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.User{}, ErrUsernameTaken
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("create user id: %w", err)
	}

	slog.InfoContext(ctx, "User created", "id", id, "username", username)
	return core.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}, nil
}

// FindUserByUsername returns ErrNotFound for unknown usernames.
func (r *SQLiteRepository) FindUserByUsername(ctx context.Context, username string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// SaveDeposit validates and inserts a record, returning it with its ID set.
func (r *SQLiteRepository) SaveDeposit(ctx context.Context, rec core.DepositRecord) (core.DepositRecord, error) {
	if err := rec.Validate(); err != nil {
		return core.DepositRecord{}, fmt.Errorf("validate deposit: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO deposits (username, date, amount, is_total, current_total)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.User, rec.Date.Format(dateLayout), rec.Amount, rec.IsTotal, nullFloat(rec.CurrentTotal))
	if err != nil {
		return core.DepositRecord{}, fmt.Errorf("insert deposit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.DepositRecord{}, fmt.Errorf("insert deposit id: %w", err)
	}
	rec.ID = id

	slog.InfoContext(ctx, "Deposit saved",
		"id", rec.ID,
		"user", rec.User,
		"date", rec.Date.Format(dateLayout),
		"amount", rec.Amount,
		"is_total", rec.IsTotal)
	return rec, nil
}

// ListDeposits returns a user's records sorted ascending by date, then by
// insertion order within a date, the ordering the projection engine requires.
func (r *SQLiteRepository) ListDeposits(ctx context.Context, username string) ([]core.DepositRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, date, amount, is_total, current_total
		 FROM deposits WHERE username = ? ORDER BY date ASC, id ASC`,
		username)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()

	var records []core.DepositRecord
	for rows.Next() {
		rec, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deposits rows: %w", err)
	}
	return records, nil
}

// GetDeposit returns a single record by ID.
func (r *SQLiteRepository) GetDeposit(ctx context.Context, id int64) (core.DepositRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, date, amount, is_total, current_total
		 FROM deposits WHERE id = ?`, id)
	rec, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DepositRecord{}, ErrNotFound
	}
	return rec, err
}

// DeleteDeposit removes a single record; the username guard keeps one user
// from deleting another's rows.
func (r *SQLiteRepository) DeleteDeposit(ctx context.Context, username string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM deposits WHERE id = ? AND username = ?`, id, username)
	if err != nil {
		return fmt.Errorf("delete deposit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete deposit rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "Deposit deleted", "id", id, "user", username)
	return nil
}

// DeleteAllDeposits removes every record for a user and returns the count.
func (r *SQLiteRepository) DeleteAllDeposits(ctx context.Context, username string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM deposits WHERE username = ?`, username)
	if err != nil {
		return 0, fmt.Errorf("delete all deposits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete all deposits rows affected: %w", err)
	}
	slog.InfoContext(ctx, "All deposits deleted", "user", username, "count", n)
	return n, nil
}

// ListPendingExport returns deposits awaiting backup, oldest first.
func (r *SQLiteRepository) ListPendingExport(ctx context.Context, limit int) ([]PendingExport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, export_version, created_at FROM deposits
		 WHERE export_state IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		ExportPending, ExportError, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending export: %w", err)
	}
	defer rows.Close()

	var pending []PendingExport
	for rows.Next() {
		var p PendingExport
		if err := rows.Scan(&p.ID, &p.Version, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending export rows: %w", err)
	}
	return pending, nil
}

// MarkExported marks a deposit as successfully mirrored.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE deposits SET export_state = ? WHERE id = ?`, ExportSynced, id); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

// MarkExportError flags a deposit for retry by the backlog scan.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE deposits SET export_state = ?, export_version = export_version + 1 WHERE id = ?`,
		ExportError, id); err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Deposit marked with export error", "id", id)
	return nil
}

// ListUsersWithDeposits returns every username owning at least one record,
// the full-mirror job's work list.
func (r *SQLiteRepository) ListUsersWithDeposits(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT username FROM deposits ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users with deposits: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users rows: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (core.DepositRecord, error) {
	var (
		rec     core.DepositRecord
		dateStr string
		current sql.NullFloat64
	)
	if err := row.Scan(&rec.ID, &rec.User, &dateStr, &rec.Amount, &rec.IsTotal, &current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DepositRecord{}, err
		}
		return core.DepositRecord{}, fmt.Errorf("scan deposit: %w", err)
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return core.DepositRecord{}, fmt.Errorf("parse deposit date %q: %w", dateStr, err)
	}
	rec.Date = date
	if current.Valid {
		v := current.Float64
		rec.CurrentTotal = &v
	}
	return rec, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
