package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"risparmi/internal/amqp"
	"risparmi/internal/core"
	"risparmi/internal/sheets/memory"
	"risparmi/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "worker_test.db")
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *storage.SQLiteRepository, username string) {
	t.Helper()
	if _, err := repo.CreateUser(context.Background(), username, "hash"); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
}

func seedDeposit(t *testing.T, repo *storage.SQLiteRepository, user string, date time.Time, amount float64) core.DepositRecord {
	t.Helper()
	rec := core.DepositRecord{User: user, Date: date, Amount: amount}
	saved, err := repo.SaveDeposit(context.Background(), rec)
	if err != nil {
		t.Fatalf("saving deposit: %v", err)
	}
	return saved
}

func TestHandleMessageDepositSync(t *testing.T) {
	repo := newTestRepo(t)
	seedUser(t, repo, "alice")
	rec := seedDeposit(t, repo, "alice", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 500)

	mem := memory.New()
	w := NewExportWorker(repo, mem, 10)

	msg := amqp.NewDepositSyncMessage(rec.ID, 1)
	if err := w.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handling message: %v", err)
	}

	log := mem.Log("alice")
	if len(log) != 1 {
		t.Fatalf("expected 1 appended record, got %d", len(log))
	}
	if log[0].Amount != 500 {
		t.Errorf("expected amount 500, got %v", log[0].Amount)
	}

	pending, err := repo.ListPendingExport(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending exports after sync, got %d", len(pending))
	}
}

func TestHandleMessageDepositGone(t *testing.T) {
	repo := newTestRepo(t)
	mem := memory.New()
	w := NewExportWorker(repo, mem, 10)

	msg := amqp.NewDepositSyncMessage(999, 1)
	if err := w.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("missing deposit should be skipped, got: %v", err)
	}
}

func TestHandleMessageUserMirror(t *testing.T) {
	repo := newTestRepo(t)
	seedUser(t, repo, "bob")
	seedDeposit(t, repo, "bob", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 100)
	seedDeposit(t, repo, "bob", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 200)

	mem := memory.New()
	w := NewExportWorker(repo, mem, 10)

	if err := w.HandleMessage(context.Background(), amqp.NewUserMirrorMessage("bob")); err != nil {
		t.Fatalf("handling mirror message: %v", err)
	}

	log := mem.Log("bob")
	if len(log) != 2 {
		t.Fatalf("expected 2 mirrored records, got %d", len(log))
	}

	pending, err := repo.ListPendingExport(context.Background(), 10)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending exports after mirror, got %d", len(pending))
	}
}

func TestProcessPendingExports(t *testing.T) {
	repo := newTestRepo(t)
	seedUser(t, repo, "carol")
	seedDeposit(t, repo, "carol", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 50)
	seedDeposit(t, repo, "carol", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 75)

	mem := memory.New()
	w := NewExportWorker(repo, mem, 10)

	if err := w.ProcessPendingExports(context.Background()); err != nil {
		t.Fatalf("processing pending: %v", err)
	}

	if got := len(mem.Log("carol")); got != 2 {
		t.Fatalf("expected 2 exported records, got %d", got)
	}

	// Second pass finds nothing to do.
	if err := w.ProcessPendingExports(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := len(mem.Log("carol")); got != 2 {
		t.Errorf("expected no duplicate exports, got %d records", got)
	}
}

func TestMirrorAll(t *testing.T) {
	repo := newTestRepo(t)
	seedUser(t, repo, "dave")
	seedUser(t, repo, "erin")
	seedDeposit(t, repo, "dave", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	seedDeposit(t, repo, "erin", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 20)
	seedDeposit(t, repo, "erin", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 30)

	mem := memory.New()
	w := NewExportWorker(repo, mem, 10)

	if err := w.MirrorAll(context.Background()); err != nil {
		t.Fatalf("mirroring all: %v", err)
	}

	if got := len(mem.Log("dave")); got != 1 {
		t.Errorf("expected 1 record for dave, got %d", got)
	}
	if got := len(mem.Log("erin")); got != 2 {
		t.Errorf("expected 2 records for erin, got %d", got)
	}
}
