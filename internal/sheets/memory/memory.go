// Package memory is an in-process exporter used in tests and when no
// spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"risparmi/internal/core"
	ports "risparmi/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	logs map[string][]core.DepositRecord
}

var _ ports.Exporter = (*Store)(nil)

func New() *Store {
	return &Store{logs: make(map[string][]core.DepositRecord)}
}

// AppendDeposit stores the record and returns a synthetic row reference.
func (s *Store) AppendDeposit(_ context.Context, rec core.DepositRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[rec.User] = append(s.logs[rec.User], rec)
	return fmt.Sprintf("mem:%s:%d", rec.User, len(s.logs[rec.User])), nil
}

// MirrorLog replaces the user's stored log.
func (s *Store) MirrorLog(_ context.Context, user string, records []core.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[user] = append([]core.DepositRecord(nil), records...)
	return nil
}

// Log returns a copy of the user's stored log.
func (s *Store) Log(user string) []core.DepositRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.DepositRecord(nil), s.logs[user]...)
}
