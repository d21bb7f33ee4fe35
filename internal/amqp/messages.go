package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds routed over the export queue.
const (
	KindDepositSync = "deposit_sync"
	KindUserMirror  = "user_mirror"
)

// ExportMessage is the lightweight envelope queued for the backup worker.
// Deposit sync messages carry only the row ID and version; the worker
// re-reads the row from the database so the queue never holds stale data.
// Mirror messages name a user whose whole log must be rewritten.
type ExportMessage struct {
	Kind      string    `json:"kind"`
	DepositID int64     `json:"deposit_id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDepositSyncMessage builds a message for a single freshly written deposit.
func NewDepositSyncMessage(id, version int64) *ExportMessage {
	return &ExportMessage{
		Kind:      KindDepositSync,
		DepositID: id,
		Version:   version,
		Timestamp: time.Now(),
	}
}

// NewUserMirrorMessage builds a message requesting a full rewrite of one
// user's sheet, used after deletions.
func NewUserMirrorMessage(user string) *ExportMessage {
	return &ExportMessage{
		Kind:      KindUserMirror,
		User:      user,
		Timestamp: time.Now(),
	}
}

func (m *ExportMessage) Validate() error {
	switch m.Kind {
	case KindDepositSync:
		if m.DepositID == 0 {
			return fmt.Errorf("deposit sync message without deposit_id")
		}
	case KindUserMirror:
		if m.User == "" {
			return fmt.Errorf("user mirror message without user")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *ExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExportMessageFromJSON creates a message from JSON bytes
func ExportMessageFromJSON(data []byte) (*ExportMessage, error) {
	var msg ExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
