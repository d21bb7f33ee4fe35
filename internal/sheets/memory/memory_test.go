package memory

import (
	"context"
	"testing"
	"time"

	"risparmi/internal/core"
)

func TestAppendAndLog(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := core.DepositRecord{
		User:   "anna",
		Date:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount: 100,
	}

	ref, err := s.AppendDeposit(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if ref == "" {
		t.Error("expected non-empty row reference")
	}
	if got := s.Log("anna"); len(got) != 1 || got[0].Amount != 100 {
		t.Errorf("unexpected log %+v", got)
	}
	if got := s.Log("beppe"); len(got) != 0 {
		t.Errorf("expected empty log for other user, got %+v", got)
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	s := New()
	if _, err := s.AppendDeposit(context.Background(), core.DepositRecord{User: "anna"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestMirrorLogReplaces(t *testing.T) {
	s := New()
	ctx := context.Background()
	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.AppendDeposit(ctx, core.DepositRecord{User: "anna", Date: date, Amount: 100}); err != nil {
		t.Fatal(err)
	}
	replacement := []core.DepositRecord{
		{User: "anna", Date: date, Amount: 40},
		{User: "anna", Date: date.AddDate(0, 1, 0), Amount: 60},
	}
	if err := s.MirrorLog(ctx, "anna", replacement); err != nil {
		t.Fatal(err)
	}
	got := s.Log("anna")
	if len(got) != 2 || got[0].Amount != 40 {
		t.Errorf("mirror did not replace log: %+v", got)
	}
}
