package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

func TestApprovalsStats(t *testing.T) {
	ctx := context.Background()

	t.Run("missing table", func(t *testing.T) {
		if _, _, err := ApprovalsStats(ctx, newTestDB(t), "u1"); err == nil {
			t.Fatal("expected error without the approvals table")
		}
	})

	t.Run("empty", func(t *testing.T) {
		n, newest, err := ApprovalsStats(ctx, newTestDB(t, &domain.PendingApproval{}), "u1")
		if err != nil || n != 0 || newest != nil {
			t.Fatalf("got (%d, %v, %v)", n, newest, err)
		}
	})

	t.Run("per user newest", func(t *testing.T) {
		db := newTestDB(t, &domain.PendingApproval{})
		jan := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
		mar := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
		seedApproval(t, db, "a1", "u1", mar)
		seedApproval(t, db, "a2", "u1", jan)
		seedApproval(t, db, "a3", "u2", mar.AddDate(0, 2, 0))

		n, newest, err := ApprovalsStats(ctx, db, "u1")
		if err != nil || n != 2 || newest == nil || !newest.Equal(mar) {
			t.Fatalf("got (%d, %v, %v), want (2, %v)", n, newest, err, mar)
		}
	})

	t.Run("version moves on update", func(t *testing.T) {
		db := newTestDB(t, &domain.PendingApproval{})
		at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		seedApproval(t, db, "a1", "u1", at)
		_, before, _ := ApprovalsStats(ctx, db, "u1")

		later := at.Add(time.Hour)
		if err := db.Model(&domain.PendingApproval{}).Where("id = ?", "a1").UpdateColumn("updated_at", later).Error; err != nil {
			t.Fatal(err)
		}
		_, after, err := ApprovalsStats(ctx, db, "u1")
		if err != nil || !after.After(*before) {
			t.Fatalf("version did not advance: %v -> %v (%v)", before, after, err)
		}
	})
}

func TestFailedEmailsStats(t *testing.T) {
	db := newTestDB(t, &domain.ProcessedEmail{})
	ctx := context.Background()

	for _, r := range []struct {
		key, user, outcome string
		ok                 bool
	}{
		{"f1", "u1", domain.OutcomeFailed, false},
		{"f2", "u1", domain.OutcomeFailed, false},
		{"ok", "u1", domain.OutcomeProcessed, true},
		{"pa", "u1", domain.OutcomePendingApproval, false},
		{"f3", "u2", domain.OutcomeFailed, false},
	} {
		if _, err := InsertProcessing(ctx, db, LedgerEntry{EmailKey: r.key, UserID: r.user}); err != nil {
			t.Fatalf("insert %s: %v", r.key, err)
		}
		if _, err := CompleteLedger(ctx, db, r.key, LedgerCompletion{Success: r.ok, Outcome: r.outcome}); err != nil {
			t.Fatalf("complete %s: %v", r.key, err)
		}
	}

	if n, newest, err := FailedEmailsStats(ctx, db, "u1"); err != nil || n != 2 || newest == nil {
		t.Fatalf("u1: (%d, %v, %v)", n, newest, err)
	}
	if n, newest, err := FailedEmailsStats(ctx, db, "nobody"); err != nil || n != 0 || newest != nil {
		t.Fatalf("nobody: (%d, %v, %v)", n, newest, err)
	}
}
