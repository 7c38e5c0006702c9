package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

func newApproval(petID, sender, key string) *domain.PendingApproval {
	return &domain.PendingApproval{
		PetID: petID, UserID: "u1", SenderEmail: sender, EmailKey: key,
		S3Bucket: "bucket", S3Key: "pending-emails/" + key + ".json",
	}
}

func TestCreatePendingApproval_UniquePerPetSenderMessage(t *testing.T) {
	db := newTestDB(t, &domain.PendingApproval{})
	ctx := context.Background()

	a, created, err := CreatePendingApproval(ctx, db, newApproval("p1", "New@Clinic.example", "m1"))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if a.Status != domain.ApprovalPending || a.SenderEmail != "new@clinic.example" {
		t.Fatalf("unexpected row: %+v", a)
	}

	again, created, err := CreatePendingApproval(ctx, db, newApproval("p1", "new@clinic.example", "m1"))
	if err != nil || created {
		t.Fatalf("duplicate create: created=%v err=%v", created, err)
	}
	if again.ID != a.ID {
		t.Fatalf("expected existing approval %s, got %s", a.ID, again.ID)
	}

	// Same sender, different message: independent approval.
	if _, created, err := CreatePendingApproval(ctx, db, newApproval("p1", "new@clinic.example", "m2")); err != nil || !created {
		t.Fatalf("second message: created=%v err=%v", created, err)
	}
	if n, _ := CountApprovals(ctx, db, "u1"); n != 2 {
		t.Fatalf("expected 2 approvals, got %d", n)
	}
}

func TestClaimApproval_CompareAndSwap(t *testing.T) {
	db := newTestDB(t, &domain.PendingApproval{})
	ctx := context.Background()

	a, _, err := CreatePendingApproval(ctx, db, newApproval("p1", "s@x", "m1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now().UTC()
	staleBefore := now.Add(-5 * time.Minute)

	ok, err := ClaimApproval(ctx, db, a.ID, now, staleBefore)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = ClaimApproval(ctx, db, a.ID, now, staleBefore)
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}

	// A claim older than the threshold can be taken over.
	later := now.Add(10 * time.Minute)
	ok, err = ClaimApproval(ctx, db, a.ID, later, later.Add(-5*time.Minute))
	if err != nil || !ok {
		t.Fatalf("stale reclaim: ok=%v err=%v", ok, err)
	}

	if err := ReleaseApproval(ctx, db, a.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := GetApproval(ctx, db, a.ID)
	if got.Status != domain.ApprovalPending || got.ClaimedAt != nil {
		t.Fatalf("expected released approval, got %+v", got)
	}

	if err := DeleteApproval(ctx, db, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := ClaimApproval(ctx, db, a.ID, now, staleBefore); ok {
		t.Fatalf("claiming a deleted approval must fail")
	}
	if err := DeleteApproval(ctx, db, a.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestGetApprovalForUser_Ownership(t *testing.T) {
	db := newTestDB(t, &domain.PendingApproval{})
	ctx := context.Background()

	a, _, _ := CreatePendingApproval(ctx, db, newApproval("p1", "s@x", "m1"))
	if _, err := GetApprovalForUser(ctx, db, "u1", a.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := GetApprovalForUser(ctx, db, "u2", a.ID); !IsNotFound(err) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	page, err := ListApprovalsPage(ctx, db, "u1", 0, 10)
	if err != nil || len(page) != 1 {
		t.Fatalf("list: %d %v", len(page), err)
	}
}
