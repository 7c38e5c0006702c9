package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/notify"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

func ledgerRow(t *testing.T, f *fixture, key string) *domain.ProcessedEmail {
	t.Helper()
	rec, err := repo.GetLedger(context.Background(), f.db, key)
	if err != nil {
		t.Fatalf("ledger row %q: %v", key, err)
	}
	return rec
}

func TestIngest_KnownSenderVaccination(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15")

	before := testutil.ToFloat64(ingestOutcomes.WithLabelValues(string(StatusSuccess)))
	resp := f.ing.Process(context.Background(), vetEmail("a1@vet.example", "dr@vet.example", "rabies.pdf"))

	if resp.Status != StatusSuccess || resp.Code() != http.StatusOK {
		t.Fatalf("response = %+v", resp)
	}
	if resp.PetID != f.pet.ID || resp.AttachmentCount != 1 || len(resp.Results) != 1 || !resp.Results[0].Inserted {
		t.Fatalf("response body = %+v", resp)
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 1 {
		t.Fatalf("vaccinations = %d, want 1", n)
	}
	rec := ledgerRow(t, f, "a1@vet.example")
	if rec.Status != domain.LedgerCompleted || rec.Success == nil || !*rec.Success ||
		rec.AttachmentCount != 1 || rec.Outcome != domain.OutcomeProcessed || rec.CompletedAt == nil {
		t.Fatalf("ledger row = %+v", rec)
	}
	if rec.DocumentType == nil || *rec.DocumentType != string(domain.DocVaccinations) {
		t.Fatalf("document type = %v", rec.DocumentType)
	}
	if d := testutil.ToFloat64(ingestOutcomes.WithLabelValues(string(StatusSuccess))) - before; d != 1 {
		t.Fatalf("success counter delta = %v", d)
	}
}

func TestIngest_RedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15")
	ctx := context.Background()

	first := f.ing.Process(ctx, vetEmail("b1@vet.example", "dr@vet.example", "rabies.pdf"))
	second := f.ing.Process(ctx, vetEmail("b1@vet.example", "dr@vet.example", "rabies.pdf"))

	if first.Status != StatusSuccess {
		t.Fatalf("first = %+v", first)
	}
	if second.Status != StatusDuplicate || second.LedgerStatus != domain.LedgerCompleted || second.Code() != http.StatusOK {
		t.Fatalf("second = %+v", second)
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 1 {
		t.Fatalf("vaccinations = %d, want 1", n)
	}
	if f.clf.Calls() != 1 {
		t.Fatalf("classifier calls = %d, want 1", f.clf.Calls())
	}
}

func TestIngest_ConcurrentDeliveriesInsertOnce(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15")

	const n = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := f.ing.Process(context.Background(), vetEmail("c1@vet.example", "dr@vet.example", "rabies.pdf"))
			mu.Lock()
			statuses[resp.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[StatusSuccess] != 1 || statuses[StatusDuplicate] != n-1 {
		t.Fatalf("statuses = %v", statuses)
	}
	if c := countRows(t, f.db, &domain.Vaccination{}); c != 1 {
		t.Fatalf("vaccinations = %d, want 1", c)
	}
}

func TestIngest_UnknownSenderIsDeferred(t *testing.T) {
	f := newFixture(t)
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15")
	email := vetEmail("<d1@new-vet.example>", "new@vet.example", "rabies.pdf")
	email.EmailKey = "d1@new-vet.example"

	resp := f.ing.Process(context.Background(), email)
	if resp.Status != StatusPendingApproval || resp.Code() != http.StatusAccepted || resp.PendingApprovalID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if f.clf.Calls() != 0 {
		t.Fatalf("classifier called for unknown sender")
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 0 {
		t.Fatalf("vaccinations = %d, want 0", n)
	}
	a, err := repo.GetApproval(context.Background(), f.db, resp.PendingApprovalID)
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	if a.PetID != f.pet.ID || a.SenderEmail != "new@vet.example" || a.S3Key != "pending-emails/d1_new-vet.example.json" {
		t.Fatalf("approval = %+v", a)
	}
	if !f.store.has("pending", a.S3Key) {
		t.Fatalf("email not stored")
	}
	rec := ledgerRow(t, f, "d1@new-vet.example")
	if rec.Status != domain.LedgerCompleted || rec.Outcome != domain.OutcomePendingApproval {
		t.Fatalf("ledger row = %+v", rec)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != notify.EventPendingApproval {
		t.Fatalf("events = %v", got)
	}
}

func TestIngest_ThreadReplyLinksExistingThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := &domain.MessageThread{PetID: f.pet.ID, UserID: f.pet.UserID, RecipientEmail: "dr@vet.example", Subject: "Checkup"}
	if err := repo.CreateThread(ctx, f.db, th, func(id string) string { return ReplyToAddress(id, testDomain) }); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	email := vetEmail("e1@vet.example", "dr@vet.example")
	email.To = []string{th.ReplyToAddress}
	email.Recipient = th.ReplyToAddress
	email.TextBody = "Results look good."

	resp := f.ing.Process(ctx, email)
	if resp.Status != StatusSuccess || resp.ThreadID != th.ID {
		t.Fatalf("response = %+v", resp)
	}
	if n := countRows(t, f.db, &domain.MessageThread{}); n != 1 {
		t.Fatalf("threads = %d, want 1", n)
	}
	msgs, err := repo.ListThreadMessages(ctx, f.db, th.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %v err=%v", msgs, err)
	}
	if rec := ledgerRow(t, f, "e1@vet.example"); rec.Success == nil || !*rec.Success {
		t.Fatalf("ledger row = %+v", rec)
	}
}

func TestIngest_PartialAttachmentFailureIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.ing.Router.Parallelism = 3
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["one.pdf"] = rabies("2024-01-15")
	f.clf.fail["two.pdf"] = errors.New("classifier exploded")
	f.clf.verdict["three.pdf"] = domain.Classification{Type: domain.DocLabResults, Confidence: 0.9,
		LabResults: []domain.LabResultFields{{TestType: "CBC", LabName: "IDEXX", TestDate: "2024-03-01"}}}

	resp := f.ing.Process(context.Background(), vetEmail("f1@vet.example", "dr@vet.example", "one.pdf", "two.pdf", "three.pdf"))
	if resp.Status != StatusSuccess || resp.AttachmentCount != 3 || len(resp.Results) != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Results[1].Classified || !resp.Results[0].Inserted || !resp.Results[2].Inserted {
		t.Fatalf("results = %+v", resp.Results)
	}
	rec := ledgerRow(t, f, "f1@vet.example")
	if rec.Success == nil || !*rec.Success || rec.AttachmentCount != 3 || rec.Diagnostics == "" {
		t.Fatalf("ledger row = %+v", rec)
	}
	if rec.DocumentType == nil || *rec.DocumentType != "vaccinations,lab_results" {
		t.Fatalf("document types = %v", rec.DocumentType)
	}
}

func TestIngest_AllAttachmentsFailIsRetryableError(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.fail["one.pdf"] = errors.New("throttled")

	resp := f.ing.Process(context.Background(), vetEmail("g1@vet.example", "dr@vet.example", "one.pdf"))
	if resp.Status != StatusError || resp.Code() != http.StatusInternalServerError {
		t.Fatalf("response = %+v", resp)
	}
	rec := ledgerRow(t, f, "g1@vet.example")
	if rec.Success == nil || *rec.Success || rec.Outcome != domain.OutcomeFailed || rec.FailureReason == nil {
		t.Fatalf("ledger row = %+v", rec)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != notify.EventIngestFailed {
		t.Fatalf("events = %v", got)
	}

	items, total, err := (&FailedEmailService{DB: f.db}).ListPage(context.Background(), f.pet.UserID, 1, 10)
	if err != nil || total != 1 || items[0].EmailKey != "g1@vet.example" {
		t.Fatalf("failed list = %v total=%d err=%v", items, total, err)
	}
}

func TestIngest_NothingStorableIsRecordedAsFailed(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["invoice.pdf"] = domain.Classification{Type: domain.DocBillingInvoice, Confidence: 0.9}

	resp := f.ing.Process(context.Background(), vetEmail("h1@vet.example", "dr@vet.example", "invoice.pdf"))
	if resp.Status != StatusSuccess {
		t.Fatalf("response = %+v", resp)
	}
	rec := ledgerRow(t, f, "h1@vet.example")
	if rec.Success == nil || *rec.Success || rec.FailureReason == nil || *rec.FailureReason != "no health records found in attachments" {
		t.Fatalf("ledger row = %+v", rec)
	}
}

func TestIngest_ValidationAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noAt := vetEmail("v1", "dr@vet.example")
	noAt.Recipient = "fluffy123"
	if resp := f.ing.Process(ctx, noAt); resp.Status != StatusValidationError || resp.Code() != http.StatusBadRequest {
		t.Fatalf("no @: %+v", resp)
	}

	noSender := vetEmail("v2", "")
	if resp := f.ing.Process(ctx, noSender); resp.Status != StatusValidationError {
		t.Fatalf("no sender: %+v", resp)
	}

	unknown := vetEmail("v3", "dr@vet.example")
	unknown.Recipient = "rex@" + testDomain
	if resp := f.ing.Process(ctx, unknown); resp.Status != StatusNotFound || resp.Code() != http.StatusNotFound {
		t.Fatalf("unknown pet: %+v", resp)
	}

	if n := countRows(t, f.db, &domain.ProcessedEmail{}); n != 0 {
		t.Fatalf("ledger rows = %d, want 0", n)
	}
}

func TestIngest_DerivesKeyWithoutMessageID(t *testing.T) {
	f := newFixture(t)
	seedContact(t, f.db, f.pet.ID, "dr@vet.example")
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15")

	mk := func() *domain.ParsedEmail {
		e := vetEmail("", "dr@vet.example", "rabies.pdf")
		e.MessageID = ""
		return e
	}
	first := f.ing.Process(context.Background(), mk())
	second := f.ing.Process(context.Background(), mk())
	if first.EmailKey == "" || first.EmailKey != second.EmailKey || second.Status != StatusDuplicate {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}
