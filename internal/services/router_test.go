package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

func newRouter(f *fixture, parallelism int) *AttachmentRouter {
	return &AttachmentRouter{
		DB:            f.db,
		Store:         f.store,
		Classifier:    f.clf,
		Bucket:        "docs",
		MinConfidence: 0.5,
		Parallelism:   parallelism,
	}
}

func TestRouter_InsertsWithDocumentPointer(t *testing.T) {
	f := newFixture(t)
	f.clf.verdict["rabies.pdf"] = rabies("2024-01-15T09:30:00Z")
	email := vetEmail("m1@vet.example", "dr@vet.example", "rabies.pdf")

	out := newRouter(f, 1).Route(context.Background(), email, f.pet)
	if len(out) != 1 {
		t.Fatalf("outcomes = %d", len(out))
	}
	o := out[0]
	if !o.Uploaded || !o.Classified || !o.Inserted || o.Records != 1 || o.Error != "" {
		t.Fatalf("outcome = %+v", o)
	}
	if !f.store.has("docs", o.DocumentPath) {
		t.Fatalf("attachment not uploaded at %q", o.DocumentPath)
	}

	var v domain.Vaccination
	if err := f.db.First(&v, "pet_id = ?", f.pet.ID).Error; err != nil {
		t.Fatalf("load vaccination: %v", err)
	}
	if v.DocumentPath != o.DocumentPath || v.SourceEmailKey != email.EmailKey {
		t.Fatalf("record pointers = (%q, %q)", v.DocumentPath, v.SourceEmailKey)
	}
	if v.Date != "2024-01-15" || v.NextDueDate == nil || *v.NextDueDate != "2025-01-15" {
		t.Fatalf("dates not normalized: %+v", v)
	}
}

func TestRouter_DuplicateNaturalKeysAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := []any{
		&domain.Vaccination{PetID: f.pet.ID, Name: " rabies ", Date: "2024-01-15T10:00:00Z"},
		&domain.Medicine{PetID: f.pet.ID, Name: "Apoquel", StartDate: "2024-02-01"},
		&domain.LabResult{PetID: f.pet.ID, TestType: "CBC", LabName: "IDEXX", TestDate: "2024-03-01"},
		&domain.ClinicalExam{PetID: f.pet.ID, ExamType: "Dental", ExamDate: "2024-04-01"},
	}
	if err := repo.CreateVaccination(ctx, f.db, existing[0].(*domain.Vaccination)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateMedicine(ctx, f.db, existing[1].(*domain.Medicine)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateLabResult(ctx, f.db, existing[2].(*domain.LabResult)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateClinicalExam(ctx, f.db, existing[3].(*domain.ClinicalExam)); err != nil {
		t.Fatal(err)
	}

	f.clf.verdict["vacc.pdf"] = rabies("2024-01-15")
	f.clf.verdict["meds.pdf"] = domain.Classification{Type: domain.DocMedications, Confidence: 0.9,
		Medications: []domain.MedicationFields{
			{Name: "APOQUEL", StartDate: "2024-02-01T00:00:00Z"},
			{Name: "Apoquel", StartDate: "2024-02-02"}, // new start date
		}}
	f.clf.verdict["lab.pdf"] = domain.Classification{Type: domain.DocLabResults, Confidence: 0.9,
		LabResults: []domain.LabResultFields{
			{TestType: "cbc", LabName: "idexx", TestDate: "2024-03-01"},
			{TestType: "CBC", LabName: "Antech", TestDate: "2024-03-01"}, // other lab
		}}
	f.clf.verdict["exam.pdf"] = domain.Classification{Type: domain.DocClinicalExams, Confidence: 0.9,
		ClinicalExams: []domain.ClinicalExamFields{{ExamType: "dental", ExamDate: "2024-04-01"}}}

	email := vetEmail("m2@vet.example", "dr@vet.example", "vacc.pdf", "meds.pdf", "lab.pdf", "exam.pdf")
	out := newRouter(f, 2).Route(ctx, email, f.pet)

	want := []struct{ records, dups int }{{0, 1}, {1, 1}, {1, 1}, {0, 1}}
	for i, w := range want {
		if out[i].Records != w.records || out[i].Duplicates != w.dups {
			t.Fatalf("attachment %d: records=%d dups=%d, want %d/%d", i, out[i].Records, out[i].Duplicates, w.records, w.dups)
		}
		if !out[i].Succeeded() {
			t.Fatalf("attachment %d should count as stored", i)
		}
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 1 {
		t.Fatalf("vaccinations = %d, want 1", n)
	}
	if n := countRows(t, f.db, &domain.Medicine{}); n != 2 {
		t.Fatalf("medicines = %d, want 2", n)
	}
}

func TestRouter_SameRecordTwiceInOneEmailInsertsOnce(t *testing.T) {
	f := newFixture(t)
	f.clf.verdict["a.pdf"] = rabies("2024-01-15")
	f.clf.verdict["b.pdf"] = rabies("2024-01-15T08:00:00Z")
	email := vetEmail("m3@vet.example", "dr@vet.example", "a.pdf", "b.pdf")

	out := newRouter(f, 4).Route(context.Background(), email, f.pet)
	if out[0].Records+out[1].Records != 1 || out[0].Duplicates+out[1].Duplicates != 1 {
		t.Fatalf("outcomes = %+v", out)
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 1 {
		t.Fatalf("vaccinations = %d, want 1", n)
	}
}

func TestRouter_NonStorableAndLowConfidence(t *testing.T) {
	f := newFixture(t)
	f.clf.verdict["invoice.pdf"] = domain.Classification{Type: domain.DocBillingInvoice, Confidence: 0.99}
	f.clf.verdict["travel.pdf"] = domain.Classification{Type: domain.DocTravelCertificate, Confidence: 0.99}
	f.clf.verdict["weird.pdf"] = domain.Classification{Type: domain.DocUnrecognized, Confidence: 0.7}
	low := rabies("2024-01-15")
	low.Confidence = 0.2
	f.clf.verdict["blurry.jpg"] = low
	f.clf.verdict["empty.pdf"] = domain.Classification{Type: domain.DocVaccinations, Confidence: 0.9,
		Vaccinations: []domain.VaccinationFields{{Name: "Rabies"}}} // no date

	email := vetEmail("m4@vet.example", "dr@vet.example", "invoice.pdf", "travel.pdf", "weird.pdf", "blurry.jpg", "empty.pdf")
	before := testutil.ToFloat64(attachmentsTotal.WithLabelValues("insert", "low_confidence"))
	out := newRouter(f, 1).Route(context.Background(), email, f.pet)

	wantSkip := []string{SkipNotStorable, SkipNotStorable, SkipNotStorable, SkipLowConfidence, SkipNoFields}
	for i, w := range wantSkip {
		if out[i].Skipped != w || !out[i].Classified || out[i].Inserted || out[i].Error != "" {
			t.Fatalf("attachment %d: %+v, want skipped=%q", i, out[i], w)
		}
	}
	if d := testutil.ToFloat64(attachmentsTotal.WithLabelValues("insert", "low_confidence")) - before; d != 1 {
		t.Fatalf("low confidence counter delta = %v", d)
	}
	if n := countRows(t, f.db, &domain.Vaccination{}); n != 0 {
		t.Fatalf("vaccinations = %d, want 0", n)
	}
}

func TestRouter_FailuresDoNotAbortSiblings(t *testing.T) {
	f := newFixture(t)
	f.clf.verdict["one.pdf"] = rabies("2024-01-15")
	f.clf.verdict["three.pdf"] = domain.Classification{Type: domain.DocMedications, Confidence: 0.8,
		Medications: []domain.MedicationFields{{Name: "Apoquel", StartDate: "2024-02-01"}}}
	f.clf.fail["two.pdf"] = errors.New("model timeout")
	f.store.failUpload[DocumentPath(f.pet.ID, "m5@vet.example", 3, "four.pdf")] = true

	email := vetEmail("m5@vet.example", "dr@vet.example", "one.pdf", "two.pdf", "three.pdf", "four.pdf")
	out := newRouter(f, 3).Route(context.Background(), email, f.pet)

	if !out[0].Inserted || !out[2].Inserted {
		t.Fatalf("siblings not inserted: %+v", out)
	}
	if !out[1].Uploaded || out[1].Classified || !strings.HasPrefix(out[1].Error, "classify:") {
		t.Fatalf("attachment 1: %+v", out[1])
	}
	if out[3].Uploaded || out[3].Classified || !strings.HasPrefix(out[3].Error, "upload:") {
		t.Fatalf("attachment 3: %+v", out[3])
	}
	for i, o := range out {
		if o.Index != i {
			t.Fatalf("outcome order broken at %d: %+v", i, o)
		}
	}
}

func TestDocumentPath(t *testing.T) {
	got := DocumentPath("pet-1", "<abc/def@vet.example>", 2, "Rabies cert (1).pdf")
	want := "pets/pet-1/documents/abc_def_vet.example/2-Rabies_cert__1_.pdf"
	if got != want {
		t.Fatalf("DocumentPath = %q, want %q", got, want)
	}
	if got := DocumentPath("p", "k", 0, "  "); !strings.HasSuffix(got, "/0-attachment") {
		t.Fatalf("empty filename path = %q", got)
	}
}
