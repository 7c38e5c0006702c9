// Package services – AttachmentRouter
//
// AttachmentRouter turns the attachments of one email into health records.
// Each attachment is uploaded, classified, and, when its document type is
// storable and the classifier is confident enough, deduplicated against the
// pet's existing records by natural key and inserted with a pointer to the
// uploaded document. Attachments are independent: a failure in one never
// stops the others, and every attachment gets its own outcome.
package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/classify"
	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/mailparse"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/storage"
)

// Reasons an attachment was classified but produced no records.
const (
	SkipNotStorable   = "not_storable"
	SkipLowConfidence = "low_confidence"
	SkipNoFields      = "no_fields"
)

// AttachmentOutcome is the per-attachment result reported to the webhook
// caller and stored in the ledger diagnostics.
type AttachmentOutcome struct {
	Index        int                 `json:"index"`
	Filename     string              `json:"filename"`
	DocumentPath string              `json:"document_path,omitempty"`
	DocumentType domain.DocumentType `json:"document_type,omitempty"`
	Confidence   float64             `json:"confidence,omitempty"`
	Uploaded     bool                `json:"uploaded"`
	Classified   bool                `json:"classified"`
	Inserted     bool                `json:"inserted"`
	Records      int                 `json:"records"`
	Duplicates   int                 `json:"duplicates"`
	Skipped      string              `json:"skipped,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Succeeded reports whether the attachment's records are now stored,
// either inserted by this email or already present.
func (o AttachmentOutcome) Succeeded() bool {
	return o.Records > 0 || o.Duplicates > 0
}

// AttachmentRouter classifies attachments and stores the health records
// they contain.
type AttachmentRouter struct {
	DB         *gorm.DB
	Store      storage.Store
	Classifier classify.Classifier

	// Bucket receives uploaded attachments.
	Bucket string
	// MinConfidence is the lowest classifier confidence that still inserts
	// records. Zero accepts everything.
	MinConfidence float64
	// Parallelism bounds concurrent attachments per email (default 1).
	Parallelism int
	// ClassifyTimeout bounds a single classifier call; zero means no bound.
	ClassifyTimeout time.Duration
}

// Route processes every attachment of email for pet and returns one outcome
// per attachment, in attachment order.
func (r *AttachmentRouter) Route(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) []AttachmentOutcome {
	tr := otel.Tracer("services/AttachmentRouter")
	ctx, span := tr.Start(ctx, "Route",
		trace.WithAttributes(
			attribute.String("pet.id", pet.ID),
			attribute.String("email.key", email.EmailKey),
			attribute.Int("attachment.count", len(email.Attachments)),
		),
	)
	defer span.End()

	out := make([]AttachmentOutcome, len(email.Attachments))
	if len(out) == 0 {
		return out
	}

	limit := r.Parallelism
	if limit <= 0 {
		limit = 1
	}

	// Classification runs in parallel; dedupe and insert are serialized so
	// two attachments of one email cannot both insert the same record.
	var (
		g        errgroup.Group
		insertMu sync.Mutex
	)
	g.SetLimit(limit)
	for i := range email.Attachments {
		i := i
		g.Go(func() error {
			out[i] = r.routeOne(ctx, email, pet, i, &insertMu)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *AttachmentRouter) routeOne(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet, i int, insertMu *sync.Mutex) AttachmentOutcome {
	att := email.Attachments[i]
	o := AttachmentOutcome{Index: i, Filename: att.Filename}

	tr := otel.Tracer("services/AttachmentRouter")
	ctx, span := tr.Start(ctx, "routeOne",
		trace.WithAttributes(
			attribute.Int("attachment.index", i),
			attribute.String("attachment.content_type", att.ContentType),
		),
	)
	defer span.End()

	path := DocumentPath(pet.ID, email.EmailKey, i, att.Filename)
	if err := r.Store.Upload(ctx, r.Bucket, path, att.Content, att.ContentType); err != nil {
		attachmentsTotal.WithLabelValues("upload", "error").Inc()
		span.RecordError(err)
		o.Error = "upload: " + err.Error()
		return o
	}
	attachmentsTotal.WithLabelValues("upload", "ok").Inc()
	o.Uploaded = true
	o.DocumentPath = path

	cctx := ctx
	if r.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.ClassifyTimeout)
		defer cancel()
	}
	c, err := r.Classifier.Classify(cctx, classify.Input{
		Filename:    att.Filename,
		ContentType: att.ContentType,
		Content:     att.Content,
		PetName:     pet.Name,
		Species:     pet.Species,
	})
	if err != nil {
		attachmentsTotal.WithLabelValues("classify", "error").Inc()
		span.RecordError(err)
		o.Error = "classify: " + err.Error()
		return o
	}
	attachmentsTotal.WithLabelValues("classify", "ok").Inc()
	o.Classified = true
	o.DocumentType = c.Type
	o.Confidence = c.Confidence
	span.SetAttributes(attribute.String("document.type", string(c.Type)))

	if c.Type.Storable() && c.Confidence < r.MinConfidence {
		attachmentsTotal.WithLabelValues("insert", "low_confidence").Inc()
		o.Skipped = SkipLowConfidence
		return o
	}

	ins := recordInserter{db: r.DB, petID: pet.ID, path: path, emailKey: email.EmailKey}
	insertMu.Lock()
	defer insertMu.Unlock()

	switch c.Type {
	case domain.DocVaccinations:
		err = ins.vaccinations(ctx, c.Vaccinations)
	case domain.DocMedications:
		err = ins.medications(ctx, c.Medications)
	case domain.DocLabResults:
		err = ins.labResults(ctx, c.LabResults)
	case domain.DocClinicalExams:
		err = ins.clinicalExams(ctx, c.ClinicalExams)
	case domain.DocBillingInvoice, domain.DocTravelCertificate, domain.DocIrrelevant, domain.DocUnrecognized:
		attachmentsTotal.WithLabelValues("insert", "not_storable").Inc()
		o.Skipped = SkipNotStorable
		return o
	default:
		o.Error = fmt.Sprintf("route: unhandled document type %q", c.Type)
		return o
	}

	o.Records, o.Duplicates = ins.inserted, ins.duplicates
	o.Inserted = ins.inserted > 0
	if err != nil {
		attachmentsTotal.WithLabelValues("insert", "error").Inc()
		span.RecordError(err)
		o.Error = "insert: " + err.Error()
		return o
	}
	switch {
	case ins.inserted > 0:
		attachmentsTotal.WithLabelValues("insert", "ok").Inc()
	case ins.duplicates > 0:
		attachmentsTotal.WithLabelValues("insert", "duplicate").Inc()
	default:
		attachmentsTotal.WithLabelValues("insert", "no_fields").Inc()
		o.Skipped = SkipNoFields
	}
	return o
}

// DocumentPath is the storage path of an uploaded attachment. It is unique
// per (pet, email, attachment position), so a redelivered email overwrites
// its own uploads rather than adding copies.
func DocumentPath(petID, emailKey string, index int, filename string) string {
	name := mailparse.SanitizeKey(strings.TrimSpace(filename))
	if name == "" {
		name = "attachment"
	}
	return "pets/" + petID + "/documents/" + mailparse.SanitizeKey(emailKey) + "/" + strconv.Itoa(index) + "-" + name
}

// recordInserter deduplicates and inserts the records extracted from one
// document. Extractions missing part of their natural key are ignored.
type recordInserter struct {
	db       *gorm.DB
	petID    string
	path     string
	emailKey string

	inserted   int
	duplicates int
}

func (ins *recordInserter) vaccinations(ctx context.Context, items []domain.VaccinationFields) error {
	for _, f := range items {
		name, date := strings.TrimSpace(f.Name), domain.NormalizeDate(f.Date)
		if name == "" || date == "" {
			continue
		}
		dup, err := repo.VaccinationExists(ctx, ins.db, ins.petID, name, date)
		if err != nil {
			return err
		}
		if dup {
			ins.duplicates++
			continue
		}
		err = repo.CreateVaccination(ctx, ins.db, &domain.Vaccination{
			PetID:          ins.petID,
			Name:           name,
			Date:           date,
			NextDueDate:    optDate(f.NextDueDate),
			ClinicName:     strings.TrimSpace(f.ClinicName),
			Notes:          f.Notes,
			DocumentPath:   ins.path,
			SourceEmailKey: ins.emailKey,
		})
		if err != nil {
			return err
		}
		ins.inserted++
	}
	return nil
}

func (ins *recordInserter) medications(ctx context.Context, items []domain.MedicationFields) error {
	for _, f := range items {
		name, start := strings.TrimSpace(f.Name), domain.NormalizeDate(f.StartDate)
		if name == "" || start == "" {
			continue
		}
		dup, err := repo.MedicineExists(ctx, ins.db, ins.petID, name, start)
		if err != nil {
			return err
		}
		if dup {
			ins.duplicates++
			continue
		}
		err = repo.CreateMedicine(ctx, ins.db, &domain.Medicine{
			PetID:          ins.petID,
			Name:           name,
			StartDate:      start,
			EndDate:        optDate(f.EndDate),
			Dosage:         strings.TrimSpace(f.Dosage),
			Frequency:      strings.TrimSpace(f.Frequency),
			Notes:          f.Notes,
			DocumentPath:   ins.path,
			SourceEmailKey: ins.emailKey,
		})
		if err != nil {
			return err
		}
		ins.inserted++
	}
	return nil
}

func (ins *recordInserter) labResults(ctx context.Context, items []domain.LabResultFields) error {
	for _, f := range items {
		testType, date := strings.TrimSpace(f.TestType), domain.NormalizeDate(f.TestDate)
		if testType == "" || date == "" {
			continue
		}
		lab := strings.TrimSpace(f.LabName)
		dup, err := repo.LabResultExists(ctx, ins.db, ins.petID, testType, lab, date)
		if err != nil {
			return err
		}
		if dup {
			ins.duplicates++
			continue
		}
		err = repo.CreateLabResult(ctx, ins.db, &domain.LabResult{
			PetID:          ins.petID,
			TestType:       testType,
			LabName:        lab,
			TestDate:       date,
			Results:        f.Results,
			Notes:          f.Notes,
			DocumentPath:   ins.path,
			SourceEmailKey: ins.emailKey,
		})
		if err != nil {
			return err
		}
		ins.inserted++
	}
	return nil
}

func (ins *recordInserter) clinicalExams(ctx context.Context, items []domain.ClinicalExamFields) error {
	for _, f := range items {
		examType, date := strings.TrimSpace(f.ExamType), domain.NormalizeDate(f.ExamDate)
		if examType == "" || date == "" {
			continue
		}
		dup, err := repo.ClinicalExamExists(ctx, ins.db, ins.petID, examType, date)
		if err != nil {
			return err
		}
		if dup {
			ins.duplicates++
			continue
		}
		err = repo.CreateClinicalExam(ctx, ins.db, &domain.ClinicalExam{
			PetID:          ins.petID,
			ExamType:       examType,
			ExamDate:       date,
			ClinicName:     strings.TrimSpace(f.ClinicName),
			Findings:       f.Findings,
			Notes:          f.Notes,
			DocumentPath:   ins.path,
			SourceEmailKey: ins.emailKey,
		})
		if err != nil {
			return err
		}
		ins.inserted++
	}
	return nil
}

func optDate(s string) *string {
	s = domain.NormalizeDate(s)
	if s == "" {
		return nil
	}
	return &s
}
