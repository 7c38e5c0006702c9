// Package classify turns an attachment into a document classification with
// extracted health-record fields. The model behind it is a black box: it may
// fail, return an unknown type, or report low confidence, and callers treat
// all three as ordinary outcomes.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// ErrUnavailable is returned when no classifier backend is configured or the
// circuit breaker is open.
var ErrUnavailable = errors.New("classifier unavailable")

// Input is one attachment plus the pet context passed to the model.
type Input struct {
	Filename    string
	ContentType string
	Content     []byte
	PetName     string
	Species     string
}

// Classifier classifies one attachment.
type Classifier interface {
	Classify(ctx context.Context, in Input) (domain.Classification, error)
}

// Disabled is the classifier used when no backend is configured.
type Disabled struct{}

// Classify always fails with ErrUnavailable.
func (Disabled) Classify(context.Context, Input) (domain.Classification, error) {
	return domain.Classification{}, ErrUnavailable
}

// contentKind buckets a MIME type into what the models accept.
type contentKind int

const (
	kindUnsupported contentKind = iota
	kindImage
	kindPDF
	kindText
)

func kindOf(contentType string) (contentKind, string) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mt == "image/jpeg", mt == "image/png", mt == "image/gif", mt == "image/webp":
		return kindImage, mt
	case mt == "application/pdf":
		return kindPDF, mt
	case strings.HasPrefix(mt, "text/"):
		return kindText, mt
	default:
		return kindUnsupported, mt
	}
}

// maxTextInput caps the characters of a text attachment sent to a model.
const maxTextInput = 20000

const promptTemplate = `You are reading a document sent by a veterinary practice about a pet.
Pet name: %s
Species: %s
File name: %s

Classify the document as exactly one of:
medications, lab_results, clinical_exams, vaccinations, billing_invoice, travel_certificate, irrelevant

Extract every record it contains for the chosen type. Dates are ISO 8601 (YYYY-MM-DD).
Reply with a single JSON object and nothing else:
{
  "document_type": "...",
  "confidence": 0.0-1.0,
  "vaccinations":   [{"name": "", "date": "", "next_due_date": "", "clinic_name": "", "notes": ""}],
  "medications":    [{"name": "", "start_date": "", "end_date": "", "dosage": "", "frequency": "", "notes": ""}],
  "lab_results":    [{"test_type": "", "lab_name": "", "test_date": "", "results": "", "notes": ""}],
  "clinical_exams": [{"exam_type": "", "exam_date": "", "clinic_name": "", "findings": "", "notes": ""}]
}
Omit the arrays that do not apply.`

func buildPrompt(in Input) string {
	name, species := in.PetName, in.Species
	if name == "" {
		name = "unknown"
	}
	if species == "" {
		species = "unknown"
	}
	return fmt.Sprintf(promptTemplate, name, species, in.Filename)
}

// modelOutput is the JSON shape requested from the model. Confidence is
// decoded loosely since models sometimes quote numbers.
type modelOutput struct {
	DocumentType  string                      `json:"document_type"`
	Confidence    json.Number                 `json:"confidence"`
	Vaccinations  []domain.VaccinationFields  `json:"vaccinations"`
	Medications   []domain.MedicationFields   `json:"medications"`
	LabResults    []domain.LabResultFields    `json:"lab_results"`
	ClinicalExams []domain.ClinicalExamFields `json:"clinical_exams"`
}

// parseOutput extracts the first JSON object from a model reply. Labels
// outside the known set become DocUnrecognized and confidence is clamped
// to [0, 1].
func parseOutput(text string) (domain.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.Classification{}, fmt.Errorf("no JSON object in model output")
	}
	var out modelOutput
	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return domain.Classification{}, fmt.Errorf("decode model output: %w", err)
	}

	conf, _ := out.Confidence.Float64()
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return domain.Classification{
		Type:          domain.ParseDocumentType(out.DocumentType),
		Confidence:    conf,
		Vaccinations:  out.Vaccinations,
		Medications:   out.Medications,
		LabResults:    out.LabResults,
		ClinicalExams: out.ClinicalExams,
	}, nil
}

// unsupported is the verdict for attachments no backend can read.
func unsupported() domain.Classification {
	return domain.Classification{Type: domain.DocUnrecognized}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
