package domain

import "strings"

// DocumentType is the closed set of document kinds the classifier can
// report. Values the classifier invents map to DocUnrecognized, so adding a
// kind means adding a constant here and a case in the attachment router.
type DocumentType string

const (
	DocMedications       DocumentType = "medications"
	DocLabResults        DocumentType = "lab_results"
	DocClinicalExams     DocumentType = "clinical_exams"
	DocVaccinations      DocumentType = "vaccinations"
	DocBillingInvoice    DocumentType = "billing_invoice"
	DocTravelCertificate DocumentType = "travel_certificate"
	DocIrrelevant        DocumentType = "irrelevant"
	DocUnrecognized      DocumentType = "unrecognized"
)

// ParseDocumentType maps a classifier label to a DocumentType. Matching is
// case-insensitive and tolerant of surrounding whitespace; anything outside
// the known set is DocUnrecognized.
func ParseDocumentType(s string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocMedications:
		return DocMedications
	case DocLabResults:
		return DocLabResults
	case DocClinicalExams:
		return DocClinicalExams
	case DocVaccinations:
		return DocVaccinations
	case DocBillingInvoice:
		return DocBillingInvoice
	case DocTravelCertificate:
		return DocTravelCertificate
	case DocIrrelevant:
		return DocIrrelevant
	default:
		return DocUnrecognized
	}
}

// Storable reports whether documents of this type become health records.
func (d DocumentType) Storable() bool {
	switch d {
	case DocMedications, DocLabResults, DocClinicalExams, DocVaccinations:
		return true
	default:
		return false
	}
}

// VaccinationFields is the extraction schema for vaccination documents.
type VaccinationFields struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	NextDueDate string `json:"next_due_date,omitempty"`
	ClinicName  string `json:"clinic_name,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// MedicationFields is the extraction schema for prescriptions.
type MedicationFields struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// LabResultFields is the extraction schema for lab reports.
type LabResultFields struct {
	TestType string `json:"test_type"`
	LabName  string `json:"lab_name,omitempty"`
	TestDate string `json:"test_date"`
	Results  string `json:"results,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ClinicalExamFields is the extraction schema for exam reports.
type ClinicalExamFields struct {
	ExamType   string `json:"exam_type"`
	ExamDate   string `json:"exam_date"`
	ClinicName string `json:"clinic_name,omitempty"`
	Findings   string `json:"findings,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Classification is the classifier's verdict for one attachment. Only the
// slice matching Type is meaningful; one document may carry several
// records (a certificate listing three vaccines).
type Classification struct {
	Type          DocumentType         `json:"document_type"`
	Confidence    float64              `json:"confidence"`
	Vaccinations  []VaccinationFields  `json:"vaccinations,omitempty"`
	Medications   []MedicationFields   `json:"medications,omitempty"`
	LabResults    []LabResultFields    `json:"lab_results,omitempty"`
	ClinicalExams []ClinicalExamFields `json:"clinical_exams,omitempty"`
}

// NormalizeDate reduces an extracted date to its calendar day. An ISO
// timestamp ("2024-01-15T10:00:00Z") and a bare date ("2024-01-15") compare
// equal; anything shorter is returned trimmed.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}
