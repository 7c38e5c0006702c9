package domain

import "time"

// Health records created from classified attachments. Dates are stored as
// text exactly as extracted ("2024-01-15" or an ISO timestamp); duplicate
// detection compares them on the date part only.
//
// Every record keeps DocumentPath, the storage path of the uploaded source
// document, and SourceEmailKey, the ledger key of the email it came from.

// Vaccination is keyed naturally by (name, date).
type Vaccination struct {
	ID             string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	PetID          string    `json:"pet_id"                  gorm:"type:char(36);not null;index:idx_vacc_pet_date,priority:1"`
	Name           string    `json:"name"                    gorm:"type:varchar(255);not null"`
	Date           string    `json:"date"                    gorm:"type:varchar(40);not null;index:idx_vacc_pet_date,priority:2"`
	NextDueDate    *string   `json:"next_due_date,omitempty" gorm:"type:varchar(40)"`
	ClinicName     string    `json:"clinic_name"             gorm:"type:varchar(255);not null;default:''"`
	Notes          string    `json:"notes"                   gorm:"type:text;not null;default:''"`
	DocumentPath   string    `json:"document_path"           gorm:"type:varchar(1024);not null;default:''"`
	SourceEmailKey string    `json:"source_email_key"        gorm:"type:varchar(512);not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Vaccination.
func (Vaccination) TableName() string { return "vaccinations" }

// Medicine is keyed naturally by (name, start_date).
type Medicine struct {
	ID             string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	PetID          string    `json:"pet_id"             gorm:"type:char(36);not null;index:idx_med_pet_start,priority:1"`
	Name           string    `json:"name"               gorm:"type:varchar(255);not null"`
	StartDate      string    `json:"start_date"         gorm:"type:varchar(40);not null;index:idx_med_pet_start,priority:2"`
	EndDate        *string   `json:"end_date,omitempty" gorm:"type:varchar(40)"`
	Dosage         string    `json:"dosage"             gorm:"type:varchar(255);not null;default:''"`
	Frequency      string    `json:"frequency"          gorm:"type:varchar(255);not null;default:''"`
	Notes          string    `json:"notes"              gorm:"type:text;not null;default:''"`
	DocumentPath   string    `json:"document_path"      gorm:"type:varchar(1024);not null;default:''"`
	SourceEmailKey string    `json:"source_email_key"   gorm:"type:varchar(512);not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Medicine.
func (Medicine) TableName() string { return "medicines" }

// LabResult is keyed naturally by (test_type, lab_name, test_date).
type LabResult struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	PetID          string    `json:"pet_id"           gorm:"type:char(36);not null;index:idx_lab_pet_date,priority:1"`
	TestType       string    `json:"test_type"        gorm:"type:varchar(255);not null"`
	LabName        string    `json:"lab_name"         gorm:"type:varchar(255);not null;default:''"`
	TestDate       string    `json:"test_date"        gorm:"type:varchar(40);not null;index:idx_lab_pet_date,priority:2"`
	Results        string    `json:"results"          gorm:"type:text;not null;default:''"`
	Notes          string    `json:"notes"            gorm:"type:text;not null;default:''"`
	DocumentPath   string    `json:"document_path"    gorm:"type:varchar(1024);not null;default:''"`
	SourceEmailKey string    `json:"source_email_key" gorm:"type:varchar(512);not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for LabResult.
func (LabResult) TableName() string { return "lab_results" }

// ClinicalExam is keyed naturally by (exam_type, exam_date).
type ClinicalExam struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	PetID          string    `json:"pet_id"           gorm:"type:char(36);not null;index:idx_exam_pet_date,priority:1"`
	ExamType       string    `json:"exam_type"        gorm:"type:varchar(255);not null"`
	ExamDate       string    `json:"exam_date"        gorm:"type:varchar(40);not null;index:idx_exam_pet_date,priority:2"`
	ClinicName     string    `json:"clinic_name"      gorm:"type:varchar(255);not null;default:''"`
	Findings       string    `json:"findings"         gorm:"type:text;not null;default:''"`
	Notes          string    `json:"notes"            gorm:"type:text;not null;default:''"`
	DocumentPath   string    `json:"document_path"    gorm:"type:varchar(1024);not null;default:''"`
	SourceEmailKey string    `json:"source_email_key" gorm:"type:varchar(512);not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for ClinicalExam.
func (ClinicalExam) TableName() string { return "clinical_exams" }
