package repo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// Natural-key lookups narrow candidates in SQL by pet and calendar day, then
// compare the text parts of the key case-insensitively in Go. Dates are
// stored as extracted, so the day is the first ten characters.

func sameText(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// VaccinationExists reports whether petID already has a vaccination with the
// same name on the same day.
func VaccinationExists(ctx context.Context, db *gorm.DB, petID, name, date string) (bool, error) {
	var rows []domain.Vaccination
	err := db.WithContext(ctx).
		Select("id", "name").
		Where("pet_id = ? AND substr(date, 1, 10) = ?", petID, domain.NormalizeDate(date)).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if sameText(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// MedicineExists reports whether petID already has a medicine with the same
// name starting on the same day.
func MedicineExists(ctx context.Context, db *gorm.DB, petID, name, startDate string) (bool, error) {
	var rows []domain.Medicine
	err := db.WithContext(ctx).
		Select("id", "name").
		Where("pet_id = ? AND substr(start_date, 1, 10) = ?", petID, domain.NormalizeDate(startDate)).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if sameText(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// LabResultExists reports whether petID already has a lab result with the
// same test type and lab on the same day.
func LabResultExists(ctx context.Context, db *gorm.DB, petID, testType, labName, testDate string) (bool, error) {
	var rows []domain.LabResult
	err := db.WithContext(ctx).
		Select("id", "test_type", "lab_name").
		Where("pet_id = ? AND substr(test_date, 1, 10) = ?", petID, domain.NormalizeDate(testDate)).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if sameText(r.TestType, testType) && sameText(r.LabName, labName) {
			return true, nil
		}
	}
	return false, nil
}

// ClinicalExamExists reports whether petID already has an exam of the same
// type on the same day.
func ClinicalExamExists(ctx context.Context, db *gorm.DB, petID, examType, examDate string) (bool, error) {
	var rows []domain.ClinicalExam
	err := db.WithContext(ctx).
		Select("id", "exam_type").
		Where("pet_id = ? AND substr(exam_date, 1, 10) = ?", petID, domain.NormalizeDate(examDate)).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if sameText(r.ExamType, examType) {
			return true, nil
		}
	}
	return false, nil
}

// CreateVaccination inserts v, assigning an ID when empty.
func CreateVaccination(ctx context.Context, db *gorm.DB, v *domain.Vaccination) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(v).Error
}

// CreateMedicine inserts m, assigning an ID when empty.
func CreateMedicine(ctx context.Context, db *gorm.DB, m *domain.Medicine) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(m).Error
}

// CreateLabResult inserts l, assigning an ID when empty.
func CreateLabResult(ctx context.Context, db *gorm.DB, l *domain.LabResult) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(l).Error
}

// CreateClinicalExam inserts e, assigning an ID when empty.
func CreateClinicalExam(ctx context.Context, db *gorm.DB, e *domain.ClinicalExam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(e).Error
}
