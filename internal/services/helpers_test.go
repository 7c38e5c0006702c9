package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pet-mail-ingest/internal/classify"
	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/notify"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/storage"
)

// ---------- test helpers ----------

const testDomain = "pets.example.com"

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the shared in-memory database alive and
	// serializes writers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedPet(t *testing.T, db *gorm.DB, emailID string) *domain.Pet {
	t.Helper()
	p := &domain.Pet{
		ID:      uuid.NewString(),
		UserID:  "user-1",
		Name:    "Fluffy",
		Species: "cat",
		EmailID: emailID,
	}
	if err := repo.CreatePet(context.Background(), db, p); err != nil {
		t.Fatalf("seed pet: %v", err)
	}
	return p
}

func seedContact(t *testing.T, db *gorm.DB, petID, email string) {
	t.Helper()
	if err := repo.AddCareContact(context.Background(), db, petID, email, "Dr. Vet", domain.ContactRoleVet); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// stubClassifier returns canned verdicts keyed by filename.
type stubClassifier struct {
	mu      sync.Mutex
	verdict map[string]domain.Classification
	fail    map[string]error
	calls   int
}

func newStubClassifier() *stubClassifier {
	return &stubClassifier{
		verdict: map[string]domain.Classification{},
		fail:    map[string]error{},
	}
}

func (s *stubClassifier) Classify(_ context.Context, in classify.Input) (domain.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.fail[in.Filename]; err != nil {
		return domain.Classification{}, err
	}
	if c, ok := s.verdict[in.Filename]; ok {
		return c, nil
	}
	return domain.Classification{Type: domain.DocIrrelevant, Confidence: 1}, nil
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func rabies(date string) domain.Classification {
	return domain.Classification{
		Type:       domain.DocVaccinations,
		Confidence: 0.95,
		Vaccinations: []domain.VaccinationFields{
			{Name: "Rabies", Date: date, NextDueDate: "2025-01-15", ClinicName: "Happy Paws"},
		},
	}
}

// memStore is an in-memory storage.Store. Paths listed in failUpload are
// rejected.
type memStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failUpload map[string]bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, failUpload: map[string]bool{}}
}

func (m *memStore) Upload(_ context.Context, bucket, path string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload[path] {
		return errors.New("upload timeout")
	}
	m.objects[bucket+"/"+path] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Download(_ context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (m *memStore) Delete(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+path)
	return nil
}

func (m *memStore) has(bucket, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+path]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	store  *memStore
	clf    *stubClassifier
	events *recordingPublisher
	ing    *Ingester
	pet    *domain.Pet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	f := &fixture{
		db:     db,
		store:  newMemStore(),
		clf:    newStubClassifier(),
		events: &recordingPublisher{},
	}
	f.ing = NewIngester(db, f.store, f.clf, f.events, Options{
		InboundDomain:         testDomain,
		AttachmentsBucket:     "docs",
		PendingBucket:         "pending",
		MinConfidence:         0.5,
		AttachmentParallelism: 1,
	})
	f.pet = seedPet(t, db, "fluffy123")
	return f
}

func vetEmail(key, from string, files ...string) *domain.ParsedEmail {
	e := &domain.ParsedEmail{
		EmailKey:  key,
		MessageID: key,
		From:      from,
		To:        []string{"fluffy123@" + testDomain},
		Recipient: "fluffy123@" + testDomain,
		Subject:   "Records for Fluffy",
		TextBody:  "Please find attached.",
	}
	for _, name := range files {
		e.Attachments = append(e.Attachments, domain.Attachment{
			Filename:    name,
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.4 " + name),
		})
	}
	return e
}
