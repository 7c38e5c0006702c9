// Package monitor surfaces ledger locks that stayed in the processing state
// longer than expected. A stale lock usually means an invocation crashed
// between acquiring the lock and completing it. Locks are reported, never
// reset: an operator decides whether to replay.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

var (
	staleGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "petmail_ledger_stale_processing",
		Help: "Ledger rows stuck in processing longer than the staleness threshold.",
	})
	sweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "petmail_stale_sweeps_total",
		Help: "Stale-lock sweeps by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(staleGauge, sweepRuns)
}

// maxLogged caps how many stale keys one sweep logs individually.
const maxLogged = 100

// StaleSweeper periodically counts stale processing rows.
type StaleSweeper struct {
	db        *gorm.DB
	threshold time.Duration
	schedule  string
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewStaleSweeper creates a sweeper. schedule is a standard five-field cron
// spec or a descriptor such as "@every 1m".
func NewStaleSweeper(db *gorm.DB, threshold time.Duration, schedule string) *StaleSweeper {
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &StaleSweeper{
		db:        db,
		threshold: threshold,
		schedule:  schedule,
		now:       time.Now,
	}
}

// SweepOnce counts stale rows, updates the gauge, and logs each stale key.
func (s *StaleSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.threshold)
	rows, err := repo.ListStaleProcessing(ctx, s.db, cutoff, 0)
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list stale processing: %w", err)
	}
	staleGauge.Set(float64(len(rows)))
	sweepRuns.WithLabelValues("ok").Inc()

	for i, r := range rows {
		if i == maxLogged {
			log.Warn().Int("remaining", len(rows)-maxLogged).Msg("more stale ledger locks not logged")
			break
		}
		log.Warn().
			Str("email_key", r.EmailKey).
			Time("started_at", r.StartedAt).
			Dur("age", s.now().Sub(r.StartedAt)).
			Msg("ledger lock stuck in processing")
	}
	return len(rows), nil
}

// Start schedules SweepOnce on the cron schedule.
func (s *StaleSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stale sweeper is already running")
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.SweepOnce(ctx); err != nil {
			log.Error().Err(err).Msg("stale sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	log.Info().Str("schedule", s.schedule).Dur("threshold", s.threshold).Msg("stale sweeper started")
	return nil
}

// Stop stops the schedule and waits for a running sweep, up to ctx.
func (s *StaleSweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("stale sweeper stop timed out")
	}
	s.running = false
}
