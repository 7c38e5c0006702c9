package classify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// BreakerConfig tunes the circuit breaker around a classifier backend.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // allowed in half-open
	Interval            time.Duration // closed-state counter reset
	Timeout             time.Duration // open-state duration
	ConsecutiveFailures uint32        // trips the breaker
}

// Breaker guards a Classifier with a circuit breaker. While open, Classify
// fails fast with ErrUnavailable so one email's attachments do not each wait
// on a dead backend.
type Breaker struct {
	next Classifier
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next Classifier, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "classifier"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	trip := cfg.ConsecutiveFailures
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
			// A cancelled request says nothing about the backend.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// Classify forwards to the wrapped classifier through the breaker.
func (b *Breaker) Classify(ctx context.Context, in Input) (domain.Classification, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Classify(ctx, in)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Classification{}, ErrUnavailable
		}
		return domain.Classification{}, err
	}
	return out.(domain.Classification), nil
}

// State reports the breaker state, for health output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
