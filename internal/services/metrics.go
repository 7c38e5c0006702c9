package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ingestOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "petmail_ingest_outcomes_total",
		Help: "Inbound emails by response status.",
	}, []string{"status"})

	ledgerFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "petmail_ledger_fail_open_total",
		Help: "Ledger claims that failed on a store error and proceeded without a lock.",
	})

	ledgerCompleteMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "petmail_ledger_complete_missed_total",
		Help: "Ledger completions that matched no processing row.",
	})

	attachmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "petmail_attachments_total",
		Help: "Attachment pipeline steps by stage and result.",
	}, []string{"stage", "result"})
)

func init() {
	prometheus.MustRegister(ingestOutcomes, ledgerFailOpen, ledgerCompleteMissed, attachmentsTotal)
}

// loggerFrom returns the request-scoped logger stored in ctx, or the global
// logger when none was attached.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
