// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cardledger/cardledger/internal/domain"
)

// Outcome labels shared by the mutation counters.
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	CardMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardledger_card_mutations_total",
		Help: "Card mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	FXFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardledger_fx_fetch_total",
		Help: "Exchange rate fetches from the upstream feed",
	}, []string{"outcome"})

	IdempotencyReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardledger_idempotency_replays_total",
		Help: "Requests answered from the idempotency ledger",
	}, []string{"endpoint"})

	IdempotencyPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardledger_idempotency_purged_total",
		Help: "Expired idempotency records removed by the sweeper",
	})
)

// ObserveMutation records the outcome of a card mutation.
func ObserveMutation(operation, outcome string) {
	CardMutations.WithLabelValues(operation, outcome).Inc()
}

// OutcomeFor labels a mutation result.
func OutcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrRequestInProgress),
		errors.Is(err, domain.ErrDuplicateKey):
		return OutcomeConflict
	case errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrInvalidCardStatus),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrCardLimitExceeded),
		errors.Is(err, domain.ErrUnsupportedConversion),
		errors.Is(err, domain.ErrInvalidData),
		errors.Is(err, domain.ErrDuplicateTransaction):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
