// Package metrics exposes Prometheus counters for the ledger and the
// application state machine.
//
// Collectors register on the default registry via promauto and are served
// by promhttp on /metrics. Recorder adapts them to generic.Observer and
// leave.Observer so the engine packages never import prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/leave-engine/generic"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerOperations counts ledger operations by op and result code.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leave",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by operation and result.",
}, []string{"op", "result"})

// LedgerConflicts counts compare-and-swap retries.
var LedgerConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leave",
	Subsystem: "ledger",
	Name:      "cas_conflicts_total",
	Help:      "Versioned balance writes that lost a race and were retried.",
}, []string{"op"})

// LedgerInvariantViolations counts InvalidLedgerState outcomes. Any
// non-zero value is a bug.
var LedgerInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leave",
	Subsystem: "ledger",
	Name:      "invariant_violations_total",
	Help:      "Ledger operations that detected an inconsistent balance.",
})

// ─── Applications ───────────────────────────────────────────────────────────

// ApplicationTransitions counts application status changes.
var ApplicationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leave",
	Subsystem: "applications",
	Name:      "transitions_total",
	Help:      "Application status transitions by from and to status.",
}, []string{"from", "to"})

// ─── Year start ─────────────────────────────────────────────────────────────

// YearInitializations counts balances touched by the year-start batch.
var YearInitializations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leave",
	Subsystem: "year_start",
	Name:      "balances_total",
	Help:      "Balances processed by the year-start batch by outcome.",
}, []string{"outcome"})

// ResultOK is the result label of a successful ledger operation.
const ResultOK = "ok"

// Recorder implements generic.Observer and leave.Observer.
type Recorder struct{}

func (Recorder) LedgerOp(op string, err error) {
	if err == nil {
		LedgerOperations.WithLabelValues(op, ResultOK).Inc()
		return
	}
	LedgerOperations.WithLabelValues(op, generic.Code(err)).Inc()
	if errors.Is(err, generic.ErrInvalidLedgerState) {
		LedgerInvariantViolations.Inc()
	}
}

func (Recorder) LedgerConflict(op string) {
	LedgerConflicts.WithLabelValues(op).Inc()
}

func (Recorder) ApplicationTransition(from, to string) {
	ApplicationTransitions.WithLabelValues(from, to).Inc()
}

// YearInitialized records the outcome counts of one year-start run.
func (Recorder) YearInitialized(initialized, skipped, failed int) {
	YearInitializations.WithLabelValues("initialized").Add(float64(initialized))
	YearInitializations.WithLabelValues("skipped").Add(float64(skipped))
	YearInitializations.WithLabelValues("failed").Add(float64(failed))
}
