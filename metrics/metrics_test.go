package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/metrics"
)

var (
	_ generic.Observer   = metrics.Recorder{}
	_ leave.Observer     = metrics.Recorder{}
	_ leave.YearObserver = metrics.Recorder{}
)

func TestRecorder_LedgerOp(t *testing.T) {
	ok := metrics.LedgerOperations.WithLabelValues(generic.OpReserve, metrics.ResultOK)
	insufficient := metrics.LedgerOperations.WithLabelValues(generic.OpReserve, generic.CodeInsufficientBalance)
	beforeOK, beforeInsufficient := testutil.ToFloat64(ok), testutil.ToFloat64(insufficient)
	beforeViolations := testutil.ToFloat64(metrics.LedgerInvariantViolations)

	r := metrics.Recorder{}
	r.LedgerOp(generic.OpReserve, nil)
	r.LedgerOp(generic.OpReserve, &generic.InsufficientBalanceError{})
	r.LedgerOp(generic.OpConsume, &generic.LedgerStateError{Detail: "drift"})

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeInsufficient+1, testutil.ToFloat64(insufficient))
	assert.Equal(t, beforeViolations+1, testutil.ToFloat64(metrics.LedgerInvariantViolations))
}

func TestRecorder_ConflictsAndTransitions(t *testing.T) {
	conflicts := metrics.LedgerConflicts.WithLabelValues(generic.OpRelease)
	transitions := metrics.ApplicationTransitions.WithLabelValues("pending", "approved")
	beforeConflicts, beforeTransitions := testutil.ToFloat64(conflicts), testutil.ToFloat64(transitions)

	r := metrics.Recorder{}
	r.LedgerConflict(generic.OpRelease)
	r.LedgerConflict(generic.OpRelease)
	r.ApplicationTransition("pending", "approved")

	assert.Equal(t, beforeConflicts+2, testutil.ToFloat64(conflicts))
	assert.Equal(t, beforeTransitions+1, testutil.ToFloat64(transitions))
}

func TestRecorder_YearInitialized(t *testing.T) {
	initialized := metrics.YearInitializations.WithLabelValues("initialized")
	failed := metrics.YearInitializations.WithLabelValues("failed")
	beforeInit, beforeFailed := testutil.ToFloat64(initialized), testutil.ToFloat64(failed)

	metrics.Recorder{}.YearInitialized(12, 3, 1)

	assert.Equal(t, beforeInit+12, testutil.ToFloat64(initialized))
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
}
