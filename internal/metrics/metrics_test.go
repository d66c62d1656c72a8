package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(LedgerCalls.WithLabelValues("mint", "ok"))
	LedgerCalls.WithLabelValues("mint", Outcome(nil)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerCalls.WithLabelValues("mint", "ok")))

	assert.Equal(t, "error", Outcome(errors.New("x")))
}
