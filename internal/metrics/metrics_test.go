package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetCurrentPhase(t *testing.T) {
	all := []string{"night", "morning", "afternoon", "evening"}

	SetCurrentPhase("morning", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(CurrentPhase.WithLabelValues("morning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(CurrentPhase.WithLabelValues("night")))

	SetCurrentPhase("night", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(CurrentPhase.WithLabelValues("morning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CurrentPhase.WithLabelValues("night")))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(OracleFallbacksTotal.WithLabelValues("decide"))
	OracleFallbacksTotal.WithLabelValues("decide").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OracleFallbacksTotal.WithLabelValues("decide")))

	before = testutil.ToFloat64(DispatchedTotal.WithLabelValues("evening", "submitted"))
	DispatchedTotal.WithLabelValues("evening", "submitted").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DispatchedTotal.WithLabelValues("evening", "submitted")))
}
