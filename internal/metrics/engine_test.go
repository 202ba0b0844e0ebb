package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(timerFires.WithLabelValues("reminder", "stale"))
	IncTimerFire("reminder", "stale")
	assert.Equal(t, before+1, testutil.ToFloat64(timerFires.WithLabelValues("reminder", "stale")))

	SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(sessionsActive))

	p := testutil.ToFloat64(persistAttempts.WithLabelValues("conflict"))
	IncPersist("conflict")
	assert.Equal(t, p+1, testutil.ToFloat64(persistAttempts.WithLabelValues("conflict")))
}
