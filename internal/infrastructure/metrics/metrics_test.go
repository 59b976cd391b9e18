package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTracker("CreateIssue", nil)
	m.ObserveTracker("CreateIssue", errors.New("down"))
	m.ObserveDecision("CLOSE_NO_EFFECT")
	m.ObserveJob("evaluate_improvements", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackerRequests.WithLabelValues("CreateIssue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackerRequests.WithLabelValues("CreateIssue", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleResults.WithLabelValues("CLOSE_NO_EFFECT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("evaluate_improvements", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTracker("GetIssue", nil)
		m.ObserveDecision("CONTINUE")
		m.ObserveJob("x", time.Second, nil)
	})
}
