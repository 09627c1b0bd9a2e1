package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.CheckIn("accepted")
	m.CheckIn("accepted")
	m.CheckIn("stale")
	m.Escalated()
	m.EscalationSkipped("superseded")
	m.DispatchResult("Phone", "delivered")
	m.ScanCompleted(3, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkInsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkInsTotal.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalationSkipTotal.WithLabelValues("superseded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("Phone", "delivered")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.usersScanned))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.CheckIn("accepted")
		m.ScanFailed()
		m.Escalated()
		m.DispatchStarted()
		m.DispatchFinished()
		m.HTTPRequest("GET", "/healthz", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Escalated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "safecheck_escalations_total 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
