package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.RunStarted()
	m.RecordStep("planning", "advanced", 0.2)
	m.RecordLoopBack("testing→development")
	m.RecordGuardrailFailure("security", "secret_detection", "blocking")
	m.RecordMemoryError("put")
	m.RunFinished("failed", "guardrail_violation", 3)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed", "guardrail_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoopBacksTotal.WithLabelValues("testing→development")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryErrorsTotal.WithLabelValues("put")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RecordStep("planning", "advanced", 1)
		m.RecordNotify("slack", "ok")
		m.SetDBSize(10)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/api/v1/projects", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crewflow_http_requests_total")
}
