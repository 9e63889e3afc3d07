package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hostel-billing/billing"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg, reg)

	m.ObligationCreated(billing.ScopeBlock)
	m.ObligationCreated(billing.ScopeBlock)
	m.TenantFailed(billing.ScopeHostel)
	m.RunFinished(billing.ScopeBlock, billing.RunCompleted, 2*time.Second)
	m.RunFinished(billing.ScopeHostel, billing.RunDisabled, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.obligationsCreated.WithLabelValues("block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tenantFailures.WithLabelValues("hostel")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("block", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("hostel", "disabled")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObligationCreated(billing.ScopeHostel)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `hostel_billing_obligations_created_total{kind="hostel"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
