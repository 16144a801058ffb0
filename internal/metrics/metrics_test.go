package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveProviderRequest(t *testing.T) {
	ok := metrics.ProviderRequests.WithLabelValues("hedra", "status", metrics.ResultOK)
	failed := metrics.ProviderRequests.WithLabelValues("hedra", "status", metrics.ResultError)
	beforeOK, beforeFailed := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	metrics.ObserveProviderRequest("hedra", "status", nil)
	metrics.ObserveProviderRequest("hedra", "status", errors.New("boom"))
	metrics.ObserveProviderRequest("hedra", "status", errors.New("boom"))

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(ok))
	assert.Equal(t, beforeFailed+2, testutil.ToFloat64(failed))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	metrics.PollerCycles.Inc()
	metrics.WebhookDeliveries.WithLabelValues("thumbnail", "succeeded").Inc()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "poller_cycles_total")
	assert.Contains(t, body, `webhook_deliveries_total{status="succeeded",tool="thumbnail"}`)
	assert.Contains(t, body, "go_goroutines")
}
