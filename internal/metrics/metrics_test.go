package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("heatmap", true)
		m.CacheWrite("heatmap")
		m.Upstream("binance", time.Now(), nil)
		m.Pages("binance", 3)
		m.Compute("mvrv", time.Now(), "upstream")
		m.Breaker("bybit", 1, true)
		m.WSClient(1)
		m.WSBroadcast(2)
		m.Warm("pi-cycle", errors.New("boom"))
	})
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.CacheLookup("heatmap", true)
	m.CacheLookup("heatmap", false)
	m.CacheLookup("heatmap", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("heatmap", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("heatmap", "miss")))

	m.Upstream("binance", time.Now(), errors.New("503"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("binance", "error")))

	m.Compute("mvrv", time.Now(), "")
	m.Compute("mvrv", time.Now(), "insufficient")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComputeErrors.WithLabelValues("mvrv", "insufficient")))

	m.Breaker("bybit", 1, true)
	m.Breaker("bybit", 2, false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("bybit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTrips.WithLabelValues("bybit")))

	m.WSBroadcast(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WSDropped))

	m.Warm("technical", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarmRuns.WithLabelValues("technical", "ok")))
}

func healthz(t *testing.T, h *HealthStatus) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body.Status
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus()
	code, status := healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status)

	redis := &pinger{}
	h.Register("redis", redis)
	h.Register("sqlite", pinger{})
	h.Check(context.Background())
	code, status = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status)

	redis.err = errors.New("connection refused")
	h.Check(context.Background())
	code, status = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", status)

	h.Register("sqlite", pinger{err: errors.New("locked")})
	h.Check(context.Background())
	_, status = healthz(t, h)
	assert.Equal(t, "unhealthy", status)
}
