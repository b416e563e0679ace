package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics service.
// A nil *Metrics is valid and records nothing, which keeps tests and the CLI free of registries.
type Metrics struct {
	// Cache
	CacheRequests *prometheus.CounterVec // labels: endpoint, result=hit|miss
	CacheWrites   *prometheus.CounterVec // labels: endpoint

	// Upstream candle sources
	UpstreamRequests *prometheus.CounterVec   // labels: exchange, status=ok|error
	UpstreamDur      *prometheus.HistogramVec // labels: exchange
	PaginationPages  *prometheus.HistogramVec // labels: exchange

	// Analytics compute
	ComputeDur    *prometheus.HistogramVec // labels: endpoint
	ComputeErrors *prometheus.CounterVec   // labels: endpoint, kind

	// Circuit breaker
	BreakerState *prometheus.GaugeVec   // labels: exchange; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: exchange

	// Websocket push
	WSClients    prometheus.Gauge
	WSBroadcasts prometheus.Counter
	WSDropped    prometheus.Counter

	// Cache warmer
	WarmRuns *prometheus.CounterVec // labels: endpoint, result=ok|error
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_cache_requests_total",
			Help: "Analytics cache lookups by endpoint and result",
		}, []string{"endpoint", "result"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_cache_writes_total",
			Help: "Successful recomputations stored in the cache",
		}, []string{"endpoint"}),

		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_upstream_requests_total",
			Help: "Candle page requests sent to upstream exchanges",
		}, []string{"exchange", "status"}),
		UpstreamDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdash_upstream_request_duration_seconds",
			Help:    "Upstream candle request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange"}),
		PaginationPages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdash_pagination_pages",
			Help:    "Pages fetched per paginated series",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"exchange"}),

		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdash_compute_duration_seconds",
			Help:    "End-to-end recompute latency (fetch + indicators) per endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_compute_errors_total",
			Help: "Failed recomputations by endpoint and error kind",
		}, []string{"endpoint", "kind"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketdash_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"exchange"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_upstream_breaker_trips_total",
			Help: "Times the upstream circuit breaker opened",
		}, []string{"exchange"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdash_ws_clients",
			Help: "Connected websocket clients",
		}),
		WSBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdash_ws_broadcasts_total",
			Help: "Refreshed payloads broadcast to websocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdash_ws_dropped_total",
			Help: "Websocket messages dropped because a client send buffer was full",
		}),

		WarmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_warm_runs_total",
			Help: "Scheduled cache warm-up runs",
		}, []string{"endpoint", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheRequests,
			m.CacheWrites,
			m.UpstreamRequests,
			m.UpstreamDur,
			m.PaginationPages,
			m.ComputeDur,
			m.ComputeErrors,
			m.BreakerState,
			m.BreakerTrips,
			m.WSClients,
			m.WSBroadcasts,
			m.WSDropped,
			m.WarmRuns,
		)
	}

	return m
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(endpoint string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(endpoint, result).Inc()
}

// CacheWrite records a stored recomputation.
func (m *Metrics) CacheWrite(endpoint string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(endpoint).Inc()
}

// Upstream records one upstream page request.
func (m *Metrics) Upstream(exchange string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UpstreamRequests.WithLabelValues(exchange, status).Inc()
	m.UpstreamDur.WithLabelValues(exchange).Observe(time.Since(started).Seconds())
}

// Pages records how many pages one paginated fetch needed.
func (m *Metrics) Pages(exchange string, pages int) {
	if m == nil {
		return
	}
	m.PaginationPages.WithLabelValues(exchange).Observe(float64(pages))
}

// Compute records a recompute duration and, on failure, its error kind.
func (m *Metrics) Compute(endpoint string, started time.Time, kind string) {
	if m == nil {
		return
	}
	m.ComputeDur.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	if kind != "" {
		m.ComputeErrors.WithLabelValues(endpoint, kind).Inc()
	}
}

// Breaker records a circuit breaker transition.
func (m *Metrics) Breaker(exchange string, state int, tripped bool) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(exchange).Set(float64(state))
	if tripped {
		m.BreakerTrips.WithLabelValues(exchange).Inc()
	}
}

// WSClient adjusts the connected client gauge by delta.
func (m *Metrics) WSClient(delta float64) {
	if m == nil {
		return
	}
	m.WSClients.Add(delta)
}

// WSBroadcast records a broadcast and the number of clients that dropped it.
func (m *Metrics) WSBroadcast(dropped int) {
	if m == nil {
		return
	}
	m.WSBroadcasts.Inc()
	m.WSDropped.Add(float64(dropped))
}

// Warm records a warm-up run.
func (m *Metrics) Warm(endpoint string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WarmRuns.WithLabelValues(endpoint, result).Inc()
}

// Pinger is a dependency that can be health-checked (redis client, sqlite archive).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	deps      map[string]Pinger
	depOK     map[string]bool
	depLatMs  map[string]float64
	LastCheck time.Time
	StartedAt time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		deps:      make(map[string]Pinger),
		depOK:     make(map[string]bool),
		depLatMs:  make(map[string]float64),
		StartedAt: time.Now(),
	}
}

// Register adds a named dependency to the liveness checks.
// Dependencies start healthy until the first probe says otherwise.
func (h *HealthStatus) Register(name string, p Pinger) {
	h.mu.Lock()
	h.deps[name] = p
	h.depOK[name] = true
	h.mu.Unlock()
}

// Check probes every registered dependency once and records latency + health.
func (h *HealthStatus) Check(ctx context.Context) {
	h.mu.RLock()
	deps := make(map[string]Pinger, len(h.deps))
	for k, v := range h.deps {
		deps[k] = v
	}
	h.mu.RUnlock()

	for name, p := range deps {
		start := time.Now()
		err := p.Ping(ctx)
		latency := time.Since(start)

		h.mu.Lock()
		h.depOK[name] = err == nil
		h.depLatMs[name] = float64(latency.Microseconds()) / 1000.0
		h.LastCheck = time.Now()
		h.mu.Unlock()
	}
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	down := 0
	for _, ok := range h.depOK {
		if !ok {
			down++
		}
	}
	if down > 0 {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if down > 0 && down == len(h.depOK) {
		overallStatus = "unhealthy"
	}

	type depStatus struct {
		OK        bool    `json:"ok"`
		LatencyMs float64 `json:"latency_ms"`
	}
	deps := make(map[string]depStatus, len(h.depOK))
	for name, ok := range h.depOK {
		deps[name] = depStatus{OK: ok, LatencyMs: h.depLatMs[name]}
	}

	status := struct {
		Status      string               `json:"status"`
		Uptime      string               `json:"uptime"`
		Deps        map[string]depStatus `json:"deps"`
		LastCheckAt string               `json:"last_check_at"`
	}{
		Status:      overallStatus,
		Uptime:      time.Since(h.StartedAt).Round(time.Second).String(),
		Deps:        deps,
		LastCheckAt: h.LastCheck.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
