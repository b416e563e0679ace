// Package analytics composes candle fetching, indicator math and the TTL
// cache into the dashboard's analytics endpoints.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketdash/internal/cache"
	"marketdash/internal/logger"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/internal/source"
)

// Endpoint names double as cache namespaces.
const (
	EndpointHeatmap     = "heatmap"
	EndpointMVRV        = "mvrv"
	EndpointPiCycle     = "pi-cycle"
	EndpointStockToFlow = "stock-to-flow"
	EndpointTechnical   = "technical"
)

// Endpoints lists every endpoint in a stable order.
var Endpoints = []string{EndpointHeatmap, EndpointMVRV, EndpointPiCycle, EndpointStockToFlow, EndpointTechnical}

const defaultSymbol = "BTC/USDT"

// Query holds the request parameters shared by all endpoints.
type Query struct {
	Symbol   string
	Exchange string
	Range    string // technical only
}

// TTLs is the freshness window per endpoint. Zero means cache.DefaultTTL.
type TTLs struct {
	Heatmap     time.Duration
	MVRV        time.Duration
	PiCycle     time.Duration
	StockToFlow time.Duration
	Technical   time.Duration
}

// Options configures a Service.
type Options struct {
	Registry      *source.Registry
	DefaultSymbol string
	Store         cache.Store // shared backing store; namespaces keep endpoints apart
	TTL           TTLs
	PageLimit     int
	Now           func() time.Time
	Metrics       *metrics.Metrics
}

// Service serves the analytics endpoints. Each endpoint owns one cache.
type Service struct {
	registry      *source.Registry
	defaultSymbol string
	pageLimit     int
	now           func() time.Time
	metrics       *metrics.Metrics

	heatmap   *cache.Cache[[]HeatmapRow]
	mvrv      *cache.Cache[MVRVResponse]
	piCycle   *cache.Cache[[]PiCycleRow]
	s2f       *cache.Cache[StockToFlowResponse]
	technical *cache.Cache[TechnicalResponse]
}

// NewService wires the per-endpoint caches.
func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store := opts.Store
	if store == nil {
		store = cache.NewMemoryStore()
	}
	sym := opts.DefaultSymbol
	if sym == "" {
		sym = defaultSymbol
	}
	limit := opts.PageLimit
	if limit <= 0 {
		limit = source.DefaultPageLimit
	}
	co := func(ttl time.Duration) cache.Options {
		return cache.Options{TTL: ttl, Store: store, Now: now, Metrics: opts.Metrics}
	}
	return &Service{
		registry:      opts.Registry,
		defaultSymbol: sym,
		pageLimit:     limit,
		now:           now,
		metrics:       opts.Metrics,

		heatmap:   cache.New[[]HeatmapRow](EndpointHeatmap, co(opts.TTL.Heatmap)),
		mvrv:      cache.New[MVRVResponse](EndpointMVRV, co(opts.TTL.MVRV)),
		piCycle:   cache.New[[]PiCycleRow](EndpointPiCycle, co(opts.TTL.PiCycle)),
		s2f:       cache.New[StockToFlowResponse](EndpointStockToFlow, co(opts.TTL.StockToFlow)),
		technical: cache.New[TechnicalResponse](EndpointTechnical, co(opts.TTL.Technical)),
	}
}

// OnRefresh registers fn on every endpoint cache.
func (s *Service) OnRefresh(fn cache.RefreshFunc) {
	s.heatmap.OnRefresh(fn)
	s.mvrv.OnRefresh(fn)
	s.piCycle.OnRefresh(fn)
	s.s2f.OnRefresh(fn)
	s.technical.OnRefresh(fn)
}

// Last returns the most recent stored payload for a cache key, fresh or not.
// The key's endpoint prefix selects the cache.
func (s *Service) Last(ctx context.Context, key string) (json.RawMessage, time.Time, bool) {
	endpoint, _, _ := strings.Cut(key, "|")
	switch endpoint {
	case EndpointHeatmap:
		return s.heatmap.Last(ctx, key)
	case EndpointMVRV:
		return s.mvrv.Last(ctx, key)
	case EndpointPiCycle:
		return s.piCycle.Last(ctx, key)
	case EndpointStockToFlow:
		return s.s2f.Last(ctx, key)
	case EndpointTechnical:
		return s.technical.Last(ctx, key)
	}
	return nil, time.Time{}, false
}

// resolved is a validated Query.
type resolved struct {
	inst   model.Instrument
	src    source.CandleSource
	rng    RangeSpec
	params map[string]string
}

func (s *Service) resolve(q Query, withRange bool) (resolved, error) {
	src, err := s.registry.Get(q.Exchange)
	if err != nil {
		return resolved{}, err
	}
	symbol := q.Symbol
	if symbol == "" {
		symbol = s.defaultSymbol
	}
	inst, err := model.ParseInstrument(src.Name(), symbol)
	if err != nil {
		return resolved{}, err
	}
	r := resolved{
		inst:   inst,
		src:    src,
		params: map[string]string{"symbol": inst.Pair(), "exchange": src.Name()},
	}
	if withRange {
		r.rng, err = ParseRange(q.Range)
		if err != nil {
			return resolved{}, err
		}
		r.params["range"] = r.rng.Code
	}
	return r, nil
}

// KeyFor returns the cache key an endpoint would use for q.
func (s *Service) KeyFor(endpoint string, q Query) (string, error) {
	r, err := s.resolve(q, endpoint == EndpointTechnical)
	if err != nil {
		return "", err
	}
	return cache.Key(endpoint, r.params), nil
}

// instrument records duration and error kind, and logs failures with the request trace id.
func (s *Service) instrument(ctx context.Context, endpoint string, started time.Time, err error) {
	kind := model.Kind(err)
	s.metrics.Compute(endpoint, started, kind)
	if err != nil {
		logger.LogWithTrace(ctx, slog.LevelWarn, "[analytics] compute failed",
			"endpoint", endpoint, "kind", kind, "error", err)
		return
	}
	logger.LogWithTrace(ctx, slog.LevelInfo, "[analytics] recomputed",
		"endpoint", endpoint, "took", time.Since(started).String())
}

// serve runs compute through c, either on miss or unconditionally when force is set.
func serve[T any](ctx context.Context, s *Service, c *cache.Cache[T], key string, force bool, compute func(context.Context) (T, error)) (cache.Result[T], error) {
	wrapped := func(ctx context.Context) (T, error) {
		started := time.Now()
		v, err := compute(ctx)
		s.instrument(ctx, c.Namespace(), started, err)
		return v, err
	}
	if force {
		return c.Refresh(ctx, key, wrapped)
	}
	return c.GetOrCompute(ctx, key, wrapped)
}

// paginate fetches a full series from since to now through the resolved source.
func (s *Service) paginate(ctx context.Context, r resolved, tf model.Timeframe, since time.Time) ([]model.Candle, error) {
	return source.Paginate(ctx, r.src, source.PageRequest{
		Symbol:  r.inst.Pair(),
		TF:      tf,
		Since:   since.UnixMilli(),
		Limit:   s.pageLimit,
		Now:     s.now,
		Metrics: s.metrics,
	})
}

// Warm recomputes one endpoint for q regardless of cache freshness.
func (s *Service) Warm(ctx context.Context, endpoint string, q Query) error {
	var err error
	switch endpoint {
	case EndpointHeatmap:
		_, err = s.heatmapResult(ctx, q, true)
	case EndpointMVRV:
		_, err = s.mvrvResult(ctx, q, true)
	case EndpointPiCycle:
		_, err = s.piCycleResult(ctx, q, true)
	case EndpointStockToFlow:
		_, err = s.stockToFlowResult(ctx, q, true)
	case EndpointTechnical:
		_, err = s.technicalResult(ctx, q, true)
	default:
		err = fmt.Errorf("%w: unknown endpoint %q", model.ErrInvalidParam, endpoint)
	}
	return err
}

// Get serves endpoint by name and returns its payload.
func (s *Service) Get(ctx context.Context, endpoint string, q Query) (any, bool, error) {
	switch endpoint {
	case EndpointHeatmap:
		r, err := s.Heatmap(ctx, q)
		return r.Value, r.Hit, err
	case EndpointMVRV:
		r, err := s.MVRV(ctx, q)
		return r.Value, r.Hit, err
	case EndpointPiCycle:
		r, err := s.PiCycle(ctx, q)
		return r.Value, r.Hit, err
	case EndpointStockToFlow:
		r, err := s.StockToFlow(ctx, q)
		return r.Value, r.Hit, err
	case EndpointTechnical:
		r, err := s.Technical(ctx, q)
		return r.Value, r.Hit, err
	default:
		return nil, false, fmt.Errorf("%w: unknown endpoint %q (use %s)", model.ErrInvalidParam, endpoint, strings.Join(Endpoints, ", "))
	}
}

func insufficient(endpoint string, have, need int) error {
	return fmt.Errorf("%w: %s needs at least %d candles, got %d", model.ErrInsufficientData, endpoint, need, have)
}
