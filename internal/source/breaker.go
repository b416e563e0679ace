package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketdash/internal/metrics"
	"marketdash/internal/model"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // requests pass through
	StateOpen     State = 1 // requests rejected immediately
	StateHalfOpen State = 2 // one probe request allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and rejects all
// calls for resetTimeout. It then lets one probe through: success closes it,
// failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time

	// OnStateChange is called on every transition, with the mutex held.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a circuit breaker.
// maxFailures: consecutive failures before opening (e.g., 5)
// resetTimeout: time to wait before half-open probe (e.g., 30s)
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen if the breaker is open and the timeout hasn't elapsed.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.transition(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	return nil
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// GuardedSource wraps a CandleSource with a circuit breaker so a dead
// exchange fails fast instead of holding every request for a full timeout.
type GuardedSource struct {
	src CandleSource
	cb  *CircuitBreaker
}

// NewGuardedSource wraps src. Breaker transitions are logged and exported as metrics.
func NewGuardedSource(src CandleSource, cb *CircuitBreaker, m *metrics.Metrics) *GuardedSource {
	name := src.Name()
	cb.OnStateChange = func(from, to State) {
		slog.Warn("upstream circuit breaker transition",
			"exchange", name, "from", from.String(), "to", to.String())
		m.Breaker(name, int(to), to == StateOpen)
	}
	return &GuardedSource{src: src, cb: cb}
}

func (g *GuardedSource) Name() string { return g.src.Name() }

// Breaker exposes the underlying circuit breaker.
func (g *GuardedSource) Breaker() *CircuitBreaker { return g.cb }

// FetchCandles implements CandleSource. Rejected symbols and invalid
// parameters are caller mistakes and do not count against the breaker.
func (g *GuardedSource) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	var (
		page    []model.Candle
		callErr error
	)
	err := g.cb.Execute(func() error {
		page, callErr = g.src.FetchCandles(ctx, symbol, tf, since, limit)
		if callErr == nil || countsAsHealthy(callErr) {
			return nil
		}
		return callErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %s circuit open", model.ErrUpstreamUnavailable, g.src.Name())
	}
	if callErr != nil {
		return nil, callErr
	}
	return page, nil
}

func countsAsHealthy(err error) bool {
	return errors.Is(err, model.ErrUnknownSymbol) ||
		errors.Is(err, model.ErrInvalidParam) ||
		errors.Is(err, context.Canceled)
}
