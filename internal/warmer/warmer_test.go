package warmer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/analytics"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/internal/source"
)

type recordingTarget struct {
	mu      sync.Mutex
	calls   []string
	active  int
	overlap bool
	fail    map[string]error
}

func (r *recordingTarget) Warm(_ context.Context, endpoint string, _ analytics.Query) error {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.calls = append(r.calls, endpoint)
	err := r.fail[endpoint]
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return err
}

func TestRunNow_WarmsEveryEndpointInOrder(t *testing.T) {
	target := &recordingTarget{fail: map[string]error{
		analytics.EndpointMVRV: model.ErrUpstreamUnavailable,
	}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	w := New(context.Background(), target, m)

	failed := w.RunNow()

	assert.Equal(t, 1, failed)
	assert.Equal(t, analytics.Endpoints, target.calls, "a failure does not stop later endpoints")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarmRuns.WithLabelValues(analytics.EndpointMVRV, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarmRuns.WithLabelValues(analytics.EndpointHeatmap, "ok")))
}

func TestRunNow_Sequential(t *testing.T) {
	target := &recordingTarget{}
	w := New(context.Background(), target, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.RunNow()
		}()
	}
	wg.Wait()

	assert.False(t, target.overlap)
	assert.Len(t, target.calls, 3*len(analytics.Endpoints))
}

func TestRunNow_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	target := &recordingTarget{}
	w := New(ctx, target, nil)

	w.RunNow()
	assert.Empty(t, target.calls)
}

func TestRegister(t *testing.T) {
	w := New(context.Background(), &recordingTarget{}, nil)
	require.NoError(t, w.Register(""))
	require.NoError(t, w.Register("0 * * * *"))
	assert.Len(t, w.Cron.Entries(), 2)

	err := w.Register("every now and then")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "register warm job")
}

// The real service warms its caches through the same interface.
func TestRunNow_WithService(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := source.NewRegistry("binance")
	reg.Register("binance", failingSource{})
	svc := analytics.NewService(analytics.Options{Registry: reg, Now: func() time.Time { return now }})

	w := New(context.Background(), svc, nil)
	assert.Equal(t, len(analytics.Endpoints), w.RunNow())
}

type failingSource struct{}

func (failingSource) Name() string { return "binance" }

func (failingSource) FetchCandles(context.Context, string, model.Timeframe, int64, int) ([]model.Candle, error) {
	return nil, errors.New("offline")
}
