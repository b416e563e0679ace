package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/model"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

const dayMs = int64(24 * time.Hour / time.Millisecond)

// fakeSource serves a fixed daily series and records every call.
type fakeSource struct {
	mu      sync.Mutex
	candles []model.Candle
	calls   []int64 // since of each call
	failOn  int     // 1-based call number that fails; 0 never
	err     error
}

func newFakeSource(start time.Time, days int) *fakeSource {
	cs := make([]model.Candle, days)
	for i := range cs {
		ts := start.UnixMilli() + int64(i)*dayMs
		p := 100 + float64(i)
		cs[i] = model.Candle{TS: ts, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	return &fakeSource{candles: cs}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchCandles(_ context.Context, _ string, _ model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, f.err
	}
	var page []model.Candle
	for _, c := range f.candles {
		if c.TS >= since && len(page) < limit {
			page = append(page, c)
		}
	}
	return page, nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPaginate_CallCountIsCeilOfRangeOverLimit(t *testing.T) {
	cases := []struct {
		days, limit, wantCalls int
	}{
		{2500, 1000, 3},
		{2000, 1000, 2},
		{999, 1000, 1},
		{1826, 500, 4},
	}
	for _, tc := range cases {
		src := newFakeSource(t0, tc.days)
		now := t0.Add(time.Duration(tc.days) * 24 * time.Hour)

		got, err := Paginate(context.Background(), src, PageRequest{
			Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: tc.limit, Now: fixedClock(now),
		})
		require.NoError(t, err)
		assert.Len(t, src.calls, tc.wantCalls, "days=%d limit=%d", tc.days, tc.limit)
		assert.Len(t, got, tc.days)
	}
}

func TestPaginate_AdvancesWatermarkByOneUnit(t *testing.T) {
	src := newFakeSource(t0, 25)
	now := t0.Add(25 * 24 * time.Hour)

	_, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 10, Now: fixedClock(now),
	})
	require.NoError(t, err)
	require.Len(t, src.calls, 3)
	assert.Equal(t, t0.UnixMilli(), src.calls[0])
	assert.Equal(t, t0.UnixMilli()+10*dayMs, src.calls[1])
	assert.Equal(t, t0.UnixMilli()+20*dayMs, src.calls[2])
}

func TestPaginate_StopsOnEmptyPage(t *testing.T) {
	src := newFakeSource(t0, 100)
	now := t0.Add(200 * 24 * time.Hour)

	got, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 1000, Now: fixedClock(now),
	})
	require.NoError(t, err)
	assert.Len(t, src.calls, 2)
	assert.Len(t, got, 100)
}

// stallSource always returns the same page no matter what since is.
type stallSource struct{ calls int }

func (s *stallSource) Name() string { return "stall" }

func (s *stallSource) FetchCandles(_ context.Context, _ string, _ model.Timeframe, _ int64, _ int) ([]model.Candle, error) {
	s.calls++
	return []model.Candle{
		{TS: t0.UnixMilli(), Close: 1},
		{TS: t0.UnixMilli() + dayMs, Close: 2},
	}, nil
}

func TestPaginate_StallGuardTerminates(t *testing.T) {
	src := &stallSource{}
	now := t0.Add(1000 * 24 * time.Hour)

	got, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 1000, Now: fixedClock(now),
	})
	require.NoError(t, err)
	// second call: since is past the page end, lastTs <= since
	assert.Equal(t, 2, src.calls)
	assert.Len(t, got, 2, "duplicates from the repeated page are dropped")
}

func TestPaginate_UpstreamErrorDiscardsPartialResult(t *testing.T) {
	src := newFakeSource(t0, 3000)
	src.failOn = 2
	src.err = model.ErrUpstreamUnavailable
	now := t0.Add(3000 * 24 * time.Hour)

	got, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 1000, Now: fixedClock(now),
	})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.Len(t, src.calls, 2)
}

func TestPaginate_SinceAtOrAfterNowMakesNoCalls(t *testing.T) {
	src := newFakeSource(t0, 10)
	got, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Now: fixedClock(t0),
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.calls)
}

func TestPaginate_OutputSortedAndUnique(t *testing.T) {
	src := newFakeSource(t0, 50)
	// the third page comes back as 40..49,45,47
	src.candles = append(src.candles, src.candles[45], src.candles[47])
	now := t0.Add(60 * 24 * time.Hour)

	got, err := Paginate(context.Background(), src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 20, Now: fixedClock(now),
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].TS, got[i].TS)
	}
}

func TestPaginate_RejectsUnknownTimeframe(t *testing.T) {
	_, err := Paginate(context.Background(), newFakeSource(t0, 1), PageRequest{TF: "3d"})
	assert.ErrorIs(t, err, model.ErrInvalidParam)
}

func TestPaginate_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newFakeSource(t0, 10)
	_, err := Paginate(ctx, src, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Now: fixedClock(t0.Add(48 * time.Hour)),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}

func TestLatest_SingleCallWindow(t *testing.T) {
	src := newFakeSource(t0, 400)
	now := t0.Add(400 * 24 * time.Hour)

	got, err := Latest(context.Background(), src, "BTC/USDT", model.TF1d, 100, now)
	require.NoError(t, err)
	require.Len(t, src.calls, 1)
	assert.Equal(t, t0.UnixMilli()+300*dayMs, src.calls[0])
	assert.Len(t, got, 100)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("Binance")
	r.Register("binance", newFakeSource(t0, 1))
	r.Register("BYBIT", &stallSource{})

	src, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "fake", src.Name())

	src, err = r.Get("Bybit")
	require.NoError(t, err)
	assert.Equal(t, "stall", src.Name())

	_, err = r.Get("kraken")
	assert.ErrorIs(t, err, model.ErrInvalidParam)
	assert.Equal(t, []string{"binance", "bybit"}, r.Names())
	assert.Equal(t, "binance", r.Default())
}
