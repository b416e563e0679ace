package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/model"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_SaveLoadRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	src := newFakeSource(t0, 10)

	require.NoError(t, a.Save(ctx, "binance", "BTC/USDT", model.TF1d, src.candles))

	got, err := a.Load(ctx, "binance", "BTC/USDT", model.TF1d, t0.UnixMilli()+5*dayMs, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, src.candles[5], got[0])
	assert.Equal(t, src.candles[9], got[4])

	limited, err := a.Load(ctx, "binance", "BTC/USDT", model.TF1d, 0, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	other, err := a.Load(ctx, "bybit", "BTC/USDT", model.TF1d, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestArchive_SaveUpserts(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	c := model.Candle{TS: t0.UnixMilli(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}

	require.NoError(t, a.Save(ctx, "binance", "BTC/USDT", model.TF1d, []model.Candle{c}))
	c.Close = 1.8
	require.NoError(t, a.Save(ctx, "binance", "BTC/USDT", model.TF1d, []model.Candle{c}))

	got, err := a.Load(ctx, "binance", "BTC/USDT", model.TF1d, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.8, got[0].Close)
}

func TestArchiveSource_WritesThroughAndServesOffline(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	upstream := newFakeSource(t0, 30)
	now := fixedClock(t0.Add(30 * 24 * time.Hour))

	online, err := Paginate(ctx, NewArchiveSource(upstream, a), PageRequest{
		Symbol: "btc-usdt", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 7, Now: now,
	})
	require.NoError(t, err)
	require.Len(t, online, 30)

	offlineSrc := NewOfflineSource("fake", a)
	offline, err := Paginate(ctx, offlineSrc, PageRequest{
		Symbol: "BTC/USDT", TF: model.TF1d, Since: t0.UnixMilli(), Limit: 7, Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, online, offline)
}

func TestArchiveSource_UpstreamErrorNotArchived(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	s := NewArchiveSource(&failingSource{err: model.ErrUpstreamUnavailable}, a)

	_, err := s.FetchCandles(ctx, "BTC/USDT", model.TF1d, 0, 10)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)

	got, err := a.Load(ctx, "failing", "BTC/USDT", model.TF1d, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArchive_Ping(t *testing.T) {
	a := openTestArchive(t)
	assert.NoError(t, a.Ping(context.Background()))
}
