package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/config"
	"marketdash/internal/analytics"
	"marketdash/internal/gateway"
	"marketdash/internal/model"
	"marketdash/internal/source"
)

// daily serves aligned candles up to the current time.
type daily struct{ name string }

func (d daily) Name() string { return d.name }

func (d daily) FetchCandles(_ context.Context, _ string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	step := tf.Millis()
	first := since
	if rem := first % step; rem != 0 {
		first += step - rem
	}
	now := time.Now().UnixMilli()
	var page []model.Candle
	for ts := first; ts < now && len(page) < limit; ts += step {
		p := 25000 + float64((ts/step)%40)*25
		page = append(page, model.Candle{TS: ts, Open: p, High: p + 5, Low: p - 5, Close: p, Volume: 2})
	}
	return page, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		MetricsAddr:     "127.0.0.1:0",
		DefaultExchange: "binance",
		DefaultSymbol:   "BTC/USDT",
		BreakerFailures: 3,
		BreakerCooldown: time.Second,
		WarmCron:        "*/15 * * * *",
		CacheTTL: config.CacheTTL{
			Heatmap: time.Minute, MVRV: time.Minute, PiCycle: time.Minute,
			StockToFlow: time.Minute, Technical: time.Minute,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	opts.Registerer = prometheus.NewRegistry()
	a, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_ServesAnalyticsOverHTTP(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{Sources: map[string]source.CandleSource{
		"binance": daily{"binance"},
		"bybit":   daily{"bybit"},
	}})
	assert.Equal(t, []string{"binance", "bybit"}, a.Registry.Names())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/analytics/pi-cycle?exchange=bybit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	var rows []analytics.PiCycleRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	assert.NotEmpty(t, rows)
}

func TestNew_RefreshIsPushedToSubscribers(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{Sources: map[string]source.CandleSource{"binance": daily{"binance"}}})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	channel, err := a.Service.KeyFor(analytics.EndpointHeatmap, analytics.Query{})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(gateway.SubscribeMsg{Type: gateway.MsgSubscribe, Channels: []string{channel}}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack gateway.AckMsg
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, []string{channel}, ack.Channels)

	require.NoError(t, a.Service.Warm(context.Background(), analytics.EndpointHeatmap, analytics.Query{}))

	var env gateway.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, channel, env.Channel)
	assert.False(t, env.Initial)
	var rows []analytics.HeatmapRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.NotEmpty(t, rows)
}

func TestNew_UnknownDefaultExchange(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultExchange = "bybit"
	_, err := New(cfg, Options{
		Registerer: prometheus.NewRegistry(),
		Sources:    map[string]source.CandleSource{"binance": daily{"binance"}},
	})
	assert.ErrorIs(t, err, model.ErrInvalidParam)
}

func TestNew_OfflineReadsArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "data", "candles.db")

	// online run archives every page it fetches
	online := newTestApp(t, cfg, Options{Sources: map[string]source.CandleSource{"binance": daily{"binance"}}})
	want, err := online.Service.PiCycle(context.Background(), analytics.Query{})
	require.NoError(t, err)
	require.NoError(t, online.Close())

	offline := newTestApp(t, cfg, Options{Offline: true})
	got, err := offline.Service.PiCycle(context.Background(), analytics.Query{})
	require.NoError(t, err)
	assert.Equal(t, want.Value, got.Value)

	_, err = offline.Service.PiCycle(context.Background(), analytics.Query{Symbol: "ETH/USDT"})
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestNew_OfflineNeedsArchive(t *testing.T) {
	_, err := New(testConfig(t), Options{Offline: true, Registerer: prometheus.NewRegistry()})
	assert.ErrorContains(t, err, "SQLITE_PATH")
}

func TestNew_UnreachableRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	a := newTestApp(t, cfg, Options{Sources: map[string]source.CandleSource{"binance": daily{"binance"}}})
	assert.Nil(t, a.redis)
	assert.Nil(t, a.Hub.Router)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{Sources: map[string]source.CandleSource{"binance": daily{"binance"}}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BadScheduleStartsNothing(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig(t)
	cfg.WarmCron = "every quarter hour"
	cfg.MetricsAddr = addr
	a := newTestApp(t, cfg, Options{Sources: map[string]source.CandleSource{"binance": daily{"binance"}}})

	err = a.Run(context.Background())
	assert.ErrorContains(t, err, "register warm job")

	// the metrics port was never bound
	l, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	l.Close()
}
