package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketdash/internal/model"
)

const bybitBaseURL = "https://api.bybit.com"

const bybitMaxLimit = 1000

// Bybit retCodes for an unknown or delisted symbol.
const (
	bybitParamsError   = 10001
	bybitSymbolInvalid = 170121
)

// BybitClient reads spot klines from the Bybit v5 REST API.
type BybitClient struct {
	rest     *restClient
	category string
	now      func() time.Time
}

// NewBybitClient creates a Bybit candle source for the spot category.
func NewBybitClient(cfg ClientConfig) *BybitClient {
	return &BybitClient{rest: newRESTClient("bybit", cfg, bybitBaseURL), category: "spot", now: time.Now}
}

func (c *BybitClient) Name() string { return "bybit" }

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol   string              `json:"symbol"`
		Category string              `json:"category"`
		List     [][]json.RawMessage `json:"list"`
	} `json:"result"`
}

func bybitInterval(tf model.Timeframe) (string, bool) {
	switch tf {
	case model.TF1h:
		return "60", true
	case model.TF4h:
		return "240", true
	case model.TF1d:
		return "D", true
	case model.TF1w:
		return "W", true
	}
	return "", false
}

// FetchCandles implements CandleSource against GET /v5/market/kline.
// Bybit returns the newest candle first; the page is reversed before returning.
func (c *BybitClient) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	inst, err := model.ParseInstrument(c.Name(), symbol)
	if err != nil {
		return nil, err
	}
	interval, ok := bybitInterval(tf)
	if !ok {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParam, tf)
	}
	if limit <= 0 || limit > bybitMaxLimit {
		limit = bybitMaxLimit
	}

	// With only start set Bybit anchors the window at the present, so bound
	// the page explicitly to make it the next limit candles after since.
	// A window before the listing date comes back empty; keep sliding it
	// forward so only a window reaching the present can end pagination.
	span := int64(limit) * tf.Millis()
	now := c.now().UnixMilli()
	for start := since; ; start += span {
		candles, err := c.fetchWindow(ctx, inst, interval, start, start+span-1, limit)
		if err != nil || len(candles) > 0 || start+span-1 >= now {
			return candles, err
		}
	}
}

func (c *BybitClient) fetchWindow(ctx context.Context, inst model.Instrument, interval string, start, end int64, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", inst.Ticker())
	params.Set("interval", interval)
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, status, err := c.rest.get(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(c.Name(), status, body)
	}

	var resp bybitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bybit kline: %v", model.ErrMalformedPayload, err)
	}
	if resp.RetCode != 0 {
		if resp.RetCode == bybitSymbolInvalid ||
			(resp.RetCode == bybitParamsError && strings.Contains(strings.ToLower(resp.RetMsg), "symbol")) {
			return nil, fmt.Errorf("%w: bybit %s: %s", model.ErrUnknownSymbol, inst.Ticker(), resp.RetMsg)
		}
		return nil, fmt.Errorf("%w: bybit error %d: %s", model.ErrUpstreamUnavailable, resp.RetCode, resp.RetMsg)
	}

	candles, err := parseKlineRows(resp.Result.List)
	if err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}
