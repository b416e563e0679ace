package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"marketdash/internal/model"
)

const binanceBaseURL = "https://api.binance.com"

// binanceMaxLimit is the largest page /api/v3/klines accepts.
const binanceMaxLimit = 1000

// Binance error codes that mean the symbol is not listed.
const (
	binanceInvalidSymbol = -1121
	binanceBadSymbol     = -1100
)

// BinanceClient reads spot klines from the public Binance REST API.
type BinanceClient struct {
	rest *restClient
}

// NewBinanceClient creates a Binance candle source.
func NewBinanceClient(cfg ClientConfig) *BinanceClient {
	return &BinanceClient{rest: newRESTClient("binance", cfg, binanceBaseURL)}
}

func (c *BinanceClient) Name() string { return "binance" }

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FetchCandles implements CandleSource against GET /api/v3/klines.
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error) {
	inst, err := model.ParseInstrument(c.Name(), symbol)
	if err != nil {
		return nil, err
	}
	if tf.Duration() == 0 {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParam, tf)
	}
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	params := url.Values{}
	params.Set("symbol", inst.Ticker())
	params.Set("interval", tf.String()) // binance spells 1h/4h/1d/1w the same way
	params.Set("startTime", strconv.FormatInt(since, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, status, err := c.rest.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		var apiErr binanceError
		if json.Unmarshal(body, &apiErr) == nil &&
			(apiErr.Code == binanceInvalidSymbol || apiErr.Code == binanceBadSymbol) {
			return nil, fmt.Errorf("%w: binance %s: %s", model.ErrUnknownSymbol, inst.Ticker(), apiErr.Msg)
		}
		return nil, statusError(c.Name(), status, body)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: binance klines: %v", model.ErrMalformedPayload, err)
	}
	candles, err := parseKlineRows(rows)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	return candles, nil
}
