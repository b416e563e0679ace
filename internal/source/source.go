// Package source fetches OHLCV candle series from upstream exchanges.
//
// A CandleSource returns one page of candles per call. Paginate walks a
// source forward from a start timestamp until the present, one page at a
// time, and returns the merged, de-duplicated series.
package source

import (
	"context"
	"fmt"
	"time"

	"marketdash/internal/metrics"
	"marketdash/internal/model"
)

// DefaultPageLimit is the number of candles requested per page when the caller does not say.
const DefaultPageLimit = 1000

// CandleSource returns at most limit candles for symbol at timeframe tf whose
// open time is >= since (epoch ms), sorted ascending by timestamp.
// An empty page means the source has no more data after since.
type CandleSource interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, since int64, limit int) ([]model.Candle, error)
}

// PageRequest describes a paginated fetch.
type PageRequest struct {
	Symbol string
	TF     model.Timeframe
	Since  int64 // epoch ms
	Limit  int   // per-page limit; DefaultPageLimit when <= 0

	Now     func() time.Time // clock; time.Now when nil
	Metrics *metrics.Metrics // optional
}

// Paginate fetches the full series from req.Since up to the present.
//
// Requests are issued strictly one after another. The loop stops on an empty
// page, when a page does not advance past the watermark, or once the
// watermark reaches the present. Any upstream error aborts the whole fetch;
// no partial series is returned.
func Paginate(ctx context.Context, src CandleSource, req PageRequest) ([]model.Candle, error) {
	step := req.TF.Millis()
	if step <= 0 {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParam, req.TF)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	clock := req.Now
	if clock == nil {
		clock = time.Now
	}
	now := clock().UnixMilli()

	var (
		all   []model.Candle
		pages int
		since = req.Since
	)
	for since < now {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := src.FetchCandles(ctx, req.Symbol, req.TF, since, limit)
		pages++
		if err != nil {
			return nil, fmt.Errorf("paginate %s %s %s page %d: %w", src.Name(), req.Symbol, req.TF, pages, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)

		lastTs := page[len(page)-1].TS
		if lastTs <= since {
			// upstream keeps returning the same tail
			break
		}
		since = lastTs + step
	}

	req.Metrics.Pages(src.Name(), pages)
	return model.Dedupe(all), nil
}

// Latest fetches the most recent count candles with a single request.
func Latest(ctx context.Context, src CandleSource, symbol string, tf model.Timeframe, count int, now time.Time) ([]model.Candle, error) {
	step := tf.Millis()
	if step <= 0 {
		return nil, fmt.Errorf("%w: unknown timeframe %q", model.ErrInvalidParam, tf)
	}
	since := now.UnixMilli() - int64(count)*step
	page, err := src.FetchCandles(ctx, symbol, tf, since, count)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s %s: %w", src.Name(), symbol, tf, err)
	}
	return model.Dedupe(page), nil
}
