package analytics

import (
	"context"
	"fmt"
	"math"

	"marketdash/internal/cache"
	"marketdash/internal/indicator"
	"marketdash/internal/model"
	"marketdash/internal/source"
)

const (
	heatmapCandles = 1000
	heatmapPeriod  = 200
	// month-over-month compares against the row emitted four weeks earlier
	heatmapLookback = 4
)

// HeatmapRow is one week of the 200-week moving-average heatmap.
type HeatmapRow struct {
	Date          string  `json:"date"`
	Week          string  `json:"week"` // ISO week, e.g. 2024-W18
	Price         float64 `json:"price"`
	MA200W        float64 `json:"ma200w"`
	MonthlyChange float64 `json:"monthlyChange"` // percent
}

// Heatmap returns the 200-week moving-average heatmap for q.
func (s *Service) Heatmap(ctx context.Context, q Query) (cache.Result[[]HeatmapRow], error) {
	return s.heatmapResult(ctx, q, false)
}

func (s *Service) heatmapResult(ctx context.Context, q Query, force bool) (cache.Result[[]HeatmapRow], error) {
	r, err := s.resolve(q, false)
	if err != nil {
		return cache.Result[[]HeatmapRow]{}, err
	}
	return serve(ctx, s, s.heatmap, cache.Key(EndpointHeatmap, r.params), force, func(ctx context.Context) ([]HeatmapRow, error) {
		candles, err := source.Latest(ctx, r.src, r.inst.Pair(), model.TF1w, heatmapCandles, s.now())
		if err != nil {
			return nil, err
		}
		return ComputeHeatmap(candles)
	})
}

// ComputeHeatmap emits one row per weekly candle with a full 200-week window.
func ComputeHeatmap(candles []model.Candle) ([]HeatmapRow, error) {
	ma := indicator.SMA(model.Closes(candles), heatmapPeriod)

	var rows []HeatmapRow
	for i, p := range ma {
		if !p.Valid {
			continue
		}
		base := p.Value
		if n := len(rows); n >= heatmapLookback {
			base = rows[n-heatmapLookback].MA200W
		}
		change := 0.0
		if base != 0 {
			change = (p.Value - base) / base * 100
		}
		year, week := candles[i].Time().ISOWeek()
		rows = append(rows, HeatmapRow{
			Date:          candles[i].Date(),
			Week:          fmt.Sprintf("%d-W%02d", year, week),
			Price:         candles[i].Close,
			MA200W:        p.Value,
			MonthlyChange: round(change, 4),
		})
	}
	if len(rows) == 0 {
		return nil, insufficient(EndpointHeatmap, len(candles), heatmapPeriod)
	}
	return rows, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
