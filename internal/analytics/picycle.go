package analytics

import (
	"context"

	"marketdash/internal/cache"
	"marketdash/internal/indicator"
	"marketdash/internal/model"
	"marketdash/internal/source"
)

const (
	piCycleCandles = 1000
	piFastPeriod   = 111
	piSlowPeriod   = 350

	zoneTop     = "top"
	zoneBottom  = "bottom"
	zoneNeutral = "neutral"
)

// PiCycleRow is one day of the Pi-Cycle top indicator.
type PiCycleRow struct {
	Date    string          `json:"date"`
	Price   float64         `json:"price"`
	MA111   float64         `json:"ma111"`
	MA350x2 float64         `json:"ma350x2"`
	Ratio   indicator.Point `json:"ratio"`
	Zone    string          `json:"zone"`
}

// PiCycle returns the Pi-Cycle rows for q.
func (s *Service) PiCycle(ctx context.Context, q Query) (cache.Result[[]PiCycleRow], error) {
	return s.piCycleResult(ctx, q, false)
}

func (s *Service) piCycleResult(ctx context.Context, q Query, force bool) (cache.Result[[]PiCycleRow], error) {
	r, err := s.resolve(q, false)
	if err != nil {
		return cache.Result[[]PiCycleRow]{}, err
	}
	return serve(ctx, s, s.piCycle, cache.Key(EndpointPiCycle, r.params), force, func(ctx context.Context) ([]PiCycleRow, error) {
		candles, err := source.Latest(ctx, r.src, r.inst.Pair(), model.TF1d, piCycleCandles, s.now())
		if err != nil {
			return nil, err
		}
		return ComputePiCycle(candles)
	})
}

// PiCycleZone classifies a MA111 / (2 x MA350) ratio.
func PiCycleZone(ratio float64) string {
	switch {
	case ratio >= 1.0:
		return zoneTop
	case ratio <= 0.75:
		return zoneBottom
	default:
		return zoneNeutral
	}
}

// ComputePiCycle emits a row for every day where both moving averages are defined.
func ComputePiCycle(candles []model.Candle) ([]PiCycleRow, error) {
	closes := model.Closes(candles)
	fast := indicator.SMA(closes, piFastPeriod)
	slow := indicator.Scale(indicator.SMA(closes, piSlowPeriod), 2)

	var rows []PiCycleRow
	for i := range candles {
		if !fast[i].Valid || !slow[i].Valid {
			continue
		}
		row := PiCycleRow{
			Date:    candles[i].Date(),
			Price:   candles[i].Close,
			MA111:   fast[i].Value,
			MA350x2: slow[i].Value,
			Zone:    zoneNeutral,
		}
		if slow[i].Value > 0 {
			ratio := fast[i].Value / slow[i].Value
			row.Ratio = indicator.Some(round(ratio, 4))
			row.Zone = PiCycleZone(ratio)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, insufficient(EndpointPiCycle, len(candles), piSlowPeriod)
	}
	return rows, nil
}
