package analytics

import (
	"context"
	"time"

	"marketdash/internal/cache"
	"marketdash/internal/indicator"
	"marketdash/internal/model"
)

const (
	rsiPeriod        = 14
	bollingerPeriod  = 20
	bollingerK       = 2.0
	volatilityPeriod = 30

	// candles fetched ahead of the visible range so every indicator has a
	// full window on the first visible row (Senkou B needs 52)
	technicalWarmup = indicator.IchimokuSenkouB + 8
)

// TechnicalRow holds every indicator value for one candle. Undefined values encode as null.
type TechnicalRow struct {
	Date      string          `json:"date"`
	Open      float64         `json:"open"`
	High      float64         `json:"high"`
	Low       float64         `json:"low"`
	Close     float64         `json:"close"`
	Volume    float64         `json:"volume"`
	RSI       indicator.Point `json:"rsi"`
	MACD      indicator.Point `json:"macd"`
	Signal    indicator.Point `json:"signal"`
	Histogram indicator.Point `json:"histogram"`
	BBUpper   indicator.Point `json:"bbUpper"`
	BBMiddle  indicator.Point `json:"bbMiddle"`
	BBLower   indicator.Point `json:"bbLower"`
	Tenkan    indicator.Point `json:"tenkan"`
	Kijun     indicator.Point `json:"kijun"`
	SenkouA   indicator.Point `json:"senkouA"`
	SenkouB   indicator.Point `json:"senkouB"`
	Chikou    indicator.Point `json:"chikou"`
}

// TechnicalResponse is the technical endpoint payload.
type TechnicalResponse struct {
	Range              RangeSpec      `json:"range"`
	RealizedVolatility float64        `json:"realizedVolatility"` // annualized percent, last 30 returns
	Rows               []TechnicalRow `json:"rows"`
}

// Technical returns the indicator table for q.Range.
func (s *Service) Technical(ctx context.Context, q Query) (cache.Result[TechnicalResponse], error) {
	return s.technicalResult(ctx, q, false)
}

func (s *Service) technicalResult(ctx context.Context, q Query, force bool) (cache.Result[TechnicalResponse], error) {
	r, err := s.resolve(q, true)
	if err != nil {
		return cache.Result[TechnicalResponse]{}, err
	}
	return serve(ctx, s, s.technical, cache.Key(EndpointTechnical, r.params), force, func(ctx context.Context) (TechnicalResponse, error) {
		span := time.Duration(r.rng.Count+technicalWarmup) * r.rng.TF.Duration()
		candles, err := s.paginate(ctx, r, r.rng.TF, s.now().Add(-span))
		if err != nil {
			return TechnicalResponse{}, err
		}
		return ComputeTechnical(candles, r.rng)
	})
}

// ComputeTechnical runs every indicator over the full fetched series and
// returns only the last rng.Count rows.
func ComputeTechnical(candles []model.Candle, rng RangeSpec) (TechnicalResponse, error) {
	if len(candles) == 0 {
		return TechnicalResponse{}, insufficient(EndpointTechnical, 0, 1)
	}
	closes := model.Closes(candles)
	rsi := indicator.RSI(closes, rsiPeriod)
	macd := indicator.MACD(closes)
	bb := indicator.Bollinger(closes, bollingerPeriod, bollingerK)
	ichi := indicator.Ichimoku(model.Highs(candles), model.Lows(candles), closes)

	start := max(0, len(candles)-rng.Count)
	res := TechnicalResponse{
		Range:              rng,
		RealizedVolatility: round(indicator.RealizedVolatility(closes, volatilityPeriod), 4),
		Rows:               make([]TechnicalRow, 0, len(candles)-start),
	}
	for i := start; i < len(candles); i++ {
		c := candles[i]
		res.Rows = append(res.Rows, TechnicalRow{
			Date:      c.Date(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			RSI:       rsi[i],
			MACD:      macd.Line[i],
			Signal:    macd.Signal[i],
			Histogram: macd.Histogram[i],
			BBUpper:   bb.Upper[i],
			BBMiddle:  bb.Middle[i],
			BBLower:   bb.Lower[i],
			Tenkan:    ichi.Tenkan[i],
			Kijun:     ichi.Kijun[i],
			SenkouA:   ichi.SenkouA[i],
			SenkouB:   ichi.SenkouB[i],
			Chikou:    ichi.Chikou[i],
		})
	}
	return res, nil
}
