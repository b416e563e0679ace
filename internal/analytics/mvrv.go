package analytics

import (
	"context"

	"marketdash/internal/cache"
	"marketdash/internal/indicator"
	"marketdash/internal/model"
)

const (
	mvrvYears      = 5
	sthPeriod      = 155
	realisedPeriod = 365
)

// STHPoint is one monthly short-term-holder MVRV sample.
type STHPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Price float64 `json:"price"`
}

// ZScorePoint is one monthly MVRV Z-score sample. The 365-day SMA stands in
// for realised value.
type ZScorePoint struct {
	Date          string  `json:"date"`
	MarketValue   float64 `json:"marketValue"`
	RealisedValue float64 `json:"realisedValue"`
	ZScore        float64 `json:"zScore"`
}

// MVRVResponse is the MVRV endpoint payload.
type MVRVResponse struct {
	STHMVRV    []STHPoint    `json:"sthMvrv"`
	MVRVZScore []ZScorePoint `json:"mvrvZScore"`
}

// MVRV returns the price-based MVRV proxies for q.
func (s *Service) MVRV(ctx context.Context, q Query) (cache.Result[MVRVResponse], error) {
	return s.mvrvResult(ctx, q, false)
}

func (s *Service) mvrvResult(ctx context.Context, q Query, force bool) (cache.Result[MVRVResponse], error) {
	r, err := s.resolve(q, false)
	if err != nil {
		return cache.Result[MVRVResponse]{}, err
	}
	return serve(ctx, s, s.mvrv, cache.Key(EndpointMVRV, r.params), force, func(ctx context.Context) (MVRVResponse, error) {
		since := s.now().UTC().AddDate(-mvrvYears, 0, 0)
		candles, err := s.paginate(ctx, r, model.TF1d, since)
		if err != nil {
			return MVRVResponse{}, err
		}
		return ComputeMVRV(candles)
	})
}

// ComputeMVRV samples STH-MVRV (close / SMA155) and the MVRV Z-score
// ((close - SMA365) / rolling stddev of that spread) on the first qualifying
// day of each calendar month.
func ComputeMVRV(candles []model.Candle) (MVRVResponse, error) {
	closes := model.Closes(candles)
	sma155 := indicator.SMA(closes, sthPeriod)
	sma365 := indicator.SMA(closes, realisedPeriod)
	spread := indicator.Sub(indicator.FromValues(closes), sma365)
	z := indicator.Div(spread, indicator.RollingStdDev(spread, realisedPeriod))

	res := MVRVResponse{STHMVRV: []STHPoint{}, MVRVZScore: []ZScorePoint{}}
	var sthMonth, zMonth string
	for i, c := range candles {
		month := c.Date()[:7]

		if p := sma155[i]; p.Valid && p.Value != 0 && month != sthMonth {
			sthMonth = month
			res.STHMVRV = append(res.STHMVRV, STHPoint{
				Date:  c.Date(),
				Value: round(c.Close/p.Value, 4),
				Price: c.Close,
			})
		}

		if z[i].Valid && month != zMonth {
			zMonth = month
			res.MVRVZScore = append(res.MVRVZScore, ZScorePoint{
				Date:          c.Date(),
				MarketValue:   c.Close,
				RealisedValue: round(sma365[i].Value, 2),
				ZScore:        round(z[i].Value, 4),
			})
		}
	}
	if len(res.STHMVRV) == 0 && len(res.MVRVZScore) == 0 {
		return MVRVResponse{}, insufficient(EndpointMVRV, len(candles), sthPeriod)
	}
	return res, nil
}
