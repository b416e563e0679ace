package analytics

import (
	"context"
	"math"
	"time"

	"marketdash/internal/cache"
	"marketdash/internal/model"
)

const (
	blocksPerDay  = 144
	blocksPerYear = blocksPerDay * 365.25

	// ln(marketCap) = s2fSlope * ln(S2F) + s2fIntercept
	s2fSlope     = 3.32
	s2fIntercept = 14.6
)

// HalvingEra is one block-reward era. Supply is derived from elapsed days;
// StartHeight is informational and only used to sanity-check that estimate.
type HalvingEra struct {
	Start       time.Time
	BlockReward float64
	StartHeight int64
	Label       string
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// HalvingEras is the fixed halving schedule, oldest first.
var HalvingEras = []HalvingEra{
	{Start: date(2009, 1, 3), BlockReward: 50, StartHeight: 0, Label: "Genesis"},
	{Start: date(2012, 11, 28), BlockReward: 25, StartHeight: 210000, Label: "1st Halving"},
	{Start: date(2016, 7, 9), BlockReward: 12.5, StartHeight: 420000, Label: "2nd Halving"},
	{Start: date(2020, 5, 11), BlockReward: 6.25, StartHeight: 630000, Label: "3rd Halving"},
	{Start: date(2024, 4, 20), BlockReward: 3.125, StartHeight: 840000, Label: "4th Halving"},
}

// s2fSeriesStart is the first daily candle used by the model series.
var s2fSeriesStart = date(2017, 8, 17)

// Stock returns the cumulative supply issued by t, assuming 144 blocks a day.
// Every era that started before t contributes reward x blocks for the part of
// it that has elapsed; an era starting exactly at t contributes nothing.
func Stock(t time.Time) float64 {
	var stock float64
	for i, era := range HalvingEras {
		if !t.After(era.Start) {
			break
		}
		end := t
		if i+1 < len(HalvingEras) && HalvingEras[i+1].Start.Before(t) {
			end = HalvingEras[i+1].Start
		}
		days := end.Sub(era.Start).Hours() / 24
		stock += blocksPerDay * days * era.BlockReward
	}
	return stock
}

// EraAt returns the era in force at t. Before genesis it returns the genesis era.
func EraAt(t time.Time) HalvingEra {
	cur := HalvingEras[0]
	for _, era := range HalvingEras[1:] {
		if t.Before(era.Start) {
			break
		}
		cur = era
	}
	return cur
}

// AnnualFlow is the yearly issuance at t's block reward.
func AnnualFlow(t time.Time) float64 {
	return blocksPerYear * EraAt(t).BlockReward
}

// S2FRatio is stock / annual flow at t; 0 when nothing has been issued.
func S2FRatio(t time.Time) float64 {
	stock := Stock(t)
	if stock == 0 {
		return 0
	}
	return stock / AnnualFlow(t)
}

// ModelPrice is the stock-to-flow model price exp(3.32 ln(S2F) + 14.6) / stock.
func ModelPrice(s2f, stock float64) float64 {
	if s2f <= 0 || stock <= 0 {
		return 0
	}
	return math.Exp(s2fSlope*math.Log(s2f)+s2fIntercept) / stock
}

// S2FPoint is one day of the stock-to-flow series.
type S2FPoint struct {
	Date        string  `json:"date"`
	ActualPrice float64 `json:"actualPrice"`
	S2FPrice    float64 `json:"s2fPrice"`
	S2FRatio    float64 `json:"s2fRatio"`
	Stock       float64 `json:"stock"`
}

// HalvingDate is a halving marker for the chart.
type HalvingDate struct {
	Date        string  `json:"date"`
	BlockReward float64 `json:"blockReward"`
	Label       string  `json:"label"`
}

// StockToFlowResponse is the stock-to-flow endpoint payload.
type StockToFlowResponse struct {
	Data         []S2FPoint    `json:"data"`
	HalvingDates []HalvingDate `json:"halvingDates"`
}

// StockToFlow returns the stock-to-flow model series for q.
func (s *Service) StockToFlow(ctx context.Context, q Query) (cache.Result[StockToFlowResponse], error) {
	return s.stockToFlowResult(ctx, q, false)
}

func (s *Service) stockToFlowResult(ctx context.Context, q Query, force bool) (cache.Result[StockToFlowResponse], error) {
	r, err := s.resolve(q, false)
	if err != nil {
		return cache.Result[StockToFlowResponse]{}, err
	}
	return serve(ctx, s, s.s2f, cache.Key(EndpointStockToFlow, r.params), force, func(ctx context.Context) (StockToFlowResponse, error) {
		candles, err := s.paginate(ctx, r, model.TF1d, s2fSeriesStart)
		if err != nil {
			return StockToFlowResponse{}, err
		}
		return ComputeStockToFlow(candles)
	})
}

// ComputeStockToFlow applies the model to each daily candle.
func ComputeStockToFlow(candles []model.Candle) (StockToFlowResponse, error) {
	if len(candles) == 0 {
		return StockToFlowResponse{}, insufficient(EndpointStockToFlow, 0, 1)
	}
	res := StockToFlowResponse{Data: make([]S2FPoint, 0, len(candles))}
	for _, c := range candles {
		t := c.Time()
		stock := Stock(t)
		ratio := S2FRatio(t)
		res.Data = append(res.Data, S2FPoint{
			Date:        c.Date(),
			ActualPrice: c.Close,
			S2FPrice:    round(ModelPrice(ratio, stock), 2),
			S2FRatio:    round(ratio, 4),
			Stock:       math.Round(stock),
		})
	}
	for _, era := range HalvingEras[1:] {
		res.HalvingDates = append(res.HalvingDates, HalvingDate{
			Date:        era.Start.Format("2006-01-02"),
			BlockReward: era.BlockReward,
			Label:       era.Label,
		})
	}
	return res, nil
}
