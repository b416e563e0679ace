package analytics

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/indicator"
	"marketdash/internal/model"
)

// series builds n candles starting at start, spaced by step, with close = f(i).
func series(start time.Time, step time.Duration, n int, f func(i int) float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := f(i)
		out[i] = model.Candle{
			TS:     start.Add(time.Duration(i) * step).UnixMilli(),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1,
		}
	}
	return out
}

const day = 24 * time.Hour

func TestComputeHeatmap_RowsAndMonthlyChange(t *testing.T) {
	start := time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC) // a Monday
	candles := series(start, 7*day, 210, func(i int) float64 { return float64(i + 1) })

	rows, err := ComputeHeatmap(candles)
	require.NoError(t, err)
	require.Len(t, rows, 11, "one row per candle with a full 200-week window")

	assert.Equal(t, candles[199].Date(), rows[0].Date)
	assert.InDelta(t, 100.5, rows[0].MA200W, 1e-9)
	assert.Equal(t, 200.0, rows[0].Price)
	assert.InDelta(t, 110.5, rows[10].MA200W, 1e-9)

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0.0, rows[i].MonthlyChange, "row %d has no prior month", i)
	}
	// row 4 compares with row 0: (104.5 - 100.5) / 100.5
	assert.InDelta(t, 3.9801, rows[4].MonthlyChange, 1e-9)

	y, w := candles[199].Time().ISOWeek()
	assert.Equal(t, fmt.Sprintf("%d-W%02d", y, w), rows[0].Week)
}

func TestComputeHeatmap_NotEnoughHistory(t *testing.T) {
	candles := series(time.Now(), 7*day, 199, func(i int) float64 { return 1 })
	_, err := ComputeHeatmap(candles)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestPiCycleZone(t *testing.T) {
	assert.Equal(t, "top", PiCycleZone(1.0))
	assert.Equal(t, "top", PiCycleZone(1.2))
	assert.Equal(t, "bottom", PiCycleZone(0.75))
	assert.Equal(t, "bottom", PiCycleZone(0.3))
	assert.Equal(t, "neutral", PiCycleZone(0.9))
}

func TestComputePiCycle_OnlyRowsWithBothAverages(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := series(start, day, 400, func(int) float64 { return 100 })

	rows, err := ComputePiCycle(candles)
	require.NoError(t, err)
	require.Len(t, rows, 400-349)

	r := rows[0]
	assert.Equal(t, candles[349].Date(), r.Date)
	assert.InDelta(t, 100, r.MA111, 1e-9)
	assert.InDelta(t, 200, r.MA350x2, 1e-9)
	assert.True(t, r.Ratio.Valid)
	assert.InDelta(t, 0.5, r.Ratio.Value, 1e-9)
	assert.Equal(t, "bottom", r.Zone)
}

func TestComputePiCycle_TopZoneOnParabolicRun(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	// flat then a steep run: the fast average overtakes twice the slow one
	candles := series(start, day, 700, func(i int) float64 {
		if i < 500 {
			return 100
		}
		return 100 * math.Pow(1.03, float64(i-500))
	})
	rows, err := ComputePiCycle(candles)
	require.NoError(t, err)
	assert.Equal(t, "top", rows[len(rows)-1].Zone)
}

func TestComputePiCycle_NotEnoughHistory(t *testing.T) {
	candles := series(time.Now(), day, 349, func(int) float64 { return 1 })
	_, err := ComputePiCycle(candles)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestComputeMVRV_MonthlySampling(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := series(start, day, 800, func(i int) float64 {
		return 1000 + 200*math.Sin(float64(i)/20) + float64(i)
	})

	res, err := ComputeMVRV(candles)
	require.NoError(t, err)

	// first STH point is the first day SMA155 exists, then the 1st of each month
	require.NotEmpty(t, res.STHMVRV)
	assert.Equal(t, candles[154].Date(), res.STHMVRV[0].Date)
	for _, p := range res.STHMVRV[1:] {
		assert.True(t, strings.HasSuffix(p.Date, "-01"), p.Date)
	}
	months := map[string]bool{}
	for _, p := range res.STHMVRV {
		assert.False(t, months[p.Date[:7]], "one sample per month")
		months[p.Date[:7]] = true
	}

	closes := model.Closes(candles)
	sma155 := indicator.SMA(closes, 155)
	assert.InDelta(t, closes[154]/sma155[154].Value, res.STHMVRV[0].Value, 1e-4)

	// Z-score needs SMA365 plus 183 defined spread values (period/2 rounded up)
	require.NotEmpty(t, res.MVRVZScore)
	first := res.MVRVZScore[0]
	assert.Equal(t, candles[546].Date(), first.Date)

	sma365 := indicator.SMA(closes, 365)
	spread := indicator.Sub(indicator.FromValues(closes), sma365)
	sd := indicator.RollingStdDev(spread, 365)
	assert.InDelta(t, spread[546].Value/sd[546].Value, first.ZScore, 1e-4)
	assert.Equal(t, closes[546], first.MarketValue)
	assert.InDelta(t, sma365[546].Value, first.RealisedValue, 0.01)
}

func TestComputeMVRV_NotEnoughHistory(t *testing.T) {
	candles := series(time.Now(), day, 100, func(int) float64 { return 1 })
	_, err := ComputeMVRV(candles)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestStock_AtHalvingIncludesNoNewEraBlocks(t *testing.T) {
	h1 := HalvingEras[1].Start
	h3 := HalvingEras[3].Start

	// 1425 days of 144 blocks at 50 BTC
	assert.InDelta(t, 10_260_000, Stock(h1), 1e-6)
	// plus 1319 days at 25 and 1402 days at 12.5
	assert.InDelta(t, 17_532_000, Stock(h3), 1e-6)

	// one day into the new era adds exactly one day of the new reward
	assert.InDelta(t, Stock(h3)+144*6.25, Stock(h3.Add(day)), 1e-6)
	// one day before adds one day of the old reward
	assert.InDelta(t, Stock(h3)-144*12.5, Stock(h3.Add(-day)), 1e-6)

	assert.Equal(t, 0.0, Stock(HalvingEras[0].Start))
	assert.Equal(t, 0.0, Stock(HalvingEras[0].Start.Add(-day)))
}

func TestEraAtAndFlow(t *testing.T) {
	h2 := HalvingEras[2].Start
	assert.Equal(t, 25.0, EraAt(h2.Add(-time.Nanosecond)).BlockReward)
	assert.Equal(t, 12.5, EraAt(h2).BlockReward)
	assert.Equal(t, 50.0, EraAt(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).BlockReward)
	assert.Equal(t, 3.125, EraAt(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)).BlockReward)
	assert.InDelta(t, 144*365.25*12.5, AnnualFlow(h2), 1e-9)
}

func TestStock_TracksBlockHeights(t *testing.T) {
	// 144 blocks a day runs slightly behind the real chain; at every halving
	// the estimate stays within a few percent of height x reward.
	var mined float64
	for i := 1; i < len(HalvingEras); i++ {
		prev, era := HalvingEras[i-1], HalvingEras[i]
		assert.Equal(t, int64(210000), era.StartHeight-prev.StartHeight, era.Label)
		assert.Equal(t, prev.BlockReward/2, era.BlockReward, era.Label)

		mined += float64(era.StartHeight-prev.StartHeight) * prev.BlockReward
		assert.InEpsilon(t, mined, Stock(era.Start), 0.06, era.Label)
	}
}

func TestS2FModelAtThirdHalving(t *testing.T) {
	h3 := HalvingEras[3].Start
	ratio := S2FRatio(h3)
	assert.InDelta(t, 53.3333, ratio, 1e-4)
	assert.InDelta(t, 67686.76, ModelPrice(ratio, Stock(h3)), 0.01)
	assert.Equal(t, 0.0, ModelPrice(0, 1))
	assert.Equal(t, 0.0, S2FRatio(HalvingEras[0].Start))
}

func TestComputeStockToFlow(t *testing.T) {
	h3 := HalvingEras[3].Start
	candles := series(h3, day, 3, func(i int) float64 { return 9000 + float64(i) })

	res, err := ComputeStockToFlow(candles)
	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	assert.Equal(t, "2020-05-11", res.Data[0].Date)
	assert.Equal(t, 9000.0, res.Data[0].ActualPrice)
	assert.Equal(t, 17_532_000.0, res.Data[0].Stock)
	assert.InDelta(t, 53.3333, res.Data[0].S2FRatio, 1e-9)
	assert.InDelta(t, 67686.76, res.Data[0].S2FPrice, 1e-9)

	require.Len(t, res.HalvingDates, 4)
	assert.Equal(t, HalvingDate{Date: "2012-11-28", BlockReward: 25, Label: "1st Halving"}, res.HalvingDates[0])
	assert.Equal(t, "2024-04-20", res.HalvingDates[3].Date)

	_, err = ComputeStockToFlow(nil)
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestComputeTechnical_VisibleTailHasFullWindows(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rng, err := ParseRange("1Y")
	require.NoError(t, err)
	candles := series(start, day, rng.Count+technicalWarmup, func(i int) float64 {
		return 100 + 10*math.Sin(float64(i)/7)
	})

	res, err := ComputeTechnical(candles, rng)
	require.NoError(t, err)
	require.Len(t, res.Rows, 365)
	assert.Equal(t, candles[len(candles)-1].Date(), res.Rows[364].Date)

	first := res.Rows[0]
	for name, p := range map[string]indicator.Point{
		"rsi": first.RSI, "macd": first.MACD, "signal": first.Signal, "histogram": first.Histogram,
		"bbUpper": first.BBUpper, "tenkan": first.Tenkan, "kijun": first.Kijun,
		"senkouA": first.SenkouA, "senkouB": first.SenkouB, "chikou": first.Chikou,
	} {
		assert.True(t, p.Valid, "%s should be defined on the first visible row", name)
	}
	assert.Greater(t, res.RealizedVolatility, 0.0)
	assert.Equal(t, rng, res.Range)
}

func TestComputeTechnical_ShortSeriesKeepsUndefined(t *testing.T) {
	rng, _ := ParseRange("1M")
	candles := series(time.Now(), day, 10, func(i int) float64 { return float64(i + 1) })

	res, err := ComputeTechnical(candles, rng)
	require.NoError(t, err)
	require.Len(t, res.Rows, 10)
	for _, r := range res.Rows {
		assert.False(t, r.RSI.Valid)
		assert.False(t, r.SenkouB.Valid)
	}
	assert.Equal(t, 0.0, res.RealizedVolatility)
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("")
	require.NoError(t, err)
	assert.Equal(t, RangeSpec{Code: "1Y", TF: model.TF1d, Count: 365}, r)

	r, err = ParseRange("5y")
	require.NoError(t, err)
	assert.Equal(t, model.TF1w, r.TF)
	assert.Equal(t, 260, r.Count)

	_, err = ParseRange("10Y")
	assert.ErrorIs(t, err, model.ErrInvalidParam)
}
