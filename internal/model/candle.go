package model

import (
	"sort"
	"time"
)

// Candle represents one OHLCV bar as delivered by an upstream exchange.
// Prices are plain floats; crypto quotes do not fit a fixed minor unit.
type Candle struct {
	TS     int64   `json:"ts"` // bucket open time, epoch milliseconds (UTC)
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time returns the bucket open time as a UTC time.Time.
func (c *Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// Date returns the bucket open date formatted as YYYY-MM-DD.
func (c *Candle) Date() string {
	return c.Time().Format("2006-01-02")
}

// Closes extracts the closing prices, index-aligned with candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Highs extracts the high prices, index-aligned with candles.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].High
	}
	return out
}

// Lows extracts the low prices, index-aligned with candles.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Low
	}
	return out
}

// Dedupe returns candles sorted ascending by TS with duplicate timestamps
// removed. The first occurrence of a timestamp wins. The input is not modified.
func Dedupe(candles []Candle) []Candle {
	if len(candles) == 0 {
		return nil
	}
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	out := sorted[:1]
	for _, c := range sorted[1:] {
		if c.TS == out[len(out)-1].TS {
			continue
		}
		out = append(out, c)
	}
	return out
}
