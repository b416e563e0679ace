package indicator

// Standard Ichimoku periods.
const (
	IchimokuTenkan  = 9
	IchimokuKijun   = 26
	IchimokuSenkouB = 52
)

// IchimokuResult holds the five Ichimoku lines, all aligned with the input.
//
// Chikou is stored unshifted: Chikou[i] = close[i] for i >= 26. Senkou spans
// are not projected forward either. Consumers shift for display.
type IchimokuResult struct {
	Tenkan  Series
	Kijun   Series
	SenkouA Series
	SenkouB Series
	Chikou  Series
}

// Ichimoku computes the cloud components from aligned high/low/close slices.
func Ichimoku(highs, lows, closes []float64) IchimokuResult {
	n := min(len(highs), len(lows), len(closes))
	highs, lows, closes = highs[:n], lows[:n], closes[:n]

	res := IchimokuResult{
		Tenkan:  Midpoint(highs, lows, IchimokuTenkan),
		Kijun:   Midpoint(highs, lows, IchimokuKijun),
		SenkouB: Midpoint(highs, lows, IchimokuSenkouB),
		SenkouA: make(Series, n),
		Chikou:  make(Series, n),
	}
	for i := 0; i < n; i++ {
		if res.Tenkan[i].Valid && res.Kijun[i].Valid {
			res.SenkouA[i] = Some((res.Tenkan[i].Value + res.Kijun[i].Value) / 2)
		}
		if i >= IchimokuKijun {
			res.Chikou[i] = Some(closes[i])
		}
	}
	return res
}

// Midpoint returns (highest high + lowest low) / 2 over each trailing window.
func Midpoint(highs, lows []float64, period int) Series {
	n := min(len(highs), len(lows))
	out := make(Series, n)
	if period <= 0 {
		return out
	}
	for i := period - 1; i < n; i++ {
		hi, lo := highs[i-period+1], lows[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			hi = max(hi, highs[j])
			lo = min(lo, lows[j])
		}
		out[i] = Some((hi + lo) / 2)
	}
	return out
}
