package indicator

// Standard MACD parameters.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	Line      Series
	Signal    Series
	Histogram Series
}

// MACD computes the 12/26/9 MACD of closes.
//
// The signal line is an EMA over the defined MACD values only, re-aligned
// onto the original indices, so it starts MACDSignal-1 defined points after
// the MACD line does.
func MACD(closes []float64) MACDResult {
	return MACDWith(closes, MACDFast, MACDSlow, MACDSignal)
}

// MACDWith computes MACD with custom periods.
func MACDWith(closes []float64, fast, slow, signal int) MACDResult {
	line := Sub(EMA(closes, fast), EMA(closes, slow))
	sig := EMAOfDefined(line, signal)
	return MACDResult{
		Line:      line,
		Signal:    sig,
		Histogram: Sub(line, sig),
	}
}
