package indicator

// BollingerResult holds upper/middle/lower bands aligned with the input.
type BollingerResult struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger computes bands of k population standard deviations around
// SMA(closes, period). The deviation is taken over the trailing period closes.
func Bollinger(closes []float64, period int, k float64) BollingerResult {
	res := BollingerResult{
		Upper:  make(Series, len(closes)),
		Middle: SMA(closes, period),
		Lower:  make(Series, len(closes)),
	}
	for i, mid := range res.Middle {
		if !mid.Valid {
			continue
		}
		sd := populationStdDev(closes[i-period+1 : i+1])
		res.Upper[i] = Some(mid.Value + k*sd)
		res.Lower[i] = Some(mid.Value - k*sd)
	}
	return res
}
