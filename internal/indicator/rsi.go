package indicator

// WilderRSI calculates the Relative Strength Index using Wilder's smoothing.
// Average gain and average loss are carried forward explicitly as two SMMA
// accumulators; the previous RSI is never used to re-derive them.
type WilderRSI struct {
	period    int
	count     int
	prevClose float64
	gains     *SMMA
	losses    *SMMA
	current   float64
}

// NewWilderRSI creates a new RSI accumulator with the given period (typically 14).
func NewWilderRSI(period int) *WilderRSI {
	if period < 1 {
		period = 1
	}
	return &WilderRSI{
		period: period,
		gains:  NewSMMA(period),
		losses: NewSMMA(period),
	}
}

func (r *WilderRSI) Name() string { return "RSI" }

func (r *WilderRSI) Push(price float64) {
	r.count++

	if r.count == 1 {
		// First close: record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Push(gain)
	r.losses.Push(loss)

	if r.gains.Ready() {
		r.current = rsiFromAverages(r.gains.Value(), r.losses.Value())
	}
}

func (r *WilderRSI) Value() float64 { return r.current }
func (r *WilderRSI) Ready() bool    { return r.count > r.period }

// AvgGain returns the current smoothed average gain.
func (r *WilderRSI) AvgGain() float64 { return r.gains.Value() }

// AvgLoss returns the current smoothed average loss.
func (r *WilderRSI) AvgLoss() float64 { return r.losses.Value() }

// rsiFromAverages saturates to 100 when there were no losses. Reading "RS is
// 100" literally would give 100 - 100/101 (about 99.01); the saturated value is
// the one charting tools show.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// RSI returns the Relative Strength Index of closes. Index 0 and every
// index below period are undefined.
func RSI(closes []float64, period int) Series {
	if period <= 0 {
		return make(Series, len(closes))
	}
	return Fold(NewWilderRSI(period), closes)
}
