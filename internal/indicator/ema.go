package indicator

// RollingEMA calculates Exponential Moving Average.
// O(1) per update, no window storage. The first value is the SMA
// seed of the first period inputs; afterwards
// ema = (v - prev) * 2/(period+1) + prev.
type RollingEMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewRollingEMA creates a new EMA accumulator with the given period.
func NewRollingEMA(period int) *RollingEMA {
	if period < 1 {
		period = 1
	}
	return &RollingEMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *RollingEMA) Name() string { return "EMA" }

func (e *RollingEMA) Push(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (v-e.current)*e.multiplier + e.current
}

func (e *RollingEMA) Value() float64 { return e.current }
func (e *RollingEMA) Ready() bool    { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *RollingEMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// EMA returns the exponential moving average of values, computed strictly
// left to right over the whole input. Points before index period-1 are undefined.
func EMA(values []float64, period int) Series {
	if period <= 0 {
		return make(Series, len(values))
	}
	return Fold(NewRollingEMA(period), values)
}

// EMAOfDefined runs an EMA over only the defined points of s and writes the
// results back at their original indices. Undefined input positions stay
// undefined in the output.
func EMAOfDefined(s Series, period int) Series {
	out := make(Series, len(s))
	if period <= 0 {
		return out
	}
	ema := NewRollingEMA(period)
	for i, p := range s {
		if !p.Valid {
			continue
		}
		ema.Push(p.Value)
		if ema.Ready() {
			out[i] = Some(ema.Value())
		}
	}
	return out
}
