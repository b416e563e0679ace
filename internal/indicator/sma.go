package indicator

// RollingSMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type RollingSMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewRollingSMA creates a new SMA accumulator with the given period.
func NewRollingSMA(period int) *RollingSMA {
	if period < 1 {
		period = 1
	}
	return &RollingSMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *RollingSMA) Name() string { return "SMA" }

func (s *RollingSMA) Push(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *RollingSMA) Value() float64 { return s.current }
func (s *RollingSMA) Ready() bool    { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *RollingSMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// SMA returns the simple moving average of values. Points before index
// period-1 are undefined. A non-positive period yields an all-undefined series.
func SMA(values []float64, period int) Series {
	if period <= 0 {
		return make(Series, len(values))
	}
	return Fold(NewRollingSMA(period), values)
}
