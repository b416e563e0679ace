// Package indicator provides technical indicator calculations over price series.
//
// Two layers live here. Accumulators (RollingSMA, RollingEMA, SMMA, WilderRSI)
// consume one value at a time and carry their recurrence state explicitly.
// The batch functions (SMA, EMA, RSI, MACD, ...) are left-to-right folds over
// those accumulators and return a Series index-aligned with their input.
//
// Batch functions are pure: they never mutate their input slices.
package indicator

import (
	"encoding/json"
	"strconv"
)

// Point is one aligned indicator output. Valid=false means "undefined":
// the window is not yet full or there was not enough non-null history.
// An undefined point is never the same thing as a zero value.
type Point struct {
	Value float64
	Valid bool
}

// Some wraps a defined value.
func Some(v float64) Point { return Point{Value: v, Valid: true} }

// None is the undefined point.
var None = Point{}

// MarshalJSON encodes undefined points as null.
func (p Point) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, p.Value, 'g', -1, 64), nil
}

// UnmarshalJSON accepts a number or null.
func (p *Point) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = None
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Some(v)
	return nil
}

// Series is an indicator output aligned 1:1 with its input sequence.
type Series []Point

// Defined counts the valid points.
func (s Series) Defined() int {
	n := 0
	for _, p := range s {
		if p.Valid {
			n++
		}
	}
	return n
}

// FromValues lifts a plain float sequence into a fully defined Series.
func FromValues(values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		out[i] = Some(v)
	}
	return out
}

// Accumulator is a streaming indicator fed one value at a time.
type Accumulator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Push feeds the next value and recalculates.
	Push(v float64)

	// Value returns the current calculated value. Returns 0 if not Ready.
	Value() float64

	// Ready returns true once enough values have been accumulated.
	Ready() bool
}

// Fold pushes every value through acc and records its output after each step.
func Fold(acc Accumulator, values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		acc.Push(v)
		if acc.Ready() {
			out[i] = Some(acc.Value())
		}
	}
	return out
}

// Sub returns a-b where both are defined, undefined elsewhere.
// The result has the length of the shorter input.
func Sub(a, b Series) Series {
	n := min(len(a), len(b))
	out := make(Series, n)
	for i := 0; i < n; i++ {
		if a[i].Valid && b[i].Valid {
			out[i] = Some(a[i].Value - b[i].Value)
		}
	}
	return out
}

// Div returns a/b where both are defined and b is non-zero, undefined elsewhere.
func Div(a, b Series) Series {
	n := min(len(a), len(b))
	out := make(Series, n)
	for i := 0; i < n; i++ {
		if a[i].Valid && b[i].Valid && b[i].Value != 0 {
			out[i] = Some(a[i].Value / b[i].Value)
		}
	}
	return out
}

// Scale multiplies every defined point by k.
func Scale(s Series, k float64) Series {
	out := make(Series, len(s))
	for i, p := range s {
		if p.Valid {
			out[i] = Some(p.Value * k)
		}
	}
	return out
}
