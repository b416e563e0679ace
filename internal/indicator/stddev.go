package indicator

import "math"

// RollingStdDev returns the population standard deviation of the defined
// values in each trailing window of size period. Windows holding fewer than
// period/2 defined values yield an undefined point, which keeps sparse,
// mostly-null windows from producing misleading numbers.
func RollingStdDev(s Series, period int) Series {
	out := make(Series, len(s))
	if period <= 0 {
		return out
	}
	half := float64(period) / 2

	window := make([]float64, 0, period)
	for i := range s {
		window = window[:0]
		for j := max(0, i-period+1); j <= i; j++ {
			if s[j].Valid {
				window = append(window, s[j].Value)
			}
		}
		if len(window) == 0 || float64(len(window)) < half {
			continue
		}
		out[i] = Some(populationStdDev(window))
	}
	return out
}

// populationStdDev divides by n, not n-1.
func populationStdDev(values []float64) float64 {
	return math.Sqrt(populationVariance(values))
}

func populationVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(values))
}
