package indicator

import "math"

// RealizedVolatility returns the annualized volatility, in percent, of the
// last period log returns of closes: sqrt(var(returns) * 365) * 100 with
// population variance. It returns 0 when fewer than period+1 closes exist.
func RealizedVolatility(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}
	tail := closes[len(closes)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	return math.Sqrt(populationVariance(returns)*365) * 100
}
