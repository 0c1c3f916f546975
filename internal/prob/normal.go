package prob

import "math"

// phi is the standard normal CDF using the Abramowitz & Stegun 7.1.26
// polynomial approximation of erf. Absolute error is below 1.5e-7, well
// inside the 1e-5 the bin pricing needs.
func phi(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	neg := z < 0
	if neg {
		z = -z
	}

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	x := z / math.Sqrt2
	t := 1 / (1 + p*x)
	erf := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	cdf := 0.5 * (1 + erf)
	if neg {
		return 1 - cdf
	}
	return cdf
}
