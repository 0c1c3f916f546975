package forecast

// baseSigmaTable maps forecast lead days to a baseline standard deviation
// for the daily max/min temperature, in °F. Derived from typical NWS MOS
// verification error by horizon.
var baseSigmaTable = map[int]float64{
	0: 1.5,
	1: 2.5,
	2: 3.5,
	3: 4.0,
	4: 4.5,
	5: 5.0,
	6: 5.5,
	7: 6.0,
}

const defaultSigma = 7.0

// spreadWeight scales provider disagreement into extra uncertainty.
const spreadWeight = 0.35

// baseSigma returns the baseline standard deviation for a lead time.
func baseSigma(leadDays int) float64 {
	if s, ok := baseSigmaTable[leadDays]; ok {
		return s
	}
	return defaultSigma
}

// ensembleSigma widens the baseline by the disagreement between provider
// values: sigma = base(lead) + 0.35 * (max - min).
func ensembleSigma(leadDays int, values []float64) float64 {
	s := baseSigma(leadDays)
	if len(values) < 2 {
		return s
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return s + spreadWeight*(hi-lo)
}
