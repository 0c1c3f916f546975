// Package prob turns a forecast and a market's bin ladder into fair
// probabilities, and classifies price edges into trade actions.
//
// The daily metric is modeled as X ~ Normal(mu, sigma) where mu is the
// forecast high (DAILY_MAX_TEMP) or low (DAILY_MIN_TEMP). Bins are integer
// edged, so each boundary gets a continuity correction of half a degree.
// Precipitation metrics are recognized but not priced; the engine returns a
// uniform distribution for them so no edge can clear a sane threshold.
package prob

import (
	"log/slog"

	"polyweather/pkg/types"
)

// delta is the continuity correction applied to integer bin edges.
const delta = 0.5

// Spread is the assumed round-trip friction on a fill. Half of it is
// charged against each signal's raw edge.
const Spread = 0.02

// Action is the trade decision for a single bin.
type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
	ActionImpossible // bin cannot pay out; sell if held
)

// Engine computes bin probabilities.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With("component", "prob")}
}

// BinProbabilities maps each bin to its fair probability.
//
// For DAILY_MAX_TEMP with a supplied maxSoFar (day-of conditioning), bins
// wholly below the observed maximum are impossible, surviving bins have
// their lower bound raised to maxSoFar, and the result is renormalized to
// sum to 1. If every raw probability is zero the distribution falls back to
// uniform, as it does for unpriceable metrics or a missing forecast field.
func (e *Engine) BinProbabilities(f types.Forecast, bins []types.Bin, metric types.Metric, maxSoFar *float64) []types.BinProbability {
	out := make([]types.BinProbability, len(bins))
	for i, b := range bins {
		out[i] = types.BinProbability{
			OutcomeID:  b.OutcomeID,
			TokenID:    b.TokenID,
			Label:      b.Label,
			IsPossible: true,
		}
	}

	mu, sigma, ok := e.params(f, metric)
	if !ok {
		uniform(out)
		return out
	}

	condition := metric == types.MetricDailyMaxTemp && maxSoFar != nil

	sum := 0.0
	for i, b := range bins {
		lower, upper := b.Lower, b.Upper

		if condition {
			// A bin whose entire support lies below the observed max
			// cannot resolve YES anymore.
			if !b.IsCeiling && upper != nil && *upper < *maxSoFar {
				out[i].Fair = 0
				out[i].IsPossible = false
				continue
			}
			// Surviving range and ceiling bins cannot pay below the
			// observed max; raise their lower bound before evaluation.
			if lower != nil && *lower < *maxSoFar {
				l := *maxSoFar
				lower = &l
			}
		}

		out[i].Fair = binProbability(lower, upper, b.IsFloor, b.IsCeiling, mu, sigma)
		sum += out[i].Fair
	}

	if sum <= 0 {
		e.logger.Debug("raw probability mass zero, using uniform", "bins", len(bins))
		uniform(out)
		return out
	}
	for i := range out {
		out[i].Fair /= sum
	}
	return out
}

// params picks the distribution parameters for the metric. ok is false when
// the metric is unpriceable or the forecast lacks the needed field.
func (e *Engine) params(f types.Forecast, metric types.Metric) (mu, sigma float64, ok bool) {
	switch metric {
	case types.MetricDailyMaxTemp:
		if f.High == nil || f.SigmaHigh <= 0 {
			return 0, 0, false
		}
		return *f.High, f.SigmaHigh, true
	case types.MetricDailyMinTemp:
		if f.Low == nil || f.SigmaLow <= 0 {
			return 0, 0, false
		}
		return *f.Low, f.SigmaLow, true
	default:
		return 0, 0, false
	}
}

// binProbability evaluates one bin under Normal(mu, sigma) with continuity
// correction.
func binProbability(lower, upper *float64, isFloor, isCeiling bool, mu, sigma float64) float64 {
	switch {
	case isFloor || lower == nil:
		if upper == nil {
			return 1 // degenerate: covers the whole line
		}
		return phi((*upper + delta - mu) / sigma)
	case isCeiling || upper == nil:
		return 1 - phi((*lower-delta-mu)/sigma)
	default:
		hi := phi((*upper + delta - mu) / sigma)
		lo := phi((*lower - delta - mu) / sigma)
		if hi < lo {
			return 0
		}
		return hi - lo
	}
}

func uniform(out []types.BinProbability) {
	if len(out) == 0 {
		return
	}
	// Probabilities only; dominated bins keep IsPossible=false so holders
	// still get the sell-if-held surface.
	p := 1.0 / float64(len(out))
	for i := range out {
		out[i].Fair = p
	}
}

// Classify decides the action for one bin given its friction-adjusted edge.
// The raw edge is fair - price; half the assumed spread is charged before
// comparison with the threshold.
func Classify(fair, price, threshold float64, isPossible bool) (Action, float64) {
	edge := fair - price
	if !isPossible {
		return ActionImpossible, edge
	}
	adj := edge - Spread/2
	switch {
	case adj > threshold:
		return ActionBuy, adj
	case edge+Spread/2 < -threshold:
		return ActionSell, edge + Spread/2
	default:
		return ActionNone, adj
	}
}

// Kelly returns the fraction of bankroll to stake on a binary contract
// priced at p with fair win probability f, clamped to [0, maxFraction].
// k = (f*b - (1-f)) / b with b = 1/p - 1, the net odds of a YES share.
func Kelly(fair, price, maxFraction float64) float64 {
	if price <= 0 || price >= 1 || fair <= 0 {
		return 0
	}
	b := 1/price - 1
	if b <= 0 {
		return 0
	}
	k := (fair*b - (1 - fair)) / b
	if k < 0 {
		return 0
	}
	if k > maxFraction {
		return maxFraction
	}
	return k
}
