package prob

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"polyweather/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fp(v float64) *float64 { return &v }

// nycBins is the canonical four-shape ladder: floor, two ranges, ceiling.
func nycBins() []types.Bin {
	return []types.Bin{
		{TokenID: "t1", Label: "49°F or below", Upper: fp(49), IsFloor: true},
		{TokenID: "t2", Label: "50-51°F", Lower: fp(50), Upper: fp(51)},
		{TokenID: "t3", Label: "52-53°F", Lower: fp(52), Upper: fp(53)},
		{TokenID: "t4", Label: "54°F or above", Lower: fp(54), IsCeiling: true},
	}
}

func TestPhiAccuracy(t *testing.T) {
	t.Parallel()

	// Reference values from standard normal tables.
	tests := []struct {
		z, want float64
	}{
		{0, 0.5},
		{1, 0.841345},
		{-1, 0.158655},
		{0.6, 0.725747},
		{-0.2, 0.420740},
		{1.96, 0.975002},
		{-3, 0.001350},
		{4, 0.999968},
	}
	for _, tt := range tests {
		if got := phi(tt.z); math.Abs(got-tt.want) > 1e-5 {
			t.Errorf("phi(%v) = %v, want %v", tt.z, got, tt.want)
		}
	}
}

func TestBinProbabilitiesSumToOne(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	f := types.Forecast{High: fp(52), SigmaHigh: 2.5}

	probs := e.BinProbabilities(f, nycBins(), types.MetricDailyMaxTemp, nil)

	sum := 0.0
	for _, p := range probs {
		sum += p.Fair
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}

	// With mu=52, sigma=2.5 the ladder telescopes to exact CDF values.
	want := []float64{0.158655, 0.262085, 0.305007, 0.274253}
	for i, w := range want {
		if math.Abs(probs[i].Fair-w) > 1e-4 {
			t.Errorf("bin %s fair = %v, want %v", probs[i].Label, probs[i].Fair, w)
		}
	}
}

func TestDayOfConditioning(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	f := types.Forecast{High: fp(52), SigmaHigh: 2.5}

	probs := e.BinProbabilities(f, nycBins(), types.MetricDailyMaxTemp, fp(52))

	if probs[0].Fair != 0 || probs[0].IsPossible {
		t.Errorf("floor bin should be impossible: %+v", probs[0])
	}
	if probs[1].Fair != 0 || probs[1].IsPossible {
		t.Errorf("50-51 bin should be impossible: %+v", probs[1])
	}

	sum := 0.0
	for _, p := range probs {
		sum += p.Fair
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("conditioned probabilities sum to %v, want 1", sum)
	}

	// Raw: P(51.5<X<53.5 | lower->52) = 0.305007, P(X>53.5) = 0.274253.
	// Renormalized over 0.579260.
	if math.Abs(probs[2].Fair-0.526546) > 1e-4 {
		t.Errorf("52-53 conditioned fair = %v, want ~0.5265", probs[2].Fair)
	}
	if math.Abs(probs[3].Fair-0.473454) > 1e-4 {
		t.Errorf(">=54 conditioned fair = %v, want ~0.4735", probs[3].Fair)
	}
}

func TestDayOfAllDominatedFallsBackUniform(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	f := types.Forecast{High: fp(40), SigmaHigh: 1.0}

	bins := []types.Bin{
		{TokenID: "a", Upper: fp(30), IsFloor: true},
		{TokenID: "b", Lower: fp(31), Upper: fp(32)},
	}
	// maxSoFar above every bin: all dominated, no ceiling to absorb mass.
	probs := e.BinProbabilities(f, bins, types.MetricDailyMaxTemp, fp(60))

	for _, p := range probs {
		if math.Abs(p.Fair-0.5) > 1e-9 {
			t.Errorf("expected uniform fallback, got %+v", p)
		}
	}
}

func TestPrecipitationIsUniform(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	f := types.Forecast{High: fp(52), SigmaHigh: 2.5}

	probs := e.BinProbabilities(f, nycBins(), types.MetricRainfall, nil)
	for _, p := range probs {
		if math.Abs(p.Fair-0.25) > 1e-9 {
			t.Errorf("precipitation should price uniform, got %v", p.Fair)
		}
	}
}

func TestMissingForecastFieldIsUniform(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	f := types.Forecast{Low: fp(40), SigmaLow: 2} // no High

	probs := e.BinProbabilities(f, nycBins(), types.MetricDailyMaxTemp, nil)
	for _, p := range probs {
		if math.Abs(p.Fair-0.25) > 1e-9 {
			t.Errorf("missing high should price uniform, got %v", p.Fair)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fair       float64
		price      float64
		threshold  float64
		isPossible bool
		want       Action
	}{
		{"clear buy", 0.55, 0.45, 0.03, true, ActionBuy},
		{"edge eaten by friction", 0.49, 0.45, 0.03, true, ActionNone},
		{"clear sell", 0.30, 0.45, 0.03, true, ActionSell},
		{"inside band", 0.46, 0.45, 0.03, true, ActionNone},
		{"impossible bin", 0.0, 0.45, 0.03, false, ActionImpossible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.fair, tt.price, tt.threshold, tt.isPossible)
			if got != tt.want {
				t.Errorf("Classify(%v, %v) = %v, want %v", tt.fair, tt.price, got, tt.want)
			}
		})
	}
}

func TestKelly(t *testing.T) {
	t.Parallel()

	// fair 0.55 at price 0.50: b=1, k = (0.55 - 0.45) / 1 = 0.10.
	if k := Kelly(0.55, 0.50, 0.10); math.Abs(k-0.10) > 1e-9 {
		t.Errorf("Kelly = %v, want 0.10", k)
	}
	// Strong edge clamps at maxFraction.
	if k := Kelly(0.90, 0.50, 0.10); k != 0.10 {
		t.Errorf("Kelly = %v, want clamp 0.10", k)
	}
	// Negative edge stakes nothing.
	if k := Kelly(0.40, 0.50, 0.10); k != 0 {
		t.Errorf("Kelly = %v, want 0", k)
	}
	// Degenerate prices stake nothing.
	if Kelly(0.5, 0, 0.1) != 0 || Kelly(0.5, 1, 0.1) != 0 {
		t.Error("degenerate prices should return 0")
	}
}
