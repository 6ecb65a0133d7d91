package ensemble

import (
	"fmt"
	"math"

	"github.com/wonny/fuelcast/internal/regime"
)

// SumTolerance is how far a regime's weights may drift from summing to one.
const SumTolerance = 1e-9

// Weights blends the three component models for one regime.
type Weights struct {
	Baseline float64 `json:"ridge_baseline" yaml:"ridge_baseline"`
	Residual float64 `json:"inventory_residual" yaml:"inventory_residual"`
	Basis    float64 `json:"basis_adjusted" yaml:"basis_adjusted"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 { return w.Baseline + w.Residual + w.Basis }

// Validate rejects negative weights and sums off one beyond tolerance.
func (w Weights) Validate() error {
	if w.Baseline < 0 || w.Residual < 0 || w.Basis < 0 {
		return fmt.Errorf("ensemble weights: negative weight in %+v", w)
	}
	if d := math.Abs(w.Sum() - 1); d > SumTolerance {
		return fmt.Errorf("ensemble weights: sum %.12f differs from 1 by %.3g (tolerance %.0e)", w.Sum(), d, SumTolerance)
	}
	return nil
}

// UndefinedRegimeWeightError means the weight table has no entry for a
// regime the classifier can emit. Raised at construction: a gap discovered
// at predict time would silently bias live forecasts.
type UndefinedRegimeWeightError struct {
	Regime regime.Regime
}

func (e *UndefinedRegimeWeightError) Error() string {
	return fmt.Sprintf("ensemble: no weights defined for regime %q", e.Regime)
}

// =============================================================================
// Regime-Weighted Ensemble
// =============================================================================

// Ensemble holds one validated weight vector per regime.
// ⭐ SSOT: 레짐별 가중 결합은 이 타입에서만
type Ensemble struct {
	weights map[regime.Regime]Weights
}

// New validates that every classifier-range regime has a weight vector and
// that each vector is well-formed. Fails fast; there is no partial ensemble.
func New(weights map[regime.Regime]Weights) (*Ensemble, error) {
	for _, r := range regime.All() {
		w, ok := weights[r]
		if !ok {
			return nil, &UndefinedRegimeWeightError{Regime: r}
		}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("regime %s: %w", r, err)
		}
	}
	for r := range weights {
		if !r.Valid() {
			return nil, fmt.Errorf("ensemble: unknown regime %q in weight table", r)
		}
	}
	cp := make(map[regime.Regime]Weights, len(weights))
	for r, w := range weights {
		cp[r] = w
	}
	return &Ensemble{weights: cp}, nil
}

// Weights returns the vector for a regime.
func (e *Ensemble) Weights(r regime.Regime) (Weights, error) {
	w, ok := e.weights[r]
	if !ok {
		return Weights{}, &UndefinedRegimeWeightError{Regime: r}
	}
	return w, nil
}

// Components carries the three model predictions for one observation.
type Components struct {
	Baseline float64
	Residual float64
	Basis    float64
}

// Combine blends component predictions with the active regime's weights.
func (e *Ensemble) Combine(r regime.Regime, c Components) (float64, error) {
	w, err := e.Weights(r)
	if err != nil {
		return 0, err
	}
	return CombineWith(w, c), nil
}

// CombineWith applies an explicit weight vector, bypassing the regime table.
// This is the sensitivity-testing path: callers probe how the blend moves
// under alternative weights without touching the configured ensemble.
func CombineWith(w Weights, c Components) float64 {
	return w.Baseline*c.Baseline + w.Residual*c.Residual + w.Basis*c.Basis
}

// CombineSeries blends aligned prediction series row by row, classifying
// each row with its own regime label.
func (e *Ensemble) CombineSeries(labels []regime.Regime, baseline, residual, basis []float64) ([]float64, error) {
	n := len(labels)
	if len(baseline) != n || len(residual) != n || len(basis) != n {
		return nil, fmt.Errorf("ensemble: series lengths differ (labels=%d baseline=%d residual=%d basis=%d)",
			n, len(baseline), len(residual), len(basis))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		w, err := e.Weights(labels[i])
		if err != nil {
			return nil, err
		}
		out[i] = CombineWith(w, Components{Baseline: baseline[i], Residual: residual[i], Basis: basis[i]})
	}
	return out, nil
}

// DefaultWeights is the shipped per-regime blend. The Crisis row is carried
// as configuration, not as a validated estimate: too few crisis observations
// exist to fit it, so operators are expected to review it before relying on
// crisis-regime forecasts.
func DefaultWeights() map[regime.Regime]Weights {
	return map[regime.Regime]Weights{
		regime.Normal: {Baseline: 0.5, Residual: 0.3, Basis: 0.2},
		regime.Tight:  {Baseline: 0.4, Residual: 0.4, Basis: 0.2},
		regime.Crisis: {Baseline: 0.2, Residual: 0.5, Basis: 0.3},
	}
}
