package models

import (
	"fmt"

	"github.com/wonny/fuelcast/internal/dataset"
)

// MinBasisLag is the smallest admissible lag for any target-derived basis
// feature. The zero-lag margin is the target minus a known price, and short
// lags still dominate the fit at multi-week horizons, so a full week is the
// floor.
const MinBasisLag = 7

// TrainBasis fits the basis-adjusted model: base commodity price plus lagged
// retail margin plus a small momentum block. The feature set is re-checked
// against the basis lag floor here even though the frame builder already ran
// the baseline check, because this model's floor is stricter.
func TrainBasis(frame *dataset.Frame, alphas []float64, splits int) (*Artifact, error) {
	if err := frame.FeatureSet.CheckLeakage(MinBasisLag); err != nil {
		return nil, fmt.Errorf("basis model: %w", err)
	}
	art, _, err := TrainRidge(NameBasis, frame, alphas, splits)
	if err != nil {
		return nil, err
	}
	return art, nil
}
