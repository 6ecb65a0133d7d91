package models

import (
	"fmt"

	"github.com/wonny/fuelcast/internal/dataset"
)

// =============================================================================
// Residual Premium (two-stage)
// =============================================================================

// TrainResidual fits the two-stage residual premium model. Stage 1 is a
// ridge baseline over the frame's full feature set (pass a pre-trained
// baseline to reuse it, or nil to refit). Stage 2 regresses the stage-1
// training residuals on the narrower fundamentals subset. When the
// fundamentals carry no incremental signal, the CV'd regularization pushes
// the stage-2 coefficients toward zero, so the combined model degrades to
// the baseline instead of below it.
func TrainResidual(frame *dataset.Frame, fundamentals dataset.FeatureSet, baseline *Artifact, alphas []float64, splits int) (*Artifact, error) {
	if baseline == nil {
		var err error
		baseline, _, err = TrainRidge(NameResidual, frame, alphas, splits)
		if err != nil {
			return nil, fmt.Errorf("residual stage1: %w", err)
		}
	} else {
		if baseline.FeatureSet.ID != frame.FeatureSet.ID {
			return nil, fmt.Errorf("residual stage1: baseline trained on %s, frame has %s",
				baseline.FeatureSet.ID, frame.FeatureSet.ID)
		}
		cp := *baseline
		cp.Name = NameResidual
		cp.Stage2 = nil
		baseline = &cp
	}

	basePreds, err := baseline.PredictFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("residual stage1 predict: %w", err)
	}

	sub, err := frame.Select(fundamentals)
	if err != nil {
		return nil, fmt.Errorf("residual stage2 features: %w", err)
	}
	residFrame := &dataset.Frame{
		FeatureSet:  sub.FeatureSet,
		Horizon:     sub.Horizon,
		Dates:       sub.Dates,
		TargetDates: sub.TargetDates,
		X:           sub.X,
		Y:           make([]float64, sub.Len()),
	}
	for i := range residFrame.Y {
		residFrame.Y[i] = frame.Y[i] - basePreds[i]
	}

	stage2, _, err := TrainRidge(NameResidual+"_stage2", residFrame, alphas, splits)
	if err != nil {
		return nil, fmt.Errorf("residual stage2: %w", err)
	}

	out := *baseline
	out.Stage2 = stage2
	return &out, nil
}
