package models

import (
	"fmt"
	"math"
)

// Metrics is the standard evaluation block reported for every model on every
// split. MAPE is a fraction (0.021 = 2.1%); callers format for display.
type Metrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
	MAPE float64 `json:"mape"`
	N    int     `json:"n"`
}

// Evaluate computes the metric block for aligned actual/predicted slices.
// R² follows the usual out-of-sample definition 1 − SSres/SStot and goes
// strongly negative when predictions are worse than the mean — that signal
// is the whole reason the walk-forward harness exists, so it is never
// clamped.
func Evaluate(actual, predicted []float64) (Metrics, error) {
	n := len(actual)
	if n == 0 {
		return Metrics{}, fmt.Errorf("evaluate: no observations")
	}
	if len(predicted) != n {
		return Metrics{}, fmt.Errorf("evaluate: %d actuals vs %d predictions", n, len(predicted))
	}

	mean := 0.0
	for _, a := range actual {
		mean += a
	}
	mean /= float64(n)

	var ssRes, ssTot, absSum, sqSum, mapeSum float64
	for i := 0; i < n; i++ {
		diff := actual[i] - predicted[i]
		sqSum += diff * diff
		absSum += math.Abs(diff)
		ssRes += diff * diff
		d := actual[i] - mean
		ssTot += d * d
		denom := math.Abs(actual[i])
		if denom < mapeEps {
			denom = mapeEps
		}
		mapeSum += math.Abs(diff) / denom
	}

	m := Metrics{
		RMSE: math.Sqrt(sqSum / float64(n)),
		MAE:  absSum / float64(n),
		MAPE: mapeSum / float64(n),
		N:    n,
	}
	switch {
	case ssTot > 0:
		m.R2 = 1 - ssRes/ssTot
	case ssRes == 0:
		m.R2 = 1
	default:
		m.R2 = 0
	}
	return m, nil
}

// mapeEps guards the division for near-zero actuals.
const mapeEps = 2.220446049250313e-16

// PinballLoss is the quantile scoring rule: for quantile q it charges
// q·(y−ŷ) on under-prediction and (1−q)·(ŷ−y) on over-prediction. Minimized
// in expectation by the true q-quantile.
func PinballLoss(actual, predicted []float64, q float64) (float64, error) {
	n := len(actual)
	if n == 0 {
		return 0, fmt.Errorf("pinball: no observations")
	}
	if len(predicted) != n {
		return 0, fmt.Errorf("pinball: %d actuals vs %d predictions", n, len(predicted))
	}
	if q <= 0 || q >= 1 {
		return 0, fmt.Errorf("pinball: quantile must be in (0,1), got %g", q)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		diff := actual[i] - predicted[i]
		if diff >= 0 {
			sum += q * diff
		} else {
			sum += (q - 1) * diff
		}
	}
	return sum / float64(n), nil
}
