package models

import (
	"fmt"
	"math"

	"github.com/wonny/fuelcast/internal/dataset"
)

// =============================================================================
// Expanding-Window Cross-Validation
// =============================================================================

// Split is one expanding-window CV fold: rows [0, TrainEnd) train, rows
// [TrainEnd, TestEnd) validate. Validation rows are always strictly later in
// time than every training row.
type Split struct {
	TrainEnd int
	TestEnd  int
}

// AlphaScore is the CV outcome for one candidate alpha.
type AlphaScore struct {
	Alpha    float64   `json:"alpha"`
	MeanRMSE float64   `json:"mean_rmse"`
	StdRMSE  float64   `json:"std_rmse"`
	FoldRMSE []float64 `json:"fold_rmse"`
}

// CVResult records the alpha search: the winner and the full score table.
type CVResult struct {
	Alpha  float64      `json:"alpha"`
	Splits int          `json:"splits"`
	Scores []AlphaScore `json:"scores"`
}

// TimeSeriesSplits produces expanding-window folds over n rows. Each fold's
// validation block has size n/(splits+1); the blocks tile the tail of the
// series and the training window grows to meet each one. When n is too small
// for the requested fold count, the count is reduced (never below 1) so that
// every validation block keeps at least one row. Shuffling is structurally
// impossible here, which is the point.
func TimeSeriesSplits(n, splits int) ([]Split, error) {
	if n < 2 {
		return nil, &dataset.InsufficientDataError{Context: "time-series cv", Rows: n, Min: 2}
	}
	if splits < 1 {
		return nil, fmt.Errorf("cv: splits must be >= 1, got %d", splits)
	}
	k := splits
	if k > n-1 {
		k = n - 1
	}
	testSize := n / (k + 1)
	for k > 1 && testSize < 1 {
		k--
		testSize = n / (k + 1)
	}
	if testSize < 1 {
		return nil, &dataset.InsufficientDataError{Context: "time-series cv", Rows: n, Min: 2}
	}

	// Validation blocks tile the tail; leftover rows go to the first train
	// window, mirroring the usual time-series splitter convention.
	out := make([]Split, 0, k)
	firstTest := n - k*testSize
	for i := 0; i < k; i++ {
		trainEnd := firstTest + i*testSize
		out = append(out, Split{TrainEnd: trainEnd, TestEnd: trainEnd + testSize})
	}
	return out, nil
}

// SelectAlpha scores every candidate alpha across the expanding-window folds
// and picks the one with the lowest mean validation RMSE. Candidates are
// scored in the given order and ties keep the earlier candidate, so the
// search is deterministic for identical inputs.
func SelectAlpha(frame *dataset.Frame, alphas []float64, splits int) (*CVResult, error) {
	if len(alphas) == 0 {
		return nil, fmt.Errorf("cv: no candidate alphas")
	}
	n := frame.Len()
	folds, err := TimeSeriesSplits(n, splits)
	if err != nil {
		return nil, err
	}

	result := &CVResult{Splits: len(folds), Scores: make([]AlphaScore, 0, len(alphas))}
	best := math.Inf(1)
	for _, alpha := range alphas {
		score := AlphaScore{Alpha: alpha, FoldRMSE: make([]float64, 0, len(folds))}
		for _, fold := range folds {
			train := frame.Slice(0, fold.TrainEnd)
			valid := frame.Slice(fold.TrainEnd, fold.TestEnd)

			x, y := train.Matrix()
			intercept, coefs, err := solveRidge(x, y, alpha)
			if err != nil {
				return nil, fmt.Errorf("cv alpha=%g fold=[0:%d): %w", alpha, fold.TrainEnd, err)
			}
			rmse := 0.0
			for i, row := range valid.X {
				pred := intercept
				for j, c := range coefs {
					pred += c * row[j]
				}
				diff := pred - valid.Y[i]
				rmse += diff * diff
			}
			rmse = math.Sqrt(rmse / float64(valid.Len()))
			score.FoldRMSE = append(score.FoldRMSE, rmse)
		}
		score.MeanRMSE, score.StdRMSE = meanStd(score.FoldRMSE)
		result.Scores = append(result.Scores, score)
		if score.MeanRMSE < best {
			best = score.MeanRMSE
			result.Alpha = alpha
		}
	}
	return result, nil
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	for _, v := range xs {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}
