package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/dataset"
)

func TestTimeSeriesSplits(t *testing.T) {
	folds, err := TimeSeriesSplits(10, 3)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	// 10 rows, 3 splits: validation blocks of 2 tiling the tail; leftover
	// rows stay in the first training window.
	assert.Equal(t, Split{TrainEnd: 4, TestEnd: 6}, folds[0])
	assert.Equal(t, Split{TrainEnd: 6, TestEnd: 8}, folds[1])
	assert.Equal(t, Split{TrainEnd: 8, TestEnd: 10}, folds[2])

	for i, fold := range folds {
		assert.Greater(t, fold.TrainEnd, 0, "fold %d must have training rows", i)
		assert.Greater(t, fold.TestEnd, fold.TrainEnd, "fold %d validation after training", i)
		if i > 0 {
			assert.Greater(t, fold.TrainEnd, folds[i-1].TrainEnd, "expanding window")
		}
	}
}

func TestTimeSeriesSplits_TinyData(t *testing.T) {
	// Four rows with five requested splits: the count degrades instead of
	// failing, one validation row per fold.
	folds, err := TimeSeriesSplits(4, 5)
	require.NoError(t, err)
	require.Len(t, folds, 3)
	assert.Equal(t, Split{TrainEnd: 1, TestEnd: 2}, folds[0])
	assert.Equal(t, Split{TrainEnd: 3, TestEnd: 4}, folds[2])

	_, err = TimeSeriesSplits(1, 3)
	require.Error(t, err)
	assert.True(t, dataset.IsInsufficientData(err))

	_, err = TimeSeriesSplits(10, 0)
	assert.Error(t, err)
}

func TestSelectAlpha_SmallFrame(t *testing.T) {
	frame := syntheticFrame(t, 4, []string{"feat"}, func(i int) ([]float64, float64) {
		feats := []float64{1.0, 1.2, 1.4, 1.5}
		targets := []float64{2.0, 2.1, 2.2, 2.3}
		return []float64{feats[i]}, targets[i]
	})

	cv, err := SelectAlpha(frame, []float64{0.1, 1.0}, 5)
	require.NoError(t, err)
	assert.Contains(t, []float64{0.1, 1.0}, cv.Alpha)
	require.Len(t, cv.Scores, 2)
	assert.Equal(t, 0.1, cv.Scores[0].Alpha)
	assert.Equal(t, 1.0, cv.Scores[1].Alpha)
	assert.NotEmpty(t, cv.Scores[0].FoldRMSE)
}

func TestSelectAlpha_PrefersBetterFit(t *testing.T) {
	// Strong clean signal: the lightest penalty must win.
	rng := rand.New(rand.NewSource(21))
	frame := syntheticFrame(t, 300, []string{"a", "b"}, func(i int) ([]float64, float64) {
		a := rng.NormFloat64()
		b := rng.NormFloat64()
		return []float64{a, b}, 5*a - 2*b
	})

	cv, err := SelectAlpha(frame, []float64{0.001, 1000.0}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.001, cv.Alpha)

	var light, heavy AlphaScore
	for _, s := range cv.Scores {
		if s.Alpha == 0.001 {
			light = s
		} else {
			heavy = s
		}
	}
	assert.Less(t, light.MeanRMSE, heavy.MeanRMSE)
}

func TestSelectAlpha_TieKeepsFirst(t *testing.T) {
	frame := syntheticFrame(t, 40, []string{"a"}, func(i int) ([]float64, float64) {
		return []float64{float64(i)}, float64(2 * i)
	})

	// Identical candidates score identically; the winner must be the first
	// (strict-improvement comparison), keeping the search order-stable.
	cv, err := SelectAlpha(frame, []float64{0.5, 0.5}, 4)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cv.Alpha)
	assert.Equal(t, cv.Scores[0].MeanRMSE, cv.Scores[1].MeanRMSE)
}

func TestSelectAlpha_ValidationAlwaysLater(t *testing.T) {
	frame := syntheticFrame(t, 50, []string{"a"}, func(i int) ([]float64, float64) {
		return []float64{float64(i)}, float64(i)
	})
	folds, err := TimeSeriesSplits(frame.Len(), 4)
	require.NoError(t, err)

	for _, fold := range folds {
		train := frame.Slice(0, fold.TrainEnd)
		valid := frame.Slice(fold.TrainEnd, fold.TestEnd)
		lastTrain := train.Dates[train.Len()-1]
		for _, d := range valid.Dates {
			assert.True(t, d.After(lastTrain), "validation row at %s not after train end %s", d, lastTrain)
		}
	}
}
