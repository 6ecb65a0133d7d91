package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPanel builds a small contiguous daily panel where every value encodes
// its row index, so alignment mistakes show up as wrong values.
func testPanel(t *testing.T, days int) *Panel {
	t.Helper()
	dates := make([]time.Time, days)
	rbob := make([]float64, days)
	retail := make([]float64, days)
	inv := make([]float64, days)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		dates[i] = start.AddDate(0, 0, i)
		rbob[i] = 2.0 + 0.01*float64(i)
		retail[i] = 2.5 + 0.01*float64(i)
		inv[i] = 220 + float64(i)
	}
	p, err := NewPanel(dates, map[string][]float64{
		ColPriceRBOB:   rbob,
		ColRetailPrice: retail,
		ColInventory:   inv,
	})
	require.NoError(t, err)
	return p
}

func simpleSet(t *testing.T, features ...Feature) FeatureSet {
	t.Helper()
	fs, err := NewFeatureSet("fs_test", features...)
	require.NoError(t, err)
	return fs
}

func TestFrameBuilder_TargetAlignment(t *testing.T) {
	p := testPanel(t, 30)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	fs := simpleSet(t, Raw(ColPriceRBOB), Raw(ColInventory))
	frame, err := b.Build(fs, 2)
	require.NoError(t, err)

	// 30 days, horizon 2: the last two as-of dates have no realized target.
	assert.Equal(t, 28, frame.Len())

	for i := 0; i < frame.Len(); i++ {
		wantTarget := frame.Dates[i].AddDate(0, 0, 2)
		assert.Equal(t, wantTarget, frame.TargetDates[i], "row %d target date", i)
		assert.True(t, frame.TargetDates[i].After(frame.Dates[i]))

		// retail on day i is 2.5 + 0.01*i; target shifts it by 2 days
		dayIdx := int(frame.Dates[i].Sub(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() / 24)
		assert.InDelta(t, 2.5+0.01*float64(dayIdx+2), frame.Y[i], 1e-12, "row %d target value", i)
		assert.InDelta(t, 2.0+0.01*float64(dayIdx), frame.X[i][0], 1e-12, "row %d feature value", i)
	}
}

func TestFrameBuilder_HorizonZero(t *testing.T) {
	p := testPanel(t, 10)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB)), 0)
	require.NoError(t, err)
	assert.Equal(t, 10, frame.Len())
	for i := range frame.Y {
		assert.Equal(t, frame.Dates[i], frame.TargetDates[i])
	}
}

func TestFrameBuilder_NegativeHorizon(t *testing.T) {
	p := testPanel(t, 10)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	_, err = b.Build(simpleSet(t, Raw(ColPriceRBOB)), -1)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err), "negative horizon must be a leakage error, got %v", err)
}

func TestFrameBuilder_UnlaggedBasisRejected(t *testing.T) {
	p := testPanel(t, 40)
	retail, err := p.Column(ColRetailPrice)
	require.NoError(t, err)
	rbob, err := p.Column(ColPriceRBOB)
	require.NoError(t, err)
	margin := make([]float64, len(retail))
	for i := range margin {
		margin[i] = retail[i] - rbob[i]
	}
	p2, err := NewPanel(p.Dates(), map[string][]float64{
		ColPriceRBOB:    rbob,
		ColRetailPrice:  retail,
		ColRetailMargin: margin,
	})
	require.NoError(t, err)

	b, err := NewFrameBuilder(p2, ColRetailPrice)
	require.NoError(t, err)

	// The margin column without a lag is algebraically the target minus a
	// known price; building a frame with it must fail before any fit.
	leaky := simpleSet(t, Raw(ColPriceRBOB), TargetLagged(ColRetailMargin, 0))
	_, err = b.Build(leaky, 7)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err))

	var le *TemporalLeakageError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ColRetailMargin, le.Feature.Name)

	// The lagged variant of the same concept is fine.
	lag7, err := p2.WithLag(ColRetailMargin, 7)
	require.NoError(t, err)
	safe := simpleSet(t, Raw(ColPriceRBOB), TargetLagged(lag7, 7))
	frame, err := b.Build(safe, 7)
	require.NoError(t, err)
	assert.Greater(t, frame.Len(), 0)
}

func TestFrameBuilder_TargetAsFeatureRejected(t *testing.T) {
	p := testPanel(t, 10)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	_, err = b.Build(simpleSet(t, Raw(ColRetailPrice)), 1)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err))
}

func TestFrameBuilder_DropsIncompleteRows(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	p, err := NewPanel(dates, map[string][]float64{
		ColPriceRBOB:   {2.0, math.NaN(), 2.2, 2.3},
		ColRetailPrice: {2.5, 2.6, math.NaN(), 2.8},
	})
	require.NoError(t, err)

	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB)), 0)
	require.NoError(t, err)

	// Row 1 has a NaN feature, row 2 a NaN target; both must be gone.
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, dates[0], frame.Dates[0])
	assert.Equal(t, dates[3], frame.Dates[1])
}

func TestFrameBuilder_MissingColumn(t *testing.T) {
	p := testPanel(t, 10)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	_, err = b.Build(simpleSet(t, Raw("no_such_column")), 1)
	require.Error(t, err)
	assert.False(t, IsTemporalLeakage(err))
}

func TestFrame_SplitByTargetDate(t *testing.T) {
	p := testPanel(t, 30)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)
	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB)), 3)
	require.NoError(t, err)

	cut := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	train, holdout := frame.SplitByTargetDate(cut)

	assert.Equal(t, frame.Len(), train.Len()+holdout.Len())
	for _, td := range train.TargetDates {
		assert.True(t, td.Before(cut))
	}
	for _, td := range holdout.TargetDates {
		assert.False(t, td.Before(cut))
	}
}

func TestFrame_WindowByTargetDate(t *testing.T) {
	p := testPanel(t, 60)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)
	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB)), 1)
	require.NoError(t, err)

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	window := frame.WindowByTargetDate(from, to)

	require.Equal(t, 9, window.Len())
	for _, td := range window.TargetDates {
		assert.False(t, td.Before(from))
		assert.True(t, td.Before(to))
	}
}

func TestFrame_Select(t *testing.T) {
	p := testPanel(t, 15)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	full := simpleSet(t, Raw(ColPriceRBOB), Raw(ColInventory))
	frame, err := b.Build(full, 1)
	require.NoError(t, err)

	sub, err := full.Subset("fs_sub", ColInventory)
	require.NoError(t, err)
	projected, err := frame.Select(sub)
	require.NoError(t, err)

	require.Equal(t, frame.Len(), projected.Len())
	assert.Equal(t, 1, projected.FeatureSet.Len())
	for i := range projected.X {
		assert.Equal(t, frame.X[i][1], projected.X[i][0])
	}
	assert.Equal(t, frame.Y, projected.Y)
}

func TestFrame_Matrix(t *testing.T) {
	p := testPanel(t, 8)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)
	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB), Raw(ColInventory)), 1)
	require.NoError(t, err)

	x, y := frame.Matrix()
	r, c := x.Dims()
	assert.Equal(t, frame.Len(), r)
	assert.Equal(t, 2, c)
	assert.Equal(t, frame.Len(), len(y))
	assert.Equal(t, frame.X[0][1], x.At(0, 1))

	// Matrix returns copies; mutating them must not touch the frame.
	x.Set(0, 0, -1)
	y[0] = -1
	assert.NotEqual(t, -1.0, frame.X[0][0])
	assert.NotEqual(t, -1.0, frame.Y[0])
}

func TestChronoSplit(t *testing.T) {
	p := testPanel(t, 50)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)
	frame, err := b.Build(simpleSet(t, Raw(ColPriceRBOB)), 0)
	require.NoError(t, err)

	train, test, err := ChronoSplit(frame, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 40, train.Len())
	assert.Equal(t, 10, test.Len())

	// Chronological: every test row strictly later than every train row.
	assert.True(t, test.Dates[0].After(train.Dates[train.Len()-1]))

	_, _, err = ChronoSplit(frame, 1.5)
	assert.Error(t, err)

	tiny := frame.Slice(0, 1)
	_, _, err = ChronoSplit(tiny, 0.8)
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
}

func TestFrameBuilder_BuildAsOf(t *testing.T) {
	p := testPanel(t, 30)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	fs := simpleSet(t, Raw(ColPriceRBOB), Raw(ColInventory))
	asOf := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC) // row 28

	// Build cannot reach this date at h=7: the target is past the panel end.
	frame, err := b.BuildAsOf(fs, 7, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.Len())
	assert.Empty(t, frame.Y)
	assert.Equal(t, asOf, frame.Dates[0])
	assert.Equal(t, asOf.AddDate(0, 0, 7), frame.TargetDates[0])
	assert.InDelta(t, 2.0+0.01*28, frame.X[0][0], 1e-12)
	assert.InDelta(t, 220.0+28, frame.X[0][1], 1e-12)

	_, err = b.BuildAsOf(fs, 7, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in panel")

	_, err = b.BuildAsOf(fs, -1, asOf)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err))

	leaky := simpleSet(t, TargetLagged(ColRetailMargin, 0))
	_, err = b.BuildAsOf(leaky, 7, asOf)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err))

	direct := simpleSet(t, Raw(ColRetailPrice))
	_, err = b.BuildAsOf(direct, 7, asOf)
	require.Error(t, err)
	assert.True(t, IsTemporalLeakage(err))
}

func TestFrameBuilder_BuildAsOf_MissingValue(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	p, err := NewPanel(dates, map[string][]float64{
		ColPriceRBOB:   {2.0, math.NaN()},
		ColRetailPrice: {2.5, 2.6},
	})
	require.NoError(t, err)
	b, err := NewFrameBuilder(p, ColRetailPrice)
	require.NoError(t, err)

	_, err = b.BuildAsOf(simpleSet(t, Raw(ColPriceRBOB)), 7, dates[1])
	require.Error(t, err)
	assert.True(t, IsInsufficientData(err))
}
