package validation

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/models"
)

func okRec(horizon, year int, model string, r2, rmse float64) Record {
	return Record{
		Horizon: horizon, Year: year, Model: model, Status: StatusOK,
		Metrics: models.Metrics{R2: r2, RMSE: rmse, MAE: rmse * 0.8, MAPE: 0.02, N: 31},
	}
}

func TestReport_Sort(t *testing.T) {
	r := &Report{}
	r.Append(
		okRec(21, 2022, "b", 0, 0),
		okRec(1, 2023, "a", 0, 0),
		okRec(1, 2022, "b", 0, 0),
		okRec(1, 2022, "a", 0, 0),
	)
	r.Sort()

	want := []Fold{{1, 2022}, {1, 2022}, {1, 2023}, {21, 2022}}
	for i, rec := range r.Records {
		assert.Equal(t, want[i].Horizon, rec.Horizon, "row %d", i)
		assert.Equal(t, want[i].Year, rec.Year, "row %d", i)
	}
	assert.Equal(t, "a", r.Records[0].Model)
	assert.Equal(t, "b", r.Records[1].Model)
}

func TestReport_ByHorizon(t *testing.T) {
	r := &Report{}
	r.Append(
		okRec(1, 2021, "ridge", 0.8, 0.05),
		okRec(1, 2022, "ridge", 0.9, 0.07),
		okRec(1, 2023, "ridge", 1.0, 0.09),
		okRec(21, 2021, "ridge", -2.0, 0.9),
		okRec(21, 2022, "ridge", -4.0, 1.1),
		Record{Horizon: 21, Year: 2023, Model: "ridge", Status: StatusSkipped, Reason: "thin"},
	)

	sums := r.ByHorizon()
	require.Len(t, sums, 2)

	h1 := sums[0]
	assert.Equal(t, 1, h1.Horizon)
	assert.Equal(t, 3, h1.Folds)
	assert.Equal(t, 0, h1.Skipped)
	assert.InDelta(t, 0.9, h1.R2Mean, 1e-12)
	assert.InDelta(t, 0.1, h1.R2Std, 1e-12) // 표본 표준편차 (n-1)
	assert.InDelta(t, 0.07, h1.RMSEMean, 1e-12)

	h21 := sums[1]
	assert.Equal(t, 21, h21.Horizon)
	assert.Equal(t, 2, h21.Folds)
	assert.Equal(t, 1, h21.Skipped)
	assert.InDelta(t, -3.0, h21.R2Mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, h21.R2Std, 1e-12)
}

func TestReport_ByYear(t *testing.T) {
	r := &Report{}
	r.Append(
		okRec(1, 2021, "ridge", 0.8, 0.05),
		okRec(21, 2021, "ridge", -1.0, 0.5),
		okRec(1, 2022, "ridge", 0.6, 0.06),
		okRec(1, 2021, "ensemble", 0.7, 0.04),
	)

	sums := r.ByYear()
	require.Len(t, sums, 3)

	// 모델명 → 연도 순 정렬
	assert.Equal(t, "ensemble", sums[0].Model)
	assert.Equal(t, 2021, sums[0].Year)

	ridge2021 := sums[1]
	assert.Equal(t, "ridge", ridge2021.Model)
	assert.Equal(t, 2021, ridge2021.Year)
	assert.Equal(t, 2, ridge2021.Folds)
	assert.InDelta(t, -0.1, ridge2021.R2Mean, 1e-12)

	// 폴드가 하나뿐이면 표준편차는 0
	ridge2022 := sums[2]
	assert.Equal(t, 1, ridge2022.Folds)
	assert.Zero(t, ridge2022.R2Std)
}

func TestReport_Models(t *testing.T) {
	r := &Report{}
	r.Append(
		okRec(1, 2021, "ridge", 0, 0),
		okRec(1, 2021, "ensemble", 0, 0),
		okRec(21, 2022, "ridge", 0, 0),
	)
	assert.Equal(t, []string{"ensemble", "ridge"}, r.Models())
}

func TestRecord_JSONShape(t *testing.T) {
	pin := 0.031
	rec := Record{
		Horizon: 7, Year: 2024, Model: "quantile_p10", Status: StatusOK,
		Alpha: 0.1, NTrain: 900, NTest: 31, Pinball: &pin, Crossings: 2,
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	// Metric fields sit at the top level, not nested under an object.
	assert.Contains(t, m, "rmse")
	assert.Contains(t, m, "r2")
	assert.NotContains(t, m, "Metrics")
	assert.InDelta(t, 0.031, m["pinball"].(float64), 1e-12)
	assert.EqualValues(t, 2, m["crossings"])

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rec, back)
}
