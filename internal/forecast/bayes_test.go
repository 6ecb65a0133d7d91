package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/runconfig"
)

func TestPriorUpdate_HandComputed(t *testing.T) {
	// precision = 1/5 + 3/4 = 0.95
	// mean      = (100/5 + 297/4) / 0.95 = 94.25 / 0.95
	post, err := Prior{Mean: 100, Variance: 5}.Update([]float64{97, 99, 101}, 4)
	require.NoError(t, err)

	assert.InDelta(t, 94.25/0.95, post.Mean, 1e-12)
	assert.InDelta(t, 1/0.95, post.Variance, 1e-12)
	assert.Equal(t, 3, post.NObs)

	// 사후 평균은 사전 평균과 관측 평균 사이
	assert.Less(t, post.Mean, 100.0)
	assert.Greater(t, post.Mean, 99.0)
}

func TestPosterior_Intervals(t *testing.T) {
	post := Posterior{Mean: 50, Variance: 4}

	lo80, hi80 := post.Interval80()
	lo95, hi95 := post.Interval95()

	assert.InDelta(t, 2*1.2815515655446004*2, hi80-lo80, 1e-12)
	assert.InDelta(t, 2*1.959963984540054*2, hi95-lo95, 1e-12)
	assert.InDelta(t, 50, (lo80+hi80)/2, 1e-12, "band centered on the mean")
	assert.InDelta(t, 50, (lo95+hi95)/2, 1e-12)
	assert.Less(t, lo95, lo80)
	assert.Greater(t, hi95, hi80)
}

func TestPriorUpdate_ShrinksTowardData(t *testing.T) {
	prior := Prior{Mean: 100, Variance: 5}

	var lastMean, lastVar float64 = 100, 5
	for _, n := range []int{1, 5, 50} {
		obs := make([]float64, n)
		for i := range obs {
			obs[i] = 90
		}
		post, err := prior.Update(obs, 4)
		require.NoError(t, err)

		assert.Greater(t, post.Mean, 90.0)
		assert.Less(t, post.Mean, lastMean, "n=%d pulls harder toward the data", n)
		assert.Less(t, post.Variance, lastVar, "n=%d tightens the posterior", n)
		lastMean, lastVar = post.Mean, post.Variance
	}
}

func TestPriorUpdate_NoObservations(t *testing.T) {
	post, err := Prior{Mean: 50, Variance: 5}.Update(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, Posterior{Mean: 50, Variance: 5, NObs: 0}, post)
}

func TestPriorUpdate_Validation(t *testing.T) {
	_, err := Prior{Mean: math.NaN(), Variance: 5}.Update([]float64{1}, 1)
	assert.Error(t, err)

	_, err = Prior{Mean: 10, Variance: 0}.Update([]float64{1}, 1)
	assert.Error(t, err)

	_, err = Prior{Mean: 10, Variance: 5}.Update([]float64{1}, -1)
	assert.Error(t, err)

	_, err = Prior{Mean: 10, Variance: 5}.Update([]float64{1, math.NaN()}, 1)
	assert.Error(t, err)
}

// bayesPanel holds two full Octobers of history, a partial October 2023,
// and a November row that every month filter must ignore.
func bayesPanel(t *testing.T) *dataset.Panel {
	t.Helper()
	dates := []time.Time{
		time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 10, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 10, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 10, 5, 0, 0, 0, 0, time.UTC), // NaN row
		time.Date(2021, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 10, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 10, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 10, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC),
	}
	retail := []float64{10, 12, 11, 13, math.NaN(), 99, 20, 22, 21, 30, 32}
	p, err := dataset.NewPanel(dates, map[string][]float64{"retail": retail})
	require.NoError(t, err)
	return p
}

func TestMonthEndDeviations(t *testing.T) {
	p := bayesPanel(t)

	// 2021: ref 13 → {-3, -1, -2}; 2022: ref 21 → {-1, 1}; 2025: no rows.
	devs, used, err := MonthEndDeviations(p, "retail", time.October, []int{2021, 2022, 2025})
	require.NoError(t, err)

	assert.Equal(t, []float64{-3, -1, -2, -1, 1}, devs)
	assert.Equal(t, []int{2021, 2022}, used)

	sigma2, err := Sigma2(devs)
	require.NoError(t, err)
	assert.InDelta(t, 2.2, sigma2, 1e-12, "표본 분산 (n-1)")

	_, _, err = MonthEndDeviations(p, "nope", time.October, []int{2021})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in panel")
}

func TestSigma2_Degenerate(t *testing.T) {
	_, err := Sigma2([]float64{1})
	assert.Error(t, err)

	_, err = Sigma2([]float64{2, 2, 2})
	assert.Error(t, err, "zero spread cannot anchor an observation variance")
}

func TestNewUpdater(t *testing.T) {
	u, err := NewUpdater(runconfig.Bayes{Tau2: 5, ObservationDays: []int{16, 10, 16, 30}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int{10, 16, 30}, u.days, "sorted and deduplicated")

	_, err = NewUpdater(runconfig.Bayes{Tau2: 0, ObservationDays: []int{10}}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewUpdater(runconfig.Bayes{Tau2: 5}, zerolog.Nop())
	assert.Error(t, err)
}

func TestUpdater_RunMonth(t *testing.T) {
	p := bayesPanel(t)
	u, err := NewUpdater(runconfig.Bayes{Tau2: 5, ObservationDays: []int{16, 10, 16, 30}}, zerolog.Nop())
	require.NoError(t, err)

	updates, err := u.RunMonth(30, p, "retail", 2023, time.October, []int{2021, 2022})
	require.NoError(t, err)

	// Day 10 has nothing observed yet and is skipped; days 16 and 30 both
	// see the prices realized on the 12th and 15th.
	require.Len(t, updates, 2)
	assert.Equal(t, time.Date(2023, 10, 16, 0, 0, 0, 0, time.UTC), updates[0].UpdateDate)
	assert.Equal(t, time.Date(2023, 10, 30, 0, 0, 0, 0, time.UTC), updates[1].UpdateDate)

	// precision = 1/5 + 2/2.2 = 61/55; mean = (30/5 + 62/2.2)·55/61 = 1880/61
	for _, up := range updates {
		assert.InDelta(t, 1880.0/61.0, up.PointForecast, 1e-12)
		assert.InDelta(t, 55.0/61.0, up.Variance, 1e-12)
		assert.InDelta(t, 2.2, up.Sigma2, 1e-12)
		assert.Equal(t, 2, up.NObs)
		assert.Equal(t, []int{2021, 2022}, up.TrainingYears)

		half := 1.2815515655446004 * math.Sqrt(55.0/61.0)
		assert.InDelta(t, up.PointForecast-half, up.Lower80, 1e-12)
		assert.InDelta(t, up.PointForecast+half, up.Upper80, 1e-12)
		assert.Less(t, up.Lower95, up.Lower80)
		assert.Greater(t, up.Upper95, up.Upper80)
	}

	// 관측 평균 31 쪽으로 수축
	assert.Greater(t, updates[0].PointForecast, 30.0)
	assert.Less(t, updates[0].PointForecast, 31.0)
}

func TestUpdater_RunMonth_NoHistory(t *testing.T) {
	p := bayesPanel(t)
	u, err := NewUpdater(runconfig.Bayes{Tau2: 5, ObservationDays: []int{10}}, zerolog.Nop())
	require.NoError(t, err)

	_, err = u.RunMonth(30, p, "retail", 2023, time.October, []int{2019, 2020})
	require.Error(t, err, "no usable history years means no observation variance")
}

func TestMonthDay_Clamp(t *testing.T) {
	assert.Equal(t, time.Date(2023, 11, 30, 0, 0, 0, 0, time.UTC), monthDay(2023, time.November, 31))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), monthDay(2024, time.February, 30))
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), monthDay(2023, time.December, 31))
}
