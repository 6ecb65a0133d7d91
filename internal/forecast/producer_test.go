package forecast

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/ensemble"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/regime"
	"github.com/wonny/fuelcast/internal/runconfig"
)

// servePanel covers October 2024 with columns whose values are exact
// functions of the row index, so every assembled number can be checked by
// hand: spot rises a cent a day from 2.00, retail sits 30 cents above it,
// margin drifts a tenth of a cent a day, cover holds at 24 (tight supply).
func servePanel(t *testing.T) *dataset.Panel {
	t.Helper()
	days := 31
	dates := make([]time.Time, days)
	spot := make([]float64, days)
	retail := make([]float64, days)
	margin := make([]float64, days)
	cover := make([]float64, days)
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		dates[i] = start.AddDate(0, 0, i)
		spot[i] = 2.0 + 0.01*float64(i)
		retail[i] = spot[i] + 0.3
		margin[i] = 0.30 + 0.001*float64(i)
		cover[i] = 24.0
	}
	p, err := dataset.NewPanel(dates, map[string][]float64{
		"spot": spot, "retail": retail, "margin": margin, "cover": cover,
	})
	require.NoError(t, err)
	return p
}

func serveConfig(t *testing.T) *runconfig.Config {
	t.Helper()
	cfg, err := runconfig.Default("producer_test")
	require.NoError(t, err)
	cfg.Data.TargetColumn = "retail"
	cfg.Data.MetricColumn = "cover"
	return cfg
}

func handArtifact(t *testing.T, name string, fs dataset.FeatureSet, intercept float64, coefs []float64) *models.Artifact {
	t.Helper()
	a := &models.Artifact{
		SchemaVersion: models.SchemaVersion,
		Name:          name,
		Alpha:         1,
		Intercept:     intercept,
		Coefficients:  coefs,
		FeatureSet:    fs,
		Horizon:       7,
		TrainStart:    time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		TrainEnd:      time.Date(2024, 10, 19, 0, 0, 0, 0, time.UTC),
		NTrain:        100,
		TrainedAt:     time.Now().UTC(),
	}
	require.NoError(t, a.Validate())
	return a
}

func quantileArt(t *testing.T, fs dataset.FeatureSet, level, intercept float64) *models.Artifact {
	t.Helper()
	a := handArtifact(t, models.NameQuantile, fs, intercept, []float64{1})
	a.Quantile = &level
	return a
}

// serveArtifacts wires linear models with known coefficients:
// baseline = spot + 0.30, residual = spot + 0.30 + 0.05 premium,
// basis = margin_lag7 + 2.00, quantiles = spot + {0.10, 0.30, 0.50}.
func serveArtifacts(t *testing.T) Artifacts {
	t.Helper()
	base, err := dataset.NewFeatureSet("fs_serve_base", dataset.Raw("spot"))
	require.NoError(t, err)
	fund, err := dataset.NewFeatureSet("fs_serve_fund", dataset.Raw("spot"))
	require.NoError(t, err)
	basisSet, err := dataset.NewFeatureSet("fs_serve_basis", dataset.TargetLagged("margin_lag7", 7))
	require.NoError(t, err)

	residual := handArtifact(t, models.NameResidual, base, 0.30, []float64{1})
	residual.Stage2 = handArtifact(t, models.NameResidual+"_stage2", fund, 0.05, []float64{0})

	return Artifacts{
		Baseline: handArtifact(t, models.NameRidgeBaseline, base, 0.30, []float64{1}),
		Residual: residual,
		Basis:    handArtifact(t, models.NameBasis, basisSet, 2.0, []float64{1}),
		Quantiles: []*models.Artifact{
			quantileArt(t, base, 0.1, 0.10),
			quantileArt(t, base, 0.5, 0.30),
			quantileArt(t, base, 0.9, 0.50),
		},
	}
}

func TestProducer_Produce(t *testing.T) {
	p := servePanel(t)
	cfg := serveConfig(t)
	prod, err := NewProducer(cfg, zerolog.Nop())
	require.NoError(t, err)

	asOf := time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC) // row 19: spot 2.19
	rec, err := prod.Produce(p, asOf, 7, serveArtifacts(t))
	require.NoError(t, err)

	assert.Equal(t, asOf, rec.ForecastDate)
	assert.Equal(t, time.Date(2024, 10, 27, 0, 0, 0, 0, time.UTC), rec.TargetDate)
	assert.Equal(t, 7, rec.Horizon)
	assert.Equal(t, string(regime.Tight), rec.Regime, "cover 24 sits between the cut points")

	// baseline 2.49, residual 2.54, basis = margin(Oct 13) + 2 = 2.312;
	// tight weights 0.4/0.4/0.2 blend to 2.4744.
	assert.InDelta(t, 0.4*2.49+0.4*2.54+0.2*2.312, rec.Point, 1e-9)
	assert.InDelta(t, 2.29, rec.P10, 1e-9)
	assert.InDelta(t, 2.49, rec.P50, 1e-9)
	assert.InDelta(t, 2.69, rec.P90, 1e-9)
	assert.False(t, rec.QuantileWarn)
	assert.Nil(t, rec.Bayes)

	assert.Equal(t, "fs_serve_base+fs_serve_basis", rec.FeatureSetID)
	assert.Equal(t, []string{
		models.NameRidgeBaseline, models.NameResidual, models.NameBasis,
		"quantile_p10", "quantile_p50", "quantile_p90",
	}, rec.ArtifactKeys)

	assert.NotEmpty(t, rec.RunID)
	assert.Len(t, rec.ConfigHash, 64)
	assert.WithinDuration(t, time.Now().UTC(), rec.CreatedAt, time.Minute)

	again, err := prod.Produce(p, asOf, 7, serveArtifacts(t))
	require.NoError(t, err)
	assert.NotEqual(t, rec.RunID, again.RunID, "every production is its own run")
	assert.Equal(t, rec.Point, again.Point)
}

func TestProducer_QuantileCrossingWarn(t *testing.T) {
	p := servePanel(t)
	prod, err := NewProducer(serveConfig(t), zerolog.Nop())
	require.NoError(t, err)

	arts := serveArtifacts(t)
	arts.Quantiles[0] = quantileArt(t, arts.Baseline.FeatureSet, 0.1, 0.60) // above the median

	rec, err := prod.Produce(p, time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC), 7, arts)
	require.NoError(t, err)
	assert.True(t, rec.QuantileWarn)
	assert.Greater(t, rec.P10, rec.P50)
}

func TestProducer_Errors(t *testing.T) {
	p := servePanel(t)
	prod, err := NewProducer(serveConfig(t), zerolog.Nop())
	require.NoError(t, err)
	asOf := time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC)

	arts := serveArtifacts(t)
	arts.Residual = nil
	_, err = prod.Produce(p, asOf, 7, arts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete artifact bundle")

	_, err = prod.Produce(p, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 7, serveArtifacts(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in panel")

	arts = serveArtifacts(t)
	arts.Quantiles = arts.Quantiles[:2]
	_, err = prod.Produce(p, asOf, 7, arts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantile artifact p90 missing")
}

func TestProducer_MissingRegimeMetric(t *testing.T) {
	days := 31
	dates := make([]time.Time, days)
	spot := make([]float64, days)
	retail := make([]float64, days)
	margin := make([]float64, days)
	cover := make([]float64, days)
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		dates[i] = start.AddDate(0, 0, i)
		spot[i] = 2.0
		retail[i] = 2.3
		margin[i] = 0.3
		cover[i] = 24.0
	}
	cover[19] = math.NaN()
	p, err := dataset.NewPanel(dates, map[string][]float64{
		"spot": spot, "retail": retail, "margin": margin, "cover": cover,
	})
	require.NoError(t, err)

	prod, err := NewProducer(serveConfig(t), zerolog.Nop())
	require.NoError(t, err)

	_, err = prod.Produce(p, time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC), 7, serveArtifacts(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regime metric")
}

func TestNewProducer_ConfigErrors(t *testing.T) {
	cfg := serveConfig(t)
	delete(cfg.Ensemble.Weights, string(regime.Crisis))
	_, err := NewProducer(cfg, zerolog.Nop())
	require.Error(t, err)
	var missing *ensemble.UndefinedRegimeWeightError
	assert.ErrorAs(t, err, &missing)

	cfg = serveConfig(t)
	cfg.Regimes.Thresholds = regime.Thresholds{TLow: 30, THigh: 20}
	_, err = NewProducer(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRecord_ApplyUpdate(t *testing.T) {
	rec := &Record{Point: 2.50}
	up := Update{
		UpdateDate:    time.Date(2024, 10, 16, 0, 0, 0, 0, time.UTC),
		PointForecast: 2.61,
		Variance:      0.9,
		Sigma2:        2.2,
		NObs:          16,
	}

	rec.ApplyUpdate(up)

	assert.InDelta(t, 2.61, rec.Point, 1e-12)
	require.NotNil(t, rec.Bayes)
	assert.Equal(t, 16, rec.Bayes.NObs)
}

func TestRecord_FreshnessAt(t *testing.T) {
	cfg := runconfig.Forecast{FreshMaxAgeHours: 24, StaleMinAgeHours: 48}
	created := time.Date(2024, 10, 20, 12, 0, 0, 0, time.UTC)
	rec := &Record{CreatedAt: created}

	f := rec.FreshnessAt(created.Add(1*time.Hour), cfg)
	assert.Equal(t, FreshnessFresh, f.Status)
	assert.InDelta(t, 1.0, f.AgeHours, 1e-9)

	assert.Equal(t, FreshnessAging, rec.FreshnessAt(created.Add(24*time.Hour), cfg).Status,
		"the fresh bound is exclusive")
	assert.Equal(t, FreshnessAging, rec.FreshnessAt(created.Add(30*time.Hour), cfg).Status)
	assert.Equal(t, FreshnessAging, rec.FreshnessAt(created.Add(48*time.Hour), cfg).Status,
		"the stale bound is exclusive")
	assert.Equal(t, FreshnessStale, rec.FreshnessAt(created.Add(72*time.Hour), cfg).Status)
}

func TestRecord_JSONShape(t *testing.T) {
	rec := Record{
		RunID:        "r-1",
		ConfigHash:   "abc",
		Horizon:      7,
		Regime:       string(regime.Normal),
		Point:        2.47,
		P10:          2.29,
		P50:          2.49,
		P90:          2.69,
		FeatureSetID: "fs_a+fs_b",
		ArtifactKeys: []string{"ridge_baseline"},
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"point_forecast"`)
	assert.Contains(t, s, `"config_hash"`)
	assert.Contains(t, s, `"p10"`)
	assert.NotContains(t, s, `"quantile_warn"`, "omitted while false")
	assert.NotContains(t, s, `"bayes"`, "omitted while absent")

	rec.QuantileWarn = true
	rec.Bayes = &Update{PointForecast: 2.5}
	raw, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"quantile_warn":true`)
	assert.Contains(t, string(raw), `"bayes"`)

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rec, back)
}
