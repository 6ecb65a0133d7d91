package runconfig

import (
	"github.com/wonny/fuelcast/internal/ensemble"
	"github.com/wonny/fuelcast/internal/regime"
)

// Config는 한 번의 학습/검증/예측 실행의 전체 설정
// 플레인 값만: 전역 상태 없음, 해시로 재현성 보장
type Config struct {
	Meta     Meta     `yaml:"meta" json:"meta"`
	Data     Data     `yaml:"data" json:"data"`
	Training Training `yaml:"training" json:"training"`
	Horizons []int    `yaml:"horizons" json:"horizons" validate:"required,min=1"`
	Holdout  Holdout  `yaml:"holdout" json:"holdout"`
	Quantile Quantile `yaml:"quantile" json:"quantile"`
	Regimes  Regimes  `yaml:"regimes" json:"regimes"`
	Ensemble Ensemble `yaml:"ensemble" json:"ensemble"`
	Bayes    Bayes    `yaml:"bayes" json:"bayes"`
	Forecast Forecast `yaml:"forecast" json:"forecast"`
}

// Meta identifies the run configuration.
type Meta struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Version string `yaml:"version" json:"version" default:"v1"`
}

// Data points at the gold-layer panel and names its key columns.
type Data struct {
	PanelPath    string `yaml:"panel_path" json:"panel_path" default:"data/gold/features_daily.csv"`
	TargetColumn string `yaml:"target_column" json:"target_column" default:"retail_price"`
	MetricColumn string `yaml:"metric_column" json:"metric_column" default:"days_supply"` // 레짐 판정 지표
}

// Training bounds the fitters.
type Training struct {
	Alphas        []float64 `yaml:"alphas" json:"alphas" validate:"required,min=1"`
	CVSplits      int       `yaml:"cv_splits" json:"cv_splits" default:"5" validate:"min=1"`
	MinTrainRows  int       `yaml:"min_train_rows" json:"min_train_rows" default:"200" validate:"min=1"`
	TrainFraction float64   `yaml:"train_fraction" json:"train_fraction" default:"0.8"`
	MaxIterations int       `yaml:"max_iterations" json:"max_iterations" default:"100" validate:"min=1"`
	Tolerance     float64   `yaml:"tolerance" json:"tolerance" default:"0.000001"`
}

// Holdout defines the walk-forward folds: one October holdout per year.
type Holdout struct {
	Years []int `yaml:"years" json:"years" validate:"required,min=1"`
}

// Quantile configures the band fitter.
type Quantile struct {
	Levels []float64 `yaml:"levels" json:"levels"`
	Alpha  float64   `yaml:"alpha" json:"alpha" default:"0.1"`
}

// Regimes carries the classifier cut points and the per-regime fit floor.
type Regimes struct {
	Thresholds regime.Thresholds `yaml:"thresholds" json:"thresholds"`
	MinRows    int               `yaml:"min_rows" json:"min_rows" default:"40" validate:"min=1"`
}

// Ensemble is the per-regime weight table, keyed by regime name.
type Ensemble struct {
	Weights map[string]ensemble.Weights `yaml:"weights" json:"weights"`
}

// Bayes configures the conjugate forecast updater.
type Bayes struct {
	Tau2            float64 `yaml:"tau2" json:"tau2" default:"5.0"` // prior variance
	ObservationDays []int   `yaml:"observation_days" json:"observation_days"`
}

// Forecast sets the freshness boundaries for served forecasts.
type Forecast struct {
	FreshMaxAgeHours int `yaml:"fresh_max_age_hours" json:"fresh_max_age_hours" default:"24"`
	StaleMinAgeHours int `yaml:"stale_min_age_hours" json:"stale_min_age_hours" default:"48"`
}

// RegimeWeights converts the string-keyed YAML table to typed regime keys.
// Unknown keys surface in Validate, not here.
func (c *Config) RegimeWeights() map[regime.Regime]ensemble.Weights {
	out := make(map[regime.Regime]ensemble.Weights, len(c.Ensemble.Weights))
	for name, w := range c.Ensemble.Weights {
		out[regime.Regime(name)] = w
	}
	return out
}

// QuantileLevels returns the configured levels, or the model defaults.
func (c *Config) QuantileLevels() []float64 {
	if len(c.Quantile.Levels) == 0 {
		return []float64{0.1, 0.5, 0.9}
	}
	return c.Quantile.Levels
}
