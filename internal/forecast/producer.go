package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/ensemble"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/regime"
	"github.com/wonny/fuelcast/internal/runconfig"
)

// ===== Serving Record =====

// 신선도 상태
const (
	FreshnessFresh = "fresh"
	FreshnessAging = "aging"
	FreshnessStale = "stale"
)

// servedLevels are the quantile levels every record carries.
var servedLevels = []float64{0.1, 0.5, 0.9}

// Record is one served forecast: the blended point, its quantile band, the
// regime it was produced under, and enough provenance to reproduce it.
// ⭐ SSOT: 서빙되는 예측의 직렬화 형식은 이 구조체가 유일
type Record struct {
	RunID        string    `json:"run_id"`
	ConfigHash   string    `json:"config_hash"`
	ForecastDate time.Time `json:"forecast_date"`
	TargetDate   time.Time `json:"target_date"`
	Horizon      int       `json:"horizon"`
	Regime       string    `json:"regime"`
	Point        float64   `json:"point_forecast"`
	P10          float64   `json:"p10"`
	P50          float64   `json:"p50"`
	P90          float64   `json:"p90"`
	FeatureSetID string    `json:"feature_set_id"`
	ArtifactKeys []string  `json:"artifact_keys"`
	QuantileWarn bool      `json:"quantile_warn,omitempty"`
	Bayes        *Update   `json:"bayes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ApplyUpdate replaces the served point with the posterior mean and attaches
// the full update for audit.
func (r *Record) ApplyUpdate(u Update) {
	r.Bayes = &u
	r.Point = u.PointForecast
}

// Freshness is the serve-time age annotation of a record.
type Freshness struct {
	AgeHours float64 `json:"age_hours"`
	Status   string  `json:"status"`
}

// FreshnessAt classifies the record's age against the configured bounds.
// Ages between the two bounds read as aging.
func (r *Record) FreshnessAt(now time.Time, cfg runconfig.Forecast) Freshness {
	age := now.Sub(r.CreatedAt).Hours()
	f := Freshness{AgeHours: age, Status: FreshnessAging}
	switch {
	case age < float64(cfg.FreshMaxAgeHours):
		f.Status = FreshnessFresh
	case age > float64(cfg.StaleMinAgeHours):
		f.Status = FreshnessStale
	}
	return f
}

// ===== Producer =====

// Artifacts bundles the trained models one forecast is assembled from.
type Artifacts struct {
	Baseline  *models.Artifact
	Residual  *models.Artifact
	Basis     *models.Artifact
	Quantiles []*models.Artifact
}

// Producer assembles serving records: evaluate every model at the as-of
// date, classify the regime, blend, and stamp provenance.
// ⭐ SSOT: 서빙 레코드 조립은 여기서만
type Producer struct {
	cfg        *runconfig.Config
	hash       string
	classifier *regime.Classifier
	ens        *ensemble.Ensemble
	log        zerolog.Logger
}

// NewProducer wires the regime classifier and weight table from the run
// config.
func NewProducer(cfg *runconfig.Config, log zerolog.Logger) (*Producer, error) {
	classifier, err := regime.NewClassifier(cfg.Regimes.Thresholds)
	if err != nil {
		return nil, err
	}
	ens, err := ensemble.New(cfg.RegimeWeights())
	if err != nil {
		return nil, err
	}
	hash, err := runconfig.Hash(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{
		cfg:        cfg,
		hash:       hash,
		classifier: classifier,
		ens:        ens,
		log:        log.With().Str("component", "forecast.producer").Logger(),
	}, nil
}

// Produce evaluates the artifact bundle on the panel's asOf row for one
// horizon. All models read from a single union frame so their inputs come
// from the same instant; the regime is decided from the metric observed at
// asOf, never at the target date.
func (p *Producer) Produce(panel *dataset.Panel, asOf time.Time, horizon int, arts Artifacts) (*Record, error) {
	if arts.Baseline == nil || arts.Residual == nil || arts.Basis == nil {
		return nil, fmt.Errorf("forecast: incomplete artifact bundle")
	}

	sets := []dataset.FeatureSet{arts.Baseline.FeatureSet, arts.Residual.FeatureSet, arts.Basis.FeatureSet}
	for _, q := range arts.Quantiles {
		if q == nil {
			return nil, fmt.Errorf("forecast: nil quantile artifact")
		}
		sets = append(sets, q.FeatureSet)
	}
	unionID := fmt.Sprintf("%s+%s", arts.Baseline.FeatureSet.ID, arts.Basis.FeatureSet.ID)
	union, err := dataset.Union(unionID, sets...)
	if err != nil {
		return nil, err
	}
	if err := dataset.MaterializeLags(panel, union); err != nil {
		return nil, err
	}
	builder, err := dataset.NewFrameBuilder(panel, p.cfg.Data.TargetColumn)
	if err != nil {
		return nil, err
	}
	frame, err := builder.BuildAsOf(union, horizon, asOf)
	if err != nil {
		return nil, err
	}

	base, err := p.predictOne(arts.Baseline, frame)
	if err != nil {
		return nil, err
	}
	resid, err := p.predictOne(arts.Residual, frame)
	if err != nil {
		return nil, err
	}
	basis, err := p.predictOne(arts.Basis, frame)
	if err != nil {
		return nil, err
	}

	metricCol := p.cfg.Data.MetricColumn
	metricVals, err := panel.ValuesAt(metricCol, []time.Time{asOf})
	if err != nil {
		return nil, err
	}
	if math.IsNaN(metricVals[0]) {
		return nil, fmt.Errorf("forecast: regime metric %s missing at %s", metricCol, asOf.Format("2006-01-02"))
	}
	reg := p.classifier.Classify(metricVals[0])

	point, err := p.ens.Combine(reg, ensemble.Components{Baseline: base, Residual: resid, Basis: basis})
	if err != nil {
		return nil, err
	}

	keys := []string{arts.Baseline.Key(), arts.Residual.Key(), arts.Basis.Key()}
	qPreds := make(map[float64][]float64, len(servedLevels))
	var band [3]float64
	for i, level := range servedLevels {
		art, err := quantileArtifact(arts.Quantiles, level)
		if err != nil {
			return nil, err
		}
		v, err := p.predictOne(art, frame)
		if err != nil {
			return nil, err
		}
		band[i] = v
		qPreds[level] = []float64{v}
		keys = append(keys, art.Key())
	}
	crossed, err := models.QuantileCrossings(qPreds)
	if err != nil {
		return nil, err
	}
	warn := len(crossed) > 0
	if warn {
		p.log.Warn().
			Time("as_of", asOf).
			Int("horizon", horizon).
			Float64("p10", band[0]).
			Float64("p50", band[1]).
			Float64("p90", band[2]).
			Msg("quantile crossing in served band")
	}

	rec := &Record{
		RunID:        uuid.NewString(),
		ConfigHash:   p.hash,
		ForecastDate: asOf,
		TargetDate:   frame.TargetDates[0],
		Horizon:      horizon,
		Regime:       string(reg),
		Point:        point,
		P10:          band[0],
		P50:          band[1],
		P90:          band[2],
		FeatureSetID: union.ID,
		ArtifactKeys: keys,
		QuantileWarn: warn,
		CreatedAt:    time.Now().UTC(),
	}

	p.log.Info().
		Str("run_id", rec.RunID).
		Time("as_of", asOf).
		Int("horizon", horizon).
		Str("regime", rec.Regime).
		Float64("point", rec.Point).
		Msg("forecast produced")
	return rec, nil
}

// predictOne projects the union frame onto the artifact's feature set and
// evaluates its single row.
func (p *Producer) predictOne(a *models.Artifact, union *dataset.Frame) (float64, error) {
	sub, err := union.Select(a.FeatureSet)
	if err != nil {
		return 0, err
	}
	preds, err := a.PredictFrame(sub)
	if err != nil {
		return 0, err
	}
	v := preds[0]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("artifact %s: non-finite prediction", a.Key())
	}
	return v, nil
}

// quantileArtifact finds the artifact fit at the given level.
func quantileArtifact(quantiles []*models.Artifact, level float64) (*models.Artifact, error) {
	for _, q := range quantiles {
		if q.Quantile != nil && math.Abs(*q.Quantile-level) < 1e-9 {
			return q, nil
		}
	}
	return nil, fmt.Errorf("forecast: quantile artifact p%.0f missing", level*100)
}
