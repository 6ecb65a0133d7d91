package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/wonny/fuelcast/internal/dataset"
)

// SchemaVersion is bumped whenever the artifact layout changes shape.
const SchemaVersion = 1

// Artifact is an immutable trained model: the solved coefficients plus
// everything needed to audit where they came from. Artifacts are superseded
// by newer ones, never mutated; the store keeps every version it has written.
// ⭐ SSOT: 학습 결과의 직렬화 형식은 이 구조체가 유일
type Artifact struct {
	SchemaVersion int                `json:"schema_version"`
	Name          string             `json:"name"`
	Regime        string             `json:"regime,omitempty"`   // per-regime variants
	Quantile      *float64           `json:"quantile,omitempty"` // quantile variants
	Alpha         float64            `json:"alpha"`
	Intercept     float64            `json:"intercept"`
	Coefficients  []float64          `json:"coefficients"`
	FeatureSet    dataset.FeatureSet `json:"feature_set"`
	Horizon       int                `json:"horizon"`
	TrainStart    time.Time          `json:"train_start"`
	TrainEnd      time.Time          `json:"train_end"`
	NTrain        int                `json:"n_train"`
	TrainedAt     time.Time          `json:"trained_at"`
	Stage2        *Artifact          `json:"stage2,omitempty"` // residual premium stage
}

// Validate checks structural integrity after load.
func (a *Artifact) Validate() error {
	if a.SchemaVersion != SchemaVersion {
		return fmt.Errorf("artifact %s: schema version %d, want %d", a.Name, a.SchemaVersion, SchemaVersion)
	}
	if a.Name == "" {
		return fmt.Errorf("artifact: empty name")
	}
	if len(a.Coefficients) != a.FeatureSet.Len() {
		return fmt.Errorf("artifact %s: %d coefficients for %d features",
			a.Name, len(a.Coefficients), a.FeatureSet.Len())
	}
	for i, c := range a.Coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("artifact %s: coefficient %d: %w", a.Name, i, ErrNonFiniteCoefficients)
		}
	}
	if math.IsNaN(a.Intercept) || math.IsInf(a.Intercept, 0) {
		return fmt.Errorf("artifact %s: intercept: %w", a.Name, ErrNonFiniteCoefficients)
	}
	if a.Stage2 != nil {
		if err := a.Stage2.Validate(); err != nil {
			return fmt.Errorf("artifact %s: stage2: %w", a.Name, err)
		}
	}
	return nil
}

// PredictRow applies the linear model to one feature vector ordered exactly
// as the artifact's feature set. Stage-2 premiums are not applied here
// because a bare row carries no column names; use PredictFrame for that.
func (a *Artifact) PredictRow(row []float64) (float64, error) {
	if len(row) != len(a.Coefficients) {
		return 0, fmt.Errorf("artifact %s: row has %d values, model has %d coefficients",
			a.Name, len(row), len(a.Coefficients))
	}
	pred := a.Intercept
	for j, c := range a.Coefficients {
		pred += c * row[j]
	}
	return pred, nil
}

// PredictFrame predicts every row of a frame. The frame must carry the same
// feature set the artifact was trained on; a mismatched ID is an error, not
// a silent reordering. If the artifact has a stage-2 premium, its feature
// subset is projected out of the same frame and the premium is added.
func (a *Artifact) PredictFrame(f *dataset.Frame) ([]float64, error) {
	if f.FeatureSet.ID != a.FeatureSet.ID {
		return nil, fmt.Errorf("artifact %s: trained on %s, frame has %s",
			a.Name, a.FeatureSet.ID, f.FeatureSet.ID)
	}
	preds := make([]float64, f.Len())
	for i, row := range f.X {
		p, err := a.PredictRow(row)
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}
	if a.Stage2 != nil {
		sub, err := f.Select(a.Stage2.FeatureSet)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: stage2 projection: %w", a.Name, err)
		}
		premium, err := a.Stage2.PredictFrame(sub)
		if err != nil {
			return nil, err
		}
		for i := range preds {
			preds[i] += premium[i]
		}
	}
	return preds, nil
}

// MarshalJSON pins the schema version so hand-built artifacts serialize
// consistently.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	type alias Artifact
	cp := alias(*a)
	if cp.SchemaVersion == 0 {
		cp.SchemaVersion = SchemaVersion
	}
	return json.Marshal(cp)
}

// QuantileKey returns the store key of a quantile variant, e.g.
// "quantile_p10" for q = 0.1.
func QuantileKey(name string, q float64) string {
	return fmt.Sprintf("%s_p%02.0f", name, q*100)
}

// Key returns the artifact's store key: the name, plus the regime or
// quantile qualifier for variant models.
func (a *Artifact) Key() string {
	switch {
	case a.Regime != "":
		return fmt.Sprintf("%s_%s", a.Name, a.Regime)
	case a.Quantile != nil:
		return QuantileKey(a.Name, *a.Quantile)
	default:
		return a.Name
	}
}
