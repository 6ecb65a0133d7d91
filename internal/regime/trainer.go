package regime

import (
	"fmt"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/pkg/logger"
)

// MinRows is the default floor below which a regime's slice is too thin to
// fit a model worth keeping.
const MinRows = 40

// Trainer fits one ridge model per regime on the regime's own rows. Thin
// regimes are skipped, not failed: prediction falls back to the pooled
// baseline for them.
type Trainer struct {
	classifier *Classifier
	minRows    int
	logger     *logger.Logger
}

// NewTrainer creates a per-regime trainer. minRows <= 0 picks the default.
func NewTrainer(classifier *Classifier, minRows int, log *logger.Logger) *Trainer {
	if minRows <= 0 {
		minRows = MinRows
	}
	return &Trainer{classifier: classifier, minRows: minRows, logger: log}
}

// Train splits the frame by the regime of each row's metric value and fits a
// ridge per regime with enough rows. metric must align 1:1 with the frame's
// rows (see Panel.ValuesAt). The returned map holds only the regimes that
// were actually fitted.
func (t *Trainer) Train(frame *dataset.Frame, metric []float64, alphas []float64, splits int) (map[Regime]*models.Artifact, error) {
	if frame.Len() != len(metric) {
		return nil, fmt.Errorf("regime trainer: %d metric values for %d rows", len(metric), frame.Len())
	}

	labels := t.classifier.ClassifySeries(metric)
	out := make(map[Regime]*models.Artifact, len(All()))
	for _, r := range All() {
		slice := frame.FilterRows(func(i int) bool { return labels[i] == r })
		if slice.Len() < t.minRows {
			t.logger.WithFields(map[string]interface{}{
				"regime":   string(r),
				"rows":     slice.Len(),
				"min_rows": t.minRows,
			}).Warn("Skipping regime with too few rows")
			continue
		}

		art, _, err := models.TrainRidge(models.NameRidgeBaseline, slice, alphas, splits)
		if err != nil {
			if dataset.IsInsufficientData(err) {
				t.logger.WithField("regime", string(r)).WithError(err).Warn("Skipping regime")
				continue
			}
			return nil, fmt.Errorf("regime trainer: %s: %w", r, err)
		}
		art.Regime = string(r)
		out[r] = art

		t.logger.WithFields(map[string]interface{}{
			"regime": string(r),
			"rows":   slice.Len(),
			"alpha":  art.Alpha,
		}).Info("Trained regime model")
	}
	return out, nil
}

// SelectArtifact picks the active regime's model, falling back to the pooled
// baseline when that regime was skipped at training time.
func SelectArtifact(r Regime, perRegime map[Regime]*models.Artifact, pooled *models.Artifact) *models.Artifact {
	if art, ok := perRegime[r]; ok && art != nil {
		return art
	}
	return pooled
}
