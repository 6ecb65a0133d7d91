package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/fuelcast/internal/dataset"
)

// =============================================================================
// Forecast Accuracy
// =============================================================================

// Evaluation compares one served forecast against the realized price at its
// target date. Direction is judged against the price on the forecast date:
// a hit means the forecast called the sign of the move correctly.
type Evaluation struct {
	ForecastDate time.Time `json:"forecast_date"`
	TargetDate   time.Time `json:"target_date"`
	Horizon      int       `json:"horizon"`
	Predicted    float64   `json:"predicted"`
	Actual       float64   `json:"actual"`
	Error        float64   `json:"error"` // actual - predicted
	AbsError     float64   `json:"abs_error"`
	DirectionHit bool      `json:"direction_hit"`
	InInterval   bool      `json:"in_interval"` // P10 ≤ actual ≤ P90
}

// AccuracyReport aggregates evaluations into the serving accuracy view.
type AccuracyReport struct {
	Scope       string    `json:"scope"` // "all" or "horizon"
	Horizon     int       `json:"horizon,omitempty"`
	SampleCount int       `json:"sample_count"`
	MAE         float64   `json:"mae"`
	RMSE        float64   `json:"rmse"`
	HitRate     float64   `json:"hit_rate"`
	MeanError   float64   `json:"mean_error"` // 편향 (bias)
	Coverage    float64   `json:"coverage"`   // P10–P90 적중률
	UpdatedAt   time.Time `json:"updated_at"`
}

// Evaluator scores served forecast records against the realized series.
// ⭐ SSOT: 예측 vs 실제 검증 로직
type Evaluator struct {
	panel  *dataset.Panel
	target string
	log    zerolog.Logger
}

// NewEvaluator creates the evaluator bound to one realized price column.
func NewEvaluator(panel *dataset.Panel, targetColumn string, log zerolog.Logger) (*Evaluator, error) {
	if panel == nil {
		return nil, fmt.Errorf("forecast: evaluator needs a panel")
	}
	if !panel.HasColumn(targetColumn) {
		return nil, fmt.Errorf("forecast: target column %s not in panel", targetColumn)
	}
	return &Evaluator{
		panel:  panel,
		target: targetColumn,
		log:    log.With().Str("component", "forecast.evaluator").Logger(),
	}, nil
}

// Evaluate scores every record whose target date has a realized observation.
// Records whose target or forecast date is missing from the panel are skipped;
// the run degrades to the evaluable subset rather than failing.
func (e *Evaluator) Evaluate(records []Record) ([]Evaluation, error) {
	if len(records) == 0 {
		return nil, nil
	}

	targetDates := make([]time.Time, len(records))
	anchorDates := make([]time.Time, len(records))
	for i, rec := range records {
		targetDates[i] = rec.TargetDate
		anchorDates[i] = rec.ForecastDate
	}
	actuals, err := e.panel.ValuesAt(e.target, targetDates)
	if err != nil {
		return nil, err
	}
	anchors, err := e.panel.ValuesAt(e.target, anchorDates)
	if err != nil {
		return nil, err
	}

	evals := make([]Evaluation, 0, len(records))
	skipped := 0
	for i, rec := range records {
		actual, anchor := actuals[i], anchors[i]
		if math.IsNaN(actual) || math.IsNaN(anchor) {
			skipped++
			continue
		}

		errVal := actual - rec.Point
		directionHit := (rec.Point >= anchor && actual >= anchor) || (rec.Point < anchor && actual < anchor)

		evals = append(evals, Evaluation{
			ForecastDate: rec.ForecastDate,
			TargetDate:   rec.TargetDate,
			Horizon:      rec.Horizon,
			Predicted:    rec.Point,
			Actual:       actual,
			Error:        errVal,
			AbsError:     math.Abs(errVal),
			DirectionHit: directionHit,
			InInterval:   actual >= rec.P10 && actual <= rec.P90,
		})
	}

	e.log.Info().
		Int("records", len(records)).
		Int("evaluated", len(evals)).
		Int("skipped", skipped).
		Msg("forecast evaluation completed")

	return evals, nil
}

// Accuracy aggregates evaluations into one report. Nil when there is nothing
// to aggregate.
func Accuracy(evals []Evaluation) *AccuracyReport {
	if len(evals) == 0 {
		return nil
	}

	var sumAbsError, sumSqError, sumError float64
	var hitCount, inBand int

	for _, ev := range evals {
		sumAbsError += ev.AbsError
		sumSqError += ev.Error * ev.Error
		sumError += ev.Error
		if ev.DirectionHit {
			hitCount++
		}
		if ev.InInterval {
			inBand++
		}
	}

	n := float64(len(evals))

	return &AccuracyReport{
		Scope:       "all",
		SampleCount: len(evals),
		MAE:         sumAbsError / n,
		RMSE:        math.Sqrt(sumSqError / n),
		HitRate:     float64(hitCount) / n,
		MeanError:   sumError / n,
		Coverage:    float64(inBand) / n,
		UpdatedAt:   time.Now().UTC(),
	}
}

// AccuracyByHorizon groups evaluations by horizon and aggregates each group.
// The slice is ordered by horizon.
func AccuracyByHorizon(evals []Evaluation) []*AccuracyReport {
	groups := make(map[int][]Evaluation)
	for _, ev := range evals {
		groups[ev.Horizon] = append(groups[ev.Horizon], ev)
	}

	horizons := make([]int, 0, len(groups))
	for h := range groups {
		horizons = append(horizons, h)
	}
	sort.Ints(horizons)

	reports := make([]*AccuracyReport, 0, len(horizons))
	for _, h := range horizons {
		report := Accuracy(groups[h])
		if report != nil {
			report.Scope = "horizon"
			report.Horizon = h
			reports = append(reports, report)
		}
	}
	return reports
}
