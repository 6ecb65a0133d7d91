package validation

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/fuelcast/internal/models"
)

// Fold outcome status values.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
)

// Record is one fold outcome for one model: metrics when the fold ran, a
// reason when it could not. Skipped folds stay in the report so coverage
// gaps are visible instead of silently shrinking the sample.
type Record struct {
	Horizon int     `json:"horizon"`
	Year    int     `json:"year"`
	Model   string  `json:"model"`
	Status  string  `json:"status"`
	Reason  string  `json:"reason,omitempty"`
	Alpha   float64 `json:"alpha"`
	NTrain  int     `json:"n_train"`
	NTest   int     `json:"n_test"`
	models.Metrics
	Pinball   *float64 `json:"pinball,omitempty"`   // 분위 모델만
	Crossings int      `json:"crossings,omitempty"` // 홀드아웃 내 분위 교차 행 수
}

// Report is the complete walk-forward output of one run: every (horizon ×
// holdout-year × model) record plus the provenance needed to reproduce it.
// ⭐ SSOT: 워크포워드 결과는 이 리포트가 유일한 산출물
type Report struct {
	RunID      string    `json:"run_id"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
	Records    []Record  `json:"records"`
}

// Append concatenates fold records. Folds are independent, so merging
// parallel results is plain concatenation followed by Sort.
func (r *Report) Append(recs ...Record) {
	r.Records = append(r.Records, recs...)
}

// Sort orders records by (horizon, year, model) so reports are deterministic
// regardless of worker scheduling.
func (r *Report) Sort() {
	sort.Slice(r.Records, func(i, j int) bool {
		a, b := r.Records[i], r.Records[j]
		if a.Horizon != b.Horizon {
			return a.Horizon < b.Horizon
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Model < b.Model
	})
}

// Models returns the distinct model names in the report, sorted.
func (r *Report) Models() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range r.Records {
		if !seen[rec.Model] {
			seen[rec.Model] = true
			names = append(names, rec.Model)
		}
	}
	sort.Strings(names)
	return names
}

// Summary aggregates one model's records over a grouping dimension. Exactly
// one of Horizon/Year is meaningful depending on which view produced it.
// Std fields are 0 when fewer than two folds contributed.
type Summary struct {
	Model    string  `json:"model"`
	Horizon  int     `json:"horizon,omitempty"`
	Year     int     `json:"year,omitempty"`
	Folds    int     `json:"folds"`
	Skipped  int     `json:"skipped"`
	R2Mean   float64 `json:"r2_mean"`
	R2Std    float64 `json:"r2_std"`
	RMSEMean float64 `json:"rmse_mean"`
	RMSEStd  float64 `json:"rmse_std"`
	MAEMean  float64 `json:"mae_mean"`
	MAPEMean float64 `json:"mape_mean"`
}

// ByHorizon aggregates records per (model, horizon) across holdout years.
// This is the horizon-decay view: R² falling off as the horizon grows is the
// failure mode the harness exists to expose.
func (r *Report) ByHorizon() []Summary {
	return r.summarize(
		func(rec Record) int { return rec.Horizon },
		func(s *Summary, key int) { s.Horizon = key },
	)
}

// ByYear aggregates records per (model, holdout year) across horizons.
func (r *Report) ByYear() []Summary {
	return r.summarize(
		func(rec Record) int { return rec.Year },
		func(s *Summary, key int) { s.Year = key },
	)
}

func (r *Report) summarize(keyOf func(Record) int, setKey func(*Summary, int)) []Summary {
	type groupKey struct {
		model string
		key   int
	}
	type acc struct {
		r2s, rmses, maes, mapes []float64
		skipped                 int
	}

	groups := make(map[groupKey]*acc)
	var order []groupKey
	for _, rec := range r.Records {
		gk := groupKey{model: rec.Model, key: keyOf(rec)}
		g, ok := groups[gk]
		if !ok {
			g = &acc{}
			groups[gk] = g
			order = append(order, gk)
		}
		if rec.Status != StatusOK {
			g.skipped++
			continue
		}
		g.r2s = append(g.r2s, rec.R2)
		g.rmses = append(g.rmses, rec.RMSE)
		g.maes = append(g.maes, rec.MAE)
		g.mapes = append(g.mapes, rec.MAPE)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].model != order[j].model {
			return order[i].model < order[j].model
		}
		return order[i].key < order[j].key
	})

	out := make([]Summary, 0, len(order))
	for _, gk := range order {
		g := groups[gk]
		s := Summary{
			Model:   gk.model,
			Folds:   len(g.r2s),
			Skipped: g.skipped,
		}
		setKey(&s, gk.key)
		if len(g.r2s) > 0 {
			s.R2Mean = stat.Mean(g.r2s, nil)
			s.RMSEMean = stat.Mean(g.rmses, nil)
			s.MAEMean = stat.Mean(g.maes, nil)
			s.MAPEMean = stat.Mean(g.mapes, nil)
		}
		if len(g.r2s) > 1 {
			s.R2Std = stat.StdDev(g.r2s, nil)
			s.RMSEStd = stat.StdDev(g.rmses, nil)
		}
		out = append(out, s)
	}
	return out
}
