package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/runconfig"
)

// 중심구간 z-점수: Φ⁻¹(0.90), Φ⁻¹(0.975)
const (
	z80 = 1.2815515655446004
	z95 = 1.959963984540054
)

// Prior is the model's view of the month-end price before any of the target
// month has been observed: the ensemble point forecast with variance τ².
type Prior struct {
	Mean     float64
	Variance float64
}

// Posterior 켤레 정규-정규 사후분포
type Posterior struct {
	Mean     float64
	Variance float64
	NObs     int
}

// Update folds realized prices into the prior. Observations are treated as
// noisy readings of the month-end level with known variance sigma2; the
// closed-form posterior shrinks the model forecast toward the observed mean
// by precision weight (n observations pull with weight n/(n + σ²/τ²)). With
// no observations the prior passes through unchanged.
func (p Prior) Update(obs []float64, sigma2 float64) (Posterior, error) {
	if math.IsNaN(p.Mean) || math.IsInf(p.Mean, 0) {
		return Posterior{}, fmt.Errorf("bayes: non-finite prior mean")
	}
	if p.Variance <= 0 {
		return Posterior{}, fmt.Errorf("bayes: prior variance %g, want > 0", p.Variance)
	}
	if len(obs) == 0 {
		return Posterior{Mean: p.Mean, Variance: p.Variance}, nil
	}
	if sigma2 <= 0 {
		return Posterior{}, fmt.Errorf("bayes: observation variance %g, want > 0", sigma2)
	}
	var sum float64
	for i, y := range obs {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return Posterior{}, fmt.Errorf("bayes: non-finite observation at %d", i)
		}
		sum += y
	}
	n := float64(len(obs))
	precision := 1/p.Variance + n/sigma2
	return Posterior{
		Mean:     (p.Mean/p.Variance + sum/sigma2) / precision,
		Variance: 1 / precision,
		NObs:     len(obs),
	}, nil
}

// Interval80 returns the central 80% band.
func (p Posterior) Interval80() (lower, upper float64) {
	half := z80 * math.Sqrt(p.Variance)
	return p.Mean - half, p.Mean + half
}

// Interval95 returns the central 95% band.
func (p Posterior) Interval95() (lower, upper float64) {
	half := z95 * math.Sqrt(p.Variance)
	return p.Mean - half, p.Mean + half
}

// Update is one mid-month correction of the standing forecast, shaped for
// the JSON summaries the updater emits and the columns the repository keeps.
type Update struct {
	UpdateDate    time.Time `json:"update_date"`
	PointForecast float64   `json:"point_forecast"`
	Variance      float64   `json:"variance"`
	Lower80       float64   `json:"lower_80"`
	Upper80       float64   `json:"upper_80"`
	Lower95       float64   `json:"lower_95"`
	Upper95       float64   `json:"upper_95"`
	Sigma2        float64   `json:"sigma2"`
	NObs          int       `json:"n_obs"`
	TrainingYears []int     `json:"training_years"`
}

// MonthEndDeviations collects, for each history year, the gaps between that
// year's intra-month prices and its month-end price. The spread of the gaps
// is how noisy a single day's price is as a reading of where the month
// closes, which is exactly the observation variance the updater needs.
// Years with fewer than two in-month observations contribute nothing.
func MonthEndDeviations(panel *dataset.Panel, column string, month time.Month, years []int) (devs []float64, used []int, err error) {
	if !panel.HasColumn(column) {
		return nil, nil, fmt.Errorf("bayes: column %s not in panel", column)
	}
	wanted := make(map[int]bool, len(years))
	for _, y := range years {
		wanted[y] = true
	}

	byYear := make(map[int][]float64)
	for i := 0; i < panel.Len(); i++ {
		d := panel.Date(i)
		if d.Month() != month || !wanted[d.Year()] {
			continue
		}
		v, err := panel.Value(column, i)
		if err != nil {
			return nil, nil, err
		}
		if math.IsNaN(v) {
			continue
		}
		byYear[d.Year()] = append(byYear[d.Year()], v)
	}

	for _, y := range years {
		vals := byYear[y]
		if len(vals) < 2 {
			continue
		}
		ref := vals[len(vals)-1] // 월말 가격
		for _, v := range vals[:len(vals)-1] {
			devs = append(devs, v-ref)
		}
		used = append(used, y)
	}
	sort.Ints(used)
	return devs, used, nil
}

// Sigma2 is the sample variance of the deviations, (n-1) divisor.
func Sigma2(devs []float64) (float64, error) {
	if len(devs) < 2 {
		return 0, fmt.Errorf("bayes: %d deviations, need >= 2 to estimate observation variance", len(devs))
	}
	v := stat.Variance(devs, nil)
	if v <= 0 || math.IsNaN(v) {
		return 0, fmt.Errorf("bayes: degenerate observation variance %g", v)
	}
	return v, nil
}

// Updater walks the configured observation days of a target month, folding
// the prices realized up to each cutoff into the standing forecast.
type Updater struct {
	tau2 float64
	days []int
	log  zerolog.Logger
}

// NewUpdater builds an updater from the bayes config section.
func NewUpdater(cfg runconfig.Bayes, log zerolog.Logger) (*Updater, error) {
	if cfg.Tau2 <= 0 {
		return nil, fmt.Errorf("bayes: tau2 %g, want > 0", cfg.Tau2)
	}
	if len(cfg.ObservationDays) == 0 {
		return nil, fmt.Errorf("bayes: no observation days configured")
	}
	sorted := append([]int(nil), cfg.ObservationDays...)
	sort.Ints(sorted)
	var days []int
	for i, d := range sorted {
		if i > 0 && d == sorted[i-1] {
			continue
		}
		days = append(days, d)
	}
	return &Updater{
		tau2: cfg.Tau2,
		days: days,
		log:  log.With().Str("component", "forecast.updater").Logger(),
	}, nil
}

// RunMonth produces one Update per observation day of the target month.
// column carries the realized price; histYears estimate the observation
// variance from the same month of prior years. A cutoff with nothing
// observed yet is skipped with a warning, since a mid-month run can only
// see the days that have passed.
func (u *Updater) RunMonth(prior float64, panel *dataset.Panel, column string, year int, month time.Month, histYears []int) ([]Update, error) {
	devs, used, err := MonthEndDeviations(panel, column, month, histYears)
	if err != nil {
		return nil, err
	}
	sigma2, err := Sigma2(devs)
	if err != nil {
		return nil, err
	}

	// 대상 월의 실현 가격 (일자 오름차순)
	var obsDays []int
	var obsVals []float64
	for i := 0; i < panel.Len(); i++ {
		d := panel.Date(i)
		if d.Year() != year || d.Month() != month {
			continue
		}
		v, err := panel.Value(column, i)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) {
			continue
		}
		obsDays = append(obsDays, d.Day())
		obsVals = append(obsVals, v)
	}

	var updates []Update
	for _, day := range u.days {
		var obs []float64
		for i, od := range obsDays {
			if od <= day {
				obs = append(obs, obsVals[i])
			}
		}
		if len(obs) == 0 {
			u.log.Warn().
				Int("day", day).
				Int("year", year).
				Str("month", month.String()).
				Msg("no observations at cutoff, skipping update")
			continue
		}
		post, err := Prior{Mean: prior, Variance: u.tau2}.Update(obs, sigma2)
		if err != nil {
			u.log.Warn().Err(err).Int("day", day).Msg("update failed, skipping")
			continue
		}
		lo80, hi80 := post.Interval80()
		lo95, hi95 := post.Interval95()
		updates = append(updates, Update{
			UpdateDate:    monthDay(year, month, day),
			PointForecast: post.Mean,
			Variance:      post.Variance,
			Lower80:       lo80,
			Upper80:       hi80,
			Lower95:       lo95,
			Upper95:       hi95,
			Sigma2:        sigma2,
			NObs:          post.NObs,
			TrainingYears: used,
		})
	}

	u.log.Info().
		Int("updates", len(updates)).
		Int("history_years", len(used)).
		Float64("sigma2", sigma2).
		Float64("prior", prior).
		Msg("bayesian updates completed")
	return updates, nil
}

// monthDay clamps day into the month so a day-31 cutoff stays inside a
// 30-day month.
func monthDay(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
