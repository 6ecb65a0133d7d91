package runconfig

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/wonny/fuelcast/internal/regime"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

var structValidator = validator.New()

// Validate checks the full constraint set. Shape constraints run through the
// struct tags; everything the tags cannot express is checked here. Returns
// on the first failure.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return err
	}

	// === Training ===
	for i, a := range cfg.Training.Alphas {
		if a < 0 {
			return ValidationError{fmt.Sprintf("training.alphas[%d]", i), "must be >= 0"}
		}
	}
	if cfg.Training.TrainFraction <= 0 || cfg.Training.TrainFraction >= 1 {
		return ValidationError{"training.train_fraction", "must be in (0, 1)"}
	}
	if cfg.Training.Tolerance <= 0 {
		return ValidationError{"training.tolerance", "must be > 0"}
	}

	// === Horizons ===
	seen := make(map[int]bool, len(cfg.Horizons))
	for i, h := range cfg.Horizons {
		if h < 0 {
			return ValidationError{fmt.Sprintf("horizons[%d]", i), "must be >= 0"}
		}
		if seen[h] {
			return ValidationError{fmt.Sprintf("horizons[%d]", i), fmt.Sprintf("duplicate horizon %d", h)}
		}
		seen[h] = true
	}

	// === Holdout ===
	for i, y := range cfg.Holdout.Years {
		if y < 1990 || y > 2100 {
			return ValidationError{fmt.Sprintf("holdout.years[%d]", i), fmt.Sprintf("implausible year %d", y)}
		}
	}

	// === Quantiles ===
	levels := cfg.Quantile.Levels
	for i, q := range levels {
		if q <= 0 || q >= 1 {
			return ValidationError{fmt.Sprintf("quantile.levels[%d]", i), "must be in (0, 1)"}
		}
		if i > 0 && levels[i] <= levels[i-1] {
			return ValidationError{"quantile.levels", "must be strictly increasing"}
		}
	}
	if cfg.Quantile.Alpha < 0 {
		return ValidationError{"quantile.alpha", "must be >= 0"}
	}

	// === Regimes ===
	if err := cfg.Regimes.Thresholds.Validate(); err != nil {
		return ValidationError{"regimes.thresholds", err.Error()}
	}

	// === Ensemble ===
	// 모든 레짐에 가중치 필수, 합은 1±1e-9
	for name := range cfg.Ensemble.Weights {
		if !regime.Regime(name).Valid() {
			return ValidationError{"ensemble.weights", fmt.Sprintf("unknown regime %q", name)}
		}
	}
	for _, r := range regime.All() {
		w, ok := cfg.Ensemble.Weights[string(r)]
		if !ok {
			return ValidationError{"ensemble.weights", fmt.Sprintf("missing regime %q", r)}
		}
		if err := w.Validate(); err != nil {
			return ValidationError{fmt.Sprintf("ensemble.weights.%s", r), err.Error()}
		}
	}

	// === Bayes ===
	if cfg.Bayes.Tau2 <= 0 {
		return ValidationError{"bayes.tau2", "must be > 0"}
	}
	for i, d := range cfg.Bayes.ObservationDays {
		if d < 1 || d > 31 {
			return ValidationError{fmt.Sprintf("bayes.observation_days[%d]", i), "must be a day of month (1-31)"}
		}
	}

	// === Forecast ===
	if cfg.Forecast.FreshMaxAgeHours <= 0 {
		return ValidationError{"forecast.fresh_max_age_hours", "must be > 0"}
	}
	if cfg.Forecast.StaleMinAgeHours <= cfg.Forecast.FreshMaxAgeHours {
		return ValidationError{"forecast.stale_min_age_hours", "must exceed fresh_max_age_hours"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	// Crisis 가중치는 데이터 부족으로 미검증 상태
	if _, ok := cfg.Ensemble.Weights[string(regime.Crisis)]; ok {
		warnings = append(warnings, Warning{
			Code:    "CRISIS_WEIGHTS_UNVALIDATED",
			Message: "crisis regime weights are carried as configuration, not fitted: too few crisis observations exist to validate them",
		})
	}

	// 장기 호라이즌은 성능 붕괴 구간
	horizons := append([]int(nil), cfg.Horizons...)
	sort.Ints(horizons)
	if n := len(horizons); n > 0 && horizons[n-1] > 14 {
		warnings = append(warnings, Warning{
			Code:    "LONG_HORIZON",
			Message: fmt.Sprintf("horizon %d is beyond the range where point accuracy holds up; review walk-forward R² before trusting it", horizons[n-1]),
		})
	}

	if len(cfg.Training.Alphas) == 1 {
		warnings = append(warnings, Warning{
			Code:    "SINGLE_ALPHA",
			Message: "one candidate alpha disables cross-validated selection",
		})
	}

	return warnings
}
