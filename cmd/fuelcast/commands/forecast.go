package commands

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fuelcast/internal/forecast"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/regime"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/database"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast 모듈 - 예측 생성, 갱신, 정확도 평가",
	Long: `학습된 아티팩트로 서빙 레코드를 만들고 유지합니다.

명령어:
  run       호라이즌별 예측 레코드 생성
  update    켤레 베이즈 갱신으로 월말 예측 보정
  accuracy  저장된 예측 vs 실현 가격 정확도 평가`,
}

var (
	// run 플래그
	forecastHorizon int
	forecastAsOf    string
	forecastSave    bool

	// update 플래그
	updateHorizon int
	updateMonth   string
	updateSave    bool
)

var forecastRunCmd = &cobra.Command{
	Use:   "run",
	Short: "호라이즌별 예측 레코드 생성",
	Long: `저장된 아티팩트를 불러와 기준일의 예측 레코드를 만듭니다.

레코드마다:
- 현재 레짐으로 베이스라인 변형 선택 (레짐 모델 없으면 풀 모델)
- 세 모델 예측을 레짐 가중치로 혼합
- p10/p50/p90 분위 밴드 부착
- JSON 스토어에 버전 저장 (--save 시 DB에도)

Example:
  go run ./cmd/fuelcast forecast run
  go run ./cmd/fuelcast forecast run --horizon 7 --as-of 2024-09-30
  go run ./cmd/fuelcast forecast run --save`,
	RunE: runForecastRun,
}

var forecastUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "켤레 베이즈 갱신으로 월말 예측 보정",
	Long: `대상 월의 실현 가격으로 서빙 중인 예측을 보정합니다.

사전분포 = 최신 레코드의 포인트 예측 (분산 τ²),
관측 = 월중 실현 가격, 관측 분산은 과거 연도의
월중-월말 편차에서 추정. 설정된 관측일마다 사후분포를 계산하고
마지막 사후분포를 레코드에 반영합니다.

Example:
  go run ./cmd/fuelcast forecast update --horizon 21
  go run ./cmd/fuelcast forecast update --horizon 21 --month 2024-10`,
	RunE: runForecastUpdate,
}

var forecastAccuracyCmd = &cobra.Command{
	Use:   "accuracy",
	Short: "저장된 예측 vs 실현 가격 정확도 평가",
	Long: `예측 이력을 패널의 실현 가격과 대조합니다.

지표:
- MAE / RMSE / 평균 오차 (바이어스)
- 방향 적중률 (기준일 가격 대비 상승/하락)
- P10-P90 밴드 커버리지 (이상적으로 ~80%)

Example:
  go run ./cmd/fuelcast forecast accuracy`,
	RunE: runForecastAccuracy,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	forecastCmd.AddCommand(forecastRunCmd)
	forecastCmd.AddCommand(forecastUpdateCmd)
	forecastCmd.AddCommand(forecastAccuracyCmd)

	// run 플래그
	forecastRunCmd.Flags().IntVar(&forecastHorizon, "horizon", 0, "단일 호라이즌만 예측 (0 = 설정된 전체)")
	forecastRunCmd.Flags().StringVar(&forecastAsOf, "as-of", "", "예측 기준일 (YYYY-MM-DD, 기본: 패널 마지막 날짜)")
	forecastRunCmd.Flags().BoolVar(&forecastSave, "save", false, "레코드를 데이터베이스에도 저장")

	// update 플래그
	forecastUpdateCmd.Flags().IntVar(&updateHorizon, "horizon", 0, "갱신할 레코드의 호라이즌 (필수)")
	forecastUpdateCmd.Flags().StringVar(&updateMonth, "month", "", "대상 월 (YYYY-MM, 기본: 현재 월)")
	forecastUpdateCmd.Flags().BoolVar(&updateSave, "save", false, "갱신된 레코드를 데이터베이스에도 저장")
	_ = forecastUpdateCmd.MarkFlagRequired("horizon")
}

func runForecastRun(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Forecast ===")

	cfg, log, err := initDeps()
	if err != nil {
		return err
	}

	rc, _, err := loadRunConfig(log)
	if err != nil {
		return err
	}

	panel, err := loadPanel(cfg, rc, log)
	if err != nil {
		return err
	}

	asOf := panel.Date(panel.Len() - 1)
	if forecastAsOf != "" {
		asOf, err = time.Parse("2006-01-02", forecastAsOf)
		if err != nil {
			return fmt.Errorf("invalid as-of date: %w", err)
		}
	}

	horizons := rc.Horizons
	if forecastHorizon > 0 {
		horizons = []int{forecastHorizon}
	}

	// 현재 레짐: 베이스라인 변형 선택에 쓰임
	classifier, err := regime.NewClassifier(rc.Regimes.Thresholds)
	if err != nil {
		return err
	}
	metricVals, err := panel.ValuesAt(rc.Data.MetricColumn, []time.Time{asOf})
	if err != nil {
		return err
	}
	if math.IsNaN(metricVals[0]) {
		return fmt.Errorf("regime metric %s missing at %s", rc.Data.MetricColumn, asOf.Format("2006-01-02"))
	}
	currentRegime := classifier.Classify(metricVals[0])

	fmt.Printf("📅 As-of: %s (regime: %s, %s %.1f)\n\n",
		asOf.Format("2006-01-02"), currentRegime, rc.Data.MetricColumn, metricVals[0])

	producer, err := forecast.NewProducer(rc, log.Zerolog())
	if err != nil {
		return fmt.Errorf("init producer: %w", err)
	}

	store, err := forecast.NewStore(cfg.Paths.ForecastsDir)
	if err != nil {
		return err
	}

	var repo *forecast.Repository
	if forecastSave {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		repo = forecast.NewRepository(db.Pool)
	}

	for _, horizon := range horizons {
		arts, err := loadArtifactBundle(filepath.Join(cfg.Paths.ModelsDir, fmt.Sprintf("h%d", horizon)), rc, currentRegime)
		if err != nil {
			return fmt.Errorf("horizon %d: %w (run train first?)", horizon, err)
		}

		rec, err := producer.Produce(panel, asOf, horizon, arts)
		if err != nil {
			return fmt.Errorf("horizon %d: %w", horizon, err)
		}

		if _, err := store.Save(rec); err != nil {
			return fmt.Errorf("horizon %d: save record: %w", horizon, err)
		}
		if repo != nil {
			if err := repo.Save(cmd.Context(), rec); err != nil {
				return fmt.Errorf("horizon %d: save to database: %w", horizon, err)
			}
		}

		printForecastRecord(rec)
	}

	fmt.Printf("\n✅ Forecast completed: %d records in %s\n", len(horizons), store.Dir())
	return nil
}

// loadArtifactBundle reads the trained models for one horizon and picks the
// baseline variant for the active regime, falling back to the pooled model
// when that regime was too thin to fit.
func loadArtifactBundle(dir string, rc *runconfig.Config, active regime.Regime) (forecast.Artifacts, error) {
	store, err := models.NewStore(dir)
	if err != nil {
		return forecast.Artifacts{}, err
	}

	pooled, err := store.Load(models.NameRidgeBaseline)
	if err != nil {
		return forecast.Artifacts{}, err
	}
	resid, err := store.Load(models.NameResidual)
	if err != nil {
		return forecast.Artifacts{}, err
	}
	basis, err := store.Load(models.NameBasis)
	if err != nil {
		return forecast.Artifacts{}, err
	}

	perRegime := make(map[regime.Regime]*models.Artifact)
	for _, r := range regime.All() {
		art, err := store.Load(fmt.Sprintf("%s_%s", models.NameRidgeBaseline, r))
		if err != nil {
			continue // 얇은 레짐은 학습 때 건너뜀: 없는 게 정상
		}
		perRegime[r] = art
	}

	quantiles := make([]*models.Artifact, 0, len(rc.QuantileLevels()))
	for _, q := range rc.QuantileLevels() {
		art, err := store.Load(models.QuantileKey(models.NameQuantile, q))
		if err != nil {
			return forecast.Artifacts{}, err
		}
		quantiles = append(quantiles, art)
	}

	return forecast.Artifacts{
		Baseline:  regime.SelectArtifact(active, perRegime, pooled),
		Residual:  resid,
		Basis:     basis,
		Quantiles: quantiles,
	}, nil
}

func printForecastRecord(rec *forecast.Record) {
	fmt.Printf("─── Horizon %dd → %s ───\n", rec.Horizon, rec.TargetDate.Format("2006-01-02"))
	fmt.Printf("  Point:  %.3f (regime %s)\n", rec.Point, rec.Regime)
	fmt.Printf("  Band:   P10 %.3f / P50 %.3f / P90 %.3f\n", rec.P10, rec.P50, rec.P90)
	if rec.QuantileWarn {
		fmt.Println("  ⚠️  Quantile band crossed — review before trusting the interval")
	}
	fmt.Printf("  Run:    %s\n", rec.RunID)
}

func runForecastUpdate(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Bayesian Update ===")

	cfg, log, err := initDeps()
	if err != nil {
		return err
	}

	rc, _, err := loadRunConfig(log)
	if err != nil {
		return err
	}

	panel, err := loadPanel(cfg, rc, log)
	if err != nil {
		return err
	}

	// 대상 월
	now := time.Now().UTC()
	year, month := now.Year(), now.Month()
	if updateMonth != "" {
		parsed, err := time.Parse("2006-01", updateMonth)
		if err != nil {
			return fmt.Errorf("invalid month: %w", err)
		}
		year, month = parsed.Year(), parsed.Month()
	}

	store, err := forecast.NewStore(cfg.Paths.ForecastsDir)
	if err != nil {
		return err
	}
	rec, err := store.Latest(updateHorizon)
	if err != nil {
		return fmt.Errorf("no forecast for horizon %d: %w (run forecast run first?)", updateHorizon, err)
	}

	// 과거 같은 달로 관측 분산 추정; 대상 연도는 이력에서 제외
	var histYears []int
	for _, y := range rc.Holdout.Years {
		if y != year {
			histYears = append(histYears, y)
		}
	}

	prior := rec.Point
	fmt.Printf("📅 Month: %d-%02d, prior %.3f (record %s)\n", year, month, prior, rec.RunID)
	fmt.Printf("📚 History years: %v, τ²=%.1f, observation days %v\n\n",
		histYears, rc.Bayes.Tau2, rc.Bayes.ObservationDays)

	updater, err := forecast.NewUpdater(rc.Bayes, log.Zerolog())
	if err != nil {
		return err
	}

	updates, err := updater.RunMonth(prior, panel, rc.Data.TargetColumn, year, month, histYears)
	if err != nil {
		return fmt.Errorf("bayesian update: %w", err)
	}
	if len(updates) == 0 {
		fmt.Println("⚠️  No updates produced: no realized prices in the target month yet")
		return nil
	}

	fmt.Printf("%-12s %5s %10s %12s %22s %22s\n", "Cutoff", "Obs", "σ²", "Posterior", "80% interval", "95% interval")
	fmt.Println(strings.Repeat("─", 88))
	for _, u := range updates {
		fmt.Printf("%-12s %5d %10.4f %12.3f %10.3f ~ %-10.3f %10.3f ~ %-10.3f\n",
			u.UpdateDate.Format("2006-01-02"), u.NObs, u.Sigma2, u.PointForecast,
			u.Lower80, u.Upper80, u.Lower95, u.Upper95)
	}

	// 마지막 컷오프의 사후분포를 서빙 레코드에 반영
	final := updates[len(updates)-1]
	rec.ApplyUpdate(final)
	rec.CreatedAt = time.Now().UTC()
	if _, err := store.Save(rec); err != nil {
		return fmt.Errorf("save updated record: %w", err)
	}

	if updateSave {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := forecast.NewRepository(db.Pool).Save(cmd.Context(), rec); err != nil {
			return fmt.Errorf("save to database: %w", err)
		}
	}

	fmt.Printf("\n✅ Record updated: point %.3f → %.3f (%d observations)\n",
		prior, final.PointForecast, final.NObs)
	return nil
}

func runForecastAccuracy(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Forecast Accuracy ===")

	cfg, log, err := initDeps()
	if err != nil {
		return err
	}

	rc, _, err := loadRunConfig(log)
	if err != nil {
		return err
	}

	panel, err := loadPanel(cfg, rc, log)
	if err != nil {
		return err
	}

	store, err := forecast.NewStore(cfg.Paths.ForecastsDir)
	if err != nil {
		return err
	}
	history, err := store.History()
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("⚠️  No forecast history to evaluate")
		return nil
	}

	evaluator, err := forecast.NewEvaluator(panel, rc.Data.TargetColumn, log.Zerolog())
	if err != nil {
		return err
	}
	evals, err := evaluator.Evaluate(history)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	overall := forecast.Accuracy(evals)
	if overall == nil {
		fmt.Printf("⚠️  %d records, none with realized targets yet\n", len(history))
		return nil
	}

	fmt.Printf("\n📊 Overall (%d of %d records realized)\n", overall.SampleCount, len(history))
	printAccuracyReport(overall)

	fmt.Println("\n📈 By Horizon")
	fmt.Printf("%5s %8s %10s %10s %10s %10s %10s\n", "Hzn", "Samples", "MAE", "RMSE", "Bias", "HitRate", "Coverage")
	fmt.Println(strings.Repeat("─", 70))
	for _, r := range forecast.AccuracyByHorizon(evals) {
		fmt.Printf("%5d %8d %10.4f %10.4f %+10.4f %9.1f%% %9.1f%%\n",
			r.Horizon, r.SampleCount, r.MAE, r.RMSE, r.MeanError, r.HitRate*100, r.Coverage*100)
	}

	return nil
}

func printAccuracyReport(r *forecast.AccuracyReport) {
	fmt.Printf("  MAE:       %.4f\n", r.MAE)
	fmt.Printf("  RMSE:      %.4f\n", r.RMSE)
	fmt.Printf("  Bias:      %+.4f\n", r.MeanError)

	fmt.Printf("  Hit rate:  %.1f%%", r.HitRate*100)
	if r.HitRate > 0.7 {
		fmt.Print(" 🌟")
	} else if r.HitRate > 0.5 {
		fmt.Print(" ✅")
	} else {
		fmt.Print(" ❌")
	}
	fmt.Println()

	// P10-P90 밴드는 이상적으로 80%를 덮어야 함
	fmt.Printf("  Coverage:  %.1f%%", r.Coverage*100)
	if r.Coverage >= 0.7 && r.Coverage <= 0.9 {
		fmt.Print(" ✅")
	} else {
		fmt.Print(" ⚠️")
	}
	fmt.Println()
}
