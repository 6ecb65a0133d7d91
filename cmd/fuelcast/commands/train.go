package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/regime"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/internal/validation"
	"github.com/wonny/fuelcast/pkg/logger"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "모델 학습 및 아티팩트 저장",
	Long: `실현된 타깃 전체로 모델을 학습하고 아티팩트를 저장합니다.

호라이즌별로 학습하는 모델:
- ridge_baseline: 리지 베이스라인 (교차검증으로 알파 선택)
- inventory_residual: 재고 잔차 프리미엄 (2단계)
- basis_adjusted: 스팟-소매 베이시스 모델
- 레짐별 베이스라인 변형 (행 수가 충분한 레짐만)
- 분위 모델 (p10/p50/p90)

아티팩트는 MODELS_DIR/h<horizon>/ 아래 JSON으로 버전 저장됩니다.

Example:
  go run ./cmd/fuelcast train
  go run ./cmd/fuelcast train --horizon 7
  go run ./cmd/fuelcast train --as-of 2024-09-30 --out /tmp/models`,
	RunE: runTrain,
}

var (
	// Flags
	trainHorizon int
	trainAsOf    string
	trainOut     string
)

func init() {
	rootCmd.AddCommand(trainCmd)

	// Flags
	trainCmd.Flags().IntVar(&trainHorizon, "horizon", 0, "단일 호라이즌만 학습 (0 = 설정된 전체)")
	trainCmd.Flags().StringVar(&trainAsOf, "as-of", "", "학습 기준일 (YYYY-MM-DD, 기본: 패널 마지막 날짜)")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "아티팩트 디렉토리 (기본: MODELS_DIR)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Train ===")

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

	// 학습 기준일: 이 날짜까지 실현된 타깃만 학습에 들어감
	asOf := panel.Date(panel.Len() - 1)
	if trainAsOf != "" {
		asOf, err = time.Parse("2006-01-02", trainAsOf)
		if err != nil {
			return fmt.Errorf("invalid as-of date: %w", err)
		}
	}

	horizons := rc.Horizons
	if trainHorizon > 0 {
		horizons = []int{trainHorizon}
	}

	outDir := cfg.Paths.ModelsDir
	if trainOut != "" {
		outDir = trainOut
	}

	fmt.Printf("📅 As-of: %s\n", asOf.Format("2006-01-02"))
	fmt.Printf("🎯 Horizons: %v\n\n", horizons)

	start := time.Now()
	var saved int
	for _, horizon := range horizons {
		n, err := trainOneHorizon(panel, rc, log, horizon, asOf, filepath.Join(outDir, fmt.Sprintf("h%d", horizon)))
		if err != nil {
			return fmt.Errorf("horizon %d: %w", horizon, err)
		}
		saved += n
	}

	fmt.Printf("\n✅ Training completed: %d artifacts across %d horizons in %.2fs\n",
		saved, len(horizons), time.Since(start).Seconds())
	fmt.Printf("📁 Artifacts: %s\n", outDir)
	return nil
}

// trainOneHorizon fits the full model set for one horizon on every row whose
// target is realized by asOf, and saves the artifacts. Returns the number of
// artifacts written.
func trainOneHorizon(panel *dataset.Panel, rc *runconfig.Config, log *logger.Logger, horizon int, asOf time.Time, dir string) (int, error) {
	fmt.Printf("─── Horizon %dd ───\n", horizon)

	sets := validation.DefaultFeatureSets()
	union, err := dataset.Union(sets.Baseline.ID+"+"+sets.Basis.ID, sets.Baseline, sets.Basis)
	if err != nil {
		return 0, err
	}
	if err := dataset.MaterializeLags(panel, union); err != nil {
		return 0, err
	}

	builder, err := dataset.NewFrameBuilder(panel, rc.Data.TargetColumn)
	if err != nil {
		return 0, err
	}
	full, err := builder.Build(union, horizon)
	if err != nil {
		return 0, err
	}

	// 타깃이 asOf까지 실현된 행만 학습에 사용
	train, _ := full.SplitByTargetDate(asOf.AddDate(0, 0, 1))
	if train.Len() < rc.Training.MinTrainRows {
		return 0, fmt.Errorf("%d rows with realized targets, need %d", train.Len(), rc.Training.MinTrainRows)
	}

	trainBase, err := train.Select(sets.Baseline)
	if err != nil {
		return 0, err
	}
	trainBasis, err := train.Select(sets.Basis)
	if err != nil {
		return 0, err
	}

	var arts []*models.Artifact

	// ===== Baseline =====
	baseArt, cv, err := models.TrainRidge(models.NameRidgeBaseline, trainBase, rc.Training.Alphas, rc.Training.CVSplits)
	if err != nil {
		return 0, fmt.Errorf("baseline: %w", err)
	}
	arts = append(arts, baseArt)
	if cv != nil {
		fmt.Printf("  %-22s α=%-7.3g (CV over %d splits, %d rows)\n",
			models.NameRidgeBaseline, baseArt.Alpha, cv.Splits, trainBase.Len())
	} else {
		fmt.Printf("  %-22s α=%-7.3g (%d rows)\n", models.NameRidgeBaseline, baseArt.Alpha, trainBase.Len())
	}
	printTrainDiagnostic(trainBase, baseArt.Alpha)

	// ===== Residual premium =====
	residArt, err := models.TrainResidual(trainBase, sets.Fundamentals, baseArt, rc.Training.Alphas, rc.Training.CVSplits)
	if err != nil {
		return 0, fmt.Errorf("residual: %w", err)
	}
	arts = append(arts, residArt)
	fmt.Printf("  %-22s α=%-7.3g (stage 2 on %s)\n", models.NameResidual, residArt.Stage2.Alpha, sets.Fundamentals.ID)

	// ===== Basis-adjusted =====
	basisArt, err := models.TrainBasis(trainBasis, rc.Training.Alphas, rc.Training.CVSplits)
	if err != nil {
		return 0, fmt.Errorf("basis: %w", err)
	}
	arts = append(arts, basisArt)
	fmt.Printf("  %-22s α=%-7.3g\n", models.NameBasis, basisArt.Alpha)

	// ===== Per-regime baselines =====
	classifier, err := regime.NewClassifier(rc.Regimes.Thresholds)
	if err != nil {
		return 0, err
	}
	metric, err := panel.ValuesAt(rc.Data.MetricColumn, trainBase.Dates)
	if err != nil {
		return 0, err
	}
	trainer := regime.NewTrainer(classifier, rc.Regimes.MinRows, log)
	perRegime, err := trainer.Train(trainBase, metric, rc.Training.Alphas, rc.Training.CVSplits)
	if err != nil {
		return 0, fmt.Errorf("regime variants: %w", err)
	}
	for _, r := range regime.All() {
		art, ok := perRegime[r]
		if !ok {
			continue
		}
		arts = append(arts, art)
		fmt.Printf("  %-22s α=%-7.3g (%d rows)\n", art.Key(), art.Alpha, art.NTrain)
	}

	// ===== Quantiles =====
	qopts := models.QuantileOptions{
		Alpha:   rc.Quantile.Alpha,
		MaxIter: rc.Training.MaxIterations,
		Tol:     rc.Training.Tolerance,
	}
	for _, q := range rc.QuantileLevels() {
		res, err := models.TrainQuantile(trainBase, q, qopts)
		if err != nil {
			return 0, fmt.Errorf("quantile p%02.0f: %w", q*100, err)
		}
		if !res.Converged {
			log.WithFields(map[string]interface{}{
				"horizon":    horizon,
				"quantile":   q,
				"iterations": res.Iterations,
			}).Warn("Quantile fit did not converge")
		}
		arts = append(arts, res.Artifact)
	}
	fmt.Printf("  %-22s levels %v\n", models.NameQuantile, rc.QuantileLevels())

	store, err := models.NewStore(dir)
	if err != nil {
		return 0, err
	}
	for _, a := range arts {
		if _, err := store.Save(a); err != nil {
			return 0, err
		}
	}

	return len(arts), nil
}

// printTrainDiagnostic refits the baseline on the leading 80% of the training
// window and scores the trailing 20%. The saved artifact has seen every row,
// so this throwaway fit is the only honest quick check. Advisory only: any
// failure just skips the line.
func printTrainDiagnostic(trainBase *dataset.Frame, alpha float64) {
	diagTrain, diagTest, err := dataset.ChronoSplit(trainBase, 0.8)
	if err != nil {
		return
	}
	art, _, err := models.TrainRidge(models.NameRidgeBaseline, diagTrain, []float64{alpha}, 0)
	if err != nil {
		return
	}
	pred, err := art.PredictFrame(diagTest)
	if err != nil {
		return
	}
	m, err := models.Evaluate(diagTest.Y, pred)
	if err != nil {
		return
	}
	fmt.Printf("    80/20 diagnostic: RMSE %.4f  MAE %.4f  R² %.3f (last %d rows held out)\n",
		m.RMSE, m.MAE, m.R2, m.N)
}
