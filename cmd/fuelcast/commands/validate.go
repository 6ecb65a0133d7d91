package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/validation"
	"github.com/wonny/fuelcast/pkg/database"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "워크포워드 검증 실행",
	Long: `워크포워드 검증을 실행합니다.

폴드 구성:
- (호라이즌 × 홀드아웃 연도)당 폴드 하나
- 학습: 타깃 날짜가 홀드아웃 10월 이전인 전체 이력
- 평가: 해당 연도 10월

검증하는 것:
- 호라이즌별 R² 감쇠 (멀수록 떨어지는 게 정상)
- 모델별/연도별 RMSE, MAE, MAPE
- 분위 모델 핀볼 손실 및 교차 여부
- 건너뛴 폴드와 그 사유

Example:
  go run ./cmd/fuelcast validate
  go run ./cmd/fuelcast validate --workers 8 --by year
  go run ./cmd/fuelcast validate --save`,
	RunE: runValidate,
}

var (
	// Flags
	validateWorkers int
	validateBy      string
	validateSave    bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	// Flags
	validateCmd.Flags().IntVar(&validateWorkers, "workers", validation.DefaultWorkers, "병렬 폴드 워커 수")
	validateCmd.Flags().StringVar(&validateBy, "by", "horizon", "요약 기준: horizon, year")
	validateCmd.Flags().BoolVar(&validateSave, "save", false, "리포트를 데이터베이스에 저장")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Walk-Forward Validation ===")

	if validateBy != "horizon" && validateBy != "year" {
		return fmt.Errorf("invalid --by: %s (use: horizon, year)", validateBy)
	}

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

	harness, err := validation.NewHarness(panel, rc, log, validation.Options{Workers: validateWorkers})
	if err != nil {
		return fmt.Errorf("init harness: %w", err)
	}

	fmt.Printf("🎯 Folds: %d (horizons %v × years %v), %d workers\n\n",
		len(harness.Folds()), rc.Horizons, rc.Holdout.Years, validateWorkers)
	fmt.Println("🚀 Running folds...")

	start := time.Now()
	report, err := harness.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	printValidationReport(report, validateBy, time.Since(start))

	if validateSave {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := validation.NewRepository(db.Pool).SaveReport(cmd.Context(), report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		fmt.Printf("💾 Report saved: run %s\n", report.RunID)
	}

	return nil
}

func printValidationReport(report *validation.Report, by string, elapsed time.Duration) {
	fmt.Println("\n✅ Walk-Forward Completed")
	fmt.Println("=" + strings.Repeat("=", 70))
	fmt.Println()

	var ok, skipped int
	for _, rec := range report.Records {
		if rec.Status == validation.StatusOK {
			ok++
		} else {
			skipped++
		}
	}

	// Summary
	fmt.Println("📊 Summary")
	fmt.Printf("Run:      %s (config %s)\n", report.RunID, shortHash(report.ConfigHash))
	fmt.Printf("Records:  %d ok, %d skipped\n", ok, skipped)
	fmt.Printf("Duration: %.2f seconds\n", elapsed.Seconds())
	fmt.Println()

	var summaries []validation.Summary
	if by == "year" {
		fmt.Println("📈 By Holdout Year")
		summaries = report.ByYear()
	} else {
		fmt.Println("📈 By Horizon")
		summaries = report.ByHorizon()
	}

	fmt.Printf("%-22s %5s %6s %5s  %-18s %10s %10s\n",
		"Model", headerKey(by), "Folds", "Skip", "R² mean ± std", "RMSE", "MAE")
	fmt.Println(strings.Repeat("─", 86))
	for _, s := range summaries {
		key := s.Horizon
		if by == "year" {
			key = s.Year
		}
		fmt.Printf("%-22s %5d %6d %5d  %8.3f ± %-7.3f %10.4f %10.4f %s\n",
			s.Model, key, s.Folds, s.Skipped, s.R2Mean, s.R2Std, s.RMSEMean, s.MAEMean, r2Indicator(s))
	}
	fmt.Println()

	// Skipped folds with reasons
	if skipped > 0 {
		fmt.Println("⚠️  Skipped Records")
		counts := map[string]int{}
		for _, rec := range report.Records {
			if rec.Status == validation.StatusOK {
				continue
			}
			counts[fmt.Sprintf("h%d/%d: %s", rec.Horizon, rec.Year, rec.Reason)]++
		}
		printed := map[string]bool{}
		for _, rec := range report.Records {
			if rec.Status == validation.StatusOK {
				continue
			}
			key := fmt.Sprintf("h%d/%d: %s", rec.Horizon, rec.Year, rec.Reason)
			if printed[key] {
				continue
			}
			printed[key] = true
			fmt.Printf("  %s (%d models)\n", key, counts[key])
		}
		fmt.Println()
	}
}

// headerKey labels the grouping column of the summary table.
func headerKey(by string) string {
	if by == "year" {
		return "Year"
	}
	return "Hzn"
}

// r2Indicator grades a summary's mean R² for quick console reading. Quantile
// rows are scored by pinball loss, not R², so they stay unmarked.
func r2Indicator(s validation.Summary) string {
	if s.Folds == 0 || strings.HasPrefix(s.Model, models.NameQuantile) {
		return ""
	}
	switch {
	case s.R2Mean > 0.8:
		return "🌟"
	case s.R2Mean > 0.5:
		return "✅"
	case s.R2Mean > 0:
		return "⚠️"
	default:
		return "❌"
	}
}
