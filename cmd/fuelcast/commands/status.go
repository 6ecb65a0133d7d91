package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fuelcast/internal/forecast"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/config"
	"github.com/wonny/fuelcast/pkg/database"
	"github.com/wonny/fuelcast/pkg/logger"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "아티팩트와 예측 상태 확인",
	Long: `학습/예측 산출물의 상태를 한눈에 보여줍니다.

표시 정보:
- 호라이즌별 학습 아티팩트와 학습 시점
- 서빙 중인 최신 예측과 신선도 (fresh/aging/stale)
- 실현된 예측의 정확도 요약
- DATABASE_URL 설정 시 연결 상태와 풀 통계

데이터베이스 없이 JSON 스토어만으로 동작합니다.

Example:
  go run ./cmd/fuelcast status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Status ===")

	cfg, log, err := initDeps()
	if err != nil {
		return err
	}

	rc, _, err := loadRunConfig(log)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	// ===== Artifacts =====
	fmt.Println("\n🧠 Artifacts")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	trained := 0
	for _, horizon := range rc.Horizons {
		dir := filepath.Join(cfg.Paths.ModelsDir, fmt.Sprintf("h%d", horizon))
		if _, err := os.Stat(dir); err != nil {
			fmt.Printf("  h%-3d  not trained\n", horizon)
			continue
		}
		store, err := models.NewStore(dir)
		if err != nil {
			fmt.Printf("  h%-3d  ⚠️  %v\n", horizon, err)
			continue
		}
		keys, err := store.Keys()
		if err != nil || len(keys) == 0 {
			fmt.Printf("  h%-3d  not trained\n", horizon)
			continue
		}
		trained++
		if base, err := store.Load(models.NameRidgeBaseline); err == nil {
			fmt.Printf("  h%-3d  %d artifacts, baseline trained %s (α=%.3g, %d rows)\n",
				horizon, len(keys), base.TrainedAt.Format("2006-01-02 15:04"), base.Alpha, base.NTrain)
		} else {
			fmt.Printf("  h%-3d  %d artifacts, no baseline ⚠️\n", horizon, len(keys))
		}
	}
	if trained == 0 {
		fmt.Println("  💡 Run 'fuelcast train' to fit models")
	}

	// ===== Forecasts =====
	fmt.Println("\n🔮 Latest Forecasts")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if _, err := os.Stat(cfg.Paths.ForecastsDir); err != nil {
		fmt.Println("  none — run 'fuelcast forecast run'")
	} else if store, err := forecast.NewStore(cfg.Paths.ForecastsDir); err != nil {
		fmt.Printf("  ⚠️  %v\n", err)
	} else {
		latest, err := store.LatestAll()
		if err != nil {
			fmt.Printf("  ⚠️  %v\n", err)
		} else if len(latest) == 0 {
			fmt.Println("  none — run 'fuelcast forecast run'")
		} else {
			for _, rec := range latest {
				f := rec.FreshnessAt(now, rc.Forecast)
				bayes := ""
				if rec.Bayes != nil {
					bayes = fmt.Sprintf("  (bayes n=%d)", rec.Bayes.NObs)
				}
				fmt.Printf("  h%-3d  %s → %s  point %.3f  %s %s (%.1fh)%s\n",
					rec.Horizon,
					rec.ForecastDate.Format("2006-01-02"),
					rec.TargetDate.Format("2006-01-02"),
					rec.Point,
					freshnessIcon(f.Status), f.Status, f.AgeHours,
					bayes)
			}
		}

		// ===== Accuracy =====
		printStatusAccuracy(cfg, rc, log, store)
	}

	// ===== Database =====
	printStatusDatabase(cmd.Context(), cfg)

	return nil
}

// printStatusDatabase pings the configured database and prints pool
// statistics. The JSON store commands run without one, so an unreachable
// or unconfigured database is a note here, not a failure.
func printStatusDatabase(ctx context.Context, cfg *config.Config) {
	fmt.Println("\n💾 Database")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if cfg.Database.URL == "" {
		fmt.Println("  not configured (DATABASE_URL unset)")
		return
	}

	db, err := database.New(cfg)
	if err != nil {
		fmt.Printf("  ⚠️  %v\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		fmt.Printf("  ⚠️  ping failed: %v\n", err)
		return
	}

	health, err := db.HealthCheck(ctx)
	if err != nil {
		fmt.Printf("  ⚠️  %v\n", err)
		return
	}
	fmt.Printf("  ✅ healthy, ping %v\n", health.ResponseTime)
	fmt.Printf("  pool: %d/%d conns, %d idle, %d acquired (%d acquires total)\n",
		health.Stats.TotalConns, health.Stats.MaxConns,
		health.Stats.IdleConns, health.Stats.AcquiredConns,
		health.Stats.AcquireCount)
}

// printStatusAccuracy evaluates the stored forecast history against the
// panel. Missing panel or empty history degrade to a note, never an error:
// status must work on a fresh checkout.
func printStatusAccuracy(cfg *config.Config, rc *runconfig.Config, log *logger.Logger, store *forecast.Store) {
	fmt.Println("\n🎯 Accuracy")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	history, err := store.History()
	if err != nil || len(history) == 0 {
		fmt.Println("  no forecast history yet")
		return
	}

	panel, err := loadPanel(cfg, rc, log)
	if err != nil {
		fmt.Printf("  ⚠️  panel unavailable, skipping: %v\n", err)
		return
	}

	evaluator, err := forecast.NewEvaluator(panel, rc.Data.TargetColumn, log.Zerolog())
	if err != nil {
		fmt.Printf("  ⚠️  %v\n", err)
		return
	}
	evals, err := evaluator.Evaluate(history)
	if err != nil {
		fmt.Printf("  ⚠️  %v\n", err)
		return
	}

	overall := forecast.Accuracy(evals)
	if overall == nil {
		fmt.Printf("  %d records stored, none realized yet\n", len(history))
		return
	}

	fmt.Printf("  %d of %d records realized\n", overall.SampleCount, len(history))
	fmt.Printf("  MAE %.4f   RMSE %.4f   bias %+.4f   hit %.1f%%   coverage %.1f%%\n",
		overall.MAE, overall.RMSE, overall.MeanError, overall.HitRate*100, overall.Coverage*100)
}

func freshnessIcon(status string) string {
	switch status {
	case forecast.FreshnessFresh:
		return "🟢"
	case forecast.FreshnessAging:
		return "🟡"
	default:
		return "🔴"
	}
}
