package commands

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/fuelcast/internal/regime"
)

// regimesCmd represents the regimes command
var regimesCmd = &cobra.Command{
	Use:   "regimes",
	Short: "공급 레짐 분류",
	Long: `패널 끝자락의 공급 지표를 레짐으로 분류합니다.

레짐 (days_supply 기준):
- normal: 지표 > t_high — 충분한 재고
- tight:  t_low < 지표 ≤ t_high — 빠듯한 공급
- crisis: 지표 ≤ t_low — 공급 경색

예측이 어느 체제에서 서빙되는지, 최근 며칠간 체제가 어떻게
움직였는지 확인하는 용도입니다.

Example:
  go run ./cmd/fuelcast regimes
  go run ./cmd/fuelcast regimes --days 60`,
	RunE: runRegimes,
}

var (
	// Flags
	regimesDays int
)

func init() {
	rootCmd.AddCommand(regimesCmd)

	// Flags
	regimesCmd.Flags().IntVar(&regimesDays, "days", 30, "분류할 마지막 N일")
}

func runRegimes(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast Supply Regimes ===")

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

	classifier, err := regime.NewClassifier(rc.Regimes.Thresholds)
	if err != nil {
		return err
	}

	t := classifier.Thresholds()
	fmt.Printf("🎚️  Thresholds on %s: crisis ≤ %.1f < tight ≤ %.1f < normal\n\n",
		rc.Data.MetricColumn, t.TLow, t.THigh)

	metric, err := panel.Column(rc.Data.MetricColumn)
	if err != nil {
		return err
	}

	from := panel.Len() - regimesDays
	if from < 0 {
		from = 0
	}

	fmt.Printf("%-12s %12s  %s\n", "Date", rc.Data.MetricColumn, "Regime")
	fmt.Println(strings.Repeat("─", 36))

	counts := map[regime.Regime]int{}
	var classified int
	var lastRegime regime.Regime
	var lastValue float64
	haveLast := false

	for i := from; i < panel.Len(); i++ {
		date := panel.Date(i).Format("2006-01-02")
		if math.IsNaN(metric[i]) {
			fmt.Printf("%-12s %12s  —\n", date, "·")
			continue
		}
		r := classifier.Classify(metric[i])
		counts[r]++
		classified++
		lastRegime, lastValue, haveLast = r, metric[i], true
		fmt.Printf("%-12s %12.1f  %s %s\n", date, metric[i], regimeIcon(r), r)
	}

	if classified == 0 {
		fmt.Printf("\n⚠️  No %s observations in the last %d days\n", rc.Data.MetricColumn, regimesDays)
		return nil
	}

	fmt.Printf("\n📊 Distribution (last %d days):", classified)
	for _, r := range regime.All() {
		if counts[r] == 0 {
			continue
		}
		fmt.Printf(" %s %d (%.0f%%)", r, counts[r], float64(counts[r])/float64(classified)*100)
	}
	fmt.Println()

	if haveLast {
		fmt.Printf("Current: %s %s (%s %.1f)\n", regimeIcon(lastRegime), lastRegime, rc.Data.MetricColumn, lastValue)
	}

	return nil
}

func regimeIcon(r regime.Regime) string {
	switch r {
	case regime.Normal:
		return "🟢"
	case regime.Tight:
		return "🟡"
	case regime.Crisis:
		return "🔴"
	default:
		return "⚪"
	}
}
