package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile    string
	env           string
	verbose       bool
	runConfigFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fuelcast",
	Short: "Fuelcast - 레짐 적응형 유가 예측 엔진",
	Long: `Fuelcast Unified CLI

골드 레이어 패널에서 소매 연료 가격을 예측합니다.
리지 베이스라인 + 재고 잔차 + 베이시스 모델을 레짐별 가중치로 앙상블.

Usage:
  go run ./cmd/fuelcast [command]

Examples:
  go run ./cmd/fuelcast train
  go run ./cmd/fuelcast validate --save
  go run ./cmd/fuelcast forecast run
  go run ./cmd/fuelcast api`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().StringVar(&runConfigFile, "run-config", "", "run config YAML (default is config/runs/october_v1.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
