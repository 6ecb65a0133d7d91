package main

import (
	"os"

	"github.com/wonny/fuelcast/cmd/fuelcast/commands"
)

// main is the entry point for the Fuelcast CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/fuelcast [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
