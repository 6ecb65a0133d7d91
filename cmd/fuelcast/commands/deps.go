package commands

import (
	"fmt"
	"os"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/config"
	"github.com/wonny/fuelcast/pkg/logger"
)

// ═══════════════════════════════════════════════════════════
// Shared Command Dependencies
// 모든 커맨드가 동일한 초기화 경로를 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// defaultRunConfig is loaded when --run-config is not given.
const defaultRunConfig = "config/runs/october_v1.yaml"

// initDeps loads the environment config and builds the root logger.
// Database and cache connections are opened per command, not here: train,
// validate and forecast must work without either.
func initDeps() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)
	return cfg, log, nil
}

// loadRunConfig resolves the run configuration: the --run-config file when
// given, the shipped october_v1.yaml when present, built-in defaults
// otherwise. Validation warnings are logged and do not stop the run.
func loadRunConfig(log *logger.Logger) (*runconfig.Config, string, error) {
	var (
		rc  *runconfig.Config
		err error
	)

	path := runConfigFile
	if path == "" {
		if _, statErr := os.Stat(defaultRunConfig); statErr == nil {
			path = defaultRunConfig
		}
	}

	if path != "" {
		rc, _, err = runconfig.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load run config %s: %w", path, err)
		}
	} else {
		rc, err = runconfig.Default("october_v1")
		if err != nil {
			return nil, "", fmt.Errorf("default run config: %w", err)
		}
	}

	hash, err := runconfig.Hash(rc)
	if err != nil {
		return nil, "", fmt.Errorf("hash run config: %w", err)
	}

	for _, w := range runconfig.Warn(rc) {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	fmt.Printf("📋 Run config: %s %s (hash %s)\n", rc.Meta.Name, rc.Meta.Version, shortHash(hash))
	return rc, hash, nil
}

// loadPanel reads the gold-layer panel and runs the quality gate. The gate
// is advisory: issues are logged as warnings and the run proceeds, matching
// how an operator would want a partially-degraded panel to behave.
func loadPanel(cfg *config.Config, rc *runconfig.Config, log *logger.Logger) (*dataset.Panel, error) {
	path := rc.Data.PanelPath
	if path == "" {
		path = cfg.Paths.PanelPath
	}

	panel, err := dataset.LoadCSV(path)
	if err != nil {
		return nil, fmt.Errorf("load panel %s: %w", path, err)
	}

	gate := dataset.NewQualityGate(panel, dataset.DefaultQualityConfig(rc.Data.TargetColumn, rc.Data.MetricColumn))
	snap, err := gate.Check()
	if err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}

	for _, issue := range snap.Issues {
		log.WithField("issue", issue).Warn("Panel quality issue")
	}

	quality := "✅"
	if !snap.Passed() {
		quality = "⚠️ "
	}
	fmt.Printf("📦 Panel: %d rows, %s ~ %s, quality %.1f%% %s\n",
		snap.Rows,
		snap.Start.Format("2006-01-02"),
		snap.End.Format("2006-01-02"),
		snap.Score*100,
		quality)

	return panel, nil
}

// shortHash abbreviates a config hash for console output.
func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
