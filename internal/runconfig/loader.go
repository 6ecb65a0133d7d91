package runconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/wonny/fuelcast/internal/ensemble"
	"github.com/wonny/fuelcast/internal/regime"
)

// Load reads a run configuration from YAML, fills defaults and validates.
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&cfg); err != nil {
		return nil, nil, err
	}

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, data, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, data, err
	}
	return &cfg, data, nil
}

// ApplyDefaults fills zero-valued fields with their tagged defaults plus the
// pieces the tag syntax cannot express (maps and slices of structs).
func ApplyDefaults(cfg *Config) error {
	if err := defaults.Set(cfg); err != nil {
		return err
	}
	if cfg.Regimes.Thresholds == (regime.Thresholds{}) {
		cfg.Regimes.Thresholds = regime.DefaultThresholds()
	}
	if len(cfg.Ensemble.Weights) == 0 {
		cfg.Ensemble.Weights = make(map[string]ensemble.Weights, 3)
		for r, w := range ensemble.DefaultWeights() {
			cfg.Ensemble.Weights[string(r)] = w
		}
	}
	if len(cfg.Training.Alphas) == 0 {
		cfg.Training.Alphas = []float64{0.1, 1.0, 10.0, 100.0}
	}
	if len(cfg.Horizons) == 0 {
		cfg.Horizons = []int{1, 3, 7, 14, 21}
	}
	if len(cfg.Quantile.Levels) == 0 {
		cfg.Quantile.Levels = []float64{0.1, 0.5, 0.9}
	}
	if len(cfg.Bayes.ObservationDays) == 0 {
		cfg.Bayes.ObservationDays = []int{10, 16, 23, 30}
	}
	return nil
}

// Default returns a fully-defaulted config for runs without a YAML file.
func Default(name string) (*Config, error) {
	cfg := &Config{Meta: Meta{Name: name}}
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Holdout.Years) == 0 {
		cfg.Holdout.Years = []int{2021, 2022, 2023, 2024}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Hash generates a SHA256 over the canonical JSON form of the config. Stored
// with every forecast record so any output can be traced to the exact
// settings that produced it.
// 주의: map 순서 때문에 YAML 원문이 아닌 struct 직렬화로 해시
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
