package regime

import "fmt"

// Regime is the supply-condition label driving model selection and ensemble
// weighting. The set is closed: every classifier output is one of these
// three.
type Regime string

const (
	Normal Regime = "normal" // comfortable supply
	Tight  Regime = "tight"  // below-average days of supply
	Crisis Regime = "crisis" // acute shortage
)

// All returns every regime in severity order, mildest first.
func All() []Regime {
	return []Regime{Normal, Tight, Crisis}
}

// Valid reports whether r is one of the closed set.
func (r Regime) Valid() bool {
	switch r {
	case Normal, Tight, Crisis:
		return true
	}
	return false
}

// Thresholds are the days-of-supply cut points. Strictly more than THigh
// days is Normal, strictly more than TLow is Tight, anything else is Crisis.
type Thresholds struct {
	TLow  float64 `json:"t_low" yaml:"t_low"`
	THigh float64 `json:"t_high" yaml:"t_high"`
}

// DefaultThresholds returns the shipped Gulf Coast gasoline cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{TLow: 23, THigh: 26}
}

// Validate rejects inverted or non-positive cut points.
func (t Thresholds) Validate() error {
	if t.TLow <= 0 || t.THigh <= 0 {
		return fmt.Errorf("regime thresholds: must be positive, got t_low=%g t_high=%g", t.TLow, t.THigh)
	}
	if t.TLow >= t.THigh {
		return fmt.Errorf("regime thresholds: t_low %g must be below t_high %g", t.TLow, t.THigh)
	}
	return nil
}

// Classifier maps a supply metric to a regime.
// ⭐ SSOT: 레짐 판정은 이 타입에서만
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier validates the thresholds and returns a classifier.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

// Thresholds returns the configured cut points.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Classify is total: every float64, including NaN, maps to a regime. The
// comparisons are ordered so that NaN falls through to Crisis — an unknown
// supply metric is treated as the most severe case, never silently Normal.
func (c *Classifier) Classify(metric float64) Regime {
	switch {
	case metric > c.thresholds.THigh:
		return Normal
	case metric > c.thresholds.TLow:
		return Tight
	default:
		return Crisis
	}
}

// ClassifySeries labels a whole metric series.
func (c *Classifier) ClassifySeries(metrics []float64) []Regime {
	out := make([]Regime, len(metrics))
	for i, m := range metrics {
		out[i] = c.Classify(m)
	}
	return out
}
