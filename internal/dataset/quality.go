package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// QualityConfig holds the thresholds a panel must clear before modeling.
type QualityConfig struct {
	TargetColumn    string    `yaml:"target_column"`    // weighted double in the score
	RequiredColumns []string  `yaml:"required_columns"` // must exist in the panel
	MinCoverage     float64   `yaml:"min_coverage"`     // per-column non-NaN floor (0..1)
	MaxGapDays      int       `yaml:"max_gap_days"`     // longest tolerated date gap
	MinStart        time.Time `yaml:"min_start"`        // zero = no floor
}

// DefaultQualityConfig returns the thresholds the shipped gold panel is
// expected to clear: near-complete columns and no gap longer than a week.
func DefaultQualityConfig(target string, required ...string) QualityConfig {
	return QualityConfig{
		TargetColumn:    target,
		RequiredColumns: required,
		MinCoverage:     0.95,
		MaxGapDays:      7,
	}
}

// DateGap is a run of missing calendar days between two panel rows.
type DateGap struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Days int       `json:"days"`
}

// QualitySnapshot summarizes one gate pass over a panel.
type QualitySnapshot struct {
	Rows     int                `json:"rows"`
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Coverage map[string]float64 `json:"coverage"` // column → non-NaN share
	Score    float64            `json:"score"`    // weighted average coverage
	Gaps     []DateGap          `json:"gaps,omitempty"`
	Issues   []string           `json:"issues,omitempty"`
}

// Passed reports whether the panel cleared every threshold.
func (s *QualitySnapshot) Passed() bool { return len(s.Issues) == 0 }

// QualityGate validates the "cleaned, feature-complete panel" contract the
// modeling stack assumes. It never mutates the panel; findings land on the
// snapshot as issues so callers decide whether to proceed.
type QualityGate struct {
	panel  *Panel
	config QualityConfig
}

// NewQualityGate creates a new QualityGate instance.
func NewQualityGate(panel *Panel, config QualityConfig) *QualityGate {
	return &QualityGate{
		panel:  panel,
		config: config,
	}
}

// Check validates the panel and returns a quality snapshot.
// ⭐ SSOT: 패널 품질 검증은 여기서만
func (g *QualityGate) Check() (*QualitySnapshot, error) {
	if g.panel == nil || g.panel.Len() == 0 {
		return nil, fmt.Errorf("dataset: quality gate needs a non-empty panel")
	}

	snapshot := &QualitySnapshot{
		Rows:     g.panel.Len(),
		Start:    g.panel.Date(0),
		End:      g.panel.Date(g.panel.Len() - 1),
		Coverage: make(map[string]float64),
	}

	// 1. 전체 컬럼 커버리지
	for _, col := range g.panel.Columns() {
		cov, err := g.columnCoverage(col)
		if err != nil {
			return nil, err
		}
		snapshot.Coverage[col] = cov
	}

	// 2. 필수 컬럼 체크
	for _, col := range g.requiredColumns() {
		if !g.panel.HasColumn(col) {
			snapshot.Issues = append(snapshot.Issues,
				fmt.Sprintf("required column %s missing from panel", col))
			continue
		}
		if cov := snapshot.Coverage[col]; cov < g.config.MinCoverage {
			snapshot.Issues = append(snapshot.Issues,
				fmt.Sprintf("column %s coverage %.1f%% below floor %.1f%%",
					col, cov*100, g.config.MinCoverage*100))
		}
	}

	// 3. 날짜 연속성
	snapshot.Gaps = g.findGaps()
	for _, gap := range snapshot.Gaps {
		snapshot.Issues = append(snapshot.Issues,
			fmt.Sprintf("gap of %d days between %s and %s",
				gap.Days, gap.From.Format("2006-01-02"), gap.To.Format("2006-01-02")))
	}
	if !g.config.MinStart.IsZero() && snapshot.Start.After(g.config.MinStart) {
		snapshot.Issues = append(snapshot.Issues,
			fmt.Sprintf("panel starts %s, after required %s",
				snapshot.Start.Format("2006-01-02"), g.config.MinStart.Format("2006-01-02")))
	}

	// 4. 품질 점수 계산
	snapshot.Score = g.calculateScore(snapshot.Coverage)

	return snapshot, nil
}

// requiredColumns returns the configured columns with the target first and
// without duplicates, so the score weighting is stable.
func (g *QualityGate) requiredColumns() []string {
	cols := make([]string, 0, len(g.config.RequiredColumns)+1)
	seen := make(map[string]bool)
	if g.config.TargetColumn != "" {
		cols = append(cols, g.config.TargetColumn)
		seen[g.config.TargetColumn] = true
	}
	rest := append([]string(nil), g.config.RequiredColumns...)
	sort.Strings(rest)
	for _, col := range rest {
		if col == "" || seen[col] {
			continue
		}
		cols = append(cols, col)
		seen[col] = true
	}
	return cols
}

// columnCoverage calculates the non-NaN share of one column.
func (g *QualityGate) columnCoverage(name string) (float64, error) {
	values, err := g.panel.Column(name)
	if err != nil {
		return 0, fmt.Errorf("quality coverage %s: %w", name, err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	valid := 0
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			valid++
		}
	}
	return float64(valid) / float64(len(values)), nil
}

// findGaps scans consecutive panel dates for holes longer than MaxGapDays.
func (g *QualityGate) findGaps() []DateGap {
	if g.config.MaxGapDays <= 0 {
		return nil
	}
	var gaps []DateGap
	dates := g.panel.Dates()
	for i := 1; i < len(dates); i++ {
		days := int(dates[i].Sub(dates[i-1]).Hours() / 24)
		if days > g.config.MaxGapDays {
			gaps = append(gaps, DateGap{From: dates[i-1], To: dates[i], Days: days})
		}
	}
	return gaps
}

// calculateScore calculates the overall quality score using a weighted
// average: the target column counts double, every other required column once.
// A required column missing from the panel contributes zero.
func (g *QualityGate) calculateScore(coverage map[string]float64) float64 {
	required := g.requiredColumns()
	if len(required) == 0 {
		// 필수 컬럼이 없으면 전체 컬럼 단순 평균
		if len(coverage) == 0 {
			return 0
		}
		sum := 0.0
		for _, cov := range coverage {
			sum += cov
		}
		return sum / float64(len(coverage))
	}

	score, total := 0.0, 0.0
	for _, col := range required {
		weight := 1.0
		if col == g.config.TargetColumn {
			weight = 2.0
		}
		total += weight
		if cov, exists := coverage[col]; exists {
			score += cov * weight
		}
	}
	return score / total
}
