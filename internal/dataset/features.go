package dataset

import (
	"fmt"
	"strings"
)

// =============================================================================
// Feature Tagging
// =============================================================================

// Kind classifies how a feature relates to observation time.
type Kind string

const (
	// KindRaw: observed directly at the as-of date (prices, fundamentals).
	KindRaw Kind = "raw"
	// KindLagged: a shifted copy of another column; value from lag days earlier.
	KindLagged Kind = "lagged"
	// KindCalendar: deterministic function of the date itself.
	KindCalendar Kind = "calendar"
)

// Feature is a tagged column reference. The tag records everything needed to
// decide, at construction time, whether using the column would leak the
// prediction target: its kind, its lag in days, and whether the column is
// algebraically derived from the target series.
// ⭐ SSOT: 피처의 누출 판정은 이 타입의 태그로만 수행
type Feature struct {
	Name          string `json:"name"`
	Kind          Kind   `json:"kind"`
	Lag           int    `json:"lag"`            // 일 단위 (0 = 당일 관측)
	TargetDerived bool   `json:"target_derived"` // 타깃에서 파생된 컬럼 여부
}

// Raw returns a feature observed at the as-of date.
func Raw(name string) Feature {
	return Feature{Name: name, Kind: KindRaw}
}

// Lagged returns a feature holding the value of a series from lag days earlier.
func Lagged(name string, lag int) Feature {
	return Feature{Name: name, Kind: KindLagged, Lag: lag}
}

// Calendar returns a feature computed from the date alone.
func Calendar(name string) Feature {
	return Feature{Name: name, Kind: KindCalendar}
}

// TargetLagged returns a lagged feature that is derived from the target series
// (e.g. a lagged retail margin). The zero-lag variant of such a column is the
// target minus a known quantity and must never reach a model.
func TargetLagged(name string, lag int) Feature {
	return Feature{Name: name, Kind: KindLagged, Lag: lag, TargetDerived: true}
}

// LeaksTarget reports whether using this feature at the as-of date would
// expose information from the target at or after that date.
func (f Feature) LeaksTarget() bool {
	return f.TargetDerived && f.Lag < 1
}

// String returns a compact identifier used in logs and error messages.
func (f Feature) String() string {
	if f.Lag > 0 {
		return fmt.Sprintf("%s(%s,lag=%d)", f.Name, f.Kind, f.Lag)
	}
	return fmt.Sprintf("%s(%s)", f.Name, f.Kind)
}

// =============================================================================
// FeatureSet
// =============================================================================

// FeatureSet is an ordered, versioned list of features used by one model
// variant. The ID is persisted with every artifact so a stored model can be
// matched against the exact column list it was trained on.
type FeatureSet struct {
	ID       string    `json:"id"`
	Features []Feature `json:"features"`
}

// NewFeatureSet creates a feature set, rejecting duplicate column names.
func NewFeatureSet(id string, features ...Feature) (FeatureSet, error) {
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if f.Name == "" {
			return FeatureSet{}, fmt.Errorf("feature set %s: empty feature name", id)
		}
		if seen[f.Name] {
			return FeatureSet{}, fmt.Errorf("feature set %s: duplicate feature %s", id, f.Name)
		}
		seen[f.Name] = true
	}
	return FeatureSet{ID: id, Features: features}, nil
}

// MustFeatureSet is NewFeatureSet for the package-level defaults, where a
// construction failure is a programming error.
func MustFeatureSet(id string, features ...Feature) FeatureSet {
	fs, err := NewFeatureSet(id, features...)
	if err != nil {
		panic(err)
	}
	return fs
}

// Names returns the ordered column names.
func (fs FeatureSet) Names() []string {
	names := make([]string, len(fs.Features))
	for i, f := range fs.Features {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of features.
func (fs FeatureSet) Len() int { return len(fs.Features) }

// Contains reports whether the set includes a feature with the given name.
func (fs FeatureSet) Contains(name string) bool {
	for _, f := range fs.Features {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Subset returns a new set containing the named features in the given order.
func (fs FeatureSet) Subset(id string, names ...string) (FeatureSet, error) {
	byName := make(map[string]Feature, len(fs.Features))
	for _, f := range fs.Features {
		byName[f.Name] = f
	}
	picked := make([]Feature, 0, len(names))
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return FeatureSet{}, fmt.Errorf("subset %s: feature %s not in set %s", id, name, fs.ID)
		}
		picked = append(picked, f)
	}
	return NewFeatureSet(id, picked...)
}

// Union merges sets into one, deduplicating by name. Two sets defining the
// same name with different tags (kind, lag, target flag) cannot be merged:
// that would make the leakage class of the column ambiguous.
func Union(id string, sets ...FeatureSet) (FeatureSet, error) {
	seen := make(map[string]Feature)
	var merged []Feature
	for _, fs := range sets {
		for _, f := range fs.Features {
			prev, ok := seen[f.Name]
			if !ok {
				seen[f.Name] = f
				merged = append(merged, f)
				continue
			}
			if prev != f {
				return FeatureSet{}, fmt.Errorf("union %s: conflicting definitions of feature %s (%s vs %s)", id, f.Name, prev, f)
			}
		}
	}
	return NewFeatureSet(id, merged...)
}

// CheckLeakage verifies that no target-derived feature in the set carries a
// lag below minTargetLag. minTargetLag = 1 is the frame builder's baseline
// rule (no same-day target transforms); models with stricter requirements
// pass their own minimum.
func (fs FeatureSet) CheckLeakage(minTargetLag int) error {
	if minTargetLag < 1 {
		minTargetLag = 1
	}
	for _, f := range fs.Features {
		if f.TargetDerived && f.Lag < minTargetLag {
			return &TemporalLeakageError{
				Feature:    f,
				FeatureSet: fs.ID,
				Reason:     fmt.Sprintf("target-derived feature requires lag >= %d, got %d", minTargetLag, f.Lag),
			}
		}
	}
	return nil
}

// String renders the set as "id[a,b,c]".
func (fs FeatureSet) String() string {
	return fmt.Sprintf("%s[%s]", fs.ID, strings.Join(fs.Names(), ","))
}

// =============================================================================
// Gold-layer column names
// =============================================================================

// Column names produced by the upstream gold-layer ETL. The forecaster never
// computes these; it only consumes them by name.
const (
	ColDate         = "date"
	ColRetailPrice  = "retail_price" // 예측 타깃
	ColPriceRBOB    = "price_rbob"
	ColPriceWTI     = "price_wti"
	ColCrackSpread  = "crack_spread"
	ColRetailMargin = "retail_margin" // retail_price - price_rbob (타깃 파생)
	ColRBOBLag3     = "rbob_lag3"
	ColRBOBLag7     = "rbob_lag7"
	ColRBOBLag14    = "rbob_lag14"
	ColDeltaRBOB1W  = "delta_rbob_1w"
	ColRBOBReturn1D = "rbob_return_1d"
	ColVolRBOB10D   = "vol_rbob_10d"
	ColInventory    = "inventory_mbbl"
	ColUtilization  = "utilization_pct"
	ColNetImports   = "net_imports_kbd"
	ColPADD3Share   = "padd3_share"
	ColDaysSupply   = "days_supply"
	ColWinterBlend  = "winter_blend_effect"
	ColDaysSinceOct = "days_since_oct1"
	ColWeekday      = "weekday"
	ColIsWeekend    = "is_weekend"
)

// LagColumn returns the conventional name of a lagged copy of col.
func LagColumn(col string, lag int) string {
	return fmt.Sprintf("%s_lag%d", col, lag)
}

// BaselineFeatures is the full feature set used by the ridge baseline.
func BaselineFeatures() FeatureSet {
	return MustFeatureSet("fs_baseline_v1",
		Raw(ColPriceRBOB),
		Raw(ColPriceWTI),
		Raw(ColCrackSpread),
		Lagged(ColRBOBLag3, 3),
		Lagged(ColRBOBLag7, 7),
		Lagged(ColRBOBLag14, 14),
		Raw(ColDeltaRBOB1W),
		Raw(ColVolRBOB10D),
		Raw(ColInventory),
		Raw(ColUtilization),
		Raw(ColNetImports),
		Raw(ColPADD3Share),
		Calendar(ColWinterBlend),
		Calendar(ColDaysSinceOct),
	)
}

// FundamentalsFeatures is the narrow supply-side subset used by the residual
// premium stage.
func FundamentalsFeatures() FeatureSet {
	return MustFeatureSet("fs_fundamentals_v1",
		Raw(ColInventory),
		Raw(ColUtilization),
		Raw(ColNetImports),
		Raw(ColPADD3Share),
	)
}

// BasisFeatures is the basis-adjusted model's set: base price, lagged margin
// and a small momentum block. The margin enters only through lagged copies.
func BasisFeatures() FeatureSet {
	return MustFeatureSet("fs_basis_v1",
		Raw(ColPriceRBOB),
		TargetLagged(LagColumn(ColRetailMargin, 7), 7),
		TargetLagged(LagColumn(ColRetailMargin, 14), 14),
		Raw(ColCrackSpread),
		Raw(ColDeltaRBOB1W),
	)
}
