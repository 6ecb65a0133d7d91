package dataset

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Frame Builder
// =============================================================================

// Frame is a model-ready training table for one horizon: features observed at
// Dates[i], target realized at TargetDates[i] = Dates[i] + horizon days. Rows
// with a missing target or any missing feature are dropped at build time, so
// a frame never contains NaN.
type Frame struct {
	FeatureSet  FeatureSet
	Horizon     int
	Dates       []time.Time
	TargetDates []time.Time
	X           [][]float64 // 행 단위 피처 벡터
	Y           []float64
}

// FrameBuilder aligns panel features at the as-of date with the target at
// date + horizon. Every frame in the system is built here, which is what
// makes the leakage guarantee enforceable.
// ⭐ SSOT: 타깃 시프트와 누출 검사는 이 빌더에서만
type FrameBuilder struct {
	panel     *Panel
	targetCol string
}

// NewFrameBuilder creates a builder over a panel with the given target column.
func NewFrameBuilder(panel *Panel, targetCol string) (*FrameBuilder, error) {
	if panel == nil {
		return nil, fmt.Errorf("frame builder: nil panel")
	}
	if !panel.HasColumn(targetCol) {
		return nil, fmt.Errorf("frame builder: target column %s not in panel", targetCol)
	}
	return &FrameBuilder{panel: panel, targetCol: targetCol}, nil
}

// TargetColumn returns the configured target column name.
func (b *FrameBuilder) TargetColumn() string { return b.targetCol }

// Build produces the frame for one horizon. It refuses negative horizons and
// any target-derived feature without a lag before touching a single value;
// the error in both cases is a TemporalLeakageError because proceeding would
// contaminate every downstream metric.
func (b *FrameBuilder) Build(fs FeatureSet, horizon int) (*Frame, error) {
	if horizon < 0 {
		return nil, &TemporalLeakageError{
			FeatureSet: fs.ID,
			Reason:     fmt.Sprintf("negative horizon %d would read the target from the past", horizon),
		}
	}
	if err := fs.CheckLeakage(1); err != nil {
		return nil, err
	}
	for _, f := range fs.Features {
		if f.Name == b.targetCol {
			return nil, &TemporalLeakageError{
				Feature:    f,
				FeatureSet: fs.ID,
				Reason:     "target column used as a feature",
			}
		}
		if !b.panel.HasColumn(f.Name) {
			return nil, fmt.Errorf("frame builder: feature column %s not in panel", f.Name)
		}
	}

	cols := make([][]float64, fs.Len())
	for i, f := range fs.Features {
		cols[i] = b.panel.columns[f.Name]
	}
	target := b.panel.columns[b.targetCol]
	byDate := b.panel.rowIndexByDate()

	n := b.panel.Len()
	frame := &Frame{FeatureSet: fs, Horizon: horizon}
	for i := 0; i < n; i++ {
		asOf := b.panel.dates[i]
		targetDate := asOf.AddDate(0, 0, horizon)
		j, ok := byDate[dayKey(targetDate)]
		if !ok {
			continue // target not yet realized
		}
		y := target[j]
		if math.IsNaN(y) {
			continue
		}
		row := make([]float64, fs.Len())
		complete := true
		for k, col := range cols {
			v := col[i]
			if math.IsNaN(v) {
				complete = false
				break
			}
			row[k] = v
		}
		if !complete {
			continue
		}
		frame.Dates = append(frame.Dates, asOf)
		frame.TargetDates = append(frame.TargetDates, targetDate)
		frame.X = append(frame.X, row)
		frame.Y = append(frame.Y, y)
	}

	if frame.Len() == 0 {
		return nil, &InsufficientDataError{
			Context: fmt.Sprintf("frame %s h=%d", fs.ID, horizon),
			Rows:    0,
			Min:     1,
		}
	}
	return frame, nil
}

// BuildAsOf produces a single-row serving frame: features observed at asOf,
// target at asOf + horizon days still unrealized, so Y stays empty. The same
// leakage checks as Build apply; a missing feature value at asOf is an
// InsufficientDataError because nothing can be served from it.
func (b *FrameBuilder) BuildAsOf(fs FeatureSet, horizon int, asOf time.Time) (*Frame, error) {
	if horizon < 0 {
		return nil, &TemporalLeakageError{
			FeatureSet: fs.ID,
			Reason:     fmt.Sprintf("negative horizon %d would read the target from the past", horizon),
		}
	}
	if err := fs.CheckLeakage(1); err != nil {
		return nil, err
	}
	for _, f := range fs.Features {
		if f.Name == b.targetCol {
			return nil, &TemporalLeakageError{
				Feature:    f,
				FeatureSet: fs.ID,
				Reason:     "target column used as a feature",
			}
		}
		if !b.panel.HasColumn(f.Name) {
			return nil, fmt.Errorf("frame builder: feature column %s not in panel", f.Name)
		}
	}

	byDate := b.panel.rowIndexByDate()
	i, ok := byDate[dayKey(asOf)]
	if !ok {
		return nil, fmt.Errorf("frame builder: as-of date %s not in panel", asOf.Format("2006-01-02"))
	}
	row := make([]float64, fs.Len())
	for k, f := range fs.Features {
		v := b.panel.columns[f.Name][i]
		if math.IsNaN(v) {
			return nil, &InsufficientDataError{
				Context: fmt.Sprintf("feature %s at %s", f.Name, asOf.Format("2006-01-02")),
				Rows:    0,
				Min:     1,
			}
		}
		row[k] = v
	}
	return &Frame{
		FeatureSet:  fs,
		Horizon:     horizon,
		Dates:       []time.Time{asOf},
		TargetDates: []time.Time{asOf.AddDate(0, 0, horizon)},
		X:           [][]float64{row},
	}, nil
}

// Len returns the number of rows. Serving frames carry no Y, so the feature
// side is authoritative.
func (f *Frame) Len() int { return len(f.X) }

// Matrix returns the design matrix and target vector in gonum form. The
// returned matrix is a fresh copy; solvers may not mutate the frame.
func (f *Frame) Matrix() (*mat.Dense, []float64) {
	rows, cols := f.Len(), f.FeatureSet.Len()
	x := mat.NewDense(rows, cols, nil)
	for i, row := range f.X {
		x.SetRow(i, row)
	}
	y := append([]float64(nil), f.Y...)
	return x, y
}

// FeatureIndex returns the column position of the named feature, or -1.
func (f *Frame) FeatureIndex(name string) int {
	for i, feat := range f.FeatureSet.Features {
		if feat.Name == name {
			return i
		}
	}
	return -1
}

// Select projects the frame onto a subset feature set, preserving rows. Every
// feature of the subset must exist in the frame.
func (f *Frame) Select(fs FeatureSet) (*Frame, error) {
	idx := make([]int, fs.Len())
	for i, feat := range fs.Features {
		j := f.FeatureIndex(feat.Name)
		if j < 0 {
			return nil, fmt.Errorf("frame: feature %s not in frame %s", feat.Name, f.FeatureSet.ID)
		}
		idx[i] = j
	}
	out := &Frame{
		FeatureSet:  fs,
		Horizon:     f.Horizon,
		Dates:       f.Dates,
		TargetDates: f.TargetDates,
		Y:           f.Y,
	}
	out.X = make([][]float64, f.Len())
	for i, row := range f.X {
		sub := make([]float64, len(idx))
		for k, j := range idx {
			sub[k] = row[j]
		}
		out.X[i] = sub
	}
	return out, nil
}

// subset returns a frame with only the given row indices (shared backing for
// dates and targets is fine: frames are read-only).
func (f *Frame) subset(rows []int) *Frame {
	out := &Frame{FeatureSet: f.FeatureSet, Horizon: f.Horizon}
	for _, i := range rows {
		out.Dates = append(out.Dates, f.Dates[i])
		out.TargetDates = append(out.TargetDates, f.TargetDates[i])
		out.X = append(out.X, f.X[i])
		out.Y = append(out.Y, f.Y[i])
	}
	return out
}

// Slice returns rows [from, to) as a frame.
func (f *Frame) Slice(from, to int) *Frame {
	out := &Frame{FeatureSet: f.FeatureSet, Horizon: f.Horizon}
	out.Dates = f.Dates[from:to]
	out.TargetDates = f.TargetDates[from:to]
	out.X = f.X[from:to]
	out.Y = f.Y[from:to]
	return out
}

// SplitByTargetDate splits into rows whose target realizes before the cut and
// rows at or after it. This is the walk-forward boundary: everything the
// model trains on must have fully realized before the holdout begins.
func (f *Frame) SplitByTargetDate(cut time.Time) (train, holdout *Frame) {
	var trainRows, holdRows []int
	for i, td := range f.TargetDates {
		if td.Before(cut) {
			trainRows = append(trainRows, i)
		} else {
			holdRows = append(holdRows, i)
		}
	}
	return f.subset(trainRows), f.subset(holdRows)
}

// WindowByTargetDate returns rows whose target date falls in [from, to).
func (f *Frame) WindowByTargetDate(from, to time.Time) *Frame {
	var rows []int
	for i, td := range f.TargetDates {
		if !td.Before(from) && td.Before(to) {
			rows = append(rows, i)
		}
	}
	return f.subset(rows)
}

// FilterRows returns rows for which keep returns true, in order.
func (f *Frame) FilterRows(keep func(i int) bool) *Frame {
	var rows []int
	for i := range f.Y {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return f.subset(rows)
}
