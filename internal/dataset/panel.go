package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Daily Feature Panel
// =============================================================================

// Panel is the in-memory form of the gold-layer feature table: one row per
// calendar day, named numeric columns, NaN for gaps. Dates are strictly
// increasing. Panels are read-only once built; derived columns go through
// WithLag which returns a new column on the same panel.
// ⭐ SSOT: 패널 구조는 여기서만 정의
type Panel struct {
	dates   []time.Time
	columns map[string][]float64
	order   []string
}

// NewPanel builds a panel from parallel slices. Every column must have the
// same length as dates, and dates must be strictly increasing.
func NewPanel(dates []time.Time, columns map[string][]float64) (*Panel, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("panel: no rows")
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("panel: dates not strictly increasing at row %d (%s -> %s)",
				i, dates[i-1].Format("2006-01-02"), dates[i].Format("2006-01-02"))
		}
	}
	p := &Panel{
		dates:   append([]time.Time(nil), dates...),
		columns: make(map[string][]float64, len(columns)),
	}
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vals := columns[name]
		if len(vals) != len(dates) {
			return nil, fmt.Errorf("panel: column %s has %d rows, dates have %d", name, len(vals), len(dates))
		}
		p.columns[name] = append([]float64(nil), vals...)
		p.order = append(p.order, name)
	}
	return p, nil
}

// LoadCSV reads a date-keyed panel from a CSV file. The first column must be
// "date" in YYYY-MM-DD form; every other column is numeric. Empty cells and
// unparsable numbers become NaN.
func LoadCSV(path string) (*Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("panel: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a panel from an open CSV stream. See LoadCSV for the format.
func ReadCSV(r io.Reader) (*Panel, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("panel: read header: %w", err)
	}
	if len(header) < 2 || header[0] != ColDate {
		return nil, fmt.Errorf("panel: first column must be %q, got %v", ColDate, header)
	}

	cols := header[1:]
	var dates []time.Time
	values := make([][]float64, len(cols))

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("panel: line %d: %w", line, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("panel: line %d: %d fields, header has %d", line, len(record), len(header))
		}
		d, err := time.Parse("2006-01-02", record[0])
		if err != nil {
			return nil, fmt.Errorf("panel: line %d: bad date %q: %w", line, record[0], err)
		}
		dates = append(dates, d)
		for i, cell := range record[1:] {
			v, perr := strconv.ParseFloat(cell, 64)
			if cell == "" || perr != nil {
				v = math.NaN()
			}
			values[i] = append(values[i], v)
		}
	}

	columns := make(map[string][]float64, len(cols))
	for i, name := range cols {
		if _, dup := columns[name]; dup {
			return nil, fmt.Errorf("panel: duplicate column %s", name)
		}
		columns[name] = values[i]
	}
	return NewPanel(dates, columns)
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.dates) }

// Dates returns a copy of the date index.
func (p *Panel) Dates() []time.Time {
	return append([]time.Time(nil), p.dates...)
}

// Date returns the date of row i.
func (p *Panel) Date(i int) time.Time { return p.dates[i] }

// Columns returns the column names in insertion order.
func (p *Panel) Columns() []string {
	return append([]string(nil), p.order...)
}

// HasColumn reports whether the panel contains the named column.
func (p *Panel) HasColumn(name string) bool {
	_, ok := p.columns[name]
	return ok
}

// Column returns a copy of the named column.
func (p *Panel) Column(name string) ([]float64, error) {
	vals, ok := p.columns[name]
	if !ok {
		return nil, fmt.Errorf("panel: unknown column %s", name)
	}
	return append([]float64(nil), vals...), nil
}

// Value returns the value of the named column at row i.
func (p *Panel) Value(name string, i int) (float64, error) {
	vals, ok := p.columns[name]
	if !ok {
		return math.NaN(), fmt.Errorf("panel: unknown column %s", name)
	}
	return vals[i], nil
}

// ValuesAt returns the named column's values on the given dates, NaN where a
// date is not in the panel. Used to align panel-level series (e.g. the regime
// metric) with frame rows.
func (p *Panel) ValuesAt(name string, dates []time.Time) ([]float64, error) {
	col, ok := p.columns[name]
	if !ok {
		return nil, fmt.Errorf("panel: unknown column %s", name)
	}
	byDate := p.rowIndexByDate()
	out := make([]float64, len(dates))
	for i, d := range dates {
		if j, ok := byDate[dayKey(d)]; ok {
			out[i] = col[j]
		} else {
			out[i] = math.NaN()
		}
	}
	return out, nil
}

// WithLag adds (or returns) a lagged copy of src named "<src>_lag<N>". Rows
// before the lag window fill with NaN. The panel is modified in place and the
// new column's name is returned.
func (p *Panel) WithLag(src string, lag int) (string, error) {
	if lag < 1 {
		return "", fmt.Errorf("panel: lag must be >= 1, got %d", lag)
	}
	base, ok := p.columns[src]
	if !ok {
		return "", fmt.Errorf("panel: unknown column %s", src)
	}
	name := LagColumn(src, lag)
	if _, exists := p.columns[name]; exists {
		return name, nil
	}
	lagged := make([]float64, len(base))
	for i := range lagged {
		if i < lag {
			lagged[i] = math.NaN()
			continue
		}
		lagged[i] = base[i-lag]
	}
	p.columns[name] = lagged
	p.order = append(p.order, name)
	return name, nil
}

// MaterializeLags adds the _lagN columns a feature set needs but the panel
// does not carry, deriving each from its base column. Features whose base is
// also absent are left alone for the frame builder to report. Idempotent, so
// it must run before frames are built, not while they are.
func MaterializeLags(p *Panel, fs FeatureSet) error {
	for _, f := range fs.Features {
		if f.Lag < 1 || p.HasColumn(f.Name) {
			continue
		}
		base := strings.TrimSuffix(f.Name, fmt.Sprintf("_lag%d", f.Lag))
		if base == f.Name || !p.HasColumn(base) {
			// ETL이 직접 제공해야 하는 컬럼
			continue
		}
		if _, err := p.WithLag(base, f.Lag); err != nil {
			return err
		}
	}
	return nil
}

// rowIndexByDate builds a unix-day lookup for target alignment.
func (p *Panel) rowIndexByDate() map[int64]int {
	idx := make(map[int64]int, len(p.dates))
	for i, d := range p.dates {
		idx[dayKey(d)] = i
	}
	return idx
}

func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
