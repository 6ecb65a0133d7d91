package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Forecast Record File Store
// =============================================================================

// Store persists served records as JSON under a single directory, one
// timestamped file per save plus a "forecast_h<horizon>_latest.json" pointer.
// The history files feed the accuracy evaluator once target dates realize.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("forecast store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("forecast store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func recordKey(horizon int) string {
	return fmt.Sprintf("forecast_h%d", horizon)
}

// Save writes the record. Returns the versioned file path.
func (s *Store) Save(rec *Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("forecast store: nil record")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("forecast store: marshal h%d: %w", rec.Horizon, err)
	}

	stamp := rec.CreatedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	key := recordKey(rec.Horizon)
	versioned := filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", key, stamp.UTC().Format("20060102T150405Z")))
	if err := os.WriteFile(versioned, data, 0o644); err != nil {
		return "", fmt.Errorf("forecast store: write %s: %w", versioned, err)
	}

	latest := filepath.Join(s.dir, key+"_latest.json")
	if err := os.WriteFile(latest, data, 0o644); err != nil {
		return "", fmt.Errorf("forecast store: write %s: %w", latest, err)
	}
	return versioned, nil
}

// Latest reads the latest record for a horizon.
func (s *Store) Latest(horizon int) (*Record, error) {
	path := filepath.Join(s.dir, recordKey(horizon)+"_latest.json")
	return s.read(path)
}

// LatestAll reads every latest pointer in the store, ordered by horizon.
func (s *Store) LatestAll() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("forecast store: list %s: %w", s.dir, err)
	}
	var recs []Record
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "forecast_h") || !strings.HasSuffix(name, "_latest.json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Horizon < recs[j].Horizon })
	return recs, nil
}

// History reads every versioned record (latest pointers excluded), ordered by
// forecast date then horizon. This is the accuracy evaluator's input.
func (s *Store) History() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("forecast store: list %s: %w", s.dir, err)
	}
	var recs []Record
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "forecast_h") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasSuffix(name, "_latest.json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].ForecastDate.Equal(recs[j].ForecastDate) {
			return recs[i].ForecastDate.Before(recs[j].ForecastDate)
		}
		return recs[i].Horizon < recs[j].Horizon
	})
	return recs, nil
}

func (s *Store) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forecast store: read %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("forecast store: unmarshal %s: %w", path, err)
	}
	return &rec, nil
}
