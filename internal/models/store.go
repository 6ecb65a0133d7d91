package models

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
// Artifact File Store
// =============================================================================

// Store persists artifacts as JSON under a single directory. Every save
// writes a timestamped version plus a "<key>_latest.json" pointer, so
// consumers read the pointer while history stays on disk for audits.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save validates and writes the artifact. Returns the versioned file path.
func (s *Store) Save(a *Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifact store: marshal %s: %w", a.Key(), err)
	}

	stamp := a.TrainedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	versioned := filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", a.Key(), stamp.UTC().Format("20060102T150405Z")))
	if err := os.WriteFile(versioned, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact store: write %s: %w", versioned, err)
	}

	latest := s.latestPath(a.Key())
	if err := os.WriteFile(latest, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact store: write %s: %w", latest, err)
	}
	return versioned, nil
}

// Load reads the latest artifact for a key.
func (s *Store) Load(key string) (*Artifact, error) {
	data, err := os.ReadFile(s.latestPath(key))
	if err != nil {
		return nil, fmt.Errorf("artifact store: read %s: %w", key, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("artifact store: unmarshal %s: %w", key, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Keys lists every key with a latest pointer, sorted.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("artifact store: list %s: %w", s.dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, "_latest.json") {
			keys = append(keys, strings.TrimSuffix(name, "_latest.json"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) latestPath(key string) string {
	return filepath.Join(s.dir, key+"_latest.json")
}
