package brain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LandmarkCache is the on-disk landmark snapshot.
type LandmarkCache struct {
	SessionID string     `json:"sessionId"`
	SavedAt   time.Time  `json:"savedAt"`
	Landmarks []Landmark `json:"landmarks"`
}

// SaveLandmarks writes the cache as indented JSON. The file is replaced
// atomically so a crash never leaves a truncated cache behind.
func SaveLandmarks(cache LandmarkCache, path string) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal landmark cache: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write landmark cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace landmark cache: %w", err)
	}
	return nil
}

// LoadLandmarks reads a cache written by SaveLandmarks.
func LoadLandmarks(path string) (*LandmarkCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read landmark cache: %w", err)
	}
	var cache LandmarkCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("unmarshal landmark cache: %w", err)
	}
	return &cache, nil
}
