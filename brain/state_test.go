package brain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadLandmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "landmarks.json")
	cache := LandmarkCache{
		SessionID: "8a3c",
		SavedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Landmarks: []Landmark{
			{ID: 1, X: 1.25, Y: 3.5, Radius: 0.3, Label: "rock", Observations: 10, Locked: true},
			{ID: 2, X: 4, Y: 0.5, Radius: 0.04, Label: "crater", SizeClass: SizeMedium, SourceTrackID: intPtr(12), Observations: 3},
		},
	}

	require.NoError(t, SaveLandmarks(cache, path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	got, err := LoadLandmarks(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cache, *got); diff != "" {
		t.Errorf("cache mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLandmarks_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLandmarks(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = LoadLandmarks(bad)
	assert.ErrorContains(t, err, "unmarshal landmark cache")
}
