package brain

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorTestState() State {
	return State{
		Pose: Pose{X: 2.5, Y: 2.5, Theta: 0.3},
		Landmarks: []Landmark{
			{ID: 1, X: 1, Y: 4, Radius: 0.3, Label: "rock", Locked: true},
			{ID: 2, X: 4, Y: 1, Radius: 0.05, Label: "crater"},
		},
	}
}

func TestVectorRenderer_Size(t *testing.T) {
	w, h := NewVectorRenderer(arena5m).Size()
	assert.InDelta(t, 270.0, w, 1e-9)
	assert.InDelta(t, 270.0, h, 1e-9)
}

func TestVectorRenderer_RenderToSVG(t *testing.T) {
	r := NewVectorRenderer(arena5m)

	var empty, full bytes.Buffer
	require.NoError(t, r.RenderToSVG(&empty, State{Pose: Pose{X: 2.5, Y: 2.5}}))
	require.NoError(t, r.RenderToSVG(&full, vectorTestState()))

	out := full.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "path")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</svg>"))
	assert.Greater(t, full.Len(), empty.Len(), "landmarks add paths")
}

func TestVectorRenderer_RenderToPNG(t *testing.T) {
	r := NewVectorRenderer(arena5m)
	r.GridSpacing = 0

	var buf bytes.Buffer
	require.NoError(t, r.RenderToPNG(&buf, vectorTestState()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	// 270 mm at 96 DPI.
	assert.InDelta(t, 1020, img.Bounds().Dx(), 2)
	assert.InDelta(t, 1020, img.Bounds().Dy(), 2)
}
