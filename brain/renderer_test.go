package brain

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var arena5m = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5, 5}}

func TestMapRenderer_Size(t *testing.T) {
	w, h := NewMapRenderer(arena5m).Size()
	assert.Equal(t, 540, w)
	assert.Equal(t, 540+legendHeight, h)
}

func TestMapRenderer_Render(t *testing.T) {
	r := NewMapRenderer(arena5m)
	s := State{
		Pose:     Pose{X: 2.5, Y: 2.5},
		Decision: TurnLeft,
		Landmarks: []Landmark{
			{ID: 1, X: 1, Y: 4, Radius: 0.3, Label: "rock", Observations: 10, Locked: true},
			{ID: 2, X: 4, Y: 1, Radius: 0.3, Label: "crater", Observations: 2},
			{ID: 3, X: 4, Y: 4, Radius: 0.1, Label: "alien"},
		},
	}
	img := r.Render(s)

	// (1, 4) lands at (120, 120) with Y flipped.
	assert.Equal(t, parseHexColor("#8D6E63"), img.RGBAAt(120, 120))
	assert.Equal(t, colorOutline, img.RGBAAt(120+31, 120), "locked landmarks get an outline")

	assert.Equal(t, parseHexColor("#5C6BC0"), img.RGBAAt(420, 420))
	assert.NotEqual(t, colorOutline, img.RGBAAt(420+31, 420))

	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(420, 120), "unknown label falls back to red")

	assert.Equal(t, parseHexColor(roverColorHex), img.RGBAAt(270, 274))
	assert.Equal(t, parseHexColor(arenaColorHex), img.RGBAAt(70, 470))
	assert.Equal(t, colorWhite, img.RGBAAt(5, 5), "padding stays white")
}

func TestMapRenderer_HeadingUsesImageFrame(t *testing.T) {
	r := NewMapRenderer(arena5m)
	r.GridSpacing = 0

	// Facing +Y the heading line runs up the image.
	img := r.Render(State{Pose: Pose{X: 2.5, Y: 2.5, Theta: 1.5707963267948966}})
	assert.Equal(t, colorOutline, img.RGBAAt(270, 270-8))
	assert.NotEqual(t, colorOutline, img.RGBAAt(270, 270+8))
}

func TestRenderGrid(t *testing.T) {
	g := NewGrid(MapConfig{Width: 1, Height: 0.5, GridResolution: 0.1})
	g.Rasterize([]Landmark{{X: 0.05, Y: 0.05, Radius: 0.01}})

	img := RenderGrid(g)
	require.Equal(t, 10, img.Bounds().Dx())
	require.Equal(t, 5, img.Bounds().Dy())
	assert.Equal(t, colorBlack, img.RGBAAt(0, 4), "row 0 is drawn at the bottom")
	assert.Equal(t, colorWhite, img.RGBAAt(0, 0))
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, RenderGrid(NewGrid(MapConfig{Width: 1, Height: 1, GridResolution: 0.25}))))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"#43A047", color.RGBA{0x43, 0xa0, 0x47, 255}},
		{"8d6e63", color.RGBA{0x8d, 0x6e, 0x63, 255}},
		{"", color.RGBA{255, 0, 0, 255}},
		{"#fff", color.RGBA{255, 0, 0, 255}},
		{"#zzzzzz", color.RGBA{255, 0, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseHexColor(tt.in))
		})
	}
}
