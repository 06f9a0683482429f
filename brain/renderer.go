package brain

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Default label colors. Unknown labels fall back to parseHexColor's red.
var DefaultLabelColors = map[string]string{
	"rock":   "#8D6E63",
	"crater": "#5C6BC0",
}

const (
	roverColorHex = "#43A047"
	arenaColorHex = "#F3E5D0"
	legendLine    = 16
	legendHeight  = 3*legendLine + 8
)

var (
	colorWhite   = color.RGBA{255, 255, 255, 255}
	colorBlack   = color.RGBA{0, 0, 0, 255}
	colorGrid    = color.RGBA{215, 200, 180, 255}
	colorOutline = color.RGBA{40, 40, 40, 255}
)

// MapRenderer draws the landmark map and rover pose as a raster image.
// World +Y points up in the image.
type MapRenderer struct {
	Bounds         orb.Bound
	PixelsPerMeter float64
	Padding        int     // pixels around the arena
	GridSpacing    float64 // meters, 0 disables grid lines
	Colors         map[string]string
}

// NewMapRenderer creates a renderer for the given arena with default settings.
func NewMapRenderer(bounds orb.Bound) *MapRenderer {
	return &MapRenderer{
		Bounds:         bounds,
		PixelsPerMeter: 100,
		Padding:        20,
		GridSpacing:    1,
		Colors:         DefaultLabelColors,
	}
}

// Size returns the output image dimensions including the legend band.
func (r *MapRenderer) Size() (width, height int) {
	w := int(math.Ceil((r.Bounds.Right()-r.Bounds.Left())*r.PixelsPerMeter)) + 2*r.Padding
	h := int(math.Ceil((r.Bounds.Top()-r.Bounds.Bottom())*r.PixelsPerMeter)) + 2*r.Padding
	return w, h + legendHeight
}

// worldToImage maps world meters to image pixels, flipping Y.
func (r *MapRenderer) worldToImage() Frame {
	pad := float64(r.Padding)
	ppm := r.PixelsPerMeter
	return ScaleXY(ppm, -ppm).Then(Translate(pad-r.Bounds.Left()*ppm, pad+r.Bounds.Top()*ppm))
}

func (r *MapRenderer) labelColor(label string) color.RGBA {
	return parseHexColor(r.Colors[label])
}

// Render draws arena, grid, landmarks, rover and a legend.
func (r *MapRenderer) Render(s State) *image.RGBA {
	w, h := r.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorWhite}, image.Point{}, draw.Src)

	m := r.worldToImage()
	toImage := func(p orb.Point) (int, int) {
		ip := m.Apply(p)
		return int(math.Round(ip.X())), int(math.Round(ip.Y()))
	}

	x0, y0 := toImage(orb.Point{r.Bounds.Left(), r.Bounds.Top()})
	x1, y1 := toImage(orb.Point{r.Bounds.Right(), r.Bounds.Bottom()})
	arena := image.Rect(x0, y0, x1, y1)
	draw.Draw(img, arena, &image.Uniform{parseHexColor(arenaColorHex)}, image.Point{}, draw.Src)

	if r.GridSpacing > 0 {
		for x := math.Ceil(r.Bounds.Left()/r.GridSpacing) * r.GridSpacing; x <= r.Bounds.Right(); x += r.GridSpacing {
			px, _ := toImage(orb.Point{x, 0})
			for py := arena.Min.Y; py < arena.Max.Y; py++ {
				img.SetRGBA(px, py, colorGrid)
			}
		}
		for y := math.Ceil(r.Bounds.Bottom()/r.GridSpacing) * r.GridSpacing; y <= r.Bounds.Top(); y += r.GridSpacing {
			_, py := toImage(orb.Point{0, y})
			for px := arena.Min.X; px < arena.Max.X; px++ {
				img.SetRGBA(px, py, colorGrid)
			}
		}
	}

	for _, l := range s.Landmarks {
		cx, cy := toImage(orb.Point{l.X, l.Y})
		radius := max(2, int(math.Round(l.Radius*r.PixelsPerMeter)))
		if l.Locked {
			drawRing(img, cx, cy, radius, radius+2, colorOutline)
		}
		drawCircle(img, cx, cy, radius, r.labelColor(l.Label))
		drawText(img, cx+radius+4, cy+4, fmt.Sprintf("#%d", l.ID), colorBlack)
	}

	rx, ry := toImage(orb.Point{s.Pose.X, s.Pose.Y})
	iconSize := max(12, int(0.2*r.PixelsPerMeter))
	// Image Y points down, so headings turn the other way.
	drawRoverIcon(img, rx, ry, iconSize, -s.Pose.Theta, parseHexColor(roverColorHex))

	r.drawLegend(img, s, h-legendHeight)
	return img
}

func (r *MapRenderer) drawLegend(img *image.RGBA, s State, top int) {
	locked := 0
	for _, l := range s.Landmarks {
		if l.Locked {
			locked++
		}
	}
	x := r.Padding
	y := top + legendLine
	drawText(img, x, y, fmt.Sprintf("decision: %s", s.Decision), colorBlack)
	y += legendLine
	drawText(img, x, y, fmt.Sprintf("pose: (%.2f, %.2f) %.0f deg", s.Pose.X, s.Pose.Y, s.Pose.Theta*180/math.Pi), colorBlack)
	y += legendLine
	drawText(img, x, y, fmt.Sprintf("landmarks: %d (%d locked)", len(s.Landmarks), locked), colorBlack)
}

// RenderGrid draws one pixel per grid cell, row 0 at the bottom.
func RenderGrid(g *Grid) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Cols, g.Rows))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorWhite}, image.Point{}, draw.Src)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if g.Occupied(col, row) {
				img.SetRGBA(col, g.Rows-1-row, colorBlack)
			}
		}
	}
	return img
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if image.Pt(x, y).In(b) {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

// drawRing fills the annulus between inner (exclusive) and outer radii.
func drawRing(img *image.RGBA, cx, cy, inner, outer int, c color.RGBA) {
	b := img.Bounds()
	for dy := -outer; dy <= outer; dy++ {
		for dx := -outer; dx <= outer; dx++ {
			d := dx*dx + dy*dy
			if d > inner*inner && d <= outer*outer {
				x, y := cx+dx, cy+dy
				if image.Pt(x, y).In(b) {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// drawRoverIcon draws a round body with an outline, a front bumper and a
// heading line. angle is in image radians.
func drawRoverIcon(img *image.RGBA, cx, cy, size int, angle float64, c color.RGBA) {
	radius := float64(size) / 2
	bumper := color.RGBA{60, 60, 60, 255}
	cos, sin := math.Cos(angle), math.Sin(angle)

	drawRing(img, cx, cy, int(radius), int(radius)+2, colorOutline)
	drawCircle(img, cx, cy, int(radius), c)

	// Bumper: the front quarter of the body, in the rover's local frame.
	b := img.Bounds()
	for dy := -int(radius); dy <= int(radius); dy++ {
		for dx := -int(radius); dx <= int(radius); dx++ {
			fx, fy := float64(dx), float64(dy)
			localX := fx*cos + fy*sin
			localY := -fx*sin + fy*cos
			if math.Hypot(fx, fy) <= radius && localX > radius*0.75 && math.Abs(localY) < radius*0.7 {
				if image.Pt(cx+dx, cy+dy).In(b) {
					img.SetRGBA(cx+dx, cy+dy, bumper)
				}
			}
		}
	}

	for t := 0.0; t <= 1.0; t += 0.05 {
		l := radius * (0.2 + 1.1*t)
		px := int(math.Round(float64(cx) + l*cos))
		py := int(math.Round(float64(cy) + l*sin))
		if image.Pt(px, py).In(b) {
			img.SetRGBA(px, py, colorOutline)
		}
	}
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
