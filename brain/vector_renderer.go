package brain

import (
	"fmt"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders the landmark map as SVG or anti-aliased PNG.
// Canvas units are millimeters; Scale converts world meters to them.
type VectorRenderer struct {
	Bounds      orb.Bound
	Scale       float64 // canvas mm per world meter
	Padding     float64 // world meters
	GridSpacing float64 // world meters, 0 disables
	Resolution  canvas.Resolution
	Colors      map[string]string
}

// NewVectorRenderer creates a vector renderer with default settings.
func NewVectorRenderer(bounds orb.Bound) *VectorRenderer {
	return &VectorRenderer{
		Bounds:      bounds,
		Scale:       50,
		Padding:     0.2,
		GridSpacing: 1,
		Resolution:  canvas.DPI(96),
		Colors:      DefaultLabelColors,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// Size returns the canvas size in millimeters.
func (r *VectorRenderer) Size() (width, height float64) {
	width = (r.Bounds.Right() - r.Bounds.Left() + 2*r.Padding) * r.Scale
	height = (r.Bounds.Top() - r.Bounds.Bottom() + 2*r.Padding) * r.Scale
	return width, height
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer, s State) error {
	width, height := r.Size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, s, width, height)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("close svg: %w", err)
	}
	return nil
}

// RenderToPNG writes the map as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer, s State) error {
	width, height := r.Size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, s, width, height)
	if err := png.Encode(w, rast); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// renderToCanvas draws the map; canvas Y already points up like the world.
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, s State, width, height float64) {
	toCanvas := func(p orb.Point) (float64, float64) {
		return (p.X() - r.Bounds.Left() + r.Padding) * r.Scale, (p.Y() - r.Bounds.Bottom() + r.Padding) * r.Scale
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	arenaStyle := canvas.DefaultStyle
	arenaStyle.Fill = canvas.Paint{Color: parseHexColor(arenaColorHex)}
	arenaStyle.Stroke = canvas.Paint{Color: canvas.Black}
	arenaStyle.StrokeWidth = 0.5
	ax, ay := toCanvas(r.Bounds.Min)
	arena := canvas.Rectangle((r.Bounds.Right()-r.Bounds.Left())*r.Scale, (r.Bounds.Top()-r.Bounds.Bottom())*r.Scale)
	renderer.RenderPath(arena.Translate(ax, ay), arenaStyle, canvas.Identity)

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{2.0, 2.0}

		for x := math.Ceil(r.Bounds.Left()/r.GridSpacing) * r.GridSpacing; x <= r.Bounds.Right(); x += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(orb.Point{x, r.Bounds.Bottom()}))
			gridPath.LineTo(toCanvas(orb.Point{x, r.Bounds.Top()}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(r.Bounds.Bottom()/r.GridSpacing) * r.GridSpacing; y <= r.Bounds.Top(); y += r.GridSpacing {
			gridPath := &canvas.Path{}
			gridPath.MoveTo(toCanvas(orb.Point{r.Bounds.Left(), y}))
			gridPath.LineTo(toCanvas(orb.Point{r.Bounds.Right(), y}))
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	for _, l := range s.Landmarks {
		cx, cy := toCanvas(orb.Point{l.X, l.Y})
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: parseHexColor(r.Colors[l.Label])}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		if l.Locked {
			style.Stroke = canvas.Paint{Color: canvas.Black}
			style.StrokeWidth = 0.8
		}
		renderer.RenderPath(canvas.Circle(l.Radius*r.Scale).Translate(cx, cy), style, canvas.Identity)
	}

	r.drawRover(renderer, toCanvas, s.Pose)
}

func (r *VectorRenderer) drawRover(renderer canvasRenderer, toCanvas func(orb.Point) (float64, float64), p Pose) {
	cx, cy := toCanvas(orb.Point{p.X, p.Y})
	roverColor := parseHexColor(roverColorHex)
	bodyRadius := 0.1 * r.Scale

	bodyStyle := canvas.DefaultStyle
	bodyStyle.Fill = canvas.Paint{Color: roverColor}
	bodyStyle.Stroke = canvas.Paint{Color: canvas.Black}
	bodyStyle.StrokeWidth = 0.6
	renderer.RenderPath(canvas.Circle(bodyRadius).Translate(cx, cy), bodyStyle, canvas.Identity)

	dirStyle := canvas.DefaultStyle
	dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	dirStyle.Stroke = canvas.Paint{Color: canvas.Black}
	dirStyle.StrokeWidth = 0.8

	dirLen := 2 * bodyRadius
	dirPath := &canvas.Path{}
	dirPath.MoveTo(cx, cy)
	dirPath.LineTo(cx+dirLen*math.Cos(p.Theta), cy+dirLen*math.Sin(p.Theta))
	renderer.RenderPath(dirPath, dirStyle, canvas.Identity)
}
