package brain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Grid is a boolean occupancy grid over the map. Cell (0, 0) covers the
// world origin; rows grow with +Y.
type Grid struct {
	Resolution float64 // meters per cell
	Cols, Rows int
	cells      []bool
}

// NewGrid sizes a grid to cover the map extents.
func NewGrid(m MapConfig) *Grid {
	res := m.GridResolution
	if res <= 0 {
		res = DefaultGridResolution
	}
	// Tolerate float noise so 5 m / 2 cm is exactly 250 columns.
	cols := int(math.Ceil(m.Width/res - 1e-9))
	rows := int(math.Ceil(m.Height/res - 1e-9))
	return &Grid{
		Resolution: res,
		Cols:       cols,
		Rows:       rows,
		cells:      make([]bool, cols*rows),
	}
}

// Occupied reports whether a cell is marked. Out-of-range cells are free.
func (g *Grid) Occupied(col, row int) bool {
	if col < 0 || row < 0 || col >= g.Cols || row >= g.Rows {
		return false
	}
	return g.cells[row*g.Cols+col]
}

// CellCenter returns the world coordinates of a cell center.
func (g *Grid) CellCenter(col, row int) orb.Point {
	return orb.Point{(float64(col) + 0.5) * g.Resolution, (float64(row) + 0.5) * g.Resolution}
}

// Count returns the number of occupied cells.
func (g *Grid) Count() int {
	n := 0
	for _, c := range g.cells {
		if c {
			n++
		}
	}
	return n
}

// Clear frees every cell.
func (g *Grid) Clear() {
	clear(g.cells)
}

// Rasterize marks every cell whose center lies inside a landmark disc.
func (g *Grid) Rasterize(landmarks []Landmark) {
	for _, l := range landmarks {
		center := orb.Point{l.X, l.Y}
		minC := int(math.Floor((l.X - l.Radius) / g.Resolution))
		maxC := int(math.Floor((l.X + l.Radius) / g.Resolution))
		minR := int(math.Floor((l.Y - l.Radius) / g.Resolution))
		maxR := int(math.Floor((l.Y + l.Radius) / g.Resolution))
		for row := max(minR, 0); row <= min(maxR, g.Rows-1); row++ {
			for col := max(minC, 0); col <= min(maxC, g.Cols-1); col++ {
				if planar.Distance(g.CellCenter(col, row), center) <= l.Radius {
					g.cells[row*g.Cols+col] = true
				}
			}
		}
	}
}
