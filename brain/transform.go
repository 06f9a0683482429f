package brain

import (
	"math"

	"github.com/paulmach/orb"
)

// Frame maps points from one planar coordinate frame into another.
//
//	x' = A*x + B*y + Tx
//	y' = C*x + D*y + Ty
type Frame struct {
	A, B, Tx float64
	C, D, Ty float64
}

// Identity leaves points where they are.
func Identity() Frame {
	return Frame{A: 1, D: 1}
}

// Translate shifts by (tx, ty).
func Translate(tx, ty float64) Frame {
	return Frame{A: 1, Tx: tx, D: 1, Ty: ty}
}

// Rotate turns counter-clockwise by angle radians about the origin.
func Rotate(angle float64) Frame {
	sin, cos := math.Sincos(angle)
	return Frame{A: cos, B: -sin, C: sin, D: cos}
}

// ScaleXY stretches each axis independently. A negative factor mirrors.
func ScaleXY(sx, sy float64) Frame {
	return Frame{A: sx, D: sy}
}

// Apply maps p through f.
func (f Frame) Apply(p orb.Point) orb.Point {
	return orb.Point{
		f.A*p.X() + f.B*p.Y() + f.Tx,
		f.C*p.X() + f.D*p.Y() + f.Ty,
	}
}

// Then returns the frame that applies f first and g second.
func (f Frame) Then(g Frame) Frame {
	return Frame{
		A:  g.A*f.A + g.B*f.C,
		B:  g.A*f.B + g.B*f.D,
		Tx: g.A*f.Tx + g.B*f.Ty + g.Tx,
		C:  g.C*f.A + g.D*f.C,
		D:  g.C*f.B + g.D*f.D,
		Ty: g.C*f.Tx + g.D*f.Ty + g.Ty,
	}
}

// PoseFrame maps rover-local (forward, lateral) coordinates into the world.
func PoseFrame(p Pose) Frame {
	return Rotate(p.Theta).Then(Translate(p.X, p.Y))
}

// NormalizeAngle wraps an angle in radians to (-pi, pi].
func NormalizeAngle(rad float64) float64 {
	a := math.Mod(rad+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	a -= math.Pi
	if a <= -math.Pi {
		a = math.Pi
	}
	return a
}

// BearingTo returns the bearing of target relative to the pose heading,
// normalized to (-pi, pi], and the straight-line distance.
func BearingTo(p Pose, target orb.Point) (bearing, dist float64) {
	dx := target.X() - p.X
	dy := target.Y() - p.Y
	return NormalizeAngle(math.Atan2(dy, dx) - p.Theta), math.Hypot(dx, dy)
}
