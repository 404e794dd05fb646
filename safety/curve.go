package safety

import (
	"math"

	"github.com/pkg/errors"
)

// Breakpoint is a (speed, limit) pair of a Curve. Speed is in m/s.
type Breakpoint struct {
	Speed float64
	Limit float64
}

// Curve is a speed-indexed piecewise-linear envelope for the allowed
// per-step change of a commanded value. It is immutable.
type Curve struct {
	points []Breakpoint
}

// NewCurve returns a Curve over the given breakpoints, which must be
// strictly increasing in speed.
func NewCurve(points ...Breakpoint) (Curve, error) {
	if len(points) == 0 {
		return Curve{}, errors.Wrap(ErrInvalidCurve, "no breakpoints")
	}
	for i := 1; i < len(points); i++ {
		if !(points[i].Speed > points[i-1].Speed) {
			return Curve{}, errors.Wrapf(ErrInvalidCurve,
				"breakpoint %d speed %v is not above %v", i, points[i].Speed, points[i-1].Speed)
		}
	}

	p := make([]Breakpoint, len(points))
	copy(p, points)
	return Curve{points: p}, nil
}

// MustCurve is like NewCurve but panics on invalid breakpoints.
func MustCurve(points ...Breakpoint) Curve {
	c, err := NewCurve(points...)
	if err != nil {
		panic(err)
	}
	return c
}

// ConstantCurve returns a Curve that yields limit at every speed.
func ConstantCurve(limit float64) Curve {
	return Curve{points: []Breakpoint{{0, limit}}}
}

// CurveFromTable builds a Curve from parallel speed and limit tables.
func CurveFromTable(speeds, limits []float64) (Curve, error) {
	if len(speeds) != len(limits) {
		return Curve{}, errors.Wrapf(ErrInvalidCurve,
			"%d speeds for %d limits", len(speeds), len(limits))
	}
	points := make([]Breakpoint, len(speeds))
	for i := range speeds {
		points[i] = Breakpoint{Speed: speeds[i], Limit: limits[i]}
	}
	return NewCurve(points...)
}

// Limit returns the interpolated limit at speed. Negative speeds are treated
// as zero and speeds outside the breakpoints clamp to the nearest endpoint.
func (c Curve) Limit(speed float64) float64 {
	if len(c.points) == 0 {
		return 0
	}
	if speed < 0 || math.IsNaN(speed) {
		speed = 0
	}

	first, last := c.points[0], c.points[len(c.points)-1]
	if speed <= first.Speed {
		return first.Limit
	}
	if speed >= last.Speed {
		return last.Limit
	}

	for i := 1; i < len(c.points); i++ {
		hi := c.points[i]
		if speed > hi.Speed {
			continue
		}
		lo := c.points[i-1]
		return lo.Limit + (speed-lo.Speed)*(hi.Limit-lo.Limit)/(hi.Speed-lo.Speed)
	}
	return last.Limit
}

// Units returns Limit(speed) scaled to the command's integer CAN units,
// rounded to the nearest unit.
func (c Curve) Units(speed, scale float64) int {
	return int(math.Round(c.Limit(speed) * scale))
}

// Breakpoints returns a copy of the curve's breakpoints.
func (c Curve) Breakpoints() []Breakpoint {
	p := make([]Breakpoint, len(c.points))
	copy(p, c.points)
	return p
}
