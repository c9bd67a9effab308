package actuator

import (
	"math"
	"time"
)

// pathPoint is one step of a synthesized pointer path.
type pathPoint struct {
	x, y  int
	delay time.Duration
}

// synthesizePath builds the sequence of intermediate points between (x1,y1)
// and (x2,y2). In human-like mode it walks a quadratic Bézier curve through a
// randomized control point with randomized per-step delay, imitating the
// teacher's go-rod-inspired CDP input modeling (see SPEC_FULL.md "DOMAIN
// STACK"). In mechanical mode it walks a straight line with uniform delay.
// Step count is at least max(30, distance/3) so the OS input layer doesn't
// interpret the motion as a drag-cancel.
func (a *SystemActuator) synthesizePath(x1, y1, x2, y2 int) []pathPoint {
	dist := math.Hypot(float64(x2-x1), float64(y2-y1))
	steps := int(dist / 3)
	if steps < 30 {
		steps = 30
	}

	if !a.cfg.HumanLikeMotion {
		return a.straightPath(x1, y1, x2, y2, steps)
	}
	return a.bezierPath(x1, y1, x2, y2, steps)
}

func (a *SystemActuator) straightPath(x1, y1, x2, y2, steps int) []pathPoint {
	points := make([]pathPoint, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		points = append(points, pathPoint{
			x:     lerp(x1, x2, t),
			y:     lerp(y1, y2, t),
			delay: 2 * time.Millisecond,
		})
	}
	return points
}

// bezierPath walks a quadratic Bézier curve through a control point offset
// perpendicular to the straight line, with jittered per-step delay.
func (a *SystemActuator) bezierPath(x1, y1, x2, y2, steps int) []pathPoint {
	dx, dy := float64(x2-x1), float64(y2-y1)
	length := math.Hypot(dx, dy)

	var nx, ny float64
	if length > 0 {
		nx, ny = -dy/length, dx/length
	}
	offset := (a.rng.Float64()*2 - 1) * math.Min(60, length/3+5)
	cx := float64(x1+x2)/2 + nx*offset
	cy := float64(y1+y2)/2 + ny*offset

	points := make([]pathPoint, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		bx := mt*mt*float64(x1) + 2*mt*t*cx + t*t*float64(x2)
		by := mt*mt*float64(y1) + 2*mt*t*cy + t*t*float64(y2)
		delay := time.Duration(1+a.rng.Intn(3)) * time.Millisecond
		points = append(points, pathPoint{x: int(math.Round(bx)), y: int(math.Round(by)), delay: delay})
	}
	return points
}

func lerp(a, b int, t float64) int {
	return int(math.Round(float64(a) + t*float64(b-a)))
}
