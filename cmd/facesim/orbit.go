package main

import (
	"math"
	"time"
)

// orbit moves a square face box around a circle in the frame.
type orbit struct {
	centerX, centerY float64
	radius           float64
	size             float64
	period           time.Duration
}

// box returns [top, right, bottom, left] at elapsed time t. phase shifts the
// face along the circle, in radians.
func (o orbit) box(t time.Duration, phase float64) [4]float64 {
	angle := phase
	if o.period > 0 {
		angle += 2 * math.Pi * float64(t%o.period) / float64(o.period)
	}
	cx := o.centerX + o.radius*math.Cos(angle)
	cy := o.centerY + o.radius*math.Sin(angle)
	half := o.size / 2
	return [4]float64{cy - half, cx + half, cy + half, cx - half}
}

// frame builds the detections for every face at elapsed time t. Faces are
// spread evenly around the circle.
func (o orbit) frame(t time.Duration, names []string) [][4]float64 {
	boxes := make([][4]float64, len(names))
	for i := range names {
		phase := 2 * math.Pi * float64(i) / float64(len(names))
		boxes[i] = o.box(t, phase)
	}
	return boxes
}
