package tracking

import "github.com/econokeith/robocam/pkg/trackstate"

// Vector is a pixel position or offset.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y}
}

// Target is the face chosen for one cycle.
type Target struct {
	Index int             `json:"index"`
	Name  string          `json:"name"`
	Box   trackstate.BBox `json:"box"`
}

// SelectFace returns the index of primary among names, or 0 when it is
// absent. The first match wins.
func SelectFace(names []string, primary string) int {
	for i, name := range names {
		if name == primary {
			return i
		}
	}
	return 0
}

// ComputeError reports whether box covers the video center and, when it does
// not, the box midpoint and its offset from center.
//
// The covered test compares center.X against both the top/bottom and the
// right/left span of the box. Both values are zero when centered.
func ComputeError(box trackstate.BBox, center Vector) (target, err Vector, centered bool) {
	cx := center.X
	if box.Top <= cx && cx <= box.Bottom && box.Right <= cx && cx <= box.Left {
		return Vector{}, Vector{}, true
	}

	target = Vector{
		X: (box.Right + box.Left) / 2,
		Y: (box.Bottom + box.Top) / 2,
	}
	return target, target.Sub(center), false
}
