package tracker

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/CodedInternet/dextrack/calcs"
)

// Marker is one marker sample.
type Marker struct {
	Position mgl64.Vec3
	Visible  bool
}

// Frame is a snapshot of every marker for one unit, or for the combined set.
// All markers share Time, in seconds.
type Frame struct {
	Markers [MaxMarkers]Marker
	Time    float64
}

// Transform returns a copy of the frame with visible markers mapped through
// rotation*p + offset.
func (f Frame) Transform(offset mgl64.Vec3, rotation mgl64.Mat3) Frame {
	out := f
	for i, m := range f.Markers {
		if m.Visible {
			out.Markers[i].Position = rotation.Mul3x1(m.Position).Add(offset)
		}
	}
	return out
}

// Visible reports whether every listed marker is visible.
func (f Frame) Visible(ids ...int) bool {
	for _, id := range ids {
		if id < 0 || id >= MaxMarkers || !f.Markers[id].Visible {
			return false
		}
	}
	return true
}

// Pose is the state of a rigid body carrying several markers.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Visible     bool
	Time        float64
}

// ComputePose derives the pose of a rigid body from the markers in ids, whose
// positions in the body frame are given by model. At least three markers are
// required; the first three set the orientation. The pose is invisible if any
// listed marker is.
func ComputePose(f Frame, ids []int, model []mgl64.Vec3) Pose {
	p := Pose{Orientation: mgl64.QuatIdent(), Time: f.Time}
	if len(ids) < 3 || len(ids) != len(model) || !f.Visible(ids...) {
		return p
	}

	world := make([]mgl64.Vec3, len(ids))
	for i, id := range ids {
		world[i] = f.Markers[id].Position
	}

	tw, ok := triad(world[0], world[1], world[2])
	if !ok {
		return p
	}
	tm, ok := triad(model[0], model[1], model[2])
	if !ok {
		return p
	}

	rotation := tw.Mul3(tm.Transpose())
	p.Orientation = mgl64.Mat4ToQuat(rotation.Mat4()).Normalize()
	p.Position = calcs.Centroid(world).Sub(rotation.Mul3x1(calcs.Centroid(model)))
	p.Visible = true
	return p
}

// triad builds an orthonormal basis, as matrix columns, from three points.
// x runs from a to b; the xy plane contains c.
func triad(a, b, c mgl64.Vec3) (mgl64.Mat3, bool) {
	x := b.Sub(a)
	z := x.Cross(c.Sub(a))
	if x.Len() < epsilon || z.Len() < epsilon {
		return mgl64.Mat3{}, false
	}

	x = x.Normalize()
	z = z.Normalize()
	y := z.Cross(x)
	return mgl64.Mat3FromCols(x, y, z), true
}
