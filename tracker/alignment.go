package tracker

import "github.com/go-gl/mathgl/mgl64"

// computeAlignment finds the transform taking intrinsic coordinates to the
// reference frame marked out by the alignment fixture. The origin marker maps
// to zero, xNegative to xPositive runs along +X and xyNegative to xyPositive
// lies in the XY plane with a positive Y component.
func computeAlignment(f Frame, origin, xNegative, xPositive, xyNegative, xyPositive int) (offset mgl64.Vec3, rotation mgl64.Mat3, err error) {
	p := func(id int) mgl64.Vec3 {
		return f.Markers[id].Position
	}

	x := p(xPositive).Sub(p(xNegative))
	z := x.Cross(p(xyPositive).Sub(p(xyNegative)))
	if x.Len() < epsilon || z.Len() < epsilon {
		return mgl64.Vec3{}, mgl64.Ident3(), ErrDegenerateAlignment
	}

	x = x.Normalize()
	z = z.Normalize()
	y := z.Cross(x)

	rotation = mgl64.Mat3FromRows(x, y, z)
	offset = rotation.Mul3x1(p(origin)).Mul(-1)
	return offset, rotation, nil
}
