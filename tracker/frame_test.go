package tracker

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFrameTransform(t *testing.T) {
	Convey("only visible markers move", t, func() {
		var f Frame
		f.Markers[0] = Marker{Position: mgl64.Vec3{1, 0, 0}, Visible: true}
		f.Markers[1] = Marker{Position: mgl64.Vec3{5, 5, 5}}

		rot := mgl64.Rotate3DZ(math.Pi / 2)
		out := f.Transform(mgl64.Vec3{0, 0, 1}, rot)

		So(out.Markers[0].Position.ApproxEqualThreshold(mgl64.Vec3{0, 1, 1}, 1e-9), ShouldBeTrue)
		So(out.Markers[1].Position, ShouldResemble, mgl64.Vec3{5, 5, 5})
		So(f.Markers[0].Position, ShouldResemble, mgl64.Vec3{1, 0, 0})
	})

	Convey("visibility of a set of markers", t, func() {
		var f Frame
		f.Markers[2].Visible = true
		f.Markers[3].Visible = true

		So(f.Visible(2, 3), ShouldBeTrue)
		So(f.Visible(2, 4), ShouldBeFalse)
		So(f.Visible(-1), ShouldBeFalse)
		So(f.Visible(MaxMarkers), ShouldBeFalse)
	})
}

func TestComputePose(t *testing.T) {
	model := []mgl64.Vec3{{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {0, 0, 10}}
	ids := []int{4, 5, 6, 7}

	Convey("a moved body is recovered", t, func() {
		q := mgl64.QuatRotate(math.Pi/3, mgl64.Vec3{1, 1, 0}.Normalize())
		shift := mgl64.Vec3{100, -20, 5}

		f := Frame{Time: 1.5}
		for i, id := range ids {
			f.Markers[id] = Marker{Position: q.Rotate(model[i]).Add(shift), Visible: true}
		}

		pose := ComputePose(f, ids, model)
		So(pose.Visible, ShouldBeTrue)
		So(pose.Time, ShouldEqual, 1.5)
		So(pose.Position.ApproxEqualThreshold(shift, 1e-9), ShouldBeTrue)
		So(pose.Orientation.OrientationEqualThreshold(q, 1e-9), ShouldBeTrue)
	})

	Convey("a hidden marker hides the body", t, func() {
		var f Frame
		for i, id := range ids[:3] {
			f.Markers[id] = Marker{Position: model[i], Visible: true}
		}

		pose := ComputePose(f, ids, model)
		So(pose.Visible, ShouldBeFalse)
		So(pose.Orientation, ShouldResemble, mgl64.QuatIdent())
	})

	Convey("too few markers give nothing", t, func() {
		So(ComputePose(Frame{}, ids[:2], model[:2]).Visible, ShouldBeFalse)
		So(ComputePose(Frame{}, ids, model[:3]).Visible, ShouldBeFalse)
	})
}
