package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	. "github.com/smartystreets/goconvey/convey"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

// testPointer moves one count along x per sample.
type testPointer struct {
	x, y   float64
	err    error
	closed int
}

func (p *testPointer) Sample() (float64, float64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	x := p.x
	p.x++
	return x, p.y, nil
}

func (p *testPointer) Close() error {
	p.closed++
	return nil
}

var testFixture = []FixtureMarker{
	{ID: 1, Position: mgl64.Vec3{0, 0, 0}},
	{ID: 2, Position: mgl64.Vec3{0, -10, 0}},
	{ID: 3, Position: mgl64.Vec3{0, 10, 0}},
	{ID: 4, Position: mgl64.Vec3{10, 0, 0}},
	{ID: 5, Position: mgl64.Vec3{-10, 0, 0}},
}

func newTestSimulator(maxFrames int) (*MouseTracker, *testPointer, *clock.Mock, *[]string) {
	clk := clock.NewMock()
	pointer := &testPointer{}
	statuses := new([]string)

	t := NewMouseTracker(pointer, SimulatorConfig{
		Units:     2,
		MaxFrames: maxFrames,
		Scale:     2,
		Fixture:   testFixture,
		Clock:     clk,
		Status: func(s string) {
			*statuses = append(*statuses, s)
		},
	})
	return t, pointer, clk, statuses
}

func TestSimulator(t *testing.T) {
	Convey("the simulator", t, func() {
		tracker, pointer, clk, statuses := newTestSimulator(10)

		So(tracker.Update(), ShouldEqual, ErrNotInitialized)
		So(tracker.Initialize(), ShouldBeNil)
		So(tracker.Initialize(), ShouldBeNil)
		So(*statuses, ShouldResemble, []string{"simulated tracker ready"})

		_, ok := tracker.GetCurrentMarkerFrame()
		So(ok, ShouldBeFalse)

		Convey("follows the pointer with marker 0", func() {
			clk.Add(250 * time.Millisecond)
			So(tracker.Update(), ShouldBeNil)
			So(tracker.Update(), ShouldBeNil)

			f, ok := tracker.GetCurrentMarkerFrame()
			So(ok, ShouldBeTrue)
			So(f.Markers[0].Visible, ShouldBeTrue)
			So(f.Markers[0].Position, ShouldResemble, mgl64.Vec3{2, 0, 0})
			So(f.Time, ShouldEqual, 0.25)
			So(f.Markers[3].Position, ShouldResemble, mgl64.Vec3{0, 10, 0})
			So(f.Markers[6].Visible, ShouldBeFalse)

			unit, ok := tracker.GetCurrentMarkerFrameUnit(1)
			So(ok, ShouldBeTrue)
			So(unit, ShouldResemble, f)
		})

		Convey("reports pointer failures", func() {
			pointer.err = errors.New("unplugged")
			So(tracker.Update(), ShouldEqual, pointer.err)
		})

		Convey("is never degraded", func() {
			So(tracker.Degraded(), ShouldBeFalse)
		})

		Convey("quit closes the pointer", func() {
			So(tracker.Quit(), ShouldBeNil)
			So(tracker.Quit(), ShouldBeNil)
			So(pointer.closed, ShouldEqual, 1)
			So(tracker.Update(), ShouldEqual, ErrNotInitialized)
		})
	})
}

func TestSimulatorLimits(t *testing.T) {
	Convey("fixture markers outside the frame are ignored", t, func() {
		tracker := NewMouseTracker(&testPointer{}, SimulatorConfig{
			Units:     -3,
			MaxFrames: -1,
			Fixture: []FixtureMarker{
				{ID: 0, Position: mgl64.Vec3{1, 1, 1}},
				{ID: 2, Position: mgl64.Vec3{0, 5, 0}},
				{ID: MaxMarkers, Position: mgl64.Vec3{1, 1, 1}},
				{ID: -1, Position: mgl64.Vec3{1, 1, 1}},
			},
			Clock: clock.NewMock(),
		})
		So(tracker.GetNumberOfUnits(), ShouldEqual, DefaultUnits)
		So(tracker.Initialize(), ShouldBeNil)
		So(tracker.Update(), ShouldBeNil)

		f, ok := tracker.GetCurrentMarkerFrame()
		So(ok, ShouldBeTrue)
		So(f.Markers[0].Position, ShouldResemble, mgl64.Vec3{0, 0, 0})
		So(f.Markers[2].Position, ShouldResemble, mgl64.Vec3{0, 5, 0})
		So(f.Visible(1), ShouldBeFalse)
	})
}

func TestAcquisition(t *testing.T) {
	Convey("with a started session", t, func() {
		tracker, _, clk, statuses := newTestSimulator(5)
		So(tracker.Initialize(), ShouldBeNil)
		So(tracker.StartAcquisition(time.Second), ShouldBeNil)
		So(tracker.GetAcquisitionState(), ShouldBeTrue)
		So(tracker.CheckAcquisitionOverrun(), ShouldBeFalse)

		for i := 0; i < 3; i++ {
			So(tracker.Update(), ShouldBeNil)
		}

		Convey("frames are retrieved oldest first without clearing", func() {
			frames := make([]Frame, 10)
			So(tracker.RetrieveMarkerFrames(frames, 10, 0), ShouldEqual, 3)
			for i := 0; i < 3; i++ {
				So(frames[i].Markers[0].Position.X(), ShouldEqual, float64(2*i))
			}
			So(tracker.RetrieveMarkerFrames(frames, 10, CombinedUnit), ShouldEqual, 3)
		})

		Convey("retrieval respects both bounds", func() {
			frames := make([]Frame, 10)
			So(tracker.RetrieveMarkerFrames(frames, 2, 0), ShouldEqual, 2)
			So(tracker.RetrieveMarkerFrames(frames[:1], 10, 0), ShouldEqual, 1)
			So(tracker.RetrieveMarkerFrames(frames, 0, 0), ShouldEqual, 0)
			So(tracker.RetrieveMarkerFrames(frames, -1, 0), ShouldEqual, 0)
			So(tracker.RetrieveMarkerFrames(frames, 10, 2), ShouldEqual, 0)
		})

		Convey("a full buffer drops new frames and flags overrun", func() {
			for i := 0; i < 3; i++ {
				So(tracker.Update(), ShouldBeNil)
			}
			So(tracker.CheckAcquisitionOverrun(), ShouldBeTrue)

			frames := make([]Frame, 10)
			So(tracker.RetrieveMarkerFrames(frames, 10, 1), ShouldEqual, 5)
			So(frames[4].Markers[0].Position.X(), ShouldEqual, float64(8))

			f, _ := tracker.GetCurrentMarkerFrame()
			So(f.Markers[0].Position.X(), ShouldEqual, float64(10))
		})

		Convey("running past the duration flags overrun and ends the session", func() {
			clk.Add(900 * time.Millisecond)
			So(tracker.CheckAcquisitionOverrun(), ShouldBeFalse)

			clk.Add(200 * time.Millisecond)
			So(tracker.CheckAcquisitionOverrun(), ShouldBeTrue)
			So(tracker.GetAcquisitionState(), ShouldBeFalse)

			So(tracker.Update(), ShouldBeNil)
			So(tracker.RetrieveMarkerFrames(make([]Frame, 10), 10, 0), ShouldEqual, 3)
			So((*statuses)[len(*statuses)-1], ShouldStartWith, "acquisition overrun")

			Convey("the flag survives stop until the next start", func() {
				So(tracker.StopAcquisition(), ShouldBeNil)
				So(tracker.CheckAcquisitionOverrun(), ShouldBeTrue)

				So(tracker.StartAcquisition(time.Second), ShouldBeNil)
				So(tracker.CheckAcquisitionOverrun(), ShouldBeFalse)
				So(tracker.RetrieveMarkerFrames(make([]Frame, 10), 10, 0), ShouldEqual, 0)
			})
		})

		Convey("stop ends appending", func() {
			So(tracker.StopAcquisition(), ShouldBeNil)
			So(tracker.GetAcquisitionState(), ShouldBeFalse)
			So(tracker.Update(), ShouldBeNil)

			So(tracker.RetrieveMarkerFrames(make([]Frame, 10), 10, 0), ShouldEqual, 3)
			f, _ := tracker.GetCurrentMarkerFrameUnit(0)
			So(f.Markers[0].Position.X(), ShouldEqual, float64(6))
			So(tracker.CheckAcquisitionOverrun(), ShouldBeFalse)
		})

		Convey("starting again resets the session", func() {
			clk.Add(600 * time.Millisecond)
			So(tracker.StartAcquisition(time.Second), ShouldBeNil)
			So(tracker.RetrieveMarkerFrames(make([]Frame, 10), 10, 0), ShouldEqual, 0)

			clk.Add(600 * time.Millisecond)
			So(tracker.CheckAcquisitionOverrun(), ShouldBeFalse)
			So(tracker.GetAcquisitionState(), ShouldBeTrue)
		})
	})
}

func TestAlignment(t *testing.T) {
	Convey("with the fixture in view", t, func() {
		tracker, _, _, _ := newTestSimulator(5)
		So(tracker.Initialize(), ShouldBeNil)

		Convey("alignment needs a frame", func() {
			var alignErr trkerrors.AlignmentError
			So(errors.As(tracker.PerformAlignment(1, 2, 3, 4, 5), &alignErr), ShouldBeTrue)
		})

		So(tracker.Update(), ShouldBeNil)

		Convey("aligning maps the fixture onto the axes", func() {
			So(tracker.PerformAlignment(1, 2, 3, 4, 5), ShouldBeNil)

			for _, unit := range []int{0, 1, CombinedUnit} {
				f, ok := tracker.GetCurrentMarkerFrameUnit(unit)
				So(ok, ShouldBeTrue)

				xPos := f.Markers[3].Position
				So(xPos.X(), ShouldAlmostEqual, 10, 1e-9)
				So(xPos.Y(), ShouldAlmostEqual, 0, 1e-9)

				xyNeg := f.Markers[4].Position
				So(xyNeg.Y(), ShouldAlmostEqual, -10, 1e-9)
				So(xyNeg.Z(), ShouldAlmostEqual, 0, 1e-9)

				origin := f.Markers[1].Position
				So(origin.Len(), ShouldAlmostEqual, 0, 1e-9)
			}

			intrinsic, _ := tracker.GetCurrentMarkerFrameIntrinsic(0)
			So(intrinsic.Markers[3].Position, ShouldResemble, mgl64.Vec3{0, 10, 0})

			pos, ori, err := tracker.GetUnitPlacement(0)
			So(err, ShouldBeNil)
			So(pos.Len(), ShouldAlmostEqual, 0, 1e-9)
			So(ori.Rotate(mgl64.Vec3{0, 1, 0}).ApproxEqualThreshold(mgl64.Vec3{1, 0, 0}, 1e-9), ShouldBeTrue)

			Convey("and recorded frames are aligned", func() {
				So(tracker.StartAcquisition(time.Second), ShouldBeNil)
				So(tracker.Update(), ShouldBeNil)

				frames := make([]Frame, 1)
				So(tracker.RetrieveMarkerFrames(frames, 1, 1), ShouldEqual, 1)
				So(frames[0].Markers[3].Position.X(), ShouldAlmostEqual, 10, 1e-9)
			})
		})

		Convey("a hidden marker fails without touching the transforms", func() {
			offset := mgl64.Vec3{1, 2, 3}
			So(tracker.SetUnitTransform(0, offset, mgl64.Ident3()), ShouldBeNil)

			var alignErr trkerrors.AlignmentError
			So(errors.As(tracker.PerformAlignment(1, 2, 3, 4, 7), &alignErr), ShouldBeTrue)
			So(alignErr.Marker, ShouldEqual, 7)

			o, r, err := tracker.GetUnitTransform(0)
			So(err, ShouldBeNil)
			So(o, ShouldResemble, offset)
			So(r, ShouldResemble, mgl64.Ident3())
		})

		Convey("markers on a line cannot align", func() {
			So(tracker.PerformAlignment(1, 2, 3, 2, 3), ShouldEqual, ErrDegenerateAlignment)
		})

		Convey("transforms are bounded by the unit count", func() {
			var rangeErr trkerrors.UnitRangeError
			So(errors.As(tracker.SetUnitTransform(2, mgl64.Vec3{}, mgl64.Ident3()), &rangeErr), ShouldBeTrue)
			_, _, err := tracker.GetUnitPlacement(-2)
			So(errors.As(err, &rangeErr), ShouldBeTrue)
		})
	})
}
