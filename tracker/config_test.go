package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v2"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

const testYaml = `
version: 1
backend: simulator
units: 3
samplePeriod: 10ms
maxFrames: 500
rtnet:
  address: 10.0.0.2
  configId: 4
  maxRetries: 2
simulator:
  pointer: orbit
  radius: 50
  period: 2s
  fixture:
  - id: 1
    position: [1, 2, 3]
placements:
- unit: 1
  offset: [-1, -2, -3]
  rotation: [0, -1, 0, 1, 0, 0, 0, 0, 1]
- unit: 2
  offset: [5, 0, 0]
`

func TestConfigParsing(t *testing.T) {
	Convey("parsing is successful", t, func() {
		config, err := ParseConfig([]byte(testYaml))
		So(err, ShouldBeNil)

		Convey("unset values keep their defaults", func() {
			So(config.RTnet.Port, ShouldEqual, 10111)
			So(config.Simulator.Scale, ShouldEqual, 1.0)
		})

		Convey("values are read", func() {
			So(config.Units, ShouldEqual, 3)
			So(config.SamplePeriod, ShouldEqual, 10*time.Millisecond)
			So(config.MaxFrames, ShouldEqual, 500)
			So(config.RTnet.Address, ShouldEqual, "10.0.0.2")
			So(config.RTnet.ConfigID, ShouldEqual, 4)
			So(config.RTnet.MaxRetries, ShouldEqual, 2)
			So(config.Simulator.Period, ShouldEqual, 2*time.Second)
			So(config.Simulator.Fixture[0].Position, ShouldResemble, mgl64.Vec3{1, 2, 3})
		})

		Convey("placements are read row major", func() {
			p := config.Placements[0]
			So(p.Offset, ShouldResemble, mgl64.Vec3{-1, -2, -3})
			So(p.Rotation.Mul3x1(mgl64.Vec3{1, 0, 0}), ShouldResemble, mgl64.Vec3{0, 1, 0})
			So(config.Placements[1].Rotation, ShouldResemble, mgl64.Ident3())
		})

		Convey("placements survive a round trip", func() {
			out, err := yaml.Marshal(config.Placements)
			So(err, ShouldBeNil)

			var placements []Placement
			So(yaml.Unmarshal(out, &placements), ShouldBeNil)
			So(placements, ShouldResemble, config.Placements)
		})

		Convey("the tracker is built with the placements applied", func() {
			tracker, err := NewFromConfig(config, clock.NewMock(), zerolog.Nop(), nil)
			So(err, ShouldBeNil)
			So(tracker.GetNumberOfUnits(), ShouldEqual, 3)
			So(tracker.GetSamplePeriod(), ShouldEqual, 10*time.Millisecond)

			offset, _, err := tracker.GetUnitTransform(2)
			So(err, ShouldBeNil)
			So(offset, ShouldResemble, mgl64.Vec3{5, 0, 0})
		})
	})

	Convey("zero retries in the file means no retrying", t, func() {
		config, err := ParseConfig([]byte("rtnet: {maxRetries: 0}"))
		So(err, ShouldBeNil)

		tracker, err := NewFromConfig(config, clock.NewMock(), zerolog.Nop(), nil)
		So(err, ShouldBeNil)
		So(tracker.(*RTnetTracker).cfg.MaxRetries, ShouldEqual, 0)

		config = DefaultConfig()
		tracker, err = NewFromConfig(config, clock.NewMock(), zerolog.Nop(), nil)
		So(err, ShouldBeNil)
		So(tracker.(*RTnetTracker).cfg.MaxRetries, ShouldEqual, DefaultMaxRetries)
	})

	Convey("bad configs are refused", t, func() {
		for _, doc := range []string{
			"version: 3",
			"backend: tape",
			"backend: replay",
			"units: 9",
			"maxFrames: -1",
			"maxFrames: 20001",
			"placements: [{unit: 2, offset: [0, 0, 0]}]",
			"placements: [{unit: 0, offset: [0, 0]}]",
			"simulator: {fixture: [{id: 0, position: [0, 0, 0]}]}",
		} {
			_, err := ParseConfig([]byte(doc))
			var cfgErr trkerrors.ConfigError
			So(errors.As(err, &cfgErr), ShouldBeTrue)
		}
	})
}
