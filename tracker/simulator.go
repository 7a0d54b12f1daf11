package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
)

// StatusFunc receives short human readable status lines from a tracker.
type StatusFunc func(status string)

// FixtureMarker is a static marker shown by the simulator in every frame,
// typically the alignment fixture.
type FixtureMarker struct {
	ID       int
	Position mgl64.Vec3
}

type SimulatorConfig struct {
	Units        int
	SamplePeriod time.Duration
	MaxFrames    int
	// Scale converts pointer counts to millimetres.
	Scale   float64
	Fixture []FixtureMarker

	Clock  clock.Clock
	Log    zerolog.Logger
	Status StatusFunc
}

func (c *SimulatorConfig) defaults() {
	c.Units, c.MaxFrames, c.SamplePeriod = bounds(c.Units, c.MaxFrames, c.SamplePeriod)

	// marker 0 belongs to the pointer
	fixture := make([]FixtureMarker, 0, len(c.Fixture))
	for _, m := range c.Fixture {
		if m.ID < 1 || m.ID >= MaxMarkers {
			c.Log.Warn().Int("marker", m.ID).Msg("ignoring fixture marker out of range")
			continue
		}
		fixture = append(fixture, m)
	}
	c.Fixture = fixture

	if c.Scale == 0 {
		c.Scale = 1
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// MouseTracker synthesises frames from a Pointer. Marker 0 follows the
// pointer in the XY plane; fixture markers stay put; all other markers are
// invisible. Every unit sees the same frame.
type MouseTracker struct {
	rec     *recorder
	pointer Pointer
	cfg     SimulatorConfig
	log     zerolog.Logger

	op          sync.Mutex
	initialized bool
	epoch       time.Time
	overrun     bool
}

func NewMouseTracker(pointer Pointer, cfg SimulatorConfig) *MouseTracker {
	cfg.defaults()
	log := cfg.Log.With().Str("tracker", "simulator").Logger()

	return &MouseTracker{
		rec:     newRecorder(cfg.Units, cfg.MaxFrames, cfg.SamplePeriod, cfg.Clock, log),
		pointer: pointer,
		cfg:     cfg,
		log:     log,
	}
}

func (t *MouseTracker) status(format string, args ...interface{}) {
	if t.cfg.Status != nil {
		t.cfg.Status(fmt.Sprintf(format, args...))
	}
}

func (t *MouseTracker) Initialize() error {
	t.op.Lock()
	defer t.op.Unlock()

	if t.initialized {
		return nil
	}

	t.epoch = t.cfg.Clock.Now()
	t.initialized = true
	t.rec.open()

	t.log.Info().Int("units", t.cfg.Units).Int("fixture", len(t.cfg.Fixture)).Msg("simulated tracker ready")
	t.status("simulated tracker ready")
	return nil
}

// Update samples the pointer once and records the resulting frame.
func (t *MouseTracker) Update() error {
	t.op.Lock()
	defer t.op.Unlock()

	if !t.initialized {
		return ErrNotInitialized
	}

	_, gen := t.rec.context()
	x, y, err := t.pointer.Sample()
	if err != nil {
		return err
	}

	f := Frame{Time: t.cfg.Clock.Since(t.epoch).Seconds()}
	f.Markers[0] = Marker{
		Position: mgl64.Vec3{x * t.cfg.Scale, y * t.cfg.Scale, 0},
		Visible:  true,
	}
	for _, m := range t.cfg.Fixture {
		f.Markers[m.ID] = Marker{Position: m.Position, Visible: true}
	}

	frames := make([]unitFrame, t.cfg.Units+1)
	for slot := range frames {
		frames[slot] = unitFrame{slot: slot, frame: f}
	}
	t.rec.record(gen, frames)

	overrun := t.rec.overrun()
	if overrun && !t.overrun {
		t.status("acquisition overrun at %.3fs", f.Time)
	}
	t.overrun = overrun
	return nil
}

func (t *MouseTracker) Quit() error {
	t.rec.close()

	t.op.Lock()
	defer t.op.Unlock()

	if !t.initialized {
		return nil
	}
	t.initialized = false
	t.status("simulated tracker stopped")
	return t.pointer.Close()
}

func (t *MouseTracker) StartAcquisition(maxDuration time.Duration) error {
	if err := t.rec.start(maxDuration); err != nil {
		return err
	}
	t.status("acquiring for %s", maxDuration)
	return nil
}

func (t *MouseTracker) StopAcquisition() error {
	if t.rec.stop() {
		t.status("acquisition stopped")
	}
	return nil
}

func (t *MouseTracker) CheckAcquisitionOverrun() bool {
	return t.rec.overrun()
}

func (t *MouseTracker) RetrieveMarkerFrames(dst []Frame, maxFrames, unit int) int {
	return t.rec.retrieve(dst, maxFrames, unit)
}

func (t *MouseTracker) GetCurrentMarkerFrame() (Frame, bool) {
	return t.rec.currentFrame(CombinedUnit)
}

func (t *MouseTracker) GetCurrentMarkerFrameUnit(unit int) (Frame, bool) {
	return t.rec.currentFrame(unit)
}

func (t *MouseTracker) GetCurrentMarkerFrameIntrinsic(unit int) (Frame, bool) {
	return t.rec.intrinsicFrame(unit)
}

func (t *MouseTracker) GetSamplePeriod() time.Duration {
	return t.rec.samplePeriod
}

func (t *MouseTracker) GetNumberOfUnits() int {
	return t.rec.units
}

func (t *MouseTracker) GetAcquisitionState() bool {
	return t.rec.acquiring()
}

// Degraded is always false; there is no transport to fail.
func (t *MouseTracker) Degraded() bool {
	return false
}

func (t *MouseTracker) GetUnitPlacement(unit int) (mgl64.Vec3, mgl64.Quat, error) {
	return t.rec.placement(unit)
}

func (t *MouseTracker) GetUnitTransform(unit int) (mgl64.Vec3, mgl64.Mat3, error) {
	return t.rec.transform(unit)
}

func (t *MouseTracker) SetUnitTransform(unit int, offset mgl64.Vec3, rotation mgl64.Mat3) error {
	return t.rec.setTransform(unit, offset, rotation)
}

func (t *MouseTracker) PerformAlignment(origin, xNegative, xPositive, xyNegative, xyPositive int) error {
	return t.rec.align(origin, xNegative, xPositive, xyNegative, xyPositive)
}
