package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

// unitBuffer is a fixed arena of frames. It never grows; frames past its
// capacity are dropped.
type unitBuffer struct {
	frames []Frame
	n      int
}

type session struct {
	active      bool
	start       time.Time
	maxDuration time.Duration
	overrun     bool
	degraded    bool
	samples     int

	// gen changes with every StartAcquisition so that frames requested during
	// an earlier session are never appended to a later one.
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

type unitFrame struct {
	slot  int
	frame Frame
}

// recorder is the state shared by every backend: one buffer and placement per
// unit plus one for the combined frames (kept in the last slot), the latest
// frame per slot and the acquisition session.
type recorder struct {
	clock        clock.Clock
	log          zerolog.Logger
	units        int
	samplePeriod time.Duration

	lock      sync.Mutex
	base      context.Context
	closeBase context.CancelFunc
	buffers   []unitBuffer
	current   []Frame
	intrinsic []Frame
	seen      []bool
	offsets   []mgl64.Vec3
	rotations []mgl64.Mat3
	session   session
}

// bounds brings a unit count, buffer capacity and sample period into the
// ranges the recorder supports. Zero or negative values select the defaults.
func bounds(units, capacity int, period time.Duration) (int, int, time.Duration) {
	switch {
	case units <= 0:
		units = DefaultUnits
	case units > MaxUnits:
		units = MaxUnits
	}
	if capacity <= 0 || capacity > MaxMarkerFrames {
		capacity = MaxMarkerFrames
	}
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	return units, capacity, period
}

func newRecorder(units, capacity int, period time.Duration, clk clock.Clock, log zerolog.Logger) *recorder {
	slots := units + 1
	r := &recorder{
		clock:        clk,
		log:          log,
		units:        units,
		samplePeriod: period,
		buffers:      make([]unitBuffer, slots),
		current:      make([]Frame, slots),
		intrinsic:    make([]Frame, slots),
		seen:         make([]bool, slots),
		offsets:      make([]mgl64.Vec3, slots),
		rotations:    make([]mgl64.Mat3, slots),
	}

	for i := range r.buffers {
		r.buffers[i].frames = make([]Frame, capacity)
		r.rotations[i] = mgl64.Ident3()
	}

	return r
}

// open creates the lifetime context. It reports false if already open.
func (r *recorder) open() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.base != nil && r.base.Err() == nil {
		return false
	}
	r.base, r.closeBase = context.WithCancel(context.Background())
	return true
}

// close ends any session and cancels everything waiting on the lifetime context.
func (r *recorder) close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.stopLocked()
	if r.closeBase != nil {
		r.closeBase()
	}
}

func (r *recorder) slot(unit int) (int, error) {
	if unit == CombinedUnit {
		return r.units, nil
	}
	if unit < 0 || unit >= r.units {
		return 0, trkerrors.UnitRangeError{Unit: unit, Units: r.units}
	}
	return unit, nil
}

func (r *recorder) start(maxDuration time.Duration) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.base == nil || r.base.Err() != nil {
		return ErrNotInitialized
	}

	if r.session.cancel != nil {
		r.session.cancel()
	}
	for i := range r.buffers {
		r.buffers[i].n = 0
	}

	ctx, cancel := context.WithCancel(r.base)
	r.session = session{
		active:      true,
		start:       r.clock.Now(),
		maxDuration: maxDuration,
		gen:         r.session.gen + 1,
		ctx:         ctx,
		cancel:      cancel,
	}

	r.log.Info().Dur("maxDuration", maxDuration).Uint64("session", r.session.gen).Msg("acquisition started")
	return nil
}

// stop reports whether a session was running.
func (r *recorder) stop() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.stopLocked()
}

func (r *recorder) stopLocked() bool {
	r.expireLocked()
	if !r.session.active {
		return false
	}

	r.session.active = false
	r.session.cancel()
	r.log.Info().Int("samples", r.session.samples).Uint64("session", r.session.gen).Msg("acquisition stopped")
	return true
}

// expireLocked ends the session once it has run past its duration.
func (r *recorder) expireLocked() {
	s := &r.session
	if !s.active || r.clock.Since(s.start) <= s.maxDuration {
		return
	}

	s.overrun = true
	s.active = false
	s.cancel()
	r.log.Warn().Int("samples", s.samples).Dur("maxDuration", s.maxDuration).Msg("acquisition overrun")
}

func (r *recorder) overrun() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.expireLocked()
	return r.session.overrun
}

func (r *recorder) acquiring() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.expireLocked()
	return r.session.active
}

func (r *recorder) degraded() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.session.degraded
}

func (r *recorder) markDegraded(gen uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.session.gen == gen && r.session.active {
		r.session.degraded = true
	}
}

// context returns the context a tick should run under and the session it
// belongs to. Outside a session this is the lifetime context.
func (r *recorder) context() (context.Context, uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.expireLocked()

	if r.session.active {
		return r.session.ctx, r.session.gen
	}
	if r.base == nil {
		return context.Background(), r.session.gen
	}
	return r.base, r.session.gen
}

// record stores the frames decoded from one packet. They are appended only if
// the session they were requested under is still active, all under one lock
// so a retrieval never sees half a packet.
func (r *recorder) record(gen uint64, frames []unitFrame) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.expireLocked()

	appending := r.session.active && r.session.gen == gen
	for _, uf := range frames {
		r.intrinsic[uf.slot] = uf.frame
		aligned := uf.frame.Transform(r.offsets[uf.slot], r.rotations[uf.slot])
		r.current[uf.slot] = aligned
		r.seen[uf.slot] = true

		if !appending {
			continue
		}

		b := &r.buffers[uf.slot]
		if b.n < len(b.frames) {
			b.frames[b.n] = aligned
			b.n++
		} else {
			if !r.session.overrun {
				r.log.Warn().Int("slot", uf.slot).Int("capacity", len(b.frames)).Msg("frame buffer full, dropping frames")
			}
			r.session.overrun = true
		}
	}

	if appending {
		r.session.samples++
	}
}

func (r *recorder) retrieve(dst []Frame, maxFrames, unit int) int {
	slot, err := r.slot(unit)
	if err != nil || maxFrames <= 0 {
		return 0
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	b := &r.buffers[slot]
	n := b.n
	if maxFrames < n {
		n = maxFrames
	}
	if len(dst) < n {
		n = len(dst)
	}

	return copy(dst[:n], b.frames[:n])
}

func (r *recorder) currentFrame(unit int) (Frame, bool) {
	slot, err := r.slot(unit)
	if err != nil {
		return Frame{}, false
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	return r.current[slot], r.seen[slot]
}

func (r *recorder) intrinsicFrame(unit int) (Frame, bool) {
	slot, err := r.slot(unit)
	if err != nil {
		return Frame{}, false
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	return r.intrinsic[slot], r.seen[slot]
}

func (r *recorder) transform(unit int) (mgl64.Vec3, mgl64.Mat3, error) {
	slot, err := r.slot(unit)
	if err != nil {
		return mgl64.Vec3{}, mgl64.Mat3{}, err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	return r.offsets[slot], r.rotations[slot], nil
}

// placement is where the unit sits in the aligned frame: its own origin mapped
// through its transform, and the rotation of its axes.
func (r *recorder) placement(unit int) (mgl64.Vec3, mgl64.Quat, error) {
	offset, rotation, err := r.transform(unit)
	if err != nil {
		return mgl64.Vec3{}, mgl64.QuatIdent(), err
	}
	return offset, mgl64.Mat4ToQuat(rotation.Mat4()).Normalize(), nil
}

func (r *recorder) setTransform(unit int, offset mgl64.Vec3, rotation mgl64.Mat3) error {
	slot, err := r.slot(unit)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.offsets[slot] = offset
	r.rotations[slot] = rotation
	if r.seen[slot] {
		r.current[slot] = r.intrinsic[slot].Transform(offset, rotation)
	}
	return nil
}

// align computes a transform for every unit from its latest intrinsic frame and
// commits them together. The combined slot is aligned only if it has data.
func (r *recorder) align(origin, xNegative, xPositive, xyNegative, xyPositive int) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	markers := []int{origin, xNegative, xPositive, xyNegative, xyPositive}
	offsets := make([]mgl64.Vec3, len(r.offsets))
	rotations := make([]mgl64.Mat3, len(r.rotations))
	copy(offsets, r.offsets)
	copy(rotations, r.rotations)

	for slot := range r.intrinsic {
		unit := slot
		if slot == r.units {
			unit = CombinedUnit
			if !r.seen[slot] {
				continue
			}
		}

		f := r.intrinsic[slot]
		for _, m := range markers {
			if !r.seen[slot] || !f.Visible(m) {
				return trkerrors.AlignmentError{Marker: m, Unit: unit}
			}
		}

		o, rot, err := computeAlignment(f, origin, xNegative, xPositive, xyNegative, xyPositive)
		if err != nil {
			return err
		}
		offsets[slot] = o
		rotations[slot] = rot
	}

	copy(r.offsets, offsets)
	copy(r.rotations, rotations)
	for slot := range r.current {
		if r.seen[slot] {
			r.current[slot] = r.intrinsic[slot].Transform(r.offsets[slot], r.rotations[slot])
		}
	}

	r.log.Info().Ints("markers", markers).Msg("alignment committed")
	return nil
}
