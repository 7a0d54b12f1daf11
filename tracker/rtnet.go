package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
	"github.com/CodedInternet/dextrack/tracker/rtnet"
)

// SetupTimeout bounds the whole of Initialize.
const SetupTimeout = 5 * time.Second

type RTnetConfig struct {
	Address  string
	Port     int
	ConfigID int
	Mode     rtnet.Mode

	Units        int
	SamplePeriod time.Duration
	MaxFrames    int
	// MaxRetries is the number of retries after the first failed receive.
	// Zero selects DefaultMaxRetries and NoRetries disables retrying.
	MaxRetries int

	Clock clock.Clock
	Log   zerolog.Logger
}

func (c *RTnetConfig) defaults() {
	if c.Address == "" {
		c.Address = rtnet.DefaultAddress
	}
	if c.Port == 0 {
		c.Port = rtnet.DefaultPort
	}
	if c.ConfigID == 0 {
		c.ConfigID = 1
	}
	if c.Mode == (rtnet.Mode{}) {
		c.Mode = rtnet.DefaultMode
	}
	c.Units, c.MaxFrames, c.SamplePeriod = bounds(c.Units, c.MaxFrames, c.SamplePeriod)
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// RTnetTracker acquires marker frames from a tracking server through an
// rtnet.Client, buffering one stream per unit plus the combined stream.
type RTnetTracker struct {
	rec    *recorder
	client rtnet.Client
	cfg    RTnetConfig
	log    zerolog.Logger

	// op serialises use of the client. Stop and Quit never wait on it; they
	// cancel the context the client is running under instead.
	op        sync.Mutex
	connected bool
	server    rtnet.ServerInfo
	hwConfig  rtnet.HWConfig

	adcLock sync.Mutex
	adc     *rtnet.ResultADC
}

func NewRTnetTracker(client rtnet.Client, cfg RTnetConfig) *RTnetTracker {
	cfg.defaults()
	log := cfg.Log.With().Str("tracker", "rtnet").Logger()

	return &RTnetTracker{
		rec:    newRecorder(cfg.Units, cfg.MaxFrames, cfg.SamplePeriod, cfg.Clock, log),
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// Initialize connects to the server, selects the hardware config holding the
// CX1 device and configures the sampling mode.
func (t *RTnetTracker) Initialize() (err error) {
	t.op.Lock()
	defer t.op.Unlock()

	if t.connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), SetupTimeout)
	defer cancel()

	info, err := t.client.Connect(ctx, t.cfg.Address, t.cfg.Port)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, t.client.Close())
		}
	}()

	if err = rtnet.CheckVersion(info); err != nil {
		return err
	}

	configs, err := t.client.EnumerateConfigs(ctx)
	if err != nil {
		return err
	}
	hw, err := selectConfig(configs, t.cfg.ConfigID)
	if err != nil {
		return err
	}

	err = t.client.Configure(ctx, rtnet.Options{
		Mode:       t.cfg.Mode,
		PacketMode: rtnet.PacketModeSeparateAndCombinedCoord,
		ConfigID:   hw.ID,
	})
	if err != nil {
		return err
	}

	status, err := t.client.DeviceStatus(ctx)
	if err != nil {
		return err
	}
	if err = status.Err(); err != nil {
		return err
	}

	t.server = info
	t.hwConfig = hw
	t.connected = true
	t.rec.open()

	t.log.Info().
		Str("address", t.cfg.Address).
		Int("port", t.cfg.Port).
		Str("version", info.Version).
		Str("config", hw.Name).
		Uint16("rate", t.cfg.Mode.RateHz).
		Msg("connected to tracking server")
	return nil
}

func selectConfig(configs []rtnet.HWConfig, id int) (rtnet.HWConfig, error) {
	for _, c := range configs {
		if c.ID != id {
			continue
		}
		if !c.HasDevice(rtnet.CX1Device) {
			return c, trkerrors.ConfigError{
				Field:  "configId",
				Reason: fmt.Sprintf("hardware config %d (%s) does not enable the CX1 device", id, c.Name),
			}
		}
		return c, nil
	}
	return rtnet.HWConfig{}, trkerrors.ConfigError{
		Field:  "configId",
		Reason: fmt.Sprintf("hardware config %d not found among %d configs", id, len(configs)),
	}
}

// Update receives and records one packet. A transport failure is retried up to
// MaxRetries times; after that ErrMaxRetries is returned and the session is
// marked degraded, but the tracker stays usable.
func (t *RTnetTracker) Update() error {
	t.op.Lock()
	defer t.op.Unlock()

	if !t.connected {
		return ErrNotInitialized
	}

	ctx, gen := t.rec.context()
	pkt, err := t.receive(ctx)
	if err != nil {
		if errors.Is(err, ErrMaxRetries) {
			t.rec.markDegraded(gen)
		}
		return err
	}

	switch p := pkt.(type) {
	case *rtnet.Result3D:
		t.rec.record(gen, t.frames(p))
	case *rtnet.ResultADC:
		t.adcLock.Lock()
		t.adc = p
		t.adcLock.Unlock()
	}
	return nil
}

// receive requests and decodes one packet, retrying immediately on network
// errors. Anything else, such as a device fault, is returned as is.
func (t *RTnetTracker) receive(ctx context.Context) (rtnet.Packet, error) {
	var last error

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrReceiveAborted
		}

		pkt, err := t.fetch(ctx)
		if err == nil {
			if attempt > 0 {
				t.log.Debug().Int("attempt", attempt+1).Msg("receive recovered")
			}
			return pkt, nil
		}

		var netErr trkerrors.NetworkError
		if !errors.As(err, &netErr) {
			if ctx.Err() != nil {
				return nil, ErrReceiveAborted
			}
			t.log.Error().Err(err).Msg("receive failed")
			return nil, err
		}

		last = err
		t.log.Debug().Err(err).Int("attempt", attempt+1).Msg("receive failed")
	}

	t.log.Warn().Err(last).Int("retries", t.cfg.MaxRetries).Msg("giving up on receive")
	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, last)
}

func (t *RTnetTracker) fetch(ctx context.Context) (rtnet.Packet, error) {
	raw, err := t.client.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return t.client.Decode(raw)
}

// frames splits a 3D result into one frame per section. Sections for units
// beyond the configured count are ignored.
func (t *RTnetTracker) frames(p *rtnet.Result3D) []unitFrame {
	out := make([]unitFrame, 0, len(p.Units))

	for _, u := range p.Units {
		slot, err := t.rec.slot(u.Unit)
		if err != nil {
			t.log.Debug().Int("unit", u.Unit).Msg("ignoring coordinates for unknown unit")
			continue
		}

		f := Frame{Time: p.Time}
		for i, c := range u.Coords {
			if i >= MaxMarkers {
				break
			}
			f.Markers[i] = Marker{
				Position: mgl64.Vec3{float64(c.X), float64(c.Y), float64(c.Z)},
				Visible:  c.Visible,
			}
		}
		out = append(out, unitFrame{slot: slot, frame: f})
	}

	return out
}

// Quit ends any session and closes the client. A receive in progress is
// abandoned.
func (t *RTnetTracker) Quit() error {
	t.rec.close()

	t.op.Lock()
	defer t.op.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false
	t.log.Info().Msg("disconnected from tracking server")
	return t.client.Close()
}

// LastADC returns the latest analog sample, if one has arrived.
func (t *RTnetTracker) LastADC() (rtnet.ResultADC, bool) {
	t.adcLock.Lock()
	defer t.adcLock.Unlock()

	if t.adc == nil {
		return rtnet.ResultADC{}, false
	}
	return *t.adc, true
}

func (t *RTnetTracker) Server() rtnet.ServerInfo {
	t.op.Lock()
	defer t.op.Unlock()
	return t.server
}

func (t *RTnetTracker) StartAcquisition(maxDuration time.Duration) error {
	return t.rec.start(maxDuration)
}

func (t *RTnetTracker) StopAcquisition() error {
	t.rec.stop()
	return nil
}

func (t *RTnetTracker) CheckAcquisitionOverrun() bool {
	return t.rec.overrun()
}

func (t *RTnetTracker) RetrieveMarkerFrames(dst []Frame, maxFrames, unit int) int {
	return t.rec.retrieve(dst, maxFrames, unit)
}

func (t *RTnetTracker) GetCurrentMarkerFrame() (Frame, bool) {
	return t.rec.currentFrame(CombinedUnit)
}

func (t *RTnetTracker) GetCurrentMarkerFrameUnit(unit int) (Frame, bool) {
	return t.rec.currentFrame(unit)
}

func (t *RTnetTracker) GetCurrentMarkerFrameIntrinsic(unit int) (Frame, bool) {
	return t.rec.intrinsicFrame(unit)
}

func (t *RTnetTracker) GetSamplePeriod() time.Duration {
	return t.rec.samplePeriod
}

func (t *RTnetTracker) GetNumberOfUnits() int {
	return t.rec.units
}

func (t *RTnetTracker) GetAcquisitionState() bool {
	return t.rec.acquiring()
}

func (t *RTnetTracker) Degraded() bool {
	return t.rec.degraded()
}

func (t *RTnetTracker) GetUnitPlacement(unit int) (mgl64.Vec3, mgl64.Quat, error) {
	return t.rec.placement(unit)
}

func (t *RTnetTracker) GetUnitTransform(unit int) (mgl64.Vec3, mgl64.Mat3, error) {
	return t.rec.transform(unit)
}

func (t *RTnetTracker) SetUnitTransform(unit int, offset mgl64.Vec3, rotation mgl64.Mat3) error {
	return t.rec.setTransform(unit, offset, rotation)
}

func (t *RTnetTracker) PerformAlignment(origin, xNegative, xPositive, xyNegative, xyPositive int) error {
	return t.rec.align(origin, xNegative, xPositive, xyNegative, xyPositive)
}
