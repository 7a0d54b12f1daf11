package comms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/CodedInternet/dextrack/tracker"
)

// PublishInterval is how often subscribers receive the state by default.
const PublishInterval = time.Second / 30

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadMarkers     = errors.New("align needs exactly 5 marker ids")
)

// Cmd is a command sent by a client. Value carries the duration in seconds for
// start; Markers the origin, x-, x+, xy- and xy+ marker ids for align.
type Cmd struct {
	Cmd     string
	Value   float64
	Markers []int
}

// ConductorInterface is what a client connection needs to issue commands.
type ConductorInterface interface {
	ProcessCommand(cmd Cmd) error
}

// PlacementStore persists the unit transforms committed by an alignment.
type PlacementStore interface {
	SavePlacement(p tracker.Placement) error
}

// Conductor drives a tracker at its sample period and fans its state out to
// subscribers.
type Conductor struct {
	Device     tracker.Tracker
	Placements PlacementStore
	Clock      clock.Clock
	Log        zerolog.Logger
	Publish    time.Duration

	lock        sync.Mutex
	clients     map[chan StatePayload]struct{}
	status      string
	lastErr     error
	lastPublish time.Time
}

func NewConductor(device tracker.Tracker, placements PlacementStore, clk clock.Clock, log zerolog.Logger) *Conductor {
	if clk == nil {
		clk = clock.New()
	}
	return &Conductor{
		Device:     device,
		Placements: placements,
		Clock:      clk,
		Log:        log.With().Str("component", "conductor").Logger(),
		Publish:    PublishInterval,
		clients:    make(map[chan StatePayload]struct{}),
	}
}

// Run calls Update once per sample period until ctx is done.
func (c *Conductor) Run(ctx context.Context) error {
	ticker := c.Clock.Ticker(c.Device.GetSamplePeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick performs one update and publishes if the publish interval has passed.
func (c *Conductor) Tick() {
	err := c.Device.Update()

	c.lock.Lock()
	if err != nil && !errors.Is(err, tracker.ErrReceiveAborted) {
		if c.lastErr == nil || c.lastErr.Error() != err.Error() {
			c.Log.Warn().Err(err).Msg("update failed")
		}
	}
	c.lastErr = err
	due := c.Clock.Since(c.lastPublish) >= c.Publish
	if due {
		c.lastPublish = c.Clock.Now()
	}
	c.lock.Unlock()

	if due {
		c.broadcast(c.State())
	}
}

// State is the current device state plus the latest status and error.
func (c *Conductor) State() StatePayload {
	p := NewStatePayload(c.Device)

	c.lock.Lock()
	defer c.lock.Unlock()
	p.Status = c.status
	if c.lastErr != nil {
		p.Error = c.lastErr.Error()
	}
	return p
}

// ReportStatus is handed to trackers as their tracker.StatusFunc.
func (c *Conductor) ReportStatus(status string) {
	c.lock.Lock()
	c.status = status
	c.lock.Unlock()

	c.Log.Info().Str("status", status).Msg("tracker status")
}

// Subscribe returns a channel of published states. Slow subscribers miss
// states rather than hold up the loop.
func (c *Conductor) Subscribe() (<-chan StatePayload, func()) {
	ch := make(chan StatePayload, 8)

	c.lock.Lock()
	c.clients[ch] = struct{}{}
	c.lock.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.lock.Lock()
			delete(c.clients, ch)
			c.lock.Unlock()
			close(ch)
		})
	}
}

func (c *Conductor) broadcast(p StatePayload) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for ch := range c.clients {
		select {
		case ch <- p:
		default:
		}
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) error {
	var err error

	switch cmd.Cmd {
	case "start":
		if cmd.Value <= 0 {
			return fmt.Errorf("start needs a positive duration, got %v", cmd.Value)
		}
		err = c.Device.StartAcquisition(time.Duration(cmd.Value * float64(time.Second)))

	case "stop":
		err = c.Device.StopAcquisition()

	case "align":
		if len(cmd.Markers) != 5 {
			return ErrBadMarkers
		}
		m := cmd.Markers
		err = c.Device.PerformAlignment(m[0], m[1], m[2], m[3], m[4])
		if err == nil {
			err = c.savePlacements()
		}

	default:
		c.Log.Warn().Str("cmd", cmd.Cmd).Msg("unable to process command")
		return ErrUnknownCommand
	}

	if err != nil {
		c.Log.Error().Err(err).Str("cmd", cmd.Cmd).Msg("command failed")
		return err
	}
	c.Log.Info().Str("cmd", cmd.Cmd).Msg("command processed")
	return nil
}

// savePlacements stores the transform of every unit and of the combined frame.
func (c *Conductor) savePlacements() (err error) {
	if c.Placements == nil {
		return nil
	}

	units := []int{tracker.CombinedUnit}
	for u := 0; u < c.Device.GetNumberOfUnits(); u++ {
		units = append(units, u)
	}

	for _, u := range units {
		offset, rotation, terr := c.Device.GetUnitTransform(u)
		if terr != nil {
			err = multierr.Append(err, terr)
			continue
		}
		err = multierr.Append(err, c.Placements.SavePlacement(tracker.Placement{Unit: u, Offset: offset, Rotation: rotation}))
	}
	return err
}
