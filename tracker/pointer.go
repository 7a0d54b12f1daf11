package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMiceDevice merges every mouse attached to a linux host.
const DefaultMiceDevice = "/dev/input/mice"

// Pointer is a local pointing device driving the simulated marker.
type Pointer interface {
	// Sample returns the current position, in device counts.
	Sample() (x, y float64, err error)
	Close() error
}

// OrbitPointer moves in a circle around the origin, one revolution per Period.
// It stands in for a mouse on headless hosts and in tests.
type OrbitPointer struct {
	Radius float64
	Period time.Duration

	clock clock.Clock
	once  sync.Once
	start time.Time
}

func NewOrbitPointer(clk clock.Clock, radius float64, period time.Duration) *OrbitPointer {
	if clk == nil {
		clk = clock.New()
	}
	if period <= 0 {
		period = 4 * time.Second
	}
	return &OrbitPointer{Radius: radius, Period: period, clock: clk}
}

func (p *OrbitPointer) Sample() (x, y float64, err error) {
	p.once.Do(func() {
		p.start = p.clock.Now()
	})

	phase := 2 * math.Pi * float64(p.clock.Since(p.start)) / float64(p.Period)
	return p.Radius * math.Cos(phase), p.Radius * math.Sin(phase), nil
}

func (p *OrbitPointer) Close() error {
	return nil
}
