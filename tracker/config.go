package tracker

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
	"github.com/CodedInternet/dextrack/tracker/rtnet"
)

const (
	BackendRTnet     = "rtnet"
	BackendReplay    = "replay"
	BackendSimulator = "simulator"
)

var (
	_ Tracker = (*RTnetTracker)(nil)
	_ Tracker = (*MouseTracker)(nil)
)

type Config struct {
	Version      int
	Backend      string
	Units        int
	SamplePeriod time.Duration `yaml:"samplePeriod"`
	MaxFrames    int           `yaml:"maxFrames"`

	RTnet      RTnetSection     `yaml:"rtnet"`
	Simulator  SimulatorSection `yaml:"simulator"`
	Placements []Placement
}

type RTnetSection struct {
	Address    string
	Port       int
	ConfigID   int           `yaml:"configId"`
	// MaxRetries counts retries after a failed receive; 0 disables retrying.
	MaxRetries int           `yaml:"maxRetries"`
	Timeout    time.Duration // per receive
	Replay     string        // pcap capture used by the replay backend
}

type SimulatorSection struct {
	Pointer string // mice or orbit
	Device  string
	Scale   float64
	Radius  float64
	Period  time.Duration
	Fixture []FixtureMarker
}

// Placement is a stored unit transform.
type Placement struct {
	Unit     int
	Offset   mgl64.Vec3
	Rotation mgl64.Mat3
}

type YAMLPlacement struct {
	Unit     int       `yaml:"unit"`
	Offset   []float64 `yaml:"offset,flow"`
	Rotation []float64 `yaml:"rotation,flow"` // row major, identity if omitted
}

func (p Placement) MarshalYAML() (interface{}, error) {
	r := p.Rotation
	return &YAMLPlacement{
		Unit:   p.Unit,
		Offset: []float64{p.Offset.X(), p.Offset.Y(), p.Offset.Z()},
		Rotation: []float64{
			r.At(0, 0), r.At(0, 1), r.At(0, 2),
			r.At(1, 0), r.At(1, 1), r.At(1, 2),
			r.At(2, 0), r.At(2, 1), r.At(2, 2),
		},
	}, nil
}

func (p *Placement) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var yp YAMLPlacement
	if err := unmarshal(&yp); err != nil {
		return err
	}

	if len(yp.Offset) != 3 {
		return trkerrors.ConfigError{Field: "placements.offset", Reason: fmt.Sprintf("need 3 values, got %d", len(yp.Offset))}
	}
	p.Unit = yp.Unit
	p.Offset = mgl64.Vec3{yp.Offset[0], yp.Offset[1], yp.Offset[2]}

	switch len(yp.Rotation) {
	case 0:
		p.Rotation = mgl64.Ident3()
	case 9:
		p.Rotation = mgl64.Mat3FromRows(
			mgl64.Vec3{yp.Rotation[0], yp.Rotation[1], yp.Rotation[2]},
			mgl64.Vec3{yp.Rotation[3], yp.Rotation[4], yp.Rotation[5]},
			mgl64.Vec3{yp.Rotation[6], yp.Rotation[7], yp.Rotation[8]},
		)
	default:
		return trkerrors.ConfigError{Field: "placements.rotation", Reason: fmt.Sprintf("need 9 values, got %d", len(yp.Rotation))}
	}
	return nil
}

type YAMLFixtureMarker struct {
	ID       int       `yaml:"id"`
	Position []float64 `yaml:"position,flow"`
}

func (m *FixtureMarker) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ym YAMLFixtureMarker
	if err := unmarshal(&ym); err != nil {
		return err
	}

	if len(ym.Position) != 3 {
		return trkerrors.ConfigError{Field: "simulator.fixture.position", Reason: fmt.Sprintf("need 3 values, got %d", len(ym.Position))}
	}
	m.ID = ym.ID
	m.Position = mgl64.Vec3{ym.Position[0], ym.Position[1], ym.Position[2]}
	return nil
}

// DefaultConfig is a two unit RTnet setup on the default lab network.
func DefaultConfig() Config {
	return Config{
		Version:      1,
		Backend:      BackendRTnet,
		Units:        DefaultUnits,
		SamplePeriod: DefaultSamplePeriod,
		MaxFrames:    MaxMarkerFrames,
		RTnet: RTnetSection{
			Address:    rtnet.DefaultAddress,
			Port:       rtnet.DefaultPort,
			ConfigID:   1,
			MaxRetries: DefaultMaxRetries,
			Timeout:    rtnet.DefaultTimeout,
		},
		Simulator: SimulatorSection{
			Pointer: "mice",
			Device:  DefaultMiceDevice,
			Scale:   1,
			Radius:  100,
			Period:  4 * time.Second,
		},
	}
}

// ParseConfig reads YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func LoadConfig(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

func (c Config) Validate() error {
	switch c.Version {
	case 1:
	default:
		return trkerrors.ConfigError{Field: "version", Reason: fmt.Sprintf("unknown version %d", c.Version)}
	}

	switch c.Backend {
	case BackendRTnet, BackendSimulator:
	case BackendReplay:
		if c.RTnet.Replay == "" {
			return trkerrors.ConfigError{Field: "rtnet.replay", Reason: "a capture is required for the replay backend"}
		}
	default:
		return trkerrors.ConfigError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", c.Backend)}
	}

	if c.Units < 1 || c.Units > MaxUnits {
		return trkerrors.ConfigError{Field: "units", Reason: fmt.Sprintf("must be between 1 and %d", MaxUnits)}
	}
	if c.SamplePeriod <= 0 {
		return trkerrors.ConfigError{Field: "samplePeriod", Reason: "must be positive"}
	}
	if c.MaxFrames < 1 || c.MaxFrames > MaxMarkerFrames {
		return trkerrors.ConfigError{Field: "maxFrames", Reason: fmt.Sprintf("must be between 1 and %d", MaxMarkerFrames)}
	}
	if c.RTnet.MaxRetries < 0 {
		return trkerrors.ConfigError{Field: "rtnet.maxRetries", Reason: "must not be negative"}
	}

	for _, p := range c.Placements {
		if p.Unit != CombinedUnit && (p.Unit < 0 || p.Unit >= c.Units) {
			return trkerrors.ConfigError{Field: "placements.unit", Reason: trkerrors.UnitRangeError{Unit: p.Unit, Units: c.Units}.Error()}
		}
	}

	for _, m := range c.Simulator.Fixture {
		// marker 0 belongs to the pointer
		if m.ID < 1 || m.ID >= MaxMarkers {
			return trkerrors.ConfigError{Field: "simulator.fixture.id", Reason: fmt.Sprintf("%d is not between 1 and %d", m.ID, MaxMarkers-1)}
		}
	}

	switch c.Simulator.Pointer {
	case "mice", "orbit":
	default:
		return trkerrors.ConfigError{Field: "simulator.pointer", Reason: fmt.Sprintf("unknown pointer %q", c.Simulator.Pointer)}
	}

	return nil
}

// NewFromConfig builds the configured backend and applies its placements.
// The tracker still needs to be initialized.
func NewFromConfig(c Config, clk clock.Clock, log zerolog.Logger, status StatusFunc) (Tracker, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	var t Tracker
	switch c.Backend {
	case BackendRTnet, BackendReplay:
		var client rtnet.Client = rtnet.NewUDPClient(c.RTnet.Timeout)
		if c.Backend == BackendReplay {
			client = rtnet.NewReplayClient(c.RTnet.Replay, c.RTnet.Port)
		}
		retries := c.RTnet.MaxRetries
		if retries == 0 {
			retries = NoRetries
		}
		t = NewRTnetTracker(client, RTnetConfig{
			Address:      c.RTnet.Address,
			Port:         c.RTnet.Port,
			ConfigID:     c.RTnet.ConfigID,
			Units:        c.Units,
			SamplePeriod: c.SamplePeriod,
			MaxFrames:    c.MaxFrames,
			MaxRetries:   retries,
			Clock:        clk,
			Log:          log,
		})

	case BackendSimulator:
		var pointer Pointer
		if c.Simulator.Pointer == "orbit" {
			pointer = NewOrbitPointer(clk, c.Simulator.Radius, c.Simulator.Period)
		} else {
			pointer = NewMicePointer(c.Simulator.Device)
		}
		t = NewMouseTracker(pointer, SimulatorConfig{
			Units:        c.Units,
			SamplePeriod: c.SamplePeriod,
			MaxFrames:    c.MaxFrames,
			Scale:        c.Simulator.Scale,
			Fixture:      c.Simulator.Fixture,
			Clock:        clk,
			Log:          log,
			Status:       status,
		})
	}

	for _, p := range c.Placements {
		if err := t.SetUnitTransform(p.Unit, p.Offset, p.Rotation); err != nil {
			return nil, err
		}
	}

	return t, nil
}
