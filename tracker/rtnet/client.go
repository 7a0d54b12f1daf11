package rtnet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

const (
	// Host address and UDP port of the tracking server on the lab network.
	DefaultAddress = "192.168.1.1"
	DefaultPort    = 10111

	// CX1Device is the device id of the marker tracker inside a hardware config.
	CX1Device = 1

	// ProtocolVersion is the version this package speaks.
	ProtocolVersion = "1.2.0"
	// ServerVersion is the range of server versions we can talk to.
	ServerVersion = "~1.2.0"

	// CombinedUnit marks the section of a 3D result holding the combined coordinates.
	CombinedUnit = -1
)

var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrUnexpectedPacket = errors.New("unexpected packet type")
	ErrUnsupportedMode  = errors.New("sample rate not supported by the server")
)

// PacketMode selects which coordinate sets the server puts in each 3D result.
type PacketMode uint8

const (
	PacketModeCombinedCoord PacketMode = iota
	PacketModeSeparateCoord
	PacketModeSeparateAndCombinedCoord
)

// Mode is the sampling mode requested from the marker tracker.
type Mode struct {
	RateHz       uint16
	Decimation   uint8
	ExternalSync bool
}

// DefaultMode samples at 200Hz without down sampling or external sync.
var DefaultMode = Mode{RateHz: 200, Decimation: 1}

// Options are sent to the server with Configure.
type Options struct {
	Mode       Mode
	PacketMode PacketMode
	ConfigID   int
}

type ServerInfo struct {
	Version string
}

// HWConfig is one hardware configuration defined on the server.
type HWConfig struct {
	ID      int
	Name    string
	Devices []int
}

// HasDevice reports whether the config enables the given device.
func (c HWConfig) HasDevice(device int) bool {
	for _, d := range c.Devices {
		if d == device {
			return true
		}
	}
	return false
}

// DeviceStatus holds one fault word per unit. Zero means healthy.
type DeviceStatus struct {
	Faults []uint32
}

// Err returns a DeviceStatusError if any unit reports a fault.
func (s DeviceStatus) Err() error {
	var faults map[int]uint32
	for unit, f := range s.Faults {
		if f == 0 {
			continue
		}
		if faults == nil {
			faults = make(map[int]uint32)
		}
		faults[unit] = f
	}
	if faults == nil {
		return nil
	}
	return trkerrors.DeviceStatusError{Faults: faults}
}

// Client is a session with a tracking server. Implementations are not required
// to support concurrent requests; callers keep at most one in flight.
type Client interface {
	Connect(ctx context.Context, address string, port int) (ServerInfo, error)
	EnumerateConfigs(ctx context.Context) ([]HWConfig, error)
	Configure(ctx context.Context, opts Options) error
	Receive(ctx context.Context) (RawPacket, error)
	Decode(raw RawPacket) (Packet, error)
	DeviceStatus(ctx context.Context) (DeviceStatus, error)
	Close() error
}

// CheckVersion refuses servers outside of ServerVersion. A "DEV" server is accepted.
func CheckVersion(info ServerInfo) error {
	if info.Version == "DEV" {
		return nil
	}

	v, err := semver.NewVersion(info.Version)
	if err != nil {
		return trkerrors.ConfigError{Field: "server version", Reason: fmt.Sprintf("%q is not a version", info.Version)}
	}

	c, err := semver.NewConstraint(ServerVersion)
	if err != nil {
		return err
	}

	if !c.Check(v) {
		return trkerrors.ConfigError{
			Field:  "server version",
			Reason: fmt.Sprintf("recieved %s - require %s", info.Version, ServerVersion),
		}
	}
	return nil
}
