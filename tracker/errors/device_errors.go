package errors

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkKind identifies the client side failure that occurred.
type NetworkKind int

const (
	Timeout NetworkKind = iota
	ConnectionLost
	Malformed
)

func (k NetworkKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ConnectionLost:
		return "connection lost"
	case Malformed:
		return "malformed packet"
	}
	return "UNKOWN"
}

// NetworkError is a client side (transport) failure. These are retryable.
type NetworkError struct {
	Kind NetworkKind
	Op   string
	Err  error
}

func (err NetworkError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("network %s during %s", err.Kind, err.Op)
	}
	return fmt.Sprintf("network %s during %s: %v", err.Kind, err.Op, err.Err)
}

func (err NetworkError) Unwrap() error {
	return err.Err
}

// DeviceStatusError carries the per unit fault words reported by the server.
type DeviceStatusError struct {
	Faults map[int]uint32
}

func (err DeviceStatusError) Error() string {
	if len(err.Faults) == 0 {
		return "device reported an unspecified fault"
	}

	units := make([]int, 0, len(err.Faults))
	for unit := range err.Faults {
		units = append(units, unit)
	}
	sort.Ints(units)

	parts := make([]string, len(units))
	for i, unit := range units {
		parts[i] = fmt.Sprintf("unit %d: 0x%08X", unit, err.Faults[unit])
	}
	return "device fault; " + strings.Join(parts, ", ")
}

// ConfigError is raised when the tracker cannot be set up with what it was given.
type ConfigError struct {
	Field  string
	Reason string
}

func (err ConfigError) Error() string {
	if len(err.Field) == 0 {
		err.Field = "UNKOWN"
	}
	return fmt.Sprintf("invalid configuration; %s %s", err.Field, err.Reason)
}

// AlignmentError names the reference marker that was not visible to a unit.
type AlignmentError struct {
	Marker int
	Unit   int
}

func (err AlignmentError) Error() string {
	return fmt.Sprintf("alignment failed; marker %d not visible to unit %d", err.Marker, err.Unit)
}

// UnitRangeError is returned for unit indices outside the configured range.
type UnitRangeError struct {
	Unit  int
	Units int
}

func (err UnitRangeError) Error() string {
	return fmt.Sprintf("no such unit %d; tracker has %d", err.Unit, err.Units)
}
