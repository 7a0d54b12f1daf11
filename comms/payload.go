package comms

import (
	"strconv"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/CodedInternet/dextrack/calcs"
	"github.com/CodedInternet/dextrack/tracker"
)

type Centroid struct {
	X, Y, Z float64
}

type StatePayload struct {
	Time      float64
	Acquiring bool
	Overrun   bool
	Degraded  bool
	Status    string `json:",omitempty"`
	Error     string `json:",omitempty"`
	Current   *tracker.Frame `json:",omitempty"`
	// Centroids of the visible markers keyed by unit, "combined" for the combined frame.
	Centroids map[string]Centroid
}

func unitKey(unit int) string {
	if unit == tracker.CombinedUnit {
		return "combined"
	}
	return strconv.Itoa(unit)
}

func centroid(f tracker.Frame) (Centroid, bool) {
	points := make([]mgl64.Vec3, len(f.Markers))
	weights := make([]float64, len(f.Markers))
	for i, m := range f.Markers {
		points[i] = m.Position
		if m.Visible {
			weights[i] = 1
		}
	}

	c, ok := calcs.WeightedCentroid(points, weights)
	return Centroid{c.X(), c.Y(), c.Z()}, ok
}

// NewStatePayload snapshots the device for publishing.
func NewStatePayload(device tracker.Tracker) StatePayload {
	p := StatePayload{
		Acquiring: device.GetAcquisitionState(),
		Overrun:   device.CheckAcquisitionOverrun(),
		Degraded:  device.Degraded(),
		Centroids: make(map[string]Centroid),
	}

	if f, ok := device.GetCurrentMarkerFrame(); ok {
		p.Current = &f
		p.Time = f.Time
	}

	units := []int{tracker.CombinedUnit}
	for u := 0; u < device.GetNumberOfUnits(); u++ {
		units = append(units, u)
	}
	for _, u := range units {
		f, ok := device.GetCurrentMarkerFrameUnit(u)
		if !ok {
			continue
		}
		if c, ok := centroid(f); ok {
			p.Centroids[unitKey(u)] = c
		}
	}

	return p
}
