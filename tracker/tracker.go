package tracker

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	MaxMarkers      = 24
	MaxUnits        = 8
	MaxMarkerFrames = 20000

	DefaultUnits        = 2
	DefaultSamplePeriod = 5 * time.Millisecond
	DefaultMaxRetries   = 5
	// NoRetries gives up after the first failed receive.
	NoRetries = -1

	// CombinedUnit addresses the frames merged from every unit.
	CombinedUnit = -1

	epsilon = 1e-9
)

var (
	ErrNotInitialized      = errors.New("tracker has not been initialized")
	ErrMaxRetries          = errors.New("maximum retries reached while receiving")
	ErrReceiveAborted      = errors.New("receive has been aborted")
	ErrDegenerateAlignment = errors.New("alignment markers do not span a plane")
)

// Tracker is implemented by every marker tracking backend. It is safe for
// concurrent use; a control loop is expected to call Update about once per
// sample period.
type Tracker interface {
	// Initialize acquires whatever the backend needs. Calling it twice is harmless.
	Initialize() error
	// Update performs one bounded tick of work.
	Update() error
	Quit() error

	// StartAcquisition begins a new session, discarding any previous recording.
	StartAcquisition(maxDuration time.Duration) error
	StopAcquisition() error
	// CheckAcquisitionOverrun stays true from the moment the session ran past
	// its duration or filled a buffer until the next StartAcquisition.
	CheckAcquisitionOverrun() bool

	// RetrieveMarkerFrames copies at most maxFrames recorded frames for unit
	// into dst, oldest first, and returns how many were copied.
	RetrieveMarkerFrames(dst []Frame, maxFrames, unit int) int
	GetCurrentMarkerFrame() (Frame, bool)
	GetCurrentMarkerFrameUnit(unit int) (Frame, bool)
	GetCurrentMarkerFrameIntrinsic(unit int) (Frame, bool)

	GetSamplePeriod() time.Duration
	GetNumberOfUnits() int
	GetAcquisitionState() bool
	Degraded() bool

	GetUnitPlacement(unit int) (pos mgl64.Vec3, ori mgl64.Quat, err error)
	GetUnitTransform(unit int) (offset mgl64.Vec3, rotation mgl64.Mat3, err error)
	SetUnitTransform(unit int, offset mgl64.Vec3, rotation mgl64.Mat3) error
	PerformAlignment(origin, xNegative, xPositive, xyNegative, xyPositive int) error
}
