package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/CodedInternet/dextrack/comms"
	"github.com/CodedInternet/dextrack/tracker"
	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errResponse(err error, status int, text string) render.Renderer {
	resp := &ErrResponse{Err: err, HTTPStatusCode: status, StatusText: text}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

func ErrInvalidRequest(err error) render.Renderer {
	return errResponse(err, http.StatusBadRequest, "Invalid request.")
}

func ErrUnauthorized(err error) render.Renderer {
	return errResponse(err, http.StatusUnauthorized, "Unauthorized.")
}

func ErrConflict(err error) render.Renderer {
	return errResponse(err, http.StatusConflict, "Device refused the request.")
}

func ErrRender(err error) render.Renderer {
	return errResponse(err, http.StatusUnprocessableEntity, "Error rendering response.")
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

// ErrDevice picks the status for an error coming back from the tracker.
func ErrDevice(err error) render.Renderer {
	var (
		alignErr trkerrors.AlignmentError
		rangeErr trkerrors.UnitRangeError
	)
	switch {
	case errors.As(err, &rangeErr):
		return ErrNotFound
	case errors.As(err, &alignErr), errors.Is(err, tracker.ErrDegenerateAlignment),
		errors.Is(err, comms.ErrBadMarkers), errors.Is(err, comms.ErrUnknownCommand):
		return ErrInvalidRequest(err)
	}
	return ErrConflict(err)
}

//---
// Payloads
//---

type StartPayload struct {
	MaxDuration float64 `json:"maxDuration"` // seconds
}

func (p *StartPayload) Bind(r *http.Request) error {
	if p.MaxDuration <= 0 {
		return errors.New("maxDuration must be a positive number of seconds")
	}
	return nil
}

type AlignmentPayload struct {
	Origin     int `json:"origin"`
	XNegative  int `json:"xNegative"`
	XPositive  int `json:"xPositive"`
	XYNegative int `json:"xyNegative"`
	XYPositive int `json:"xyPositive"`
}

func (p *AlignmentPayload) Bind(r *http.Request) error {
	return nil
}

type FramesPayload struct {
	Unit   int             `json:"unit"`
	Frames []tracker.Frame `json:"frames"`
}

type PlacementPayload struct {
	Unit        int        `json:"unit"`
	Position    mgl64.Vec3 `json:"position"`
	Orientation [4]float64 `json:"orientation"` // w, x, y, z
}

//---
// Views
//---

// unitParam reads {unit}, accepting "combined" for the combined frame.
func unitParam(r *http.Request) (int, error) {
	s := chi.URLParam(r, "unit")
	if s == "combined" {
		return tracker.CombinedUnit, nil
	}
	return strconv.Atoi(s)
}

var errBadLimit = errors.New("max must be a non-negative integer")

// parseLimit reads a frame count, capped at the buffer capacity.
func parseLimit(s string) (int, error) {
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0, errBadLimit
	}
	if limit > tracker.MaxMarkerFrames {
		limit = tracker.MaxMarkerFrames
	}
	return limit, nil
}

func device() tracker.Tracker {
	return ENV.Conductor.Device
}

func Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Conductor.State())
}

func StartAcquisition(w http.ResponseWriter, r *http.Request) {
	data := &StartPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := ENV.Conductor.ProcessCommand(comms.Cmd{Cmd: "start", Value: data.MaxDuration}); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, ENV.Conductor.State())
}

func StopAcquisition(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Conductor.ProcessCommand(comms.Cmd{Cmd: "stop"}); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, ENV.Conductor.State())
}

// RetrieveFrames returns up to ?max= recorded frames for a unit, oldest first.
func RetrieveFrames(w http.ResponseWriter, r *http.Request) {
	unit, err := unitParam(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	limit := tracker.MaxMarkerFrames
	if s := r.URL.Query().Get("max"); s != "" {
		if limit, err = parseLimit(s); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
	}

	if unit != tracker.CombinedUnit && (unit < 0 || unit >= device().GetNumberOfUnits()) {
		render.Render(w, r, ErrNotFound)
		return
	}

	frames := make([]tracker.Frame, limit)
	n := device().RetrieveMarkerFrames(frames, limit, unit)
	render.JSON(w, r, FramesPayload{Unit: unit, Frames: frames[:n]})
}

func CurrentFrame(w http.ResponseWriter, r *http.Request) {
	unit, err := unitParam(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var (
		f  tracker.Frame
		ok bool
	)
	if r.URL.Query().Get("intrinsic") != "" {
		f, ok = device().GetCurrentMarkerFrameIntrinsic(unit)
	} else {
		f, ok = device().GetCurrentMarkerFrameUnit(unit)
	}
	if !ok {
		render.Render(w, r, ErrNotFound)
		return
	}
	render.JSON(w, r, f)
}

func PerformAlignment(w http.ResponseWriter, r *http.Request) {
	data := &AlignmentPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	cmd := comms.Cmd{
		Cmd:     "align",
		Markers: []int{data.Origin, data.XNegative, data.XPositive, data.XYNegative, data.XYPositive},
	}
	if err := ENV.Conductor.ProcessCommand(cmd); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.NoContent(w, r)
}

func UnitPlacement(w http.ResponseWriter, r *http.Request) {
	unit, err := unitParam(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	pos, ori, err := device().GetUnitPlacement(unit)
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, PlacementPayload{
		Unit:        unit,
		Position:    pos,
		Orientation: [4]float64{ori.W, ori.X(), ori.Y(), ori.Z()},
	})
}

// Routes mounts the control API. Requests that change the device need a
// token unless running in debug mode.
func Routes(r chi.Router) {
	r.Get("/status", Status)
	r.Get("/frames/{unit}", RetrieveFrames)
	r.Get("/current/{unit}", CurrentFrame)
	r.Get("/placement/{unit}", UnitPlacement)

	r.Group(func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(ValidateJWT)
		}

		r.Post("/acquisition/start", StartAcquisition)
		r.Post("/acquisition/stop", StopAcquisition)
		r.Post("/alignment", PerformAlignment)
	})

	r.With(ValidateJWT).Get("/refresh_token", JWTRefresh)
}
