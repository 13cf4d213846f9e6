/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package calibration derives a pixel to real-unit scale from a reference measurement.
//
// The calibration session is a small state machine:
//
//	Uncalibrated ─Start→ Calibrating{no point} ─Pick→ Calibrating{reference} ─Pick→ AwaitingInput ─Apply→ Calibrated
//
// Cancel returns to whatever was in force before Start (Calibrated or Uncalibrated). A failed
// Apply leaves the model in AwaitingInput so the user can correct the input.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"pixelruler/internal/geom"
)

var (
	// ErrInvalidCalibration is returned when a calibration cannot be derived from its inputs.
	ErrInvalidCalibration = errors.New("invalid calibration")
	// ErrInvalidTransition is returned when an action does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid calibration transition")
)

// State is one of Uncalibrated, Calibrating, AwaitingInput or Calibrated.
type State interface {
	Name() string
	isState()
}

// Uncalibrated means measurements are reported in pixels only.
type Uncalibrated struct{}

// Calibrating collects the two reference points. Reference is nil until the first pick.
type Calibrating struct {
	Reference *geom.Point
}

// AwaitingInput holds the picked reference segment while the user enters its real length.
type AwaitingInput struct {
	Start         geom.Point
	End           geom.Point
	PixelDistance float64
}

// Calibrated is an applied calibration. It is a plain value and safe to copy into
// measurement records as a snapshot.
type Calibrated struct {
	PixelsPerUnit float64 `json:"pixels_per_unit"`
	Unit          string  `json:"unit"`
}

func (Uncalibrated) Name() string  { return "uncalibrated" }
func (Calibrating) Name() string   { return "calibrating" }
func (AwaitingInput) Name() string { return "awaiting_input" }
func (Calibrated) Name() string    { return "calibrated" }

func (Uncalibrated) isState()  {}
func (Calibrating) isState()   {}
func (AwaitingInput) isState() {}
func (Calibrated) isState()    {}

// Apply derives a calibration: pixelsPerUnit = pixelDistance / realLength.
func Apply(pixelDistance, realLength float64, unit string) (Calibrated, error) {
	if !(pixelDistance > 0) || math.IsInf(pixelDistance, 0) {
		return Calibrated{}, fmt.Errorf("%w: pixel distance must be > 0, got %v", ErrInvalidCalibration, pixelDistance)
	}
	if !(realLength > 0) || math.IsInf(realLength, 0) {
		return Calibrated{}, fmt.Errorf("%w: real length must be > 0, got %v", ErrInvalidCalibration, realLength)
	}
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return Calibrated{}, fmt.Errorf("%w: unit label is required", ErrInvalidCalibration)
	}
	return Calibrated{PixelsPerUnit: pixelDistance / realLength, Unit: unit}, nil
}

// Length converts a pixel length to real units.
func (c Calibrated) Length(px float64) float64 { return px / c.PixelsPerUnit }

// Area converts a pixel area to square real units.
func (c Calibrated) Area(px2 float64) float64 { return px2 / (c.PixelsPerUnit * c.PixelsPerUnit) }

// Model owns the calibration state of a measuring session.
type Model struct {
	state State
	// previous is what Cancel restores while a calibration is in progress.
	previous *Calibrated
}

// NewModel returns an uncalibrated model.
func NewModel() *Model { return &Model{state: Uncalibrated{}} }

// Restore returns a model already holding c, e.g. when a saved session is reopened.
func Restore(c *Calibrated) *Model {
	if c == nil {
		return NewModel()
	}
	return &Model{state: *c}
}

// State returns the current state.
func (m *Model) State() State { return m.state }

// Active reports whether a calibration session (Calibrating or AwaitingInput) is running.
func (m *Model) Active() bool {
	switch m.state.(type) {
	case Calibrating, AwaitingInput:
		return true
	}
	return false
}

// Snapshot returns the calibration in force for new measurements, or nil when uncalibrated.
// While re-calibrating, the previous calibration stays in force until Apply.
func (m *Model) Snapshot() *Calibrated {
	switch s := m.state.(type) {
	case Calibrated:
		c := s
		return &c
	case Calibrating, AwaitingInput:
		if m.previous != nil {
			c := *m.previous
			return &c
		}
	}
	return nil
}

// Start begins picking reference points.
func (m *Model) Start() error {
	switch s := m.state.(type) {
	case Uncalibrated:
		m.previous = nil
	case Calibrated:
		c := s
		m.previous = &c
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.state.Name())
	}
	m.state = Calibrating{}
	return nil
}

// Pick records a reference point. The second pick moves to AwaitingInput.
// The caller applies snapping to p beforehand, as for a line measurement.
func (m *Model) Pick(p geom.Point) error {
	s, ok := m.state.(Calibrating)
	if !ok {
		return fmt.Errorf("%w: pick in %s", ErrInvalidTransition, m.state.Name())
	}
	if s.Reference == nil {
		ref := p
		m.state = Calibrating{Reference: &ref}
		return nil
	}
	start := *s.Reference
	m.state = AwaitingInput{Start: start, End: p, PixelDistance: start.Dist(p)}
	return nil
}

// Preview returns the reference segment being drawn, if the first point is placed.
func (m *Model) Preview(p geom.Point) (start, end geom.Point, ok bool) {
	if s, isCal := m.state.(Calibrating); isCal && s.Reference != nil {
		return *s.Reference, p, true
	}
	return geom.Point{}, geom.Point{}, false
}

// Apply completes the calibration with the real length of the reference segment.
// On error the model stays in AwaitingInput.
func (m *Model) Apply(realLength float64, unit string) (Calibrated, error) {
	s, ok := m.state.(AwaitingInput)
	if !ok {
		return Calibrated{}, fmt.Errorf("%w: apply in %s", ErrInvalidTransition, m.state.Name())
	}
	c, err := Apply(s.PixelDistance, realLength, unit)
	if err != nil {
		return Calibrated{}, err
	}
	m.state = c
	m.previous = nil
	return c, nil
}

// Cancel abandons a running calibration session. It is a no-op otherwise.
func (m *Model) Cancel() {
	if !m.Active() {
		return
	}
	if m.previous != nil {
		m.state = *m.previous
	} else {
		m.state = Uncalibrated{}
	}
	m.previous = nil
}

// Clear drops any calibration and any session in progress.
func (m *Model) Clear() {
	m.state = Uncalibrated{}
	m.previous = nil
}
