/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package measure

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
	applog "pixelruler/internal/log"
	"pixelruler/internal/snap"
)

// Mode selects the geometry produced by the next pick.
type Mode int

const (
	ModeLine Mode = iota
	ModeRectangle
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown measurement mode")

func (m Mode) String() string {
	switch m {
	case ModeLine:
		return KindLine
	case ModeRectangle:
		return KindRectangle
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "line" and "rect"/"rectangle", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "line":
		return ModeLine, nil
	case "rect", "rectangle":
		return ModeRectangle, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// CalibrationSource provides the calibration snapshot stored with each commit.
// *calibration.Model satisfies it.
type CalibrationSource interface {
	Snapshot() *calibration.Calibrated
}

// Machine drives point picking. It is Idle until the first click, then Picking until a
// second click commits or Cancel discards. All points are image coordinates.
type Machine struct {
	mode    Mode
	first   *geom.Point
	snapper *snap.Snapper
	cal     CalibrationSource
	store   *Store
	now     func() time.Time
	log     *slog.Logger
}

// NewMachine returns an idle line-mode machine committing into store. cal may be nil, in
// which case measurements are uncalibrated.
func NewMachine(s *snap.Snapper, cal CalibrationSource, store *Store) *Machine {
	return &Machine{
		mode:    ModeLine,
		snapper: s,
		cal:     cal,
		store:   store,
		now:     time.Now,
		log:     applog.WithComponent("measure"),
	}
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode { return m.mode }

// SetMode switches mode. A pending pick is discarded; the result reports whether one was.
func (m *Machine) SetMode(mode Mode) bool {
	discarded := m.Cancel()
	m.mode = mode
	return discarded
}

// SetSnapper replaces the snapping configuration used by later events.
func (m *Machine) SetSnapper(s *snap.Snapper) { m.snapper = s }

// Pending returns the first point while picking.
func (m *Machine) Pending() (geom.Point, bool) {
	if m.first == nil {
		return geom.Point{}, false
	}
	return *m.first, true
}

// Click places a point. The first click starts picking and returns nil. The second click
// commits the measurement to the store and returns it. angle reports whether the angle
// snap modifier is held for this event.
func (m *Machine) Click(p geom.Point, angle bool) (*Measurement, error) {
	if m.first == nil {
		first := p
		m.first = &first
		m.log.Debug("pick started", slog.String("mode", m.mode.String()), applog.Point("p0", p))
		return nil, nil
	}
	meas := Measurement{
		ID:        NextID(),
		Kind:      m.build(*m.first, p, angle),
		CreatedAt: m.now().UTC(),
	}
	if m.cal != nil {
		meas.Calibration = m.cal.Snapshot()
	}
	if err := m.store.Add(meas); err != nil {
		return nil, err
	}
	m.first = nil
	m.log.Debug("measurement committed", slog.Uint64("id", uint64(meas.ID)), slog.String("kind", meas.Kind.Name()),
		applog.Point("p1", p))
	out := meas.clone()
	return &out, nil
}

// Move returns the preview geometry for the pointer at p while picking. The preview is
// snapped exactly as a commit at p would be.
func (m *Machine) Move(p geom.Point, angle bool) (Kind, bool) {
	if m.first == nil {
		return nil, false
	}
	return m.build(*m.first, p, angle), true
}

// Cancel discards a pending pick and reports whether there was one.
func (m *Machine) Cancel() bool {
	if m.first == nil {
		return false
	}
	m.first = nil
	m.log.Debug("pick cancelled")
	return true
}

func (m *Machine) build(p0, p1 geom.Point, angle bool) Kind {
	s := m.snapper
	if s != nil {
		s = s.WithAngle(angle)
	}
	switch m.mode {
	case ModeRectangle:
		if s != nil {
			p1 = s.Rect(p0, p1)
		}
		return Rectangle{Corner0: p0, Corner1: p1}
	default:
		if s != nil {
			p1 = s.Line(p0, p1)
		}
		return Line{P0: p0, P1: p1}
	}
}
