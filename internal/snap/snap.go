/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package snap

// Angle and length snapping for the measurement tools.
// These helpers are UI-agnostic and deterministic so that previews, commits and tests all
// agree on the corrected geometry.

import (
	"errors"
	"fmt"
	"math"

	"pixelruler/internal/geom"
)

// ErrInvalidSnapUnit is returned for a non-positive (or non-finite) length snap unit.
var ErrInvalidSnapUnit = errors.New("invalid length snap unit")

// DefaultLengthUnit is the length snap multiple used when none is configured.
const DefaultLengthUnit = 1.0

// Config controls which corrections are applied.
type Config struct {
	// AngleEnabled snaps the free point onto the nearest of the four axis rays.
	// Usually toggled per interaction by a held modifier key.
	AngleEnabled bool `json:"angle_enabled" yaml:"-"`
	// AngleToleranceDeg limits angle snapping to directions within this many degrees of a
	// ray. Zero means always snap.
	AngleToleranceDeg float64 `json:"angle_tolerance_deg" yaml:"angle_tolerance_deg"`
	// LengthEnabled rounds lengths (or rectangle sides) to multiples of LengthUnit.
	LengthEnabled bool    `json:"length_enabled" yaml:"length_enabled"`
	LengthUnit    float64 `json:"length_unit" yaml:"length_unit"`
}

// DefaultConfig returns length snapping to whole pixels with angle snapping off.
func DefaultConfig() Config {
	return Config{LengthEnabled: true, LengthUnit: DefaultLengthUnit}
}

// Validate rejects configurations that cannot be applied.
func (c Config) Validate() error {
	if err := checkUnit(c.LengthUnit); err != nil {
		return err
	}
	if c.AngleToleranceDeg < 0 || math.IsNaN(c.AngleToleranceDeg) {
		return fmt.Errorf("angle tolerance must be >= 0, got %v", c.AngleToleranceDeg)
	}
	return nil
}

// WithAngle returns a copy with angle snapping set, for a modifier key held during one event.
func (c Config) WithAngle(on bool) Config {
	c.AngleEnabled = on
	return c
}

func checkUnit(u float64) error {
	if !(u > 0) || math.IsInf(u, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSnapUnit, u)
	}
	return nil
}

// Snapper applies a validated Config. The zero value is not usable; use New.
type Snapper struct {
	cfg Config
}

// New validates cfg and returns a Snapper bound to it.
func New(cfg Config) (*Snapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Snapper{cfg: cfg}, nil
}

// Config returns the snapper's configuration.
func (s *Snapper) Config() Config { return s.cfg }

// SetAngle toggles the persistent angle snapping setting.
func (s *Snapper) SetAngle(on bool) { s.cfg.AngleEnabled = on }

// WithAngle returns a copy that also snaps angles when on is true, for a modifier key held
// during a single pointer event. The receiver is not modified.
func (s *Snapper) WithAngle(on bool) *Snapper {
	c := *s
	c.cfg.AngleEnabled = s.cfg.AngleEnabled || on
	return &c
}

// Line corrects the end point of a segment anchored at p0: angle snap first (if enabled),
// then the segment length is rounded along the resulting direction (if enabled).
func (s *Snapper) Line(p0, p1 geom.Point) geom.Point {
	if s.cfg.AngleEnabled {
		p1 = snapAngle(p0, p1, s.cfg.AngleToleranceDeg)
	}
	if s.cfg.LengthEnabled {
		p1 = scaleToLength(p0, p1, s.cfg.LengthUnit)
	}
	return p1
}

// Rect corrects the free corner of a rectangle anchored at c0 by rounding width and height
// independently, keeping their signs. Angle snapping does not apply: it would collapse the
// rectangle onto an axis.
func (s *Snapper) Rect(c0, c1 geom.Point) geom.Point {
	if !s.cfg.LengthEnabled {
		return c1
	}
	d := c1.Sub(c0)
	w := roundToUnit(math.Abs(d.X), s.cfg.LengthUnit)
	h := roundToUnit(math.Abs(d.Y), s.cfg.LengthUnit)
	return geom.Point{X: c0.X + math.Copysign(w, d.X), Y: c0.Y + math.Copysign(h, d.Y)}
}

// Length rounds a length with the configured unit, or returns it unchanged when length
// snapping is disabled.
func (s *Snapper) Length(length float64) float64 {
	if !s.cfg.LengthEnabled {
		return length
	}
	return roundToUnit(length, s.cfg.LengthUnit)
}

// SnapAngle projects free onto whichever of the rays at 0°, 90°, 180° and 270° from origin
// is closest in angle, keeping the distance from origin. Angles are measured from the +x
// axis towards +y. When free lies exactly on a diagonal the smaller ray angle wins, with 0°
// preferred over 270°.
func SnapAngle(origin, free geom.Point) geom.Point {
	return snapAngle(origin, free, 0)
}

func snapAngle(origin, free geom.Point, toleranceDeg float64) geom.Point {
	d := free.Sub(origin)
	dist := d.Len()
	if dist == 0 {
		return free
	}
	ax, ay := math.Abs(d.X), math.Abs(d.Y)
	horizontal := ax > ay
	if ax == ay {
		// Diagonal tie. Quadrants 45°, 225° and 315° resolve to the horizontal ray
		// (0°, 180°, 0°); only 135° resolves to the vertical ray (90°).
		horizontal = !(d.X < 0 && d.Y > 0)
	}
	if toleranceDeg > 0 {
		major, minor := ax, ay
		if !horizontal {
			major, minor = ay, ax
		}
		if off := math.Atan2(minor, major) * 180 / math.Pi; off > toleranceDeg {
			return free
		}
	}
	if horizontal {
		return geom.Point{X: origin.X + math.Copysign(dist, d.X), Y: origin.Y}
	}
	return geom.Point{X: origin.X, Y: origin.Y + math.Copysign(dist, d.Y)}
}

// SnapLength rounds length to the nearest multiple of unit using round-half-to-even.
func SnapLength(length, unit float64) (float64, error) {
	if err := checkUnit(unit); err != nil {
		return 0, err
	}
	return roundToUnit(length, unit), nil
}

func roundToUnit(length, unit float64) float64 {
	return math.RoundToEven(length/unit) * unit
}

// scaleToLength moves p1 along the p0->p1 direction so the segment length becomes a
// multiple of unit. Zero-length segments have no direction and are returned unchanged.
func scaleToLength(p0, p1 geom.Point, unit float64) geom.Point {
	d := p1.Sub(p0)
	dist := d.Len()
	if dist == 0 {
		return p1
	}
	target := roundToUnit(dist, unit)
	return p0.Add(d.Mul(target / dist))
}
