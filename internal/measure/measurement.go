/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package measure holds committed measurements, the store that lists them and the
// point-picking state machine that creates them.
package measure

import (
	"math"
	"sync/atomic"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
)

// Kind is the geometry of a measurement: Line or Rectangle. Consumers switch over the
// concrete type; the unexported method keeps the set closed to this package.
type Kind interface {
	// Name is the stable label used in exports ("line", "rectangle").
	Name() string
	isKind()
}

// Line is a straight distance between two image points.
type Line struct {
	P0 geom.Point
	P1 geom.Point
}

// Rectangle is an axis-aligned box spanned by two opposite corners in either order.
type Rectangle struct {
	Corner0 geom.Point
	Corner1 geom.Point
}

const (
	KindLine      = "line"
	KindRectangle = "rectangle"
)

func (Line) Name() string      { return KindLine }
func (Rectangle) Name() string { return KindRectangle }
func (Line) isKind()           {}
func (Rectangle) isKind()      {}

// Length is the pixel distance between the endpoints.
func (l Line) Length() float64 { return l.P0.Dist(l.P1) }

// Width is the non-negative horizontal extent in pixels.
func (r Rectangle) Width() float64 { return math.Abs(r.Corner1.X - r.Corner0.X) }

// Height is the non-negative vertical extent in pixels.
func (r Rectangle) Height() float64 { return math.Abs(r.Corner1.Y - r.Corner0.Y) }

// Area is Width*Height in square pixels.
func (r Rectangle) Area() float64 { return r.Width() * r.Height() }

// Bounds returns the normalized rectangle.
func (r Rectangle) Bounds() geom.Rect { return geom.RectFromCorners(r.Corner0, r.Corner1) }

// ID identifies a measurement. Zero is never assigned.
type ID uint64

var lastID atomic.Uint64

// NextID returns a fresh process-wide unique id.
func NextID() ID { return ID(lastID.Add(1)) }

// Reserve makes sure later NextID calls return values above id. Loading a saved session
// calls it for every stored id.
func Reserve(id ID) {
	for {
		cur := lastID.Load()
		if uint64(id) <= cur || lastID.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

// Measurement is a committed, immutable measurement.
type Measurement struct {
	ID   ID
	Kind Kind
	// Calibration is the calibration in force at commit time, nil when uncalibrated.
	Calibration *calibration.Calibrated
	CreatedAt   time.Time
}

// clone returns m with its own copy of the calibration snapshot.
func (m Measurement) clone() Measurement {
	if m.Calibration != nil {
		c := *m.Calibration
		m.Calibration = &c
	}
	return m
}

// Metrics are the values derived from a measurement. Pixel fields not relevant for the
// kind are zero; Real is nil for uncalibrated measurements.
type Metrics struct {
	Kind     string
	Distance float64
	Width    float64
	Height   float64
	Area     float64
	Real     *RealMetrics
}

// RealMetrics are Metrics converted with the measurement's calibration snapshot.
type RealMetrics struct {
	Distance float64
	Width    float64
	Height   float64
	Area     float64
	Unit     string
}

// Metrics computes the pixel and calibrated values on demand.
func (m Measurement) Metrics() Metrics {
	var out Metrics
	switch k := m.Kind.(type) {
	case Line:
		out = Metrics{Kind: KindLine, Distance: k.Length()}
		if c := m.Calibration; c != nil {
			out.Real = &RealMetrics{Distance: c.Length(out.Distance), Unit: c.Unit}
		}
	case Rectangle:
		out = Metrics{Kind: KindRectangle, Width: k.Width(), Height: k.Height(), Area: k.Area()}
		if c := m.Calibration; c != nil {
			out.Real = &RealMetrics{
				Width:  c.Length(out.Width),
				Height: c.Length(out.Height),
				Area:   c.Area(out.Area),
				Unit:   c.Unit,
			}
		}
	}
	return out
}
