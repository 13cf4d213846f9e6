/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export turns committed measurements into flat records and writes them as CSV,
// JSON, a PDF report or an SVG overlay.
package export

import (
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
)

// Record is the flat export form of one measurement. Pixel and calibrated fields are set
// according to Kind; calibrated fields and Unit are nil for uncalibrated measurements.
type Record struct {
	ID   uint64 `json:"id"`
	Kind string `json:"kind"`
	// X0/Y0/X1/Y1 are the line end points or the rectangle corners.
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`

	PixelDistance *float64 `json:"pixel_distance"`
	PixelWidth    *float64 `json:"pixel_width"`
	PixelHeight   *float64 `json:"pixel_height"`
	PixelArea     *float64 `json:"pixel_area"`

	CalibratedDistance *float64 `json:"calibrated_distance"`
	CalibratedWidth    *float64 `json:"calibrated_width"`
	CalibratedHeight   *float64 `json:"calibrated_height"`
	CalibratedArea     *float64 `json:"calibrated_area"`

	Unit      *string   `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}

func f64(v float64) *float64 { return &v }

// NewRecord flattens a measurement using its own calibration snapshot.
func NewRecord(m measure.Measurement) Record {
	r := Record{ID: uint64(m.ID), CreatedAt: m.CreatedAt}
	mt := m.Metrics()
	switch k := m.Kind.(type) {
	case measure.Line:
		r.Kind = measure.KindLine
		r.X0, r.Y0, r.X1, r.Y1 = k.P0.X, k.P0.Y, k.P1.X, k.P1.Y
		r.PixelDistance = f64(mt.Distance)
		if mt.Real != nil {
			r.CalibratedDistance = f64(mt.Real.Distance)
		}
	case measure.Rectangle:
		r.Kind = measure.KindRectangle
		r.X0, r.Y0, r.X1, r.Y1 = k.Corner0.X, k.Corner0.Y, k.Corner1.X, k.Corner1.Y
		r.PixelWidth = f64(mt.Width)
		r.PixelHeight = f64(mt.Height)
		r.PixelArea = f64(mt.Area)
		if mt.Real != nil {
			r.CalibratedWidth = f64(mt.Real.Width)
			r.CalibratedHeight = f64(mt.Real.Height)
			r.CalibratedArea = f64(mt.Real.Area)
		}
	}
	if mt.Real != nil {
		u := mt.Real.Unit
		r.Unit = &u
	}
	return r
}

// Records flattens measurements in order.
func Records(ms []measure.Measurement) []Record {
	out := make([]Record, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewRecord(m))
	}
	return out
}

// Calibrated reports whether the record carries calibrated values.
func (r Record) Calibrated() bool { return r.Unit != nil }

// UnitLabel returns the unit, or "px" for uncalibrated records.
func (r Record) UnitLabel() string {
	if r.Unit == nil {
		return "px"
	}
	return *r.Unit
}

// Report is everything an exporter needs about a session.
type Report struct {
	Name      string
	ImagePath string
	Image     geom.Size
	// Calibration is the session calibration at export time. Each record still carries
	// the values of its own snapshot.
	Calibration *calibration.Calibrated
	Records     []Record
	Generated   time.Time
}

// NewReport builds a report from committed measurements.
func NewReport(name, imagePath string, image geom.Size, cal *calibration.Calibrated, ms []measure.Measurement) Report {
	return Report{
		Name:        name,
		ImagePath:   imagePath,
		Image:       image,
		Calibration: cal,
		Records:     Records(ms),
		Generated:   time.Now().UTC(),
	}
}

// Lines returns the line records in order.
func (r Report) Lines() []Record { return r.filter(measure.KindLine) }

// Rectangles returns the rectangle records in order.
func (r Report) Rectangles() []Record { return r.filter(measure.KindRectangle) }

func (r Report) filter(kind string) []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}
