/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"fmt"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
	"pixelruler/internal/snap"
	"pixelruler/internal/view"
)

// DocumentVersion is written into every session document.
const DocumentVersion = 1

// Document is the persisted form of a measuring session.
type Document struct {
	Version      int                     `json:"version"`
	Name         string                  `json:"name"`
	Image        ImageInfo               `json:"image"`
	View         view.State              `json:"view"`
	Snap         snap.Config             `json:"snap"`
	Calibration  *calibration.Calibrated `json:"calibration"`
	Measurements []MeasurementDoc        `json:"measurements"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// ImageInfo describes the measured bitmap. Only its size matters for measuring.
type ImageInfo struct {
	Path string    `json:"path,omitempty"`
	Size geom.Size `json:"size"`
}

// MeasurementDoc is one committed measurement. P0/P1 are the line end points or the
// rectangle corners, depending on Kind.
type MeasurementDoc struct {
	ID          uint64                  `json:"id"`
	Kind        string                  `json:"kind"`
	P0          geom.Point              `json:"p0"`
	P1          geom.Point              `json:"p1"`
	Calibration *calibration.Calibrated `json:"calibration"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewDocument returns an empty session document for an image of the given size.
func NewDocument(name string, img ImageInfo) Document {
	now := time.Now().UTC()
	return Document{
		Version:      DocumentVersion,
		Name:         name,
		Image:        img,
		View:         view.DefaultState(),
		Snap:         snap.DefaultConfig(),
		Measurements: []MeasurementDoc{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// FromMeasurement converts a committed measurement for persistence.
func FromMeasurement(m measure.Measurement) MeasurementDoc {
	d := MeasurementDoc{ID: uint64(m.ID), Calibration: m.Calibration, CreatedAt: m.CreatedAt}
	switch k := m.Kind.(type) {
	case measure.Line:
		d.Kind, d.P0, d.P1 = measure.KindLine, k.P0, k.P1
	case measure.Rectangle:
		d.Kind, d.P0, d.P1 = measure.KindRectangle, k.Corner0, k.Corner1
	}
	return d
}

// Measurement converts the document entry back into a measurement.
func (d MeasurementDoc) Measurement() (measure.Measurement, error) {
	m := measure.Measurement{ID: measure.ID(d.ID), Calibration: d.Calibration, CreatedAt: d.CreatedAt}
	switch d.Kind {
	case measure.KindLine:
		m.Kind = measure.Line{P0: d.P0, P1: d.P1}
	case measure.KindRectangle:
		m.Kind = measure.Rectangle{Corner0: d.P0, Corner1: d.P1}
	default:
		return measure.Measurement{}, fmt.Errorf("%w: measurement %d has unknown kind %q", ErrInvalidSession, d.ID, d.Kind)
	}
	if d.ID == 0 {
		return measure.Measurement{}, fmt.Errorf("%w: measurement without id", ErrInvalidSession)
	}
	return m, nil
}

// MeasurementList converts every entry and reserves their ids so newly created
// measurements never collide with loaded ones.
func (d Document) MeasurementList() ([]measure.Measurement, error) {
	out := make([]measure.Measurement, 0, len(d.Measurements))
	seen := make(map[uint64]struct{}, len(d.Measurements))
	for _, md := range d.Measurements {
		m, err := md.Measurement()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[md.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate measurement id %d", ErrInvalidSession, md.ID)
		}
		seen[md.ID] = struct{}{}
		measure.Reserve(m.ID)
		out = append(out, m)
	}
	return out, nil
}
