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
	"errors"
	"testing"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
)

func TestMeasurementDoc_RoundTrip(t *testing.T) {
	c := &calibration.Calibrated{PixelsPerUnit: 2, Unit: "cm"}
	in := []measure.Measurement{
		{ID: 11, Kind: measure.Line{P0: geom.Pt(1, 2), P1: geom.Pt(3, 4)}, Calibration: c},
		{ID: 12, Kind: measure.Rectangle{Corner0: geom.Pt(5, 6), Corner1: geom.Pt(1, 1)}},
	}
	doc := Document{}
	for _, m := range in {
		doc.Measurements = append(doc.Measurements, FromMeasurement(m))
	}
	if doc.Measurements[1].Kind != measure.KindRectangle {
		t.Fatalf("kind = %q", doc.Measurements[1].Kind)
	}
	out, err := doc.MeasurementList()
	if err != nil {
		t.Fatalf("MeasurementList: %v", err)
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Kind != in[i].Kind || out[i].Calibration != in[i].Calibration {
			t.Fatalf("measurement %d changed: %+v vs %+v", i, out[i], in[i])
		}
	}
}

func TestMeasurementList_ReservesIDs(t *testing.T) {
	doc := Document{Measurements: []MeasurementDoc{{ID: 1 << 40, Kind: "line"}}}
	if _, err := doc.MeasurementList(); err != nil {
		t.Fatalf("MeasurementList: %v", err)
	}
	if id := measure.NextID(); id <= 1<<40 {
		t.Fatalf("new id %d collides with loaded ids", id)
	}
}

func TestMeasurementList_Rejects(t *testing.T) {
	cases := map[string][]MeasurementDoc{
		"unknown kind": {{ID: 1, Kind: "circle"}},
		"zero id":      {{ID: 0, Kind: "line"}},
		"duplicate":    {{ID: 5, Kind: "line"}, {ID: 5, Kind: "rectangle"}},
	}
	for name, ms := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Document{Measurements: ms}.MeasurementList()
			if !errors.Is(err, ErrInvalidSession) {
				t.Fatalf("expected ErrInvalidSession, got %v", err)
			}
		})
	}
}
