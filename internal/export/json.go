/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"pixelruler/internal/calibration"
)

//go:embed export.schema.json
var exportSchema []byte

type jsonDocument struct {
	Calibration           *calibration.Calibrated `json:"calibration"`
	Measurements          []jsonLine              `json:"measurements"`
	RectangleMeasurements []jsonRectangle         `json:"rectangle_measurements"`
}

type jsonLine struct {
	ID                 uint64   `json:"id"`
	StartX             float64  `json:"start_x"`
	StartY             float64  `json:"start_y"`
	EndX               float64  `json:"end_x"`
	EndY               float64  `json:"end_y"`
	DistancePx         float64  `json:"distance_px"`
	DistanceCalibrated *float64 `json:"distance_calibrated"`
	Unit               *string  `json:"unit"`
}

type jsonRectangle struct {
	ID               uint64   `json:"id"`
	Corner1X         float64  `json:"corner1_x"`
	Corner1Y         float64  `json:"corner1_y"`
	Corner2X         float64  `json:"corner2_x"`
	Corner2Y         float64  `json:"corner2_y"`
	WidthPx          float64  `json:"width_px"`
	HeightPx         float64  `json:"height_px"`
	AreaPx           float64  `json:"area_px"`
	WidthCalibrated  *float64 `json:"width_calibrated"`
	HeightCalibrated *float64 `json:"height_calibrated"`
	AreaCalibrated   *float64 `json:"area_calibrated"`
	Unit             *string  `json:"unit"`
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// WriteJSON writes the report as a JSON object with the session calibration and one
// array per measurement kind. The document is validated against the export schema
// before anything is written.
func WriteJSON(w io.Writer, r Report) error {
	doc := jsonDocument{
		Calibration:           r.Calibration,
		Measurements:          []jsonLine{},
		RectangleMeasurements: []jsonRectangle{},
	}
	for _, rec := range r.Lines() {
		doc.Measurements = append(doc.Measurements, jsonLine{
			ID: rec.ID, StartX: rec.X0, StartY: rec.Y0, EndX: rec.X1, EndY: rec.Y1,
			DistancePx:         deref(rec.PixelDistance),
			DistanceCalibrated: rec.CalibratedDistance,
			Unit:               rec.Unit,
		})
	}
	for _, rec := range r.Rectangles() {
		doc.RectangleMeasurements = append(doc.RectangleMeasurements, jsonRectangle{
			ID: rec.ID, Corner1X: rec.X0, Corner1Y: rec.Y0, Corner2X: rec.X1, Corner2Y: rec.Y1,
			WidthPx:          deref(rec.PixelWidth),
			HeightPx:         deref(rec.PixelHeight),
			AreaPx:           deref(rec.PixelArea),
			WidthCalibrated:  rec.CalibratedWidth,
			HeightCalibrated: rec.CalibratedHeight,
			AreaCalibrated:   rec.CalibratedArea,
			Unit:             rec.Unit,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := ValidateJSON(data); err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ValidateJSON checks an export document against the embedded schema.
func ValidateJSON(data []byte) error {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(exportSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate export: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("export does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
