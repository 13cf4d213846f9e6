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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var (
	lineHeader = []string{"id", "start_x", "start_y", "end_x", "end_y", "distance_px", "distance_calibrated", "unit"}
	rectHeader = []string{"id", "corner1_x", "corner1_y", "corner2_x", "corner2_y", "width_px", "height_px", "area_px",
		"width_calibrated", "height_calibrated", "area_calibrated", "unit"}
)

// WriteCSV writes up to two sections, "# Line Measurements" and "# Rectangle Measurements",
// each with its own header. Empty sections are omitted and sections are separated by a
// blank line. Calibrated cells are empty for uncalibrated records.
func WriteCSV(w io.Writer, r Report, opt Options) error {
	dec := opt.decimals()
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', dec, 64) }
	opt64 := func(v *float64) string {
		if v == nil {
			return ""
		}
		return num(*v)
	}
	id := func(rec Record) string { return strconv.FormatUint(rec.ID, 10) }

	cw := csv.NewWriter(w)
	wrote := false
	section := func(title string, header []string, rows [][]string) error {
		if len(rows) == 0 {
			return nil
		}
		if wrote {
			cw.Flush()
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		wrote = true
		if err := cw.Write([]string{title}); err != nil {
			return err
		}
		if err := cw.Write(header); err != nil {
			return err
		}
		return cw.WriteAll(rows)
	}

	var lines [][]string
	for _, rec := range r.Lines() {
		lines = append(lines, []string{
			id(rec), num(rec.X0), num(rec.Y0), num(rec.X1), num(rec.Y1),
			opt64(rec.PixelDistance), opt64(rec.CalibratedDistance), rec.UnitLabel(),
		})
	}
	var rects [][]string
	for _, rec := range r.Rectangles() {
		rects = append(rects, []string{
			id(rec), num(rec.X0), num(rec.Y0), num(rec.X1), num(rec.Y1),
			opt64(rec.PixelWidth), opt64(rec.PixelHeight), opt64(rec.PixelArea),
			opt64(rec.CalibratedWidth), opt64(rec.CalibratedHeight), opt64(rec.CalibratedArea), rec.UnitLabel(),
		})
	}
	if err := section("# Line Measurements", lineHeader, lines); err != nil {
		return fmt.Errorf("write line section: %w", err)
	}
	if err := section("# Rectangle Measurements", rectHeader, rects); err != nil {
		return fmt.Errorf("write rectangle section: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
