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
	"bytes"
	"strings"
	"testing"
)

func TestWriteCSV_TwoSections(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleReport(t), Options{}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := strings.Join([]string{
		"# Line Measurements",
		"id,start_x,start_y,end_x,end_y,distance_px,distance_calibrated,unit",
		"1,0.00,0.00,30.00,40.00,50.00,5.00,mm",
		"2,10.00,10.00,13.00,14.00,5.00,,px",
		"",
		"# Rectangle Measurements",
		"id,corner1_x,corner1_y,corner2_x,corner2_y,width_px,height_px,area_px,width_calibrated,height_calibrated,area_calibrated,unit",
		"3,40.00,60.00,10.00,20.00,30.00,40.00,1200.00,3.00,4.00,12.00,mm",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Fatalf("csv mismatch:\n--- got\n%s\n--- want\n%s", got, want)
	}
}

func TestWriteCSV_DecimalsAndEmptySections(t *testing.T) {
	r := sampleReport(t)
	r.Records = r.Records[2:]
	var buf bytes.Buffer
	if err := WriteCSV(&buf, r, Options{Decimals: 1}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "# Line Measurements") {
		t.Fatalf("empty line section written: %q", out)
	}
	if !strings.HasPrefix(out, "# Rectangle Measurements\n") {
		t.Fatalf("rectangle section must come first when alone: %q", out)
	}
	if !strings.Contains(out, "3,40.0,60.0,10.0,20.0,30.0,40.0,1200.0,3.0,4.0,12.0,mm") {
		t.Fatalf("decimals not applied: %q", out)
	}

	buf.Reset()
	if err := WriteCSV(&buf, Report{}, Options{}); err != nil {
		t.Fatalf("WriteCSV empty: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("empty report produced output: %q", buf.String())
	}
}
