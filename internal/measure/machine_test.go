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
	"math"
	"testing"

	"pixelruler/internal/calibration"
	"pixelruler/internal/geom"
	"pixelruler/internal/snap"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func noSnap(t *testing.T) *snap.Snapper {
	t.Helper()
	s, err := snap.New(snap.Config{LengthUnit: 1})
	if err != nil {
		t.Fatalf("snap.New: %v", err)
	}
	return s
}

func newMachine(t *testing.T, cal CalibrationSource) (*Machine, *Store) {
	t.Helper()
	st := NewStore()
	return NewMachine(noSnap(t), cal, st), st
}

func TestLineScenario_345(t *testing.T) {
	m, st := newMachine(t, nil)
	if got, err := m.Click(geom.Pt(10, 10), false); err != nil || got != nil {
		t.Fatalf("first click: got %v err %v", got, err)
	}
	meas, err := m.Click(geom.Pt(13, 14), false)
	if err != nil || meas == nil {
		t.Fatalf("second click: %v %v", meas, err)
	}
	mt := meas.Metrics()
	if mt.Kind != KindLine || !approx(mt.Distance, 5) {
		t.Fatalf("metrics: %+v", mt)
	}
	if mt.Real != nil {
		t.Fatalf("uncalibrated measurement reported real values: %+v", mt.Real)
	}
	if st.Len() != 1 {
		t.Fatalf("store len = %d", st.Len())
	}
	if _, ok := m.Pending(); ok {
		t.Fatalf("machine did not return to idle")
	}
}

func TestRectangleScenario_AndCornerOrder(t *testing.T) {
	m, _ := newMachine(t, nil)
	m.SetMode(ModeRectangle)
	_, _ = m.Click(geom.Pt(10, 10), false)
	a, _ := m.Click(geom.Pt(13, 14), false)
	_, _ = m.Click(geom.Pt(13, 14), false)
	b, _ := m.Click(geom.Pt(10, 10), false)
	for _, meas := range []*Measurement{a, b} {
		mt := meas.Metrics()
		if mt.Kind != KindRectangle || !approx(mt.Width, 3) || !approx(mt.Height, 4) || !approx(mt.Area, 12) {
			t.Fatalf("rectangle metrics: %+v", mt)
		}
	}
	if a.ID == b.ID {
		t.Fatalf("ids must differ")
	}
}

func TestCornerOrderInvariance_Grid(t *testing.T) {
	pts := []geom.Point{{X: 0, Y: 0}, {X: -3.5, Y: 7}, {X: 12.25, Y: -4}, {X: 100, Y: 100}}
	for _, p0 := range pts {
		for _, p1 := range pts {
			r1 := Rectangle{Corner0: p0, Corner1: p1}
			r2 := Rectangle{Corner0: p1, Corner1: p0}
			if r1.Width() != r2.Width() || r1.Height() != r2.Height() || r1.Area() != r2.Area() {
				t.Fatalf("order dependent for %v %v", p0, p1)
			}
			if r1.Width() < 0 || r1.Height() < 0 {
				t.Fatalf("negative side for %v %v", p0, p1)
			}
		}
	}
}

func TestDegenerateGeometryIsRecorded(t *testing.T) {
	m, st := newMachine(t, nil)
	_, _ = m.Click(geom.Pt(5, 5), false)
	meas, err := m.Click(geom.Pt(5, 5), false)
	if err != nil || meas == nil {
		t.Fatalf("zero-length commit failed: %v", err)
	}
	if meas.Metrics().Distance != 0 || st.Len() != 1 {
		t.Fatalf("zero-length line not recorded as-is")
	}
}

func TestCalibratedMeasurement_SnapshotSurvivesRecalibration(t *testing.T) {
	cal := calibration.NewModel()
	if err := cal.Start(); err != nil {
		t.Fatal(err)
	}
	_ = cal.Pick(geom.Pt(0, 0))
	_ = cal.Pick(geom.Pt(100, 0))
	if _, err := cal.Apply(10, "mm"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	m, st := newMachine(t, cal)
	_, _ = m.Click(geom.Pt(0, 0), false)
	first, _ := m.Click(geom.Pt(50, 0), false)
	if r := first.Metrics().Real; r == nil || !approx(r.Distance, 5) || r.Unit != "mm" {
		t.Fatalf("calibrated distance: %+v", r)
	}

	// Recalibrate to 20 px per cm; the earlier record keeps 10 px/mm.
	_ = cal.Start()
	_ = cal.Pick(geom.Pt(0, 0))
	_ = cal.Pick(geom.Pt(0, 20))
	if _, err := cal.Apply(1, "cm"); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	_, _ = m.Click(geom.Pt(0, 0), false)
	second, _ := m.Click(geom.Pt(50, 0), false)

	stored, ok := st.Get(first.ID)
	if !ok {
		t.Fatalf("first measurement missing")
	}
	if r := stored.Metrics().Real; !approx(r.Distance, 5) || r.Unit != "mm" {
		t.Fatalf("historical measurement changed after recalibration: %+v", r)
	}
	if r := second.Metrics().Real; !approx(r.Distance, 2.5) || r.Unit != "cm" {
		t.Fatalf("new measurement uses stale calibration: %+v", r)
	}
}

func TestCommittedSnapshotIsNotShared(t *testing.T) {
	c, err := calibration.Apply(100, 10, "mm")
	if err != nil {
		t.Fatal(err)
	}
	cal := calibration.Restore(&c)
	m, st := newMachine(t, cal)
	_, _ = m.Click(geom.Pt(0, 0), false)
	got, err := m.Click(geom.Pt(50, 0), false)
	if err != nil || got == nil || got.Calibration == nil {
		t.Fatalf("commit: %+v %v", got, err)
	}

	got.Calibration.PixelsPerUnit = 1
	got.Calibration.Unit = "km"
	fromGet, _ := st.Get(got.ID)
	fromGet.Calibration.Unit = "in"
	st.All()[0].Calibration.PixelsPerUnit = 3

	stored, _ := st.Get(got.ID)
	if r := stored.Metrics().Real; !approx(r.Distance, 5) || r.Unit != "mm" {
		t.Fatalf("stored snapshot changed through a copy: %+v", r)
	}
}

func TestCalibratedRectangleArea(t *testing.T) {
	c, err := calibration.Apply(100, 10, "mm")
	if err != nil {
		t.Fatal(err)
	}
	meas := Measurement{Kind: Rectangle{Corner0: geom.Pt(0, 0), Corner1: geom.Pt(30, 40)}, Calibration: &c}
	r := meas.Metrics().Real
	if !approx(r.Width, 3) || !approx(r.Height, 4) || !approx(r.Area, 12) {
		t.Fatalf("calibrated rect: %+v", r)
	}
}

func TestMove_PreviewDoesNotChangeState(t *testing.T) {
	m, st := newMachine(t, nil)
	if _, ok := m.Move(geom.Pt(1, 1), false); ok {
		t.Fatalf("idle machine produced a preview")
	}
	_, _ = m.Click(geom.Pt(0, 0), false)
	k, ok := m.Move(geom.Pt(10, 1), true)
	if !ok {
		t.Fatalf("no preview while picking")
	}
	l, isLine := k.(Line)
	if !isLine || l.P1.Y != 0 || !approx(l.P1.X, math.Sqrt(101)) {
		t.Fatalf("preview not angle snapped: %+v", k)
	}
	if st.Len() != 0 {
		t.Fatalf("preview committed a measurement")
	}
	if p, ok := m.Pending(); !ok || p != geom.Pt(0, 0) {
		t.Fatalf("pending point changed: %v %v", p, ok)
	}
}

func TestClick_AngleModifierPerEvent(t *testing.T) {
	m, _ := newMachine(t, nil)
	_, _ = m.Click(geom.Pt(0, 0), false)
	meas, _ := m.Click(geom.Pt(1, 10), true)
	l := meas.Kind.(Line)
	if l.P1.X != 0 || !approx(l.P1.Y, math.Sqrt(101)) {
		t.Fatalf("angle snapped end: %+v", l.P1)
	}
	_, _ = m.Click(geom.Pt(0, 0), false)
	meas, _ = m.Click(geom.Pt(1, 10), false)
	if l := meas.Kind.(Line); l.P1 != geom.Pt(1, 10) {
		t.Fatalf("modifier leaked into next event: %+v", l.P1)
	}
}

func TestClick_LengthSnapRectangle(t *testing.T) {
	s, _ := snap.New(snap.Config{LengthEnabled: true, LengthUnit: 1})
	st := NewStore()
	m := NewMachine(s, nil, st)
	m.SetMode(ModeRectangle)
	_, _ = m.Click(geom.Pt(10, 10), true)
	meas, _ := m.Click(geom.Pt(6.6, 14.5), true)
	r := meas.Kind.(Rectangle)
	if r.Corner0 != geom.Pt(10, 10) || r.Corner1 != geom.Pt(7, 14) {
		t.Fatalf("rectangle snap: %+v", r)
	}
}

func TestCancelAndSetMode(t *testing.T) {
	m, st := newMachine(t, nil)
	if m.Cancel() {
		t.Fatalf("cancel in idle reported a discard")
	}
	_, _ = m.Click(geom.Pt(1, 1), false)
	if !m.Cancel() {
		t.Fatalf("cancel while picking did not discard")
	}
	_, _ = m.Click(geom.Pt(1, 1), false)
	if !m.SetMode(ModeRectangle) {
		t.Fatalf("mode switch did not discard pending pick")
	}
	if m.Mode() != ModeRectangle {
		t.Fatalf("mode = %v", m.Mode())
	}
	if st.Len() != 0 {
		t.Fatalf("cancelled picks were committed")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"line": ModeLine, "Rect": ModeRectangle, " rectangle ": ModeRectangle}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("circle"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}
