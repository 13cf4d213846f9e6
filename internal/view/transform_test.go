/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package view

import (
	"errors"
	"math"
	"testing"

	"pixelruler/internal/geom"
)

const eps = 1e-9

var samplePoints = []geom.Point{
	{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 10, Y: 10}, {X: 13, Y: 14},
	{X: -250.5, Y: 93.125}, {X: 4096, Y: 3072}, {X: 0.001, Y: -0.001},
}

var sampleStates = []State{
	{Zoom: 1},
	{Zoom: 0.1, Pan: geom.Point{X: 30, Y: -12}},
	{Zoom: 2.5, Pan: geom.Point{X: -400, Y: 250}},
	{Zoom: 5, Pan: geom.Point{X: 0.5, Y: 0.25}},
	{Zoom: 0.3333, Pan: geom.Point{X: 1e3, Y: 1e3}},
}

func approxPoint(a, b geom.Point, tol float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a.X), math.Abs(a.Y)))
	return a.Eq(b, tol*scale)
}

func TestToImageInvertsToScreen(t *testing.T) {
	tr := DefaultTransform()
	for _, s := range sampleStates {
		for _, p := range samplePoints {
			got := tr.ToImage(tr.ToScreen(p, s), s)
			if !approxPoint(got, p, eps) {
				t.Fatalf("round trip at %+v: %+v -> %+v", s, p, got)
			}
		}
	}
}

func TestZoomAtKeepsPivotFixed(t *testing.T) {
	tr := DefaultTransform()
	pivots := []geom.Point{{X: 0, Y: 0}, {X: 512, Y: 384}, {X: -20, Y: 900}}
	zooms := []float64{0.1, 0.5, 1, 1.75, 3, 5}
	for _, s := range sampleStates {
		for _, pv := range pivots {
			before := tr.ToImage(pv, s)
			for _, z := range zooms {
				next := tr.ZoomAt(pv, z, s)
				after := tr.ToImage(pv, next)
				if !approxPoint(before, after, 1e-9) {
					t.Fatalf("pivot %+v drifted at zoom %v: %+v -> %+v", pv, z, before, after)
				}
				if next.Zoom != z {
					t.Fatalf("zoom = %v, want %v", next.Zoom, z)
				}
			}
		}
	}
}

func TestZoomAtClampsOutOfRange(t *testing.T) {
	tr := DefaultTransform()
	s := DefaultState()
	if got := tr.ZoomAt(geom.Point{}, 50, s).Zoom; got != DefaultMaxZoom {
		t.Fatalf("zoom not clamped to max: %v", got)
	}
	if got := tr.ZoomAt(geom.Point{}, 0.0001, s).Zoom; got != DefaultMinZoom {
		t.Fatalf("zoom not clamped to min: %v", got)
	}
	if got := tr.ZoomAt(geom.Point{}, -3, s).Zoom; got != DefaultMinZoom {
		t.Fatalf("negative zoom not clamped: %v", got)
	}
	// clamped zoom still keeps the pivot fixed
	pv := geom.Point{X: 100, Y: 80}
	next := tr.ZoomAt(pv, 1000, s)
	if !approxPoint(tr.ToImage(pv, s), tr.ToImage(pv, next), eps) {
		t.Fatalf("pivot drifted under clamped zoom")
	}
}

func TestZoomByAndSteps(t *testing.T) {
	tr := DefaultTransform()
	s := DefaultState()
	in := tr.ZoomIn(geom.Point{}, s)
	if math.Abs(in.Zoom-1.25) > eps {
		t.Fatalf("ZoomIn = %v", in.Zoom)
	}
	out := tr.ZoomOut(geom.Point{}, in)
	if math.Abs(out.Zoom-1) > eps {
		t.Fatalf("ZoomOut = %v", out.Zoom)
	}
	if got := tr.ZoomBy(geom.Point{}, 0, s); got != s {
		t.Fatalf("zero factor must be ignored: %+v", got)
	}
}

func TestNewTransformRejectsBadRange(t *testing.T) {
	cases := []struct {
		name     string
		min, max float64
	}{
		{"zero min", 0, 5},
		{"negative min", -1, 5},
		{"inverted", 5, 1},
		{"nan", math.NaN(), 1},
		{"inf", 0.1, math.Inf(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTransform(tc.min, tc.max, 1.25); !errors.Is(err, ErrInvalidZoomRange) {
				t.Fatalf("expected ErrInvalidZoomRange, got %v", err)
			}
		})
	}
	tr, err := NewTransform(0.5, 0.5, 0)
	if err != nil {
		t.Fatalf("equal bounds should be valid: %v", err)
	}
	if tr.Step != DefaultZoomStep {
		t.Fatalf("step fallback = %v", tr.Step)
	}
}

func TestFitCentersImage(t *testing.T) {
	tr := DefaultTransform()
	s := tr.Fit(geom.Size{W: 200, H: 100}, geom.Size{W: 400, H: 400})
	if math.Abs(s.Zoom-1.9) > eps {
		t.Fatalf("fit zoom = %v, want 1.9", s.Zoom)
	}
	center := tr.ToScreen(geom.Point{X: 100, Y: 50}, s)
	if !approxPoint(center, geom.Point{X: 200, Y: 200}, eps) {
		t.Fatalf("image center at %+v, want viewport center", center)
	}
	if got := tr.Fit(geom.Size{}, geom.Size{W: 10, H: 10}); got != DefaultState() {
		t.Fatalf("degenerate fit = %+v", got)
	}
}

func TestPanByShiftsScreenPosition(t *testing.T) {
	tr := DefaultTransform()
	s := tr.PanBy(geom.Point{X: -50, Y: -20}, State{Zoom: 2})
	if got := tr.ToScreen(geom.Point{X: 25, Y: 10}, s); got != (geom.Point{}) {
		t.Fatalf("image (25,10) at %+v, want screen origin", got)
	}
	if s.Zoom != 2 {
		t.Fatalf("PanBy changed zoom: %v", s.Zoom)
	}
}
