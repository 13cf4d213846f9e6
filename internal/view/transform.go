/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package view maps between image pixel coordinates and screen coordinates.
//
// The mapping is screen = image*zoom + pan. A Transform carries only the configured zoom
// bounds; every method takes the current State and returns a new one, so the caller owning
// the viewer decides when to store it. Nothing here mutates measurements: those live in image
// space and are untouched by pan and zoom.
package view

import (
	"errors"
	"fmt"
	"math"

	"pixelruler/internal/geom"
)

// ErrInvalidZoomRange is returned when zoom bounds are non-positive or inverted.
var ErrInvalidZoomRange = errors.New("invalid zoom range")

const (
	DefaultMinZoom  = 0.1
	DefaultMaxZoom  = 5.0
	DefaultZoomStep = 1.25

	// fitMargin leaves a small border around the image when fitting to the viewport.
	fitMargin = 0.95
)

// State is the pan/zoom of a viewer. Zoom is always > 0.
type State struct {
	Zoom float64    `json:"zoom" yaml:"zoom"`
	Pan  geom.Point `json:"pan" yaml:"pan"`
}

// DefaultState is the unzoomed, unpanned view.
func DefaultState() State { return State{Zoom: 1} }

// Transform converts coordinates for a given State and keeps zoom inside [MinZoom, MaxZoom].
type Transform struct {
	MinZoom float64
	MaxZoom float64
	// Step is the multiplicative factor used by ZoomIn/ZoomOut.
	Step float64
}

// NewTransform validates the zoom bounds. A step <= 1 falls back to DefaultZoomStep.
func NewTransform(minZoom, maxZoom, step float64) (Transform, error) {
	if !(minZoom > 0) || !(maxZoom >= minZoom) || math.IsInf(maxZoom, 0) {
		return Transform{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidZoomRange, minZoom, maxZoom)
	}
	if !(step > 1) {
		step = DefaultZoomStep
	}
	return Transform{MinZoom: minZoom, MaxZoom: maxZoom, Step: step}, nil
}

// DefaultTransform uses the default bounds 0.1..5.0.
func DefaultTransform() Transform {
	return Transform{MinZoom: DefaultMinZoom, MaxZoom: DefaultMaxZoom, Step: DefaultZoomStep}
}

// ToScreen maps an image-space point to screen space.
func (t Transform) ToScreen(p geom.Point, s State) geom.Point {
	return geom.Point{X: p.X*s.Zoom + s.Pan.X, Y: p.Y*s.Zoom + s.Pan.Y}
}

// ToImage maps a screen-space point to image space.
func (t Transform) ToImage(p geom.Point, s State) geom.Point {
	return geom.Point{X: (p.X - s.Pan.X) / s.Zoom, Y: (p.Y - s.Pan.Y) / s.Zoom}
}

// Clamp limits z to the configured bounds.
func (t Transform) Clamp(z float64) float64 {
	if z < t.MinZoom {
		return t.MinZoom
	}
	if z > t.MaxZoom {
		return t.MaxZoom
	}
	return z
}

// ZoomAt changes the zoom to newZoom (clamped) and recomputes pan so that the image point
// under pivot stays under pivot.
func (t Transform) ZoomAt(pivot geom.Point, newZoom float64, s State) State {
	if math.IsNaN(newZoom) {
		return s
	}
	z := t.Clamp(newZoom)
	ratio := z / s.Zoom
	pan := pivot.Sub(pivot.Sub(s.Pan).Mul(ratio))
	return State{Zoom: z, Pan: pan}
}

// ZoomBy multiplies the current zoom by factor around pivot, as a pinch or wheel delta does.
// Non-positive factors leave the state unchanged.
func (t Transform) ZoomBy(pivot geom.Point, factor float64, s State) State {
	if !(factor > 0) {
		return s
	}
	return t.ZoomAt(pivot, s.Zoom*factor, s)
}

// ZoomIn zooms in by one Step around pivot.
func (t Transform) ZoomIn(pivot geom.Point, s State) State { return t.ZoomBy(pivot, t.step(), s) }

// ZoomOut zooms out by one Step around pivot.
func (t Transform) ZoomOut(pivot geom.Point, s State) State { return t.ZoomBy(pivot, 1/t.step(), s) }

func (t Transform) step() float64 {
	if t.Step > 1 {
		return t.Step
	}
	return DefaultZoomStep
}

// PanBy shifts the view by a screen-space delta.
func (t Transform) PanBy(delta geom.Point, s State) State {
	return State{Zoom: s.Zoom, Pan: s.Pan.Add(delta)}
}

// Fit returns a state showing the whole image centered in the viewport with a small margin.
// Degenerate sizes yield the default state.
func (t Transform) Fit(image, viewport geom.Size) State {
	if image.W <= 0 || image.H <= 0 || viewport.W <= 0 || viewport.H <= 0 {
		return DefaultState()
	}
	z := math.Min(viewport.W/image.W, viewport.H/image.H) * fitMargin
	z = t.Clamp(z)
	pan := geom.Point{
		X: (viewport.W - image.W*z) / 2,
		Y: (viewport.H - image.H*z) / 2,
	}
	return State{Zoom: z, Pan: pan}
}
