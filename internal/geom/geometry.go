/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package geom

// Basic 2D geometry shared by the view transform, the snapper and the measurement model.
// All coordinates are float64; image space has its origin at the top-left pixel corner with
// y growing downward, matching how raster images are addressed.

import "math"

// Point is a 2D coordinate. It doubles as a vector for deltas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) Add(q Point) Point    { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point    { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Mul(k float64) Point  { return Point{p.X * k, p.Y * k} }
func (p Point) Len() float64         { return math.Hypot(p.X, p.Y) }
func (p Point) Dist(q Point) float64 { return q.Sub(p).Len() }

// Eq reports whether p and q agree within eps on both axes.
func (p Point) Eq(q Point, eps float64) bool {
	return math.Abs(p.X-q.X) <= eps && math.Abs(p.Y-q.Y) <= eps
}

// Size is a width/height pair.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Rect is an axis-aligned rectangle defined by min corner and size.
type Rect struct {
	X, Y float64
	W, H float64
}

// RectFromCorners normalizes two opposite corners into a Rect with non-negative size,
// independent of the order the corners are given in.
func RectFromCorners(a, b Point) Rect {
	minX, maxX := math.Min(a.X, b.X), math.Max(a.X, b.X)
	minY, maxY := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Clamp returns p moved onto the closest point inside r.
func (r Rect) Clamp(p Point) Point {
	return Point{
		X: math.Max(r.X, math.Min(p.X, r.X+r.W)),
		Y: math.Max(r.Y, math.Min(p.Y, r.Y+r.H)),
	}
}

// Union returns the minimal rect containing both.
func (r Rect) Union(o Rect) Rect {
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	maxX := math.Max(r.X+r.W, o.X+o.W)
	maxY := math.Max(r.Y+r.H, o.Y+o.H)
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}
