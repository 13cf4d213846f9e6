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

import (
	"math"
	"testing"
)

func TestRectFromCornersOrderInvariant(t *testing.T) {
	a, b := Pt(13, 4), Pt(10, 14)
	r1 := RectFromCorners(a, b)
	r2 := RectFromCorners(b, a)
	if r1 != r2 {
		t.Fatalf("corner order changed rect: %+v vs %+v", r1, r2)
	}
	if r1.X != 10 || r1.Y != 4 || r1.W != 3 || r1.H != 10 {
		t.Fatalf("unexpected rect: %+v", r1)
	}
}

func TestRectClampAndUnion(t *testing.T) {
	r := Rect{X: 0, Y: 0, W: 100, H: 50}
	if got := r.Clamp(Pt(-5, 70)); got != Pt(0, 50) {
		t.Fatalf("Clamp = %+v", got)
	}
	if got := r.Clamp(Pt(40, 20)); got != Pt(40, 20) {
		t.Fatalf("inside point moved: %+v", got)
	}
	u := r.Union(Rect{X: -10, Y: 20, W: 5, H: 60})
	if u != (Rect{X: -10, Y: 0, W: 110, H: 80}) {
		t.Fatalf("Union = %+v", u)
	}
}

func TestPointLenAndDist(t *testing.T) {
	if d := Pt(10, 10).Dist(Pt(13, 14)); d != 5 {
		t.Fatalf("Dist = %v, want 5", d)
	}
	if l := Pt(1, 1).Len(); math.Abs(l-math.Sqrt2) > 1e-12 {
		t.Fatalf("Len = %v", l)
	}
}
