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
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
)

// MaxPNGSide caps the longer side of a PNG overlay; larger images are scaled down.
const MaxPNGSide = 8192

var (
	pngLineColor  = color.RGBA{R: 0, G: 80, B: 200, A: 255}
	pngRectColor  = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	pngLabelFill  = color.RGBA{R: 255, G: 255, B: 255, A: 204}
	pngClear = color.RGBA{}
)

// WritePNG renders the measurements onto a transparent canvas the size of the image, for
// tools that layer bitmaps rather than SVG.
func WritePNG(w io.Writer, r Report, opt Options) error {
	dec := opt.decimals()
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', dec, 64) }

	b, ok := sketchBounds(r)
	if !ok {
		b = geom.Rect{W: 1, H: 1}
	}
	s := 1.0
	if long := math.Max(b.W, b.H); long > MaxPNGSide {
		s = MaxPNGSide / long
	}
	pixW := int(math.Ceil(b.W*s)) + 1
	pixH := int(math.Ceil(b.H*s)) + 1
	img := image.NewRGBA(image.Rect(0, 0, pixW, pixH))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: pngClear}, image.Point{}, draw.Src)

	toPx := func(x, y float64) (int, int) {
		return int(math.Round((x - b.X) * s)), int(math.Round((y - b.Y) * s))
	}
	thick := 1
	if math.Min(b.W, b.H)*s >= 600 {
		thick = 2
	}
	for _, rec := range r.Records {
		var (
			col    color.RGBA
			lx, ly int
		)
		switch rec.Kind {
		case measure.KindRectangle:
			col = pngRectColor
			rb := geom.RectFromCorners(geom.Pt(rec.X0, rec.Y0), geom.Pt(rec.X1, rec.Y1))
			x0, y0 := toPx(rb.X, rb.Y)
			x1, y1 := toPx(rb.X+rb.W, rb.Y+rb.H)
			for i := 0; i < thick; i++ {
				strokeRect(img, x0+i, y0+i, x1-i, y1-i, col)
			}
			lx, ly = x0, y0
		default:
			col = pngLineColor
			x0, y0 := toPx(rec.X0, rec.Y0)
			x1, y1 := toPx(rec.X1, rec.Y1)
			strokeLine(img, x0, y0, x1, y1, thick, col)
			lx, ly = (x0+x1)/2, (y0+y1)/2
		}
		drawLabel(img, recordLabel(rec, num), lx, ly, col)
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// drawLabel draws the label box with its bottom-left corner at (x, y).
func drawLabel(img *image.RGBA, label string, x, y int, col color.RGBA) {
	bw, bh := labelSize(label, 1)
	x0, y1 := x, y
	x1, y0 := x+int(bw), y-int(bh)
	fillRect(img, x0, y0, x1, y1, pngLabelFill)
	strokeRect(img, x0, y0, x1, y1, col)
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: labelFace,
		Dot:  fixed.P(x0+int(svgLabelPad), y0+int(svgLabelPad)+labelFace.Metrics().Ascent.Ceil()),
	}
	d.DrawString(label)
}

// strokeLine draws a line of the given thickness with a DDA walk.
func strokeLine(img *image.RGBA, x0, y0, x1, y1, thick int, col color.RGBA) {
	dx, dy := x1-x0, y1-y0
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		fillRect(img, x0, y0, x0+thick-1, y0+thick-1, col)
		return
	}
	for i := 0; i <= steps; i++ {
		x := x0 + int(math.Round(float64(dx*i)/float64(steps)))
		y := y0 + int(math.Round(float64(dy*i)/float64(steps)))
		fillRect(img, x, y, x+thick-1, y+thick-1, col)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	// top and bottom
	for x := x0; x <= x1; x++ {
		setPixel(img, x, y0, col)
		setPixel(img, x, y1, col)
	}
	// left and right
	for y := y0; y <= y1; y++ {
		setPixel(img, x0, y, col)
		setPixel(img, x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			setPixel(img, x, y, col)
		}
	}
}

// setPixel ignores points outside the canvas.
func setPixel(img *image.RGBA, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, col)
	}
}
