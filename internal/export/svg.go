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
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
)

const (
	svgLineColor = "#0050c8"
	svgRectColor = "#c82828"
	svgLabelPad  = 3.0
)

// labelFace is the reference face for sizing label backgrounds. Viewers render the text
// with their own monospace font, which is close enough for a backdrop.
var labelFace font.Face = basicfont.Face7x13

// WriteSVG draws the measurements in image coordinates, sized to the image, so the file
// can be layered over the source bitmap. Each shape carries a label with its value.
func WriteSVG(w io.Writer, r Report, opt Options) error {
	dec := opt.decimals()
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', dec, 64) }

	b, ok := sketchBounds(r)
	if !ok {
		b = geom.Rect{W: 1, H: 1}
	}
	// Labels grow with large images so they stay readable when zoomed to fit.
	k := math.Max(1, math.Min(b.W, b.H)/600)
	stroke := 2 * k

	var buf bytes.Buffer
	var werr error
	wf := func(format string, args ...any) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(&buf, format, args...)
	}

	wf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	wf("<svg xmlns=\"http://www.w3.org/2000/svg\" version=\"1.1\" width=\"%g\" height=\"%g\" viewBox=\"%g %g %g %g\">\n",
		b.W, b.H, b.X, b.Y, b.W, b.H)
	if r.Name != "" {
		wf("  <title>%s</title>\n", escText(r.Name))
	}
	for _, rec := range r.Records {
		var color string
		var lx, ly float64
		switch rec.Kind {
		case measure.KindRectangle:
			color = svgRectColor
			rb := geom.RectFromCorners(geom.Pt(rec.X0, rec.Y0), geom.Pt(rec.X1, rec.Y1))
			wf("  <rect id=\"m%d\" x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"none\" stroke=\"%s\" stroke-width=\"%g\"/>\n",
				rec.ID, rb.X, rb.Y, rb.W, rb.H, color, stroke)
			lx, ly = rb.X, rb.Y
		default:
			color = svgLineColor
			wf("  <line id=\"m%d\" x1=\"%g\" y1=\"%g\" x2=\"%g\" y2=\"%g\" stroke=\"%s\" stroke-width=\"%g\" stroke-linecap=\"round\"/>\n",
				rec.ID, rec.X0, rec.Y0, rec.X1, rec.Y1, color, stroke)
			lx, ly = (rec.X0+rec.X1)/2, (rec.Y0+rec.Y1)/2
		}
		writeLabel(wf, recordLabel(rec, num), lx, ly, k, color)
	}
	wf("</svg>\n")
	if werr != nil {
		return fmt.Errorf("build svg: %w", werr)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// recordLabel is the "#id value unit" caption drawn next to a shape in overlays.
func recordLabel(rec Record, num func(float64) string) string {
	if rec.Kind == measure.KindRectangle {
		if rec.Calibrated() {
			return fmt.Sprintf("#%d %s x %s %s", rec.ID, num(deref(rec.CalibratedWidth)), num(deref(rec.CalibratedHeight)), rec.UnitLabel())
		}
		return fmt.Sprintf("#%d %s x %s px", rec.ID, num(deref(rec.PixelWidth)), num(deref(rec.PixelHeight)))
	}
	if rec.Calibrated() {
		return fmt.Sprintf("#%d %s %s", rec.ID, num(deref(rec.CalibratedDistance)), rec.UnitLabel())
	}
	return fmt.Sprintf("#%d %s px", rec.ID, num(deref(rec.PixelDistance)))
}

// labelSize returns the label box in image units for scale k.
func labelSize(label string, k float64) (w, h float64) {
	adv := font.MeasureString(labelFace, label).Ceil()
	m := labelFace.Metrics()
	lineH := (m.Ascent + m.Descent).Ceil()
	return (float64(adv) + 2*svgLabelPad) * k, (float64(lineH) + 2*svgLabelPad) * k
}

// writeLabel places the label box with its bottom-left corner at (x, y).
func writeLabel(wf func(string, ...any), label string, x, y, k float64, color string) {
	w, h := labelSize(label, k)
	ascent := float64(labelFace.Metrics().Ascent.Ceil())
	wf("  <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"#ffffff\" fill-opacity=\"0.8\" stroke=\"%s\" stroke-width=\"%g\"/>\n",
		x, y-h, w, h, color, 0.5*k)
	wf("  <text x=\"%g\" y=\"%g\" font-family=\"monospace\" font-size=\"%g\" fill=\"%s\">%s</text>\n",
		x+svgLabelPad*k, y-h+(svgLabelPad+ascent)*k, 13*k, color, escText(label))
}

func escText(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '&':
			out = append(out, '&', 'a', 'm', 'p', ';')
		case '<':
			out = append(out, '&', 'l', 't', ';')
		case '>':
			out = append(out, '&', 'g', 't', ';')
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
