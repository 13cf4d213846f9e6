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
	"io"
	"math"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
	"pixelruler/internal/version"
)

// Page layout in millimetres (A4 portrait).
const (
	pdfMargin      = 15.0
	pdfContentW    = 180.0
	pdfSketchMaxH  = 110.0
	pdfRowH        = 6.0
	pdfLabelOffset = 1.2
)

type rgb struct{ R, G, B int }

var (
	colFrame = rgb{128, 128, 128}
	colLine  = rgb{0, 90, 200}
	colRect  = rgb{200, 40, 40}
	colHead  = rgb{230, 230, 230}
)

// WritePDF renders a one-document report: header, calibration summary, a sketch of the
// measured geometry scaled to the page and one table per measurement kind.
// Text uses the built-in Helvetica so nothing is embedded.
func WritePDF(w io.Writer, r Report, opt Options) error {
	dec := opt.decimals()
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', dec, 64) }

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(reportTitle(r), true)
	pdf.SetAuthor("pixelruler", false)
	pdf.SetCreator("pixelruler "+version.String(), false)
	if !r.Generated.IsZero() {
		pdf.SetCreationDate(r.Generated)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(reportTitle(r)), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	info := []string{}
	if r.ImagePath != "" {
		info = append(info, "Image: "+r.ImagePath)
	}
	if r.Image.W > 0 && r.Image.H > 0 {
		info = append(info, fmt.Sprintf("Image size: %g x %g px", r.Image.W, r.Image.H))
	}
	if c := r.Calibration; c != nil {
		info = append(info, fmt.Sprintf("Calibration: %s px per %s", num(c.PixelsPerUnit), c.Unit))
	} else {
		info = append(info, "Calibration: none (values in pixels)")
	}
	gen := r.Generated
	if gen.IsZero() {
		gen = time.Now().UTC()
	}
	info = append(info, "Generated: "+gen.Format(time.RFC3339))
	for _, s := range info {
		pdf.CellFormat(0, 5, tr(s), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	drawSketch(pdf, r)

	if lines := r.Lines(); len(lines) > 0 {
		sectionTitle(pdf, tr("Line measurements"))
		widths := []float64{14, 44, 44, 28, 30, 20}
		tableHeader(pdf, widths, []string{"ID", "Start", "End", "Pixels", "Calibrated", "Unit"})
		for _, rec := range lines {
			cal := ""
			if rec.CalibratedDistance != nil {
				cal = num(*rec.CalibratedDistance)
			}
			tableRow(pdf, widths, []string{
				strconv.FormatUint(rec.ID, 10),
				fmt.Sprintf("(%s, %s)", num(rec.X0), num(rec.Y0)),
				fmt.Sprintf("(%s, %s)", num(rec.X1), num(rec.Y1)),
				num(deref(rec.PixelDistance)),
				cal,
				tr(rec.UnitLabel()),
			})
		}
		pdf.Ln(4)
	}

	if rects := r.Rectangles(); len(rects) > 0 {
		sectionTitle(pdf, tr("Rectangle measurements"))
		widths := []float64{12, 56, 34, 24, 54}
		tableHeader(pdf, widths, []string{"ID", "Corners", "Size px", "Area px", "Calibrated"})
		for _, rec := range rects {
			cal := ""
			if rec.Calibrated() {
				u := rec.UnitLabel()
				cal = fmt.Sprintf("%s x %s %s, %s %s²", num(deref(rec.CalibratedWidth)), num(deref(rec.CalibratedHeight)), u,
					num(deref(rec.CalibratedArea)), u)
			}
			tableRow(pdf, widths, []string{
				strconv.FormatUint(rec.ID, 10),
				fmt.Sprintf("(%s, %s)-(%s, %s)", num(rec.X0), num(rec.Y0), num(rec.X1), num(rec.Y1)),
				fmt.Sprintf("%s x %s", num(deref(rec.PixelWidth)), num(deref(rec.PixelHeight))),
				num(deref(rec.PixelArea)),
				tr(cal),
			})
		}
	}

	if len(r.Records) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, "No measurements.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func reportTitle(r Report) string {
	if r.Name == "" {
		return "Measurement report"
	}
	return "Measurement report: " + r.Name
}

func sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, s, "", 1, "L", false, 0, "")
}

func tableHeader(pdf *gofpdf.Fpdf, widths []float64, cols []string) {
	pdf.SetFont("Helvetica", "B", 9)
	setFillColor(pdf, colHead)
	for i, c := range cols {
		pdf.CellFormat(widths[i], pdfRowH, c, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func tableRow(pdf *gofpdf.Fpdf, widths []float64, cells []string) {
	pdf.SetFont("Helvetica", "", 9)
	for i, c := range cells {
		align := "R"
		if i == 0 {
			align = "C"
		}
		pdf.CellFormat(widths[i], pdfRowH, c, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

// sketchBounds is the image frame, or the union of all geometry when the image size is
// unknown.
func sketchBounds(r Report) (geom.Rect, bool) {
	if r.Image.W > 0 && r.Image.H > 0 {
		return geom.Rect{W: r.Image.W, H: r.Image.H}, true
	}
	var b geom.Rect
	for i, rec := range r.Records {
		rb := geom.RectFromCorners(geom.Pt(rec.X0, rec.Y0), geom.Pt(rec.X1, rec.Y1))
		if i == 0 {
			b = rb
		} else {
			b = b.Union(rb)
		}
	}
	return b, b.W > 0 && b.H > 0
}

func drawSketch(pdf *gofpdf.Fpdf, r Report) {
	b, ok := sketchBounds(r)
	if !ok {
		return
	}
	s := math.Min(pdfContentW/b.W, pdfSketchMaxH/b.H)
	x0, y0 := pdfMargin, pdf.GetY()
	mapX := func(x float64) float64 { return x0 + (x-b.X)*s }
	mapY := func(y float64) float64 { return y0 + (y-b.Y)*s }

	setDrawColor(pdf, colFrame)
	pdf.SetLineWidth(0.2)
	pdf.Rect(x0, y0, b.W*s, b.H*s, "D")

	pdf.SetFont("Helvetica", "", 7)
	pdf.SetLineWidth(0.4)
	for _, rec := range r.Records {
		label := "#" + strconv.FormatUint(rec.ID, 10)
		switch rec.Kind {
		case measure.KindRectangle:
			setDrawColor(pdf, colRect)
			pdf.SetTextColor(colRect.R, colRect.G, colRect.B)
			rb := geom.RectFromCorners(geom.Pt(rec.X0, rec.Y0), geom.Pt(rec.X1, rec.Y1))
			pdf.Rect(mapX(rb.X), mapY(rb.Y), rb.W*s, rb.H*s, "D")
			pdf.Text(mapX(rb.X)+pdfLabelOffset, mapY(rb.Y)-pdfLabelOffset, label)
		default:
			setDrawColor(pdf, colLine)
			pdf.SetTextColor(colLine.R, colLine.G, colLine.B)
			pdf.Line(mapX(rec.X0), mapY(rec.Y0), mapX(rec.X1), mapY(rec.Y1))
			mx, my := (rec.X0+rec.X1)/2, (rec.Y0+rec.Y1)/2
			pdf.Text(mapX(mx)+pdfLabelOffset, mapY(my)-pdfLabelOffset, label)
		}
	}
	pdf.SetTextColor(0, 0, 0)
	setDrawColor(pdf, rgb{})
	pdf.SetLineWidth(0.2)
	pdf.SetY(y0 + b.H*s + 6)
}

func setDrawColor(pdf *gofpdf.Fpdf, c rgb) {
	pdf.SetDrawColor(c.R, c.G, c.B)
}

func setFillColor(pdf *gofpdf.Fpdf, c rgb) {
	pdf.SetFillColor(c.R, c.G, c.B)
}
