/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package session is the top-level owner of a measuring session. It routes screen-space
// pointer events through the view transform, snapping, the calibration model and the
// measurement state machine into the store, and converts to and from the saved document.
//
// A Session is driven by a single goroutine; none of its methods block.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"pixelruler/internal/calibration"
	"pixelruler/internal/export"
	"pixelruler/internal/geom"
	applog "pixelruler/internal/log"
	"pixelruler/internal/measure"
	"pixelruler/internal/snap"
	"pixelruler/internal/storage"
	"pixelruler/internal/telemetry"
	"pixelruler/internal/view"
)

// Pointer is one pointer event in screen coordinates.
type Pointer struct {
	Screen geom.Point
	// AngleSnap is the state of the angle snap modifier key during the event.
	AngleSnap bool
}

// Preview is the geometry to draw while a pick is in progress. Kind is nil when there is
// nothing to preview. Calibrating marks a calibration reference line.
type Preview struct {
	Kind        measure.Kind
	Calibrating bool
}

// Options configures a new session.
type Options struct {
	Name      string
	ImagePath string
	// Image is the bitmap size. Picks are clamped into it when both sides are positive.
	Image     geom.Size
	Transform view.Transform
	Snap      snap.Config
}

// Session is a measuring session over one image.
type Session struct {
	name      string
	imagePath string
	image     geom.Size

	transform view.Transform
	view      view.State

	snapper *snap.Snapper
	cal     *calibration.Model
	store   *measure.Store
	machine *measure.Machine

	log *slog.Logger
}

// New returns an empty, uncalibrated session in line mode.
func New(opt Options) (*Session, error) {
	if opt.Transform == (view.Transform{}) {
		opt.Transform = view.DefaultTransform()
	}
	if _, err := view.NewTransform(opt.Transform.MinZoom, opt.Transform.MaxZoom, opt.Transform.Step); err != nil {
		return nil, err
	}
	if opt.Snap == (snap.Config{}) {
		opt.Snap = snap.DefaultConfig()
	}
	snapper, err := snap.New(opt.Snap)
	if err != nil {
		return nil, err
	}
	s := &Session{
		name:      opt.Name,
		imagePath: opt.ImagePath,
		image:     opt.Image,
		transform: opt.Transform,
		view:      view.DefaultState(),
		snapper:   snapper,
		cal:       calibration.NewModel(),
		store:     measure.NewStore(),
		log:       applog.WithComponent("session").With(slog.String("session", opt.Name)),
	}
	s.machine = measure.NewMachine(snapper, s.cal, s.store)
	return s, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Image returns the image path and size.
func (s *Session) Image() (string, geom.Size) { return s.imagePath, s.image }

// SetImage replaces the measured image. Measurements, calibration and view belong to the
// old image and are reset.
func (s *Session) SetImage(path string, size geom.Size) {
	s.imagePath, s.image = path, size
	s.machine.Cancel()
	s.store.Clear()
	s.cal.Clear()
	s.view = view.DefaultState()
	s.log.Info("image replaced", slog.String("path", path), slog.Float64("width", size.W), slog.Float64("height", size.H))
}

// --- view ---

// View returns the current view state.
func (s *Session) View() view.State { return s.view }

// Transform returns the zoom configuration.
func (s *Session) Transform() view.Transform { return s.transform }

// ToImage maps a screen point to image coordinates.
func (s *Session) ToImage(screen geom.Point) geom.Point { return s.transform.ToImage(screen, s.view) }

// ToScreen maps an image point to screen coordinates.
func (s *Session) ToScreen(img geom.Point) geom.Point { return s.transform.ToScreen(img, s.view) }

// ZoomAt sets the zoom level keeping the image point under pivot in place.
func (s *Session) ZoomAt(pivot geom.Point, zoom float64) {
	s.view = s.transform.ZoomAt(pivot, zoom, s.view)
}

// ZoomBy multiplies the zoom level around pivot, e.g. for wheel or pinch deltas.
func (s *Session) ZoomBy(pivot geom.Point, factor float64) {
	s.view = s.transform.ZoomBy(pivot, factor, s.view)
}

// ZoomIn zooms in one step around pivot.
func (s *Session) ZoomIn(pivot geom.Point) { s.view = s.transform.ZoomIn(pivot, s.view) }

// ZoomOut zooms out one step around pivot.
func (s *Session) ZoomOut(pivot geom.Point) { s.view = s.transform.ZoomOut(pivot, s.view) }

// PanBy moves the view by a screen-space delta.
func (s *Session) PanBy(delta geom.Point) { s.view = s.transform.PanBy(delta, s.view) }

// Fit centers the image in viewport. Without a known image size the view is reset.
func (s *Session) Fit(viewport geom.Size) {
	if s.image.W <= 0 || s.image.H <= 0 {
		s.ResetView()
		return
	}
	s.view = s.transform.Fit(s.image, viewport)
}

// ResetView returns to zoom 1 without pan.
func (s *Session) ResetView() { s.view = view.DefaultState() }

// --- snapping ---

// SnapConfig returns the persistent snapping configuration.
func (s *Session) SnapConfig() snap.Config { return s.snapper.Config() }

// SetSnapConfig validates and applies cfg. An invalid cfg leaves the current one in force.
func (s *Session) SetSnapConfig(cfg snap.Config) error {
	sn, err := snap.New(cfg)
	if err != nil {
		return err
	}
	s.snapper = sn
	s.machine.SetSnapper(sn)
	return nil
}

// --- measuring ---

// Mode returns the measurement mode.
func (s *Session) Mode() measure.Mode { return s.machine.Mode() }

// SetMode switches measurement mode, discarding a pending pick.
func (s *Session) SetMode(m measure.Mode) { s.machine.SetMode(m) }

// Click handles a pointer click. While calibrating the click picks a reference point and
// the result is nil. Otherwise the second click of a pick returns the committed
// measurement.
func (s *Session) Click(ev Pointer) (*measure.Measurement, error) {
	p := s.pick(ev.Screen)
	if s.cal.Active() {
		if st, ok := s.cal.State().(calibration.Calibrating); ok && st.Reference != nil {
			p = s.snapper.WithAngle(ev.AngleSnap).Line(*st.Reference, p)
		}
		return nil, s.cal.Pick(p)
	}
	m, err := s.machine.Click(p, ev.AngleSnap)
	if err != nil {
		return nil, err
	}
	if m != nil {
		s.committed(*m)
	}
	return m, nil
}

func (s *Session) committed(m measure.Measurement) {
	telemetry.MeasurementCommitted(m.Kind.Name(), m.Calibration != nil)
}

// Move returns the preview for the pointer position.
func (s *Session) Move(ev Pointer) Preview {
	p := s.pick(ev.Screen)
	if s.cal.Active() {
		if st, ok := s.cal.State().(calibration.Calibrating); ok && st.Reference != nil {
			end := s.snapper.WithAngle(ev.AngleSnap).Line(*st.Reference, p)
			return Preview{Kind: measure.Line{P0: *st.Reference, P1: end}, Calibrating: true}
		}
		return Preview{}
	}
	if k, ok := s.machine.Move(p, ev.AngleSnap); ok {
		return Preview{Kind: k}
	}
	return Preview{}
}

// Escape cancels the calibration session if one is running, else the pending pick.
func (s *Session) Escape() {
	if s.cal.Active() {
		s.cal.Cancel()
		s.log.Debug("calibration cancelled")
		return
	}
	s.machine.Cancel()
}

// AddMeasurement commits a measurement between two image points without pointer
// interaction, applying the same snapping and calibration as clicks would.
func (s *Session) AddMeasurement(mode measure.Mode, p0, p1 geom.Point, angle bool) (measure.Measurement, error) {
	if s.cal.Active() {
		return measure.Measurement{}, fmt.Errorf("%w: measuring while calibrating", calibration.ErrInvalidTransition)
	}
	prev := s.machine.Mode()
	s.machine.SetMode(mode)
	defer s.machine.SetMode(prev)
	if _, err := s.machine.Click(s.clamp(p0), angle); err != nil {
		return measure.Measurement{}, err
	}
	m, err := s.machine.Click(s.clamp(p1), angle)
	if err != nil {
		return measure.Measurement{}, err
	}
	if m == nil {
		return measure.Measurement{}, errors.New("measurement was not committed")
	}
	s.committed(*m)
	return *m, nil
}

// Measurements returns the committed measurements in insertion order.
func (s *Session) Measurements() []measure.Measurement { return s.store.All() }

// Remove deletes a measurement and reports whether it existed.
func (s *Session) Remove(id measure.ID) bool {
	ok := s.store.RemoveByID(id)
	s.log.Debug("remove measurement", slog.Uint64("id", uint64(id)), slog.Bool("found", ok))
	return ok
}

// ClearMeasurements removes every measurement.
func (s *Session) ClearMeasurements() {
	s.store.Clear()
	s.machine.Cancel()
}

// --- calibration ---

// Calibration returns the calibration state.
func (s *Session) Calibration() calibration.State { return s.cal.State() }

// ActiveCalibration returns the calibration applied to new measurements, or nil.
func (s *Session) ActiveCalibration() *calibration.Calibrated { return s.cal.Snapshot() }

// StartCalibration enters reference picking. A pending measurement pick is discarded.
func (s *Session) StartCalibration() error {
	s.machine.Cancel()
	return s.cal.Start()
}

// ApplyCalibration completes calibration with the reference's real length. On error the
// model keeps waiting for valid input.
func (s *Session) ApplyCalibration(realLength float64, unit string) (calibration.Calibrated, error) {
	c, err := s.cal.Apply(realLength, unit)
	if err != nil {
		s.log.Warn("calibration rejected", slog.Float64("length", realLength), slog.String("unit", unit), slog.Any("err", err))
		return c, err
	}
	s.log.Info("calibration applied", slog.Float64("pixels_per_unit", c.PixelsPerUnit), slog.String("unit", c.Unit))
	telemetry.CalibrationApplied()
	return c, nil
}

// Calibrate runs a whole calibration from a reference segment in image coordinates,
// replacing any calibration in progress. Snapping applies to the reference as to a line
// measurement. When the length or unit is rejected the model stays in AwaitingInput with
// the reference picked, so ApplyCalibration can retry; CancelCalibration restores the
// previous calibration.
func (s *Session) Calibrate(p0, p1 geom.Point, realLength float64, unit string, angle bool) (calibration.Calibrated, error) {
	s.cal.Cancel()
	if err := s.StartCalibration(); err != nil {
		return calibration.Calibrated{}, err
	}
	p0 = s.clamp(p0)
	p1 = s.snapper.WithAngle(angle).Line(p0, s.clamp(p1))
	if err := s.cal.Pick(p0); err != nil {
		s.cal.Cancel()
		return calibration.Calibrated{}, err
	}
	if err := s.cal.Pick(p1); err != nil {
		s.cal.Cancel()
		return calibration.Calibrated{}, err
	}
	return s.ApplyCalibration(realLength, unit)
}

// CancelCalibration abandons a running calibration, restoring the previous one.
func (s *Session) CancelCalibration() { s.cal.Cancel() }

// ClearCalibration drops the calibration. Committed measurements keep their snapshots.
func (s *Session) ClearCalibration() { s.cal.Clear() }

func (s *Session) pick(screen geom.Point) geom.Point {
	return s.clamp(s.ToImage(screen))
}

func (s *Session) clamp(p geom.Point) geom.Point {
	if s.image.W > 0 && s.image.H > 0 {
		return geom.Rect{W: s.image.W, H: s.image.H}.Clamp(p)
	}
	return p
}

// --- persistence ---

// FromDocument rebuilds a session from a saved document. tr supplies the zoom limits;
// the zero value uses the defaults.
func FromDocument(doc storage.Document, tr view.Transform) (*Session, error) {
	s, err := New(Options{
		Name:      doc.Name,
		ImagePath: doc.Image.Path,
		Image:     doc.Image.Size,
		Transform: tr,
		Snap:      doc.Snap,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidSession, err)
	}
	if doc.Calibration != nil {
		c, err := calibration.Apply(doc.Calibration.PixelsPerUnit, 1, doc.Calibration.Unit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidSession, err)
		}
		s.cal = calibration.Restore(&c)
		s.machine = measure.NewMachine(s.snapper, s.cal, s.store)
	}
	if doc.View.Zoom > 0 {
		s.view = view.State{Zoom: s.transform.Clamp(doc.View.Zoom), Pan: doc.View.Pan}
	}
	ms, err := doc.MeasurementList()
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := s.store.Add(m); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidSession, err)
		}
	}
	return s, nil
}

// Document writes the session state into base, keeping its creation time.
func (s *Session) Document(base storage.Document) storage.Document {
	if base.Version == 0 {
		base = storage.NewDocument(s.name, storage.ImageInfo{})
	}
	base.Name = s.name
	base.Image = storage.ImageInfo{Path: s.imagePath, Size: s.image}
	base.View = s.view
	base.Snap = s.snapper.Config()
	// Angle snapping is a per-event modifier and is not persisted.
	base.Snap.AngleEnabled = false
	base.Calibration = s.cal.Snapshot()
	ms := s.store.All()
	base.Measurements = make([]storage.MeasurementDoc, 0, len(ms))
	for _, m := range ms {
		base.Measurements = append(base.Measurements, storage.FromMeasurement(m))
	}
	return base
}

// Report returns the export report of the session.
func (s *Session) Report() export.Report {
	return export.NewReport(s.name, s.imagePath, s.image, s.cal.Snapshot(), s.store.All())
}
