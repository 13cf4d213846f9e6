/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pixelruler/internal/backend"
	"pixelruler/internal/calibration"
	"pixelruler/internal/config"
	"pixelruler/internal/export"
	"pixelruler/internal/geom"
	applog "pixelruler/internal/log"
	"pixelruler/internal/measure"
	"pixelruler/internal/session"
	"pixelruler/internal/storage"
	"pixelruler/internal/telemetry"
	"pixelruler/internal/version"
)

// errUsage marks invalid command lines; main prints the usage and exits with 2.
var errUsage = errors.New("usage")

type cli struct {
	cfg   config.AppConfig
	token string
	log   *slog.Logger
	out   io.Writer

	// Shared with main for crash recovery.
	ph   **storage.SessionHandle
	sess **session.Session
}

func (c *cli) stdout() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

func (c *cli) printf(format string, a ...any) { _, _ = fmt.Fprintf(c.stdout(), format, a...) }

func usageErr(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, a...))
}

// argsRange rejects positional argument counts outside [min, max] with a usage error.
func argsRange(min, max int, want string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return usageErr("%s requires %s", cmd.Name(), want)
		}
		return nil
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, usageErr("not a number: %q", a)
		}
		out[i] = v
	}
	return out, nil
}

// newRootCmd builds the command tree. cfgErr is the configuration load error;
// every command but "config" refuses to run while it is set.
func newRootCmd(c *cli, cfgErr error) *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelruler",
		Short: "Measure distances and areas on images",
		Long: `pixelruler keeps measurement sessions for a single image: calibrate a
reference segment to a real-world unit, add line and rectangle measurements
in image pixels, and export them as CSV, JSON, PDF, SVG or PNG.

Coordinates are image pixels. Use -- before negative numbers.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil && cmd.Name() != "config" {
				return cfgErr
			}
			return nil
		},
	}
	root.SetOut(c.stdout())
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageErr("%v", err) })

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Args:  argsRange(0, 0, "no arguments"),
			RunE: func(cmd *cobra.Command, args []string) error {
				c.printf("pixelruler %s\n", version.String())
				return nil
			},
		},
		c.newCmd(),
		&cobra.Command{
			Use:   "show <dir>",
			Short: "Print calibration and measurements",
			Args:  argsRange(1, 1, "<dir>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.show(args[0]) },
		},
		c.addCmd(),
		c.calibrateCmd(),
		&cobra.Command{
			Use:   "uncalibrate <dir>",
			Short: "Drop the calibration",
			Args:  argsRange(1, 1, "<dir>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.uncalibrate(args[0]) },
		},
		&cobra.Command{
			Use:   "remove <dir> <id>",
			Short: "Remove a measurement",
			Args:  argsRange(2, 2, "<dir> and <id>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.remove(args[0], args[1]) },
		},
		&cobra.Command{
			Use:   "clear <dir>",
			Short: "Remove all measurements",
			Args:  argsRange(1, 1, "<dir>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.clear(args[0]) },
		},
		c.exportCmd(),
		c.batchCmd(),
		&cobra.Command{
			Use:   "copy <dir> <dest>",
			Short: "Save the session into another directory",
			Args:  argsRange(2, 2, "<dir> and <dest>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.copySession(args[0], args[1]) },
		},
		c.archiveCmd(),
		c.historyCmd(),
		&cobra.Command{
			Use:   "publish <dir>",
			Short: "Publish the session to Postgres",
			Args:  argsRange(1, 1, "<dir>"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.publish(cmd.Context(), args[0]) },
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve published sessions over HTTP",
			Args:  argsRange(0, 0, "no arguments"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.serve(cmd.Context()) },
		},
		c.remoteCmd(),
		c.loginCmd(),
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the stored backend token",
			Args:  argsRange(0, 0, "no arguments"),
			RunE:  func(cmd *cobra.Command, args []string) error { return c.logout() },
		},
		c.configCmd(cfgErr),
	)
	return root
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return abs, nil
}

// open loads the session at dir and registers it for crash recovery.
func (c *cli) open(dir string) (*storage.SessionHandle, *session.Session, error) {
	abs, err := absDir(dir)
	if err != nil {
		return nil, nil, err
	}
	h, err := storage.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	*c.ph = h
	tr, err := c.cfg.Transform()
	if err != nil {
		return nil, nil, err
	}
	s, err := session.FromDocument(h.Doc, tr)
	if err != nil {
		return nil, nil, err
	}
	*c.sess = s
	return h, s, nil
}

func (c *cli) save(h *storage.SessionHandle, s *session.Session) error {
	h.Doc = s.Document(h.Doc)
	return storage.Save(h)
}

type newOptions struct {
	image         string
	width, height float64
}

func (c *cli) newCmd() *cobra.Command {
	var o newOptions
	cmd := &cobra.Command{
		Use:   "new <dir> <name>",
		Short: "Create a session at <dir>",
		Args:  argsRange(2, 2, "<dir> and <name>"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.newSession(o, args[0], args[1]) },
	}
	cmd.Flags().StringVar(&o.image, "image", "", "image file the session measures")
	cmd.Flags().Float64Var(&o.width, "width", 0, "image width in pixels")
	cmd.Flags().Float64Var(&o.height, "height", 0, "image height in pixels")
	cmd.MarkFlagsRequiredTogether("width", "height")
	return cmd
}

func (c *cli) newSession(o newOptions, dir, name string) error {
	abs, err := absDir(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(abs, storage.SessionFileName)); err == nil {
		return fmt.Errorf("session already exists at %s", abs)
	}
	tr, err := c.cfg.Transform()
	if err != nil {
		return err
	}
	s, err := session.New(session.Options{
		Name:      name,
		ImagePath: o.image,
		Image:     geom.Size{W: o.width, H: o.height},
		Transform: tr,
		Snap:      c.cfg.SnapConfig(),
	})
	if err != nil {
		return err
	}
	c.log.Info("new session", slog.String("root", abs), slog.String("name", name))
	h, err := storage.InitSession(abs, s.Document(storage.Document{}))
	if err != nil {
		return err
	}
	*c.ph, *c.sess = h, s
	c.printf("Created session %q at %s\n", s.Name(), abs)
	return nil
}

func (c *cli) show(dir string) error {
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	path, size := s.Image()
	c.printf("Session: %s\n", s.Name())
	c.printf("Root:    %s\n", h.Root)
	if path != "" {
		c.printf("Image:   %s (%gx%g px)\n", path, size.W, size.H)
	}
	c.printf("Calibration: %s\n", describeCalibration(s.ActiveCalibration()))
	ms := s.Measurements()
	c.printf("Measurements: %d\n", len(ms))
	for _, m := range ms {
		c.printf("  %s\n", describeMeasurement(m, c.cfg.Export.Decimals))
	}
	return nil
}

func describeCalibration(cal *calibration.Calibrated) string {
	if cal == nil {
		return "none (pixels)"
	}
	return fmt.Sprintf("%g px per %s", cal.PixelsPerUnit, cal.Unit)
}

func describeMeasurement(m measure.Measurement, decimals int) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', decimals, 64) }
	mt := m.Metrics()
	switch k := m.Kind.(type) {
	case measure.Line:
		s := fmt.Sprintf("#%d line (%s,%s)-(%s,%s) %s px", m.ID, f(k.P0.X), f(k.P0.Y), f(k.P1.X), f(k.P1.Y), f(mt.Distance))
		if mt.Real != nil {
			s += fmt.Sprintf(" = %s %s", f(mt.Real.Distance), mt.Real.Unit)
		}
		return s
	case measure.Rectangle:
		s := fmt.Sprintf("#%d rectangle (%s,%s)-(%s,%s) %s x %s px, area %s px²", m.ID,
			f(k.Corner0.X), f(k.Corner0.Y), f(k.Corner1.X), f(k.Corner1.Y), f(mt.Width), f(mt.Height), f(mt.Area))
		if r := mt.Real; r != nil {
			s += fmt.Sprintf(" = %s x %s %s, area %s %s²", f(r.Width), f(r.Height), r.Unit, f(r.Area), r.Unit)
		}
		return s
	}
	return fmt.Sprintf("#%d %s", m.ID, m.Kind.Name())
}

func (c *cli) addCmd() *cobra.Command {
	var angle bool
	cmd := &cobra.Command{
		Use:   "add <dir> line|rect x0 y0 x1 y1",
		Short: "Add a measurement (image pixels)",
		Args:  argsRange(6, 6, "<dir> line|rect x0 y0 x1 y1"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.add(args, angle) },
	}
	cmd.Flags().BoolVar(&angle, "angle", false, "snap the line onto the nearest axis")
	return cmd
}

func (c *cli) add(args []string, angle bool) error {
	mode, err := measure.ParseMode(args[1])
	if err != nil {
		return usageErr("%v", err)
	}
	v, err := parseFloats(args[2:])
	if err != nil {
		return err
	}
	h, s, err := c.open(args[0])
	if err != nil {
		return err
	}
	m, err := s.AddMeasurement(mode, geom.Pt(v[0], v[1]), geom.Pt(v[2], v[3]), angle)
	if err != nil {
		return err
	}
	if err := c.save(h, s); err != nil {
		return err
	}
	c.printf("Added %s\n", describeMeasurement(m, c.cfg.Export.Decimals))
	return nil
}

func (c *cli) calibrateCmd() *cobra.Command {
	var angle bool
	cmd := &cobra.Command{
		Use:   "calibrate <dir> x0 y0 x1 y1 <length> <unit>",
		Short: "Calibrate from a reference segment of known length",
		Args:  argsRange(7, 7, "<dir> x0 y0 x1 y1 <length> <unit>"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.calibrate(args, angle) },
	}
	cmd.Flags().BoolVar(&angle, "angle", false, "snap the reference onto the nearest axis")
	return cmd
}

func (c *cli) calibrate(args []string, angle bool) error {
	v, err := parseFloats(args[1:6])
	if err != nil {
		return err
	}
	h, s, err := c.open(args[0])
	if err != nil {
		return err
	}
	cal, err := s.Calibrate(geom.Pt(v[0], v[1]), geom.Pt(v[2], v[3]), v[4], args[6], angle)
	if err != nil {
		return err
	}
	if err := c.save(h, s); err != nil {
		return err
	}
	c.printf("Calibrated: %s\n", describeCalibration(&cal))
	return nil
}

func (c *cli) uncalibrate(dir string) error {
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	s.ClearCalibration()
	if err := c.save(h, s); err != nil {
		return err
	}
	c.printf("Calibration removed; existing measurements keep their values.\n")
	return nil
}

func (c *cli) remove(dir, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return usageErr("invalid id %q", rawID)
	}
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	if !s.Remove(measure.ID(id)) {
		return fmt.Errorf("no measurement #%d", id)
	}
	if err := c.save(h, s); err != nil {
		return err
	}
	c.printf("Removed #%d\n", id)
	return nil
}

func (c *cli) clear(dir string) error {
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	n := len(s.Measurements())
	s.ClearMeasurements()
	if err := c.save(h, s); err != nil {
		return err
	}
	c.printf("Removed %d measurements\n", n)
	return nil
}

type exportOptions struct {
	out      string
	decimals int
}

func (c *cli) exportCmd() *cobra.Command {
	var o exportOptions
	cmd := &cobra.Command{
		Use:   "export <dir> [csv|json|pdf|svg|png]",
		Short: "Export the measurements in one format",
		Args:  argsRange(1, 2, "<dir> [format]"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.export(o, args) },
	}
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "output file")
	cmd.Flags().IntVar(&o.decimals, "decimals", c.cfg.Export.Decimals, "decimals in CSV and reports")
	return cmd
}

func (c *cli) export(o exportOptions, args []string) error {
	name := c.cfg.Export.DefaultFormat
	if len(args) == 2 {
		name = args[1]
	}
	f, err := export.ParseFormat(name)
	if err != nil {
		return usageErr("%v", err)
	}
	h, s, err := c.open(args[0])
	if err != nil {
		return err
	}
	r := s.Report()
	path := o.out
	if path == "" {
		dir := c.cfg.Export.OutDir
		if dir == "" {
			dir = filepath.Join(h.Root, storage.ExportsDirName)
		}
		path = filepath.Join(dir, r.FileName(f))
	}
	if err := export.WriteFile(path, f, r, export.Options{Decimals: o.decimals}); err != nil {
		return err
	}
	telemetry.Exported(string(f), len(r.Records))
	c.printf("Exported %d measurements to %s\n", len(r.Records), path)
	return nil
}

func (c *cli) batchCmd() *cobra.Command {
	var o exportOptions
	cmd := &cobra.Command{
		Use:   "batch <dir> report|data|overlay",
		Short: "Export a preset bundle of formats",
		Args:  argsRange(2, 2, "<dir> and <preset>"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.batch(o, args[0], args[1]) },
	}
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "output directory")
	cmd.Flags().IntVar(&o.decimals, "decimals", c.cfg.Export.Decimals, "decimals in CSV and reports")
	return cmd
}

func (c *cli) batch(o exportOptions, dir, presetName string) error {
	preset, err := export.ParsePreset(presetName)
	if err != nil {
		return usageErr("%v", err)
	}
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	outDir := o.out
	if outDir == "" {
		outDir = filepath.Join(h.Root, storage.ExportsDirName)
	}
	r := s.Report()
	paths, err := export.BatchExport(r, export.BatchOptions{Preset: preset, OutDir: outDir, Decimals: o.decimals})
	for _, p := range paths {
		telemetry.Exported(strings.TrimPrefix(filepath.Ext(p), "."), len(r.Records))
		c.printf("Wrote %s\n", p)
	}
	return err
}

func (c *cli) copySession(dir, dest string) error {
	to, err := absDir(dest)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(to, storage.SessionFileName)); err == nil {
		return fmt.Errorf("session already exists at %s", to)
	}
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	from := h.Root
	h.Doc = s.Document(h.Doc)
	if err := storage.SaveAs(h, to); err != nil {
		return err
	}
	c.log.Info("session copied", slog.String("from", from), slog.String("to", to))
	c.printf("Copied %q to %s\n", s.Name(), to)
	return nil
}

func (c *cli) archiveCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "archive <dir>",
		Short: "Store the measurements in the local archive",
		Args:  argsRange(1, 1, "<dir>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				return c.verifyArchive(cmd.Context(), args[0])
			}
			return c.archive(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check the archive's integrity instead of archiving")
	return cmd
}

// openExistingArchive opens the archive under dir without creating one.
func openExistingArchive(dir string) (*storage.Archive, error) {
	abs, err := absDir(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(storage.ArchivePath(abs)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no archive in %s", abs)
		}
		return nil, err
	}
	return storage.OpenArchive(abs)
}

func (c *cli) verifyArchive(ctx context.Context, dir string) error {
	a, err := openExistingArchive(dir)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Verify(ctx); err != nil {
		return err
	}
	v, err := a.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	c.printf("%s: ok (schema %d)\n", a.Path(), v)
	return nil
}

func (c *cli) archive(ctx context.Context, dir string) error {
	h, s, err := c.open(dir)
	if err != nil {
		return err
	}
	a, err := storage.OpenArchive(h.Root)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = applog.ContextWithSession(ctx, h.Path)
	id, err := a.ArchiveReport(ctx, h.Root, s.Report())
	if err != nil {
		return err
	}
	c.log.InfoContext(ctx, "archived", slog.Int64("archived_id", id))
	c.printf("Archived %d measurements as #%d in %s\n", len(s.Measurements()), id, a.Path())
	return nil
}

func (c *cli) historyCmd() *cobra.Command {
	var del int64
	cmd := &cobra.Command{
		Use:   "history <dir> [archived-id]",
		Short: "List archived snapshots or print one as CSV",
		Args:  argsRange(1, 2, "<dir> [archived-id]"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.history(cmd.Context(), args, del) },
	}
	cmd.Flags().Int64Var(&del, "delete", 0, "delete the archived snapshot with this id")
	return cmd
}

func (c *cli) history(ctx context.Context, args []string, del int64) error {
	if del != 0 && len(args) > 1 {
		return usageErr("--delete takes no archived id argument")
	}
	a, err := openExistingArchive(args[0])
	if err != nil {
		return err
	}
	defer a.Close()
	if del != 0 {
		ok, err := a.DeleteSession(ctx, del)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no archived snapshot #%d", del)
		}
		c.printf("Deleted archived snapshot #%d\n", del)
		return nil
	}
	if len(args) == 1 {
		list, err := a.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range list {
			c.printf("#%d %s %s %d measurements, calibration %s\n", s.ID, s.ArchivedAt.Format("2006-01-02 15:04:05"),
				s.Name, s.Count, describeCalibration(s.Calibration))
		}
		return nil
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return usageErr("invalid archived id %q", args[1])
	}
	recs, err := a.Records(ctx, id)
	if err != nil {
		return err
	}
	r := export.Report{Name: fmt.Sprintf("archive-%d", id), Records: recs}
	return export.WriteCSV(c.stdout(), r, export.Options{Decimals: c.cfg.Export.Decimals})
}

func (c *cli) dsn() string {
	if c.cfg.Backend.DSN != "" {
		return c.cfg.Backend.DSN
	}
	return backend.LoadConfig().DBURL
}

func (c *cli) publish(ctx context.Context, dir string) error {
	_, s, err := c.open(dir)
	if err != nil {
		return err
	}
	octx, cancel := context.WithTimeout(ctx, c.cfg.Backend.Timeout())
	defer cancel()
	db, err := backend.Open(octx, c.dsn())
	if err != nil {
		return err
	}
	defer db.Close()
	id, err := backend.PublishSession(octx, db, s.Report())
	if err != nil {
		return err
	}
	c.printf("Published %q as session %d\n", s.Name(), id)
	return nil
}

func (c *cli) serve(ctx context.Context) error {
	bcfg := backend.LoadConfig()
	bcfg.DBURL = c.dsn()
	if c.cfg.Backend.Addr != "" {
		bcfg.Addr = c.cfg.Backend.Addr
	}
	return backend.Start(ctx, bcfg)
}

func (c *cli) remoteCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "remote [session-id]",
		Short: "Query a pixelruler server",
		Args:  argsRange(0, 1, "at most one session id"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.remote(cmd.Context(), url, args) },
	}
	cmd.Flags().StringVar(&url, "url", c.cfg.Backend.BaseURL, "server base URL")
	return cmd
}

func (c *cli) remote(ctx context.Context, url string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Backend.Timeout())
	defer cancel()
	cl := backend.NewClient(url, c.token)
	if cl.Token == "" {
		tok, err := cl.RequestToken(ctx, tokenSubject)
		if err != nil {
			return err
		}
		if err := config.SaveToken(tok); err != nil {
			c.log.Warn("token not stored", slog.Any("err", err))
		} else {
			c.token = tok
		}
	}
	if len(args) == 0 {
		list, err := cl.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range list {
			c.printf("%d\t%s\t%s\t%d measurements\n", s.ID, s.PublishedAt.Format("2006-01-02 15:04"), s.Name, s.Measurements)
		}
		return nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usageErr("invalid session id %q", args[0])
	}
	recs, err := cl.SessionMeasurements(ctx, id)
	if err != nil {
		return err
	}
	r := export.Report{Name: fmt.Sprintf("session-%d", id), Records: recs}
	return export.WriteCSV(c.stdout(), r, export.Options{Decimals: c.cfg.Export.Decimals})
}

const tokenSubject = "pixelruler-cli"

func (c *cli) loginCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Request a backend token and store it in the keyring",
		Args:  argsRange(0, 0, "no arguments"),
		RunE:  func(cmd *cobra.Command, args []string) error { return c.login(cmd.Context(), url) },
	}
	cmd.Flags().StringVar(&url, "url", c.cfg.Backend.BaseURL, "server base URL")
	return cmd
}

func (c *cli) login(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Backend.Timeout())
	defer cancel()
	tok, err := backend.NewClient(url, "").RequestToken(ctx, tokenSubject)
	if err != nil {
		return err
	}
	if err := config.SaveToken(tok); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	c.token = tok
	c.printf("Logged in to %s\n", url)
	return nil
}

func (c *cli) logout() error {
	if err := config.ForgetToken(); err != nil {
		return err
	}
	c.token = ""
	c.printf("Backend token removed\n")
	return nil
}

func (c *cli) configCmd(cfgErr error) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  argsRange(0, 0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				return c.writeConfig(cfgErr)
			}
			return c.showConfig(cfgErr)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the effective configuration to the config file")
	return cmd
}

func (c *cli) writeConfig(loadErr error) error {
	if loadErr != nil {
		return errors.Join(errors.New("refusing to write an invalid configuration"), loadErr)
	}
	if err := config.Save(c.cfg, ""); err != nil {
		return err
	}
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	c.printf("Wrote %s\n", path)
	return nil
}

var configKeys = []string{
	"view.min_zoom", "view.max_zoom", "snap.length_enabled", "snap.length_unit", "export.decimals",
	"backend.dsn", "backend.addr", "backend.base_url", "backend.timeout_ms", "general.telemetry_opt_in",
	"logging.level", "logging.format", "logging.source", "logging.file",
}

func (c *cli) showConfig(loadErr error) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	c.printf("# %s\n", path)
	for _, k := range configKeys {
		if env, ok := config.EnvOverrideFor(k); ok {
			c.printf("# %s overridden by %s\n", k, env)
		}
	}
	b, err := yaml.Marshal(c.cfg)
	if err != nil {
		return err
	}
	_, _ = c.stdout().Write(b)
	if loadErr != nil {
		return errors.Join(errors.New("configuration is invalid"), loadErr)
	}
	return nil
}
