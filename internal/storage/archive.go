/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/export"
	"pixelruler/internal/geom"
	applog "pixelruler/internal/log"
	"pixelruler/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	ArchiveFileName = "archive.sqlite"

	// archiveSchemaVersion tracks the archive schema. Bump it together with a new step in
	// runMigrations.
	archiveSchemaVersion = 2
)

// Archive is a SQLite database of archived sessions and their flattened measurements.
type Archive struct {
	db   *sql.DB
	path string
}

// ArchivedSession is one archived session row.
type ArchivedSession struct {
	ID          int64
	Name        string
	Root        string
	ImagePath   string
	Image       geom.Size
	Calibration *calibration.Calibrated
	ArchivedAt  time.Time
	Count       int
}

// ArchivePath returns the archive database path inside dir.
func ArchivePath(dir string) string { return filepath.Join(dir, ArchiveFileName) }

// OpenArchive creates or opens the archive at <dir>/archive.sqlite, enables WAL mode and
// brings the schema up to date.
func OpenArchive(dir string) (*Archive, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "archive_open").With(slog.String("dir", dir))
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	path := ArchivePath(dir)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureArchiveSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.Debug("archive ready", slog.String("path", path))
	return &Archive{db: db, path: path}, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// Path returns the database file path.
func (a *Archive) Path() string { return a.path }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, archiveSchemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// Keep the stored schema number; runMigrations moves it forward.
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// ensureArchiveSchema creates the current tables and indexes. Databases created by older
// builds get the indexes through runMigrations.
func ensureArchiveSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id               INTEGER PRIMARY KEY,
			name             TEXT NOT NULL,
			root             TEXT,
			image_path       TEXT,
			image_width      REAL NOT NULL DEFAULT 0,
			image_height     REAL NOT NULL DEFAULT 0,
			calibration_ppu  REAL,
			calibration_unit TEXT,
			archived_at      TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS measurements (
			session_id          INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			measurement_id      INTEGER NOT NULL,
			kind                TEXT    NOT NULL,
			x0                  REAL    NOT NULL,
			y0                  REAL    NOT NULL,
			x1                  REAL    NOT NULL,
			y1                  REAL    NOT NULL,
			pixel_distance      REAL,
			pixel_width         REAL,
			pixel_height        REAL,
			pixel_area          REAL,
			calibrated_distance REAL,
			calibrated_width    REAL,
			calibrated_height   REAL,
			calibrated_area     REAL,
			unit                TEXT,
			created_at          TEXT,
			PRIMARY KEY(session_id, measurement_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_kind ON measurements(session_id, kind);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived_at);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure archive schema: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to archiveSchemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	// Never downgrade a database written by a newer build.
	if cur > archiveSchemaVersion {
		return nil
	}
	for cur < archiveSchemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			stmts = []string{
				`CREATE INDEX IF NOT EXISTS idx_measurements_kind ON measurements(session_id, kind);`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived_at);`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion returns the stored schema number.
func (a *Archive) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := a.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// Verify runs SQLite's quick_check.
func (a *Archive) Verify(ctx context.Context) error {
	var chk string
	if err := a.db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(chk), "ok") {
		return fmt.Errorf("archive corrupt: %s", chk)
	}
	return nil
}

// ArchiveReport stores a session and its records in one transaction and returns the new
// session id. root is the session directory, kept for reference only.
func (a *Archive) ArchiveReport(ctx context.Context, root string, r export.Report) (int64, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "archive").With(slog.String("name", r.Name))
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	var ppu sql.NullFloat64
	var unit sql.NullString
	if c := r.Calibration; c != nil {
		ppu = sql.NullFloat64{Float64: c.PixelsPerUnit, Valid: true}
		unit = sql.NullString{String: c.Unit, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(name, root, image_path, image_width, image_height, calibration_ppu, calibration_unit, archived_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Name, root, r.ImagePath, r.Image.W, r.Image.H, ppu, unit, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("insert session: %w", err)
	}
	sid, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("session id: %w", err)
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO measurements(session_id, measurement_id, kind, x0, y0, x1, y1,
		pixel_distance, pixel_width, pixel_height, pixel_area,
		calibrated_distance, calibrated_width, calibrated_height, calibrated_area, unit, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	for _, rec := range r.Records {
		created := ""
		if !rec.CreatedAt.IsZero() {
			created = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := ins.ExecContext(ctx, sid, int64(rec.ID), rec.Kind, rec.X0, rec.Y0, rec.X1, rec.Y1,
			nullF(rec.PixelDistance), nullF(rec.PixelWidth), nullF(rec.PixelHeight), nullF(rec.PixelArea),
			nullF(rec.CalibratedDistance), nullF(rec.CalibratedWidth), nullF(rec.CalibratedHeight), nullF(rec.CalibratedArea),
			nullS(rec.Unit), created); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert measurement %d: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	l.Info("session archived", slog.Int64("session_id", sid), slog.Int("records", len(r.Records)))
	return sid, nil
}

// Sessions lists archived sessions, newest first.
func (a *Archive) Sessions(ctx context.Context) ([]ArchivedSession, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT s.id, s.name, COALESCE(s.root,''), COALESCE(s.image_path,''),
		s.image_width, s.image_height, s.calibration_ppu, s.calibration_unit, s.archived_at,
		(SELECT COUNT(*) FROM measurements m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.archived_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	var out []ArchivedSession
	for rows.Next() {
		var s ArchivedSession
		var ppu sql.NullFloat64
		var unit sql.NullString
		var at string
		if err := rows.Scan(&s.ID, &s.Name, &s.Root, &s.ImagePath, &s.Image.W, &s.Image.H, &ppu, &unit, &at, &s.Count); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ppu.Valid && unit.Valid {
			s.Calibration = &calibration.Calibrated{PixelsPerUnit: ppu.Float64, Unit: unit.String}
		}
		s.ArchivedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Records returns the records of one archived session in measurement id order.
func (a *Archive) Records(ctx context.Context, sessionID int64) ([]export.Record, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT measurement_id, kind, x0, y0, x1, y1,
		pixel_distance, pixel_width, pixel_height, pixel_area,
		calibrated_distance, calibrated_width, calibrated_height, calibrated_area, unit, COALESCE(created_at,'')
		FROM measurements WHERE session_id = ? ORDER BY measurement_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()
	var out []export.Record
	for rows.Next() {
		var rec export.Record
		var id int64
		var pd, pw, ph, pa, cd, cw, ch, ca sql.NullFloat64
		var unit sql.NullString
		var created string
		if err := rows.Scan(&id, &rec.Kind, &rec.X0, &rec.Y0, &rec.X1, &rec.Y1,
			&pd, &pw, &ph, &pa, &cd, &cw, &ch, &ca, &unit, &created); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		rec.ID = uint64(id)
		rec.PixelDistance, rec.PixelWidth, rec.PixelHeight, rec.PixelArea = ptrF(pd), ptrF(pw), ptrF(ph), ptrF(pa)
		rec.CalibratedDistance, rec.CalibratedWidth, rec.CalibratedHeight, rec.CalibratedArea = ptrF(cd), ptrF(cw), ptrF(ch), ptrF(ca)
		if unit.Valid {
			u := unit.String
			rec.Unit = &u
		}
		if created != "" {
			rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes an archived session and its records. It reports whether the
// session existed.
func (a *Archive) DeleteSession(ctx context.Context, sessionID int64) (bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM measurements WHERE session_id = ?`, sessionID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete measurements: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	return n > 0, tx.Commit()
}

func nullF(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullS(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func ptrF(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
