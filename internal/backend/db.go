/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend publishes measurement sessions to a shared Postgres database and serves
// them read-only over HTTP.
package backend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pixelruler/internal/calibration"
	"pixelruler/internal/export"
	applog "pixelruler/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a published session does not exist.
var ErrNotFound = errors.New("not found")

// Open connects to Postgres, waits for it to answer and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// applyMigrations applies embedded SQL migrations in filename order and records each one.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	l := applog.WithComponent("backend")
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		l.Warn("rows close", slog.Any("err", err))
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		sqlText := string(b)
		if strings.TrimSpace(sqlText) == "" {
			continue
		}
		l.Info("applying migration", slog.String("file", fname))
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2)`, version, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// PublishedSession is a session row as listed by the API.
type PublishedSession struct {
	ID           int64                   `json:"id"`
	Name         string                  `json:"name"`
	ImagePath    string                  `json:"image_path"`
	ImageWidth   float64                 `json:"image_width"`
	ImageHeight  float64                 `json:"image_height"`
	Calibration  *calibration.Calibrated `json:"calibration"`
	Measurements int                     `json:"measurements"`
	PublishedAt  time.Time               `json:"published_at"`
}

// PublishSession stores the report and its records in one transaction and returns the new
// session id.
func PublishSession(ctx context.Context, db *sql.DB, r export.Report) (int64, error) {
	var cal []byte
	if r.Calibration != nil {
		b, err := json.Marshal(r.Calibration)
		if err != nil {
			return 0, err
		}
		cal = b
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	var sid int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO published_sessions(name, image_path, image_width, image_height, calibration)
		 VALUES($1, $2, $3, $4, $5) RETURNING id`,
		r.Name, r.ImagePath, r.Image.W, r.Image.H, nullJSON(cal)).Scan(&sid); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("insert session: %w", err)
	}
	for _, rec := range r.Records {
		b, err := json.Marshal(rec)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO published_measurements(session_id, measurement_id, kind, record) VALUES($1, $2, $3, $4)`,
			sid, int64(rec.ID), rec.Kind, string(b)); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert measurement %d: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	applog.WithOperation(applog.WithComponent("backend"), "publish").Info("session published",
		slog.Int64("session_id", sid), slog.String("name", r.Name), slog.Int("records", len(r.Records)))
	return sid, nil
}

// ListSessions returns published sessions, newest first.
func ListSessions(ctx context.Context, db *sql.DB) ([]PublishedSession, error) {
	rows, err := db.QueryContext(ctx, `SELECT s.id, s.name, s.image_path, s.image_width, s.image_height, s.calibration, s.published_at,
			(SELECT count(*) FROM published_measurements m WHERE m.session_id = s.id)
		FROM published_sessions s ORDER BY s.published_at DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []PublishedSession{}
	for rows.Next() {
		var (
			p   PublishedSession
			cal []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.ImagePath, &p.ImageWidth, &p.ImageHeight, &cal, &p.PublishedAt, &p.Measurements); err != nil {
			return nil, err
		}
		if len(cal) > 0 {
			var c calibration.Calibrated
			if err := json.Unmarshal(cal, &c); err != nil {
				return nil, fmt.Errorf("session %d calibration: %w", p.ID, err)
			}
			p.Calibration = &c
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SessionRecords returns the records of a published session ordered by measurement id.
// kind filters by measurement kind when non-empty.
func SessionRecords(ctx context.Context, db *sql.DB, sessionID int64, kind string) ([]export.Record, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM published_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	rows, err := db.QueryContext(ctx, `SELECT record FROM published_measurements
		WHERE session_id = $1 AND ($2 = '' OR kind = $2) ORDER BY measurement_id`, sessionID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []export.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec export.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
