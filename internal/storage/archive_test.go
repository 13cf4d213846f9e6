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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/export"
	"pixelruler/internal/geom"
	"pixelruler/internal/measure"

	_ "modernc.org/sqlite"
)

func sampleArchiveReport() export.Report {
	c := &calibration.Calibrated{PixelsPerUnit: 10, Unit: "mm"}
	ms := []measure.Measurement{
		{ID: 2, Kind: measure.Line{P0: geom.Pt(0, 0), P1: geom.Pt(30, 40)}, Calibration: c, CreatedAt: time.Now().UTC()},
		{ID: 1, Kind: measure.Rectangle{Corner0: geom.Pt(10, 10), Corner1: geom.Pt(13, 14)}},
	}
	return export.NewReport("Archive Test", "plan.png", geom.Size{W: 640, H: 480}, c, ms)
}

func TestOpenArchiveCreatesWALAndMetaVersion(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenArchive(dir)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()
	if _, err := os.Stat(ArchivePath(dir)); err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var mode string
	if err := a.db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" && mode != "WAL" {
		t.Fatalf("expected WAL mode, got %s", mode)
	}
	var cnt int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('meta','version','sessions','measurements')").Scan(&cnt); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if cnt != 4 {
		t.Fatalf("expected 4 tables, got %d", cnt)
	}
	if v, err := a.SchemaVersion(ctx); err != nil || v != archiveSchemaVersion {
		t.Fatalf("schema version = %d, %v", v, err)
	}
	if err := a.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestArchiveReport_ListAndRecords(t *testing.T) {
	a, err := OpenArchive(t.TempDir())
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	sid, err := a.ArchiveReport(ctx, "/tmp/session", sampleArchiveReport())
	if err != nil {
		t.Fatalf("ArchiveReport: %v", err)
	}
	sessions, err := a.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	s := sessions[0]
	if s.ID != sid || s.Name != "Archive Test" || s.Count != 2 || s.Image.W != 640 {
		t.Fatalf("session row: %+v", s)
	}
	if s.Calibration == nil || s.Calibration.Unit != "mm" || s.Calibration.PixelsPerUnit != 10 {
		t.Fatalf("session calibration: %+v", s.Calibration)
	}

	recs, err := a.Records(ctx, sid)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 1 || recs[1].ID != 2 {
		t.Fatalf("records not ordered by id: %+v", recs)
	}
	rect, line := recs[0], recs[1]
	if rect.Kind != measure.KindRectangle || *rect.PixelArea != 12 || rect.Unit != nil || rect.CalibratedArea != nil {
		t.Fatalf("rectangle record: %+v", rect)
	}
	if line.Kind != measure.KindLine || *line.PixelDistance != 50 || *line.CalibratedDistance != 5 || *line.Unit != "mm" {
		t.Fatalf("line record: %+v", line)
	}
	if line.PixelWidth != nil {
		t.Fatalf("line record has width")
	}
}

func TestArchive_DeleteSession(t *testing.T) {
	a, err := OpenArchive(t.TempDir())
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()
	ctx := context.Background()
	sid, err := a.ArchiveReport(ctx, "", sampleArchiveReport())
	if err != nil {
		t.Fatalf("ArchiveReport: %v", err)
	}
	ok, err := a.DeleteSession(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("DeleteSession: %v %v", ok, err)
	}
	if ok, _ := a.DeleteSession(ctx, sid); ok {
		t.Fatalf("second delete reported a removal")
	}
	recs, err := a.Records(ctx, sid)
	if err != nil || len(recs) != 0 {
		t.Fatalf("records left after delete: %v %v", recs, err)
	}
}

// TestMigrations_UpgradeV1ToV2 ensures that an older archive (schema=1) is migrated and
// gets the lookup indexes.
func TestMigrations_UpgradeV1ToV2(t *testing.T) {
	dir := t.TempDir()
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(ArchivePath(dir)))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version(id, schema, app, created_at, updated_at) VALUES(1, 1, 'test', '2020-01-01T00:00:00Z', '2020-01-01T00:00:00Z');`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed v1 schema: %v (q=%s)", err, q)
		}
	}
	db.Close()

	a, err := OpenArchive(dir)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()
	if v, err := a.SchemaVersion(ctx); err != nil || v != 2 {
		t.Fatalf("expected schema 2 after migration, got %d (%v)", v, err)
	}
	var cnt int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name IN ('idx_measurements_kind','idx_sessions_archived')`).Scan(&cnt); err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	if cnt != 2 {
		t.Fatalf("expected 2 indexes, got %d", cnt)
	}
}
