/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"pixelruler/internal/calibration"
	"pixelruler/internal/export"
	"pixelruler/internal/geom"
	"pixelruler/internal/measure"
)

func openPGForTest(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PXR_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = DefaultDSN
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	return db
}

func TestE2E_PublishAndServe(t *testing.T) {
	db := openPGForTest(t)
	defer func() { _ = db.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cal, err := calibration.Apply(50, 5, "mm")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	now := time.Now().UTC()
	ms := []measure.Measurement{
		{ID: measure.NextID(), Kind: measure.Line{P0: geom.Pt(0, 0), P1: geom.Pt(30, 40)}, Calibration: &cal, CreatedAt: now},
		{ID: measure.NextID(), Kind: measure.Rectangle{Corner0: geom.Pt(10, 10), Corner1: geom.Pt(13, 14)}, CreatedAt: now},
	}
	r := export.NewReport("E2E", "plan.png", geom.Size{W: 100, H: 100}, &cal, ms)
	sid, err := PublishSession(ctx, db, r)
	if err != nil {
		t.Fatalf("PublishSession: %v", err)
	}

	ts := httptest.NewServer(NewServer(db, "k").Handler())
	defer ts.Close()
	c := NewClient(ts.URL, "")
	if _, err := c.RequestToken(ctx, "e2e"); err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	list, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	var found *PublishedSession
	for i := range list {
		if list[i].ID == sid {
			found = &list[i]
		}
	}
	if found == nil || found.Measurements != 2 || found.Calibration == nil || found.Calibration.Unit != "mm" {
		t.Fatalf("published session = %+v", found)
	}
	recs, err := c.SessionMeasurements(ctx, sid)
	if err != nil {
		t.Fatalf("SessionMeasurements: %v", err)
	}
	if len(recs) != 2 || recs[0].Kind != measure.KindLine || *recs[0].CalibratedDistance != 5 || recs[1].Unit != nil {
		t.Fatalf("records = %+v", recs)
	}

	rects, err := SessionRecords(ctx, db, sid, measure.KindRectangle)
	if err != nil || len(rects) != 1 || *rects[0].PixelArea != 12 {
		t.Fatalf("rectangles = %+v, %v", rects, err)
	}
	if _, err := SessionRecords(ctx, db, -1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz = %d", resp.StatusCode)
	}
}
