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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthAndVersion(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil, "s3cret").Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.HasPrefix(string(b), "pixelruler ") {
		t.Fatalf("version body = %q", b)
	}

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db = %d, want 503", resp.StatusCode)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := signToken("k", "alice", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := verifyToken("k", tok)
	if err != nil || sub != "alice" {
		t.Fatalf("verify = %q, %v", sub, err)
	}
	if _, err := verifyToken("other", tok); err == nil {
		t.Fatalf("token verified with wrong secret")
	}
	expired, _ := signToken("k", "alice", time.Now().Add(-time.Minute))
	if _, err := verifyToken("k", expired); err == nil {
		t.Fatalf("expired token accepted")
	}
	if _, err := verifyToken("k", "garbage"); err == nil {
		t.Fatalf("malformed token accepted")
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	ts := httptest.NewServer(NewServer(nil, "s3cret").Handler())
	defer ts.Close()

	for _, path := range []string{"/api/sessions", "/api/sessions/1/measurements"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer not.valid")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bad token: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", resp.StatusCode)
	}
}

func TestSessionMeasurementsRejectsBadPaths(t *testing.T) {
	s := NewServer(nil, "s3cret")
	tok, _ := signToken("s3cret", "t", time.Now().Add(time.Minute))
	cases := []struct {
		path string
		want int
	}{
		{"/api/sessions/abc/measurements", http.StatusBadRequest},
		{"/api/sessions/1/other", http.StatusNotFound},
		{"/api/sessions/1/measurements?kind=circle", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestIssueTokenEndpoint(t *testing.T) {
	s := NewServer(nil, "s3cret")
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(`{"subject":"bob","ttl_seconds":60}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub, err := verifyToken("s3cret", out.Token); err != nil || sub != "bob" {
		t.Fatalf("issued token = %q, %v", sub, err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("0002_indexes.sql"); err != nil || v != 2 {
		t.Fatalf("parseVersion = %d, %v", v, err)
	}
	if _, err := parseVersion("indexes.sql"); err == nil {
		t.Fatalf("expected error for missing version prefix")
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("PXR_PG_DSN", "postgres://x/y")
	t.Setenv("PXR_BACKEND_ADDR", "127.0.0.1:9999")
	cfg := LoadConfig()
	if cfg.DBURL != "postgres://x/y" || cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("cfg = %+v", cfg)
	}
	t.Setenv("PXR_PG_DSN", "")
	t.Setenv("PXR_BACKEND_ADDR", "")
	if cfg := LoadConfig(); cfg.DBURL != DefaultDSN || cfg.Addr != ":8080" {
		t.Fatalf("defaults = %+v", cfg)
	}
}
