/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"pixelruler/internal/snap"
	"pixelruler/internal/view"
)

func isolate(t *testing.T) string {
	t.Helper()
	keyring.MockInit()
	p := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigPath, p)
	for _, name := range envKeys {
		t.Setenv(name, "")
	}
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestEnvOverridesBackendURL(t *testing.T) {
	isolate(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
}

func TestEnvOverridesTelemetry(t *testing.T) {
	isolate(t)
	t.Setenv(EnvTelemetryOptIn, "true")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "C:/tmp/pxr.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "C:/tmp/pxr.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "X:/pxr.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "X:/pxr.log" {
		t.Fatalf("logging env overrides not applied: %#v", cfg.Logging)
	}
	if name, ok := EnvOverrideFor("logging.level"); !ok || name != EnvLogLevel {
		t.Fatalf("EnvOverrideFor(logging.level) = %q, %v", name, ok)
	}
	if _, ok := EnvOverrideFor("view.min_zoom"); ok {
		t.Fatalf("view.min_zoom reported overridden")
	}
	if _, ok := EnvOverrideFor("no.such.key"); ok {
		t.Fatalf("unknown key reported overridden")
	}
}

func TestSaveLoadRoundTripWithToken(t *testing.T) {
	p := isolate(t)
	cfg := Defaults()
	cfg.View.MaxZoom = 8
	cfg.Snap.LengthEnabled = false
	cfg.Snap.AngleToleranceDeg = 5
	cfg.Export.Decimals = 3
	if err := Save(cfg, "tok-123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok != "tok-123" {
		t.Fatalf("token = %q", tok)
	}
	if got.View.MaxZoom != 8 || got.Snap.LengthEnabled || got.Snap.AngleToleranceDeg != 5 || got.Export.Decimals != 3 {
		t.Fatalf("round trip mismatch: %#v", got)
	}
	if err := ForgetToken(); err != nil {
		t.Fatalf("ForgetToken: %v", err)
	}
	if err := ForgetToken(); err != nil {
		t.Fatalf("ForgetToken twice: %v", err)
	}
	if _, tok, _ := Load(); tok != "" {
		t.Fatalf("token survived ForgetToken: %q", tok)
	}
}

func TestSaveTokenLeavesConfigFileAlone(t *testing.T) {
	p := isolate(t)
	if err := SaveToken("  "); err == nil {
		t.Fatalf("blank token accepted")
	}
	if err := SaveToken("tok-9"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("SaveToken wrote the config file: %v", err)
	}
	if _, tok, err := Load(); err != nil || tok != "tok-9" {
		t.Fatalf("Load = %q, %v", tok, err)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg := Defaults()
	cfg.View.MinZoom = 6
	if err := cfg.Validate(); !errors.Is(err, view.ErrInvalidZoomRange) {
		t.Fatalf("min>max: want ErrInvalidZoomRange, got %v", err)
	}
	cfg = Defaults()
	cfg.View.MinZoom = 0
	if err := cfg.Validate(); !errors.Is(err, view.ErrInvalidZoomRange) {
		t.Fatalf("zero min: want ErrInvalidZoomRange, got %v", err)
	}
	cfg = Defaults()
	cfg.Snap.LengthUnit = -1
	if err := cfg.Validate(); !errors.Is(err, snap.ErrInvalidSnapUnit) {
		t.Fatalf("negative unit: want ErrInvalidSnapUnit, got %v", err)
	}
	cfg = Defaults()
	cfg.Export.Decimals = 42
	if err := cfg.Validate(); err == nil {
		t.Fatalf("decimals 42 accepted")
	}
}

func TestLoadReportsInvalidEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv(EnvSnapUnit, "0")
	if _, _, err := Load(); !errors.Is(err, snap.ErrInvalidSnapUnit) {
		t.Fatalf("want ErrInvalidSnapUnit, got %v", err)
	}
}

func TestLoadIgnoresMalformedFile(t *testing.T) {
	p := isolate(t)
	if err := os.WriteFile(p, []byte("view: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.View != Defaults().View {
		t.Fatalf("malformed file changed config: %#v", cfg.View)
	}
}

func TestBackendTimeout(t *testing.T) {
	if d := (BackendConfig{}).Timeout(); d.Milliseconds() != 15000 {
		t.Fatalf("default timeout = %v", d)
	}
	if d := (BackendConfig{TimeoutMs: 250}).Timeout(); d.Milliseconds() != 250 {
		t.Fatalf("timeout = %v", d)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	p := isolate(t)
	if err := os.WriteFile(p, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Snap.LengthEnabled || cfg.Snap.LengthUnit != 1 {
		t.Fatalf("cfg = %#v", cfg)
	}
}
