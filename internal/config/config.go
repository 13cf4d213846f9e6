/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config loads the per-user pixelruler configuration: a YAML file merged over
// defaults, then environment overrides. The backend token lives in the OS keyring.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	applog "pixelruler/internal/log"
	"pixelruler/internal/snap"
	"pixelruler/internal/view"
)

// ViewConfig bounds zooming.
type ViewConfig struct {
	MinZoom  float64 `yaml:"min_zoom"`
	MaxZoom  float64 `yaml:"max_zoom"`
	ZoomStep float64 `yaml:"zoom_step"`
}

// SnapConfig is the persistent part of snapping. Angle snapping is a per-event modifier
// and has no config entry.
type SnapConfig struct {
	LengthEnabled     bool    `yaml:"length_enabled"`
	LengthUnit        float64 `yaml:"length_unit"`
	AngleToleranceDeg float64 `yaml:"angle_tolerance_deg"`
}

type ExportConfig struct {
	Decimals      int    `yaml:"decimals"`
	DefaultFormat string `yaml:"default_format"`
	OutDir        string `yaml:"out_dir"`
}

type BackendConfig struct {
	// DSN is the Postgres connection string used by publish and serve.
	DSN       string `yaml:"dsn"`
	Addr      string `yaml:"addr"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides at runtime.
// Bump ConfigVersion when the structure changes incompatibly.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	View          ViewConfig    `yaml:"view"`
	Snap          SnapConfig    `yaml:"snap"`
	Export        ExportConfig  `yaml:"export"`
	Backend       BackendConfig `yaml:"backend"`
	General       GeneralConfig `yaml:"general"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		View:          ViewConfig{MinZoom: view.DefaultMinZoom, MaxZoom: view.DefaultMaxZoom, ZoomStep: view.DefaultZoomStep},
		Snap:          SnapConfig{LengthEnabled: true, LengthUnit: snap.DefaultLengthUnit},
		Export:        ExportConfig{Decimals: 2, DefaultFormat: "csv"},
		Backend:       BackendConfig{Addr: ":8080", BaseURL: "http://localhost:8080", TimeoutMs: 15000},
		General:       GeneralConfig{TelemetryOptIn: false},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Validate rejects settings the engine cannot run with.
func (c AppConfig) Validate() error {
	if _, err := c.Transform(); err != nil {
		return err
	}
	if err := c.SnapConfig().Validate(); err != nil {
		return err
	}
	if c.Export.Decimals < 0 || c.Export.Decimals > 10 {
		return fmt.Errorf("export.decimals must be within 0..10, got %d", c.Export.Decimals)
	}
	return nil
}

// Transform returns the configured zoom bounds.
func (c AppConfig) Transform() (view.Transform, error) {
	return view.NewTransform(c.View.MinZoom, c.View.MaxZoom, c.View.ZoomStep)
}

// SnapConfig returns the snapping configuration for a new session.
func (c AppConfig) SnapConfig() snap.Config {
	return snap.Config{
		LengthEnabled:     c.Snap.LengthEnabled,
		LengthUnit:        c.Snap.LengthUnit,
		AngleToleranceDeg: c.Snap.AngleToleranceDeg,
	}
}

// Timeout returns the backend timeout, falling back to the default for non-positive values.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// Env var names used as overrides.
const (
	EnvConfigPath       = "PXR_CONFIG"
	EnvMinZoom          = "PXR_MIN_ZOOM"
	EnvMaxZoom          = "PXR_MAX_ZOOM"
	EnvSnapLength       = "PXR_SNAP_LENGTH"
	EnvSnapUnit         = "PXR_SNAP_UNIT"
	EnvExportDecimals   = "PXR_EXPORT_DECIMALS"
	EnvBackendDSN       = "PXR_PG_DSN"
	EnvBackendAddr      = "PXR_BACKEND_ADDR"
	EnvBackendURL       = "PXR_BACKEND_URL"
	EnvBackendTimeoutMs = "PXR_BACKEND_TIMEOUT_MS"
	EnvTelemetryOptIn   = "PXR_TELEMETRY_OPT_IN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "PXR_LOG_LEVEL"
	EnvLogFormat = "PXR_LOG_FORMAT"
	EnvLogSource = "PXR_LOG_SOURCE"
	EnvLogFile   = "PXR_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "PixelRuler"
	keyringToken   = "backend_token"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path. PXR_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "PixelRuler")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "PixelRuler")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "pixelruler")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// The backend token comes from the keyring and is returned separately.
// A malformed file is reported and ignored; an invalid result is returned with an error.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		// Prefilled so booleans missing from the file keep their defaults.
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			applog.WithComponent("config").Warn("ignoring malformed config file", "path", path, "err", err)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	if err := cfg.Validate(); err != nil {
		return cfg, tok, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, tok, nil
}

// Save validates and writes the user config YAML and persists the token into the OS
// keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		return SaveToken(token)
	}
	return nil
}

// SaveToken stores the backend token in the OS keyring.
func SaveToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty backend token")
	}
	return tokenStore.Set(keyringService, keyringToken, token)
}

// ForgetToken removes the backend token from the keyring.
func ForgetToken() error {
	err := tokenStore.Delete(keyringService, keyringToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if src.View.MinZoom != 0 {
		dst.View.MinZoom = src.View.MinZoom
	}
	if src.View.MaxZoom != 0 {
		dst.View.MaxZoom = src.View.MaxZoom
	}
	if src.View.ZoomStep != 0 {
		dst.View.ZoomStep = src.View.ZoomStep
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.Snap.LengthEnabled = src.Snap.LengthEnabled
	if src.Snap.LengthUnit != 0 {
		dst.Snap.LengthUnit = src.Snap.LengthUnit
	}
	dst.Snap.AngleToleranceDeg = src.Snap.AngleToleranceDeg
	if src.Export.Decimals != 0 {
		dst.Export.Decimals = src.Export.Decimals
	}
	if s := strings.TrimSpace(src.Export.DefaultFormat); s != "" {
		dst.Export.DefaultFormat = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Export.OutDir); s != "" {
		dst.Export.OutDir = s
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if src.Backend.DSN != "" {
		dst.Backend.DSN = src.Backend.DSN
	}
	if src.Backend.Addr != "" {
		dst.Backend.Addr = src.Backend.Addr
	}
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func envFloat(name string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(name string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	envFloat(EnvMinZoom, &cfg.View.MinZoom)
	envFloat(EnvMaxZoom, &cfg.View.MaxZoom)
	if v := strings.TrimSpace(os.Getenv(EnvSnapLength)); v != "" {
		cfg.Snap.LengthEnabled = parseBool(v)
	}
	envFloat(EnvSnapUnit, &cfg.Snap.LengthUnit)
	envInt(EnvExportDecimals, &cfg.Export.Decimals)
	if v := strings.TrimSpace(os.Getenv(EnvBackendDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendAddr)); v != "" {
		cfg.Backend.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	envInt(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"view.min_zoom":            EnvMinZoom,
	"view.max_zoom":            EnvMaxZoom,
	"snap.length_enabled":      EnvSnapLength,
	"snap.length_unit":         EnvSnapUnit,
	"export.decimals":          EnvExportDecimals,
	"backend.dsn":              EnvBackendDSN,
	"backend.addr":             EnvBackendAddr,
	"backend.base_url":         EnvBackendURL,
	"backend.timeout_ms":       EnvBackendTimeoutMs,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// LogOptions maps the logging section onto logger options.
func (c AppConfig) LogOptions() applog.Options {
	return applog.Options{Level: c.Logging.Level, Format: c.Logging.Format, AddSource: c.Logging.Source, File: c.Logging.File}
}
