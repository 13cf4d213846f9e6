/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log provides centralized slog-based logging for pixelruler.

// Package telemetry sends opt-in, anonymous usage events (measurements committed,
// calibrations applied, exports written) and crash reports. Events carry kinds, formats and
// bucketed counts only; coordinates, paths, names and unit labels never leave the machine.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "pixelruler/internal/log"
	"pixelruler/internal/version"
)

// Config holds runtime configuration for telemetry and crash uploads. Nothing is sent unless
// OptIn is set and the matching URL is configured.
//
// FromEnv reads:
//   - PXR_TELEMETRY_OPT_IN: 1, true, yes or on
//   - PXR_TELEMETRY_URL: endpoint receiving JSON events
//   - PXR_CRASH_UPLOAD_URL: endpoint receiving plain-text crash reports
//   - PXR_TELEMETRY_TIMEOUT_MS: request timeout, default 1500
//   - PXR_TELEMETRY_DEBUG: log send attempts at debug level
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

const defaultTimeout = 1500 * time.Millisecond

// FromEnv reads the configuration from PXR_TELEMETRY_* variables.
func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("PXR_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("PXR_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("PXR_CRASH_UPLOAD_URL")),
		Timeout:      defaultTimeout,
		DebugLogging: os.Getenv("PXR_TELEMETRY_DEBUG") != "",
	}
	if ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv("PXR_TELEMETRY_TIMEOUT_MS"))); err == nil && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// WithOptIn enables telemetry when the user config opts in. The environment can enable it
// as well; neither source can disable what the other enabled.
func (c Config) WithOptIn(optIn bool) Config {
	c.OptIn = c.OptIn || optIn
	return c
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Payload is the JSON body of one event.
type Payload struct {
	Name    string         `json:"name"`
	Time    time.Time      `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// allowedProps lists the property keys that may leave the machine.
var allowedProps = map[string]struct{}{
	"kind":       {},
	"calibrated": {},
	"count":      {},
	"format":     {},
	"preset":     {},
	"command":    {},
}

// sanitize keeps allowed keys with scalar values.
func sanitize(props map[string]any) map[string]any {
	var out map[string]any
	for k, v := range props {
		if _, ok := allowedProps[k]; !ok {
			continue
		}
		switch v.(type) {
		case string, bool, int:
		default:
			continue
		}
		if out == nil {
			out = make(map[string]any, len(props))
		}
		out[k] = v
	}
	return out
}

// Client queues events and sends them from one goroutine. Events are dropped when the queue
// is full or a request fails.
type Client struct {
	cfg     Config
	log     *slog.Logger
	http    *http.Client
	q       chan Payload
	pending atomic.Int64
	dropped atomic.Int64
	stop    sync.Once
	done    chan struct{}
}

const queueSize = 64

// New starts a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:  cfg,
		log:  applog.WithComponent("telemetry"),
		http: &http.Client{Timeout: cfg.Timeout},
		q:    make(chan Payload, queueSize),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether events are sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Dropped reports how many events were discarded because the queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Event queues name with the allowed subset of props. It never blocks.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	p := Payload{
		Name:    name,
		Time:    time.Now().UTC(),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   sanitize(props),
	}
	c.pending.Add(1)
	select {
	case c.q <- p:
	default:
		c.pending.Add(-1)
		c.dropped.Add(1)
	}
}

// Flush waits until queued events and crash uploads are sent, the client is closed or ctx
// is done.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-tick.C:
		}
	}
}

// Close stops the sender. Queued events that were not sent yet are discarded.
func (c *Client) Close() {
	if c != nil {
		c.stop.Do(func() { close(c.done) })
	}
}

func (c *Client) loop() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.q:
			body, err := json.Marshal(p)
			if err == nil {
				c.post(c.cfg.EventsURL, "application/json", body, p.Name)
			}
			c.pending.Add(-1)
		}
	}
}

func (c *Client) post(url, contentType string, body []byte, what string) {
	resp, err := c.http.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.String("event", what), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry sent", slog.String("event", what), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts a crash report in the background when opted in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	body := append([]byte(nil), report...)
	c.pending.Add(1)
	go func() {
		defer c.pending.Add(-1)
		c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", body, "crash")
	}()
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the process client, built from the environment on first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// NewDefault installs a client for cfg as the process client, closing the previous one.
func NewDefault(cfg Config) *Client {
	c := New(cfg)
	defaultMu.Lock()
	old := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	old.Close()
	return c
}

// Shutdown flushes the process client, if one was created, and stops it. A later event
// starts a fresh client from the environment.
func Shutdown(ctx context.Context) {
	defaultMu.Lock()
	c := defaultClient
	defaultClient = nil
	defaultMu.Unlock()
	c.Flush(ctx)
	c.Close()
}

// Enabled reports whether the process client sends events.
func Enabled() bool { return Default().Enabled() }

// Event queues an event on the process client.
func Event(name string, props map[string]any) { Default().Event(name, props) }

// UploadCrash uploads report through the process client.
func UploadCrash(report []byte) { Default().UploadCrash(report) }

// MeasurementCommitted records that a measurement of kind was committed.
func MeasurementCommitted(kind string, calibrated bool) {
	Event("measurement_committed", map[string]any{"kind": kind, "calibrated": calibrated})
}

// CalibrationApplied records a successful calibration.
func CalibrationApplied() { Event("calibration_applied", nil) }

// Exported records an export in format. The record count is sent as a bucket.
func Exported(format string, count int) {
	Event("exported", map[string]any{"format": format, "count": CountBucket(count)})
}

// CountBucket coarsens n to 0, 1, 2-9, 10-99, 100-999 or 1000+.
func CountBucket(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n == 1:
		return "1"
	case n < 10:
		return "2-9"
	case n < 100:
		return "10-99"
	case n < 1000:
		return "100-999"
	}
	return "1000+"
}
