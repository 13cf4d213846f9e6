/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log provides centralized slog-based logging for pixelruler.

// Package log configures the process logger. Console output is one line per record with the
// component up front; the optional file sink writes JSON and is rotated by size. Records logged
// with a context from ContextWithSession carry the session file, and coordinates logged with
// Point render as (x,y) on the console.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"pixelruler/internal/geom"
	"pixelruler/internal/version"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Output formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options controls logger initialization. FromEnv fills it from PXR_LOG_LEVEL,
// PXR_LOG_FORMAT, PXR_LOG_SOURCE and PXR_LOG_FILE.
type Options struct {
	Level     string
	Format    string
	AddSource bool
	// File enables a rotated JSON log next to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Console defaults to os.Stderr.
	Console io.Writer
}

var (
	mu     sync.RWMutex
	logger *slog.Logger
	level  = new(slog.LevelVar)
	sink   io.Closer
)

// L returns the process logger, initializing it from the environment on first use.
func L() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(FromEnv())
}

// Init replaces the process logger and slog's default. A previously opened log file is closed.
func Init(opts Options) *slog.Logger {
	level.Set(ParseLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: level, AddSource: opts.AddSource}

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), FormatJSON) {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = &consoleHandler{w: out, mu: new(sync.Mutex), opts: hopts}
	}

	var file *lj.Logger
	if path := strings.TrimSpace(opts.File); path != "" {
		file = &lj.Logger{
			Filename:   path,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     28,
			Compress:   true,
		}
		h = fanout{h, slog.NewJSONHandler(file, hopts)}
	}

	l := slog.New(contextHandler{next: h}).With(
		slog.String("app", "pixelruler"),
		slog.String("ver", version.String()),
	)

	mu.Lock()
	if sink != nil {
		_ = sink.Close()
		sink = nil
	}
	if file != nil {
		sink = file
	}
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// FromEnv builds Options from PXR_LOG_* variables.
func FromEnv() Options {
	o := Options{Level: "info", Format: FormatConsole, File: os.Getenv("PXR_LOG_FILE")}
	if v := os.Getenv("PXR_LOG_LEVEL"); v != "" {
		o.Level = v
	}
	if v := os.Getenv("PXR_LOG_FORMAT"); v != "" {
		o.Format = v
	}
	o.AddSource, _ = strconv.ParseBool(os.Getenv("PXR_LOG_SOURCE"))
	return o
}

// SetLevel changes the level of the running logger without rebuilding it.
func SetLevel(s string) { level.Set(ParseLevel(s)) }

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithComponent returns a logger tagged with the package or subsystem name.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation tags l with the operation being performed.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// Point is an attribute for an image or screen coordinate.
func Point(key string, p geom.Point) slog.Attr {
	return slog.Group(key, slog.Float64("x", p.X), slog.Float64("y", p.Y))
}

type sessionKey struct{}

// ContextWithSession marks ctx with the session file so records logged through it
// (InfoContext and friends) carry a "session" attribute.
func ContextWithSession(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, sessionKey{}, path)
}

// SessionFromContext returns the path stored by ContextWithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	path, ok := ctx.Value(sessionKey{}).(string)
	return path, ok && path != ""
}

// contextHandler copies request-scoped values from the context onto the record.
type contextHandler struct{ next slog.Handler }

func (h contextHandler) Enabled(ctx context.Context, l slog.Level) bool { return h.next.Enabled(ctx, l) }

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if path, ok := SessionFromContext(ctx); ok {
		r.AddAttrs(slog.String("session", path))
	}
	return h.next.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return contextHandler{next: h.next.WithAttrs(as)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{next: h.next.WithGroup(name)}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(as []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(as)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// consoleHandler writes "15:04:05.000 INF [component] message key=value ...".
// The app and ver attributes are dropped; they belong in the file log.
type consoleHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	opts      *slog.HandlerOptions
	component string
	attrs     []string
	prefix    string
}

func (h *consoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.Level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	component := h.component
	var fields []string
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == "component" {
			component = a.Value.String()
			return true
		}
		fields = appendAttr(fields, h.prefix, a)
		return true
	})
	if component != "" {
		b.WriteString(" [")
		b.WriteString(component)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, f := range h.attrs {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	if h.opts.AddSource && r.PC != 0 {
		src, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		b.WriteString(" src=")
		b.WriteString(src.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(src.Line))
	}
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(as []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append([]string(nil), h.attrs...)
	for _, a := range as {
		switch {
		case h.prefix == "" && a.Key == "component":
			n.component = a.Value.String()
		case h.prefix == "" && (a.Key == "app" || a.Key == "ver"):
		default:
			n.attrs = appendAttr(n.attrs, h.prefix, a)
		}
	}
	return &n
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	n.prefix = h.prefix + name + "."
	return &n
}

func appendAttr(dst []string, prefix string, a slog.Attr) []string {
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		if a.Key == "" {
			return dst
		}
		return append(dst, prefix+a.Key+"="+formatValue(v))
	}
	group := v.Group()
	if p, ok := asPoint(group); ok {
		return append(dst, prefix+a.Key+"="+p)
	}
	if a.Key != "" {
		prefix += a.Key + "."
	}
	for _, ga := range group {
		dst = appendAttr(dst, prefix, ga)
	}
	return dst
}

// asPoint renders a group made by Point as (x,y).
func asPoint(as []slog.Attr) (string, bool) {
	if len(as) != 2 || as[0].Key != "x" || as[1].Key != "y" ||
		as[0].Value.Kind() != slog.KindFloat64 || as[1].Value.Kind() != slog.KindFloat64 {
		return "", false
	}
	return "(" + formatValue(as[0].Value) + "," + formatValue(as[1].Value) + ")", true
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
	}
	return v.String()
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	}
	return "ERR"
}
