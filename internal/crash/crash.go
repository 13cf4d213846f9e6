/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic in the CLI into a crash report and an autosave of the open
// session.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "pixelruler/internal/log"
	"pixelruler/internal/storage"
	"pixelruler/internal/telemetry"
	"pixelruler/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// DocumentSource supplies the live, possibly unsaved, session state.
type DocumentSource interface {
	Document(base storage.Document) storage.Document
}

// Recover handles a panic in the calling goroutine and must itself be the deferred call.
// ph points at the open session handle and live returns the unsaved session state; both are
// read only after a panic, so commands may open the session after the defer is registered.
//
// Usage: defer crash.Recover(&ph, func() crash.DocumentSource { ... })
func Recover(ph **storage.SessionHandle, live func() DocumentSource) {
	r := recover()
	if r == nil {
		return
	}
	var h *storage.SessionHandle
	if ph != nil {
		h = *ph
	}
	var src DocumentSource
	if live != nil {
		src = live()
	}
	Handle(r, h, src)
}

// Handle logs the panic value r, writes a crash report, autosaves the session when ph is set
// and exits with code 2. When live is non-nil its state is saved instead of the last saved
// document. Callers that already hold a recovered value use it directly.
func Handle(r any, ph *storage.SessionHandle, live DocumentSource) {
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	if ph != nil && live != nil {
		ph.Doc = captureDocument(l, live, ph.Doc)
	}
	reportPath, err := writeReport(ph, r, stack)
	if err != nil {
		l.Error("crash report not written", slog.String("path", reportPath), slog.Any("err", err))
	}
	if ph != nil {
		if path, err := storage.AutosaveCrashSnapshot(ph); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}
	}

	_, _ = fmt.Fprintf(os.Stderr, "pixelruler crashed. Report: %s\nVersion: %s (%s/%s)\n",
		reportPath, version.String(), runtime.GOOS, runtime.GOARCH)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	telemetry.Shutdown(ctx)
	cancel()
	exitFn(2)
}

// captureDocument reads the live state, keeping base if that panics as well.
func captureDocument(l *slog.Logger, live DocumentSource, base storage.Document) (doc storage.Document) {
	doc = base
	defer func() {
		if r := recover(); r != nil {
			l.Error("live session state unavailable", slog.Any("panic", r))
			doc = base
		}
	}()
	return live.Document(base)
}

func writeReport(ph *storage.SessionHandle, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if ph != nil && ph.Root != "" {
		dir = filepath.Join(ph.Root, storage.BackupsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := time.Now().Format("20060102-150405")
	fname := fmt.Sprintf("crash-%s.log", stamp)
	path := filepath.Join(dir, fname)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "pixelruler Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if ph != nil {
		_, _ = fmt.Fprintf(&buf, "SessionRoot: %s\n", ph.Root)
		_, _ = fmt.Fprintf(&buf, "SessionFile: %s\n", ph.Path)
		_, _ = fmt.Fprintf(&buf, "Measurements: %d\n", len(ph.Doc.Measurements))
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// optionally upload anonymized crash report (opt-in via env)
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
