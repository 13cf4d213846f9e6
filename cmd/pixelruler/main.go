/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"pixelruler/internal/config"
	"pixelruler/internal/crash"
	applog "pixelruler/internal/log"
	"pixelruler/internal/session"
	"pixelruler/internal/storage"
	"pixelruler/internal/telemetry"
)

func main() {
	cfg, token, cfgErr := config.Load()
	applog.Init(cfg.LogOptions())
	telemetry.NewDefault(telemetry.FromEnv().WithOptIn(cfg.General.TelemetryOptIn))
	l := applog.WithComponent("cli")

	// Set by commands that work on a session so a panic can autosave it.
	var (
		ph   *storage.SessionHandle
		sess *session.Session
	)
	defer crash.Recover(&ph, func() crash.DocumentSource {
		if sess == nil {
			return nil
		}
		return sess
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l.Debug("start", slog.Int("args", len(os.Args)))
	c := &cli{cfg: cfg, token: token, log: l, ph: &ph, sess: &sess}
	root := newRootCmd(c, cfgErr)
	cmd, err := root.ExecuteContextC(ctx)
	flushTelemetry()
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, cmd.UsageString())
		stop()
		os.Exit(2)
	case err != nil:
		l.Error(cmd.Name()+" failed", slog.Any("err", err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func flushTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	telemetry.Shutdown(ctx)
}
