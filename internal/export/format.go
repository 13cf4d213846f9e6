/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	applog "pixelruler/internal/log"
)

// Format names an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatSVG  Format = "svg"
	FormatPNG  Format = "png"
)

// DefaultDecimals is the number of decimals written to CSV and printed in reports.
const DefaultDecimals = 2

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatCSV, FormatJSON, FormatPDF, FormatSVG, FormatPNG:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// Options controls number formatting.
type Options struct {
	Decimals int
}

func (o Options) decimals() int {
	if o.Decimals <= 0 {
		return DefaultDecimals
	}
	return o.Decimals
}

// Write encodes r in format f.
func Write(w io.Writer, f Format, r Report, opt Options) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, r, opt)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatPDF:
		return WritePDF(w, r, opt)
	case FormatSVG:
		return WriteSVG(w, r, opt)
	case FormatPNG:
		return WritePNG(w, r, opt)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// WriteFile writes r to path, creating parent directories. A partially written file is
// removed on error.
func WriteFile(path string, f Format, r Report, opt Options) (err error) {
	l := applog.WithOperation(applog.WithComponent("export"), "write_file").With(
		slog.String("path", path), slog.String("format", string(f)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			l.Error("export failed", slog.Any("err", err))
		}
	}()
	bw := bufio.NewWriter(file)
	if err := Write(bw, f, r, opt); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	l.Info("exported", slog.Int("records", len(r.Records)))
	return nil
}
