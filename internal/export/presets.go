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
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetReport  PresetName = "report"
	PresetData    PresetName = "data"
	PresetOverlay PresetName = "overlay"
)

// BatchOptions controls batch export across multiple formats.
//
// Files are written as <OutDir>/<preset>/<name>.<ext>, where name is derived from the
// report name ("measurements" when empty).
type BatchOptions struct {
	Preset   PresetName
	Formats  []string // allowed: csv, json, pdf, svg, png; empty means preset defaults
	OutDir   string
	Decimals int
}

// ParsePreset accepts a preset name case-insensitively.
func ParsePreset(s string) (PresetName, error) {
	p := PresetName(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PresetReport, PresetData, PresetOverlay:
		return p, nil
	}
	return "", fmt.Errorf("unknown preset: %q", s)
}

// BatchExport writes r in every format of the preset and returns the written paths.
func BatchExport(r Report, opt BatchOptions) ([]string, error) {
	if opt.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	base := filepath.Join(opt.OutDir, string(opt.Preset))
	name := fileSlug(r.Name)

	var written []string
	for _, s := range formats {
		f, err := ParseFormat(s)
		if err != nil {
			return written, err
		}
		out := filepath.Join(base, name+f.Ext())
		if err := WriteFile(out, f, r, Options{Decimals: opt.Decimals}); err != nil {
			return written, fmt.Errorf("%s: %w", f, err)
		}
		written = append(written, out)
	}
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetReport:
		return []string{"pdf", "csv"}
	case PresetData:
		return []string{"csv", "json"}
	case PresetOverlay:
		return []string{"svg", "png"}
	default:
		return []string{"csv"}
	}
}

// FileName returns the default file name of r in format f.
func (r Report) FileName(f Format) string { return fileSlug(r.Name) + f.Ext() }

// fileSlug keeps letters, digits, '-' and '_' and maps everything else to '-'.
func fileSlug(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "measurements"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if s := strings.Trim(b.String(), "-"); s != "" {
		return s
	}
	return "measurements"
}
