/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	applog "pixelruler/internal/log"
)

const (
	SessionFileName = "session.json"
	BackupsDirName  = "backups"
	ExportsDirName  = "exports"
)

// ErrInvalidSession is returned when a session document is unreadable or fails validation.
var ErrInvalidSession = errors.New("invalid session document")

//go:embed session.schema.json
var sessionSchema []byte

var standardSubDirs = []string{
	ExportsDirName,
	BackupsDirName,
}

// SessionHandle ties a session document to its directory on disk.
// Root contains session.json, backups/ and exports/.
type SessionHandle struct {
	Root string
	Path string
	Doc  Document
}

// InitSession creates a session directory at root (creating it if needed), scaffolds the
// standard subfolders and writes doc transactionally.
func InitSession(root string, doc Document) (*SessionHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := scaffold(root); err != nil {
		return nil, err
	}
	ph := &SessionHandle{Root: root, Path: filepath.Join(root, SessionFileName), Doc: doc}
	if err := Save(ph); err != nil {
		return nil, err
	}
	return ph, nil
}

// Open loads an existing session from root. If session.json cannot be read, parsed or
// validated, the latest backup is tried.
func Open(root string) (*SessionHandle, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(slog.String("root", root))
	path := filepath.Join(root, SessionFileName)
	doc, err := readDocument(path)
	if err != nil {
		bdoc, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("open session: %w; backup attempt: %v", err, berr)
		}
		l.Warn("session unreadable, opened latest backup", slog.Any("err", err))
		return &SessionHandle{Root: root, Path: path, Doc: *bdoc}, nil
	}
	return &SessionHandle{Root: root, Path: path, Doc: *doc}, nil
}

// Save writes ph.Doc to disk with transactional semantics and a timestamped backup of the
// previous file (if present).
func Save(ph *SessionHandle) error {
	if ph == nil {
		return errors.New("nil SessionHandle")
	}
	if ph.Root == "" || ph.Path == "" {
		return errors.New("invalid SessionHandle: missing paths")
	}
	if ph.Doc.Version == 0 {
		ph.Doc.Version = DocumentVersion
	}
	if ph.Doc.Measurements == nil {
		ph.Doc.Measurements = []MeasurementDoc{}
	}
	ph.Doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(ph.Doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	bdir := filepath.Join(ph.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(ph.Path); statErr == nil {
		if cerr := copyFile(ph.Path, backupPath(bdir, SessionFileName)); cerr != nil {
			return fmt.Errorf("backup current session: %w", cerr)
		}
	}

	// Write to a temp file in the same directory, then rename over the target.
	dir := filepath.Dir(ph.Path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", SessionFileName, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp session: %w", werr)
	}
	// Windows cannot rename over an existing file.
	if _, err := os.Stat(ph.Path); err == nil {
		_ = os.Remove(ph.Path)
	}
	if rerr := os.Rename(temp, ph.Path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace session: %w", rerr)
	}
	return nil
}

// SaveAs writes the session into a new root folder and updates the handle.
func SaveAs(ph *SessionHandle, newRoot string) error {
	if ph == nil {
		return errors.New("nil SessionHandle")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	if err := scaffold(newRoot); err != nil {
		return err
	}
	ph.Root = newRoot
	ph.Path = filepath.Join(newRoot, SessionFileName)
	return Save(ph)
}

// AutosaveCrashSnapshot writes the in-memory document into backups/ without touching
// session.json. It returns the written path.
func AutosaveCrashSnapshot(ph *SessionHandle) (string, error) {
	if ph == nil || ph.Root == "" {
		return "", errors.New("invalid SessionHandle")
	}
	data, err := json.MarshalIndent(ph.Doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	bdir := filepath.Join(ph.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	path := filepath.Join(bdir, fmt.Sprintf("%s.%s.crash", SessionFileName, time.Now().Format("20060102-150405")))
	if err := writeFileSync(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("write crash snapshot: %w", err)
	}
	return path, nil
}

// ValidateDocument checks raw session JSON against the embedded schema.
func ValidateDocument(data []byte) error {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(sessionSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidSession, strings.Join(msgs, "; "))
	}
	return nil
}

func readDocument(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(b); err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &d, nil
}

func scaffold(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	return nil
}

// backupPath returns a timestamped backup name that does not exist yet. The counter keeps
// names unique and lexicographically ordered when saves happen within the same second.
func backupPath(bdir, base string) string {
	stamp := time.Now().Format("20060102-150405")
	for i := 0; ; i++ {
		p := filepath.Join(bdir, fmt.Sprintf("%s.%s-%02d.bak", base, stamp, i))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies src to dst, overwriting dst.
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup opens the newest valid backup.
func openFromLatestBackup(root string) (*Document, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, SessionFileName+".") && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	// The timestamp in the name sorts lexicographically.
	sort.Strings(candidates)
	var lastErr error
	for i := len(candidates) - 1; i >= 0; i-- {
		d, err := readDocument(candidates[i])
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no usable backup: %w", lastErr)
}
