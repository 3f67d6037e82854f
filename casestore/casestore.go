// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package casestore implements the filesystem side of a case: one
// directory per case under an uploads root, holding timestamp-prefixed
// artifact files plus an optional meta.json document.
package casestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mdhender/limsd/model"
	"github.com/spf13/afero"
)

var (
	ErrCaseNotFound     = errors.New("case not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrUnsafeName       = errors.New("unsafe name")
	// ErrArtifactExists means a file already sits at the generated path.
	// Stamps are strictly increasing per store, so this only happens when
	// something outside the store wrote the file; refuse to overwrite.
	ErrArtifactExists = errors.New("artifact already exists")
)

const metaFilename = "meta.json"

// Store is a filesystem-backed artifact store. Artifacts are immutable
// once written; the only destructive operation is Purge, which removes
// the whole case directory.
type Store struct {
	root string
	fs   afero.Fs

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// New creates a Store rooted at the given uploads directory.
func New(root string) *Store {
	return &Store{
		root: root,
		fs:   afero.NewOsFs(),
		now:  time.Now,
	}
}

// SetFS sets the filesystem for testing.
func (s *Store) SetFS(fs afero.Fs) {
	s.fs = fs
}

// SetClock sets the timestamp source for testing.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// FS returns the filesystem artifacts are stored on.
func (s *Store) FS() afero.Fs {
	return s.fs
}

// TimestampToken formats t as the prefix used for artifact names and
// generated case ids: date, time, and microseconds, in UTC. Lexicographic
// order of tokens equals chronological order.
func TimestampToken(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%06d", t.Format("20060102-150405"), t.Nanosecond()/1000)
}

// stamp returns a strictly increasing timestamp at microsecond
// resolution, so two Puts in the same microsecond get distinct prefixes
// instead of colliding.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Put sanitizes filename, prefixes it with a timestamp token, and writes
// data into the case directory, creating the directory if needed. It
// returns the stored name. Put never overwrites: if a file already sits
// at the generated path, that is an error, not a silent replace.
func (s *Store) Put(caseID, filename string, data []byte) (string, error) {
	if err := checkName(caseID); err != nil {
		return "", err
	}
	name := TimestampToken(s.stamp()) + "-" + SanitizeFilename(filename)

	dir := filepath.Join(s.root, caseID)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	if exists, err := afero.Exists(s.fs, path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	} else if exists {
		return "", fmt.Errorf("%s: %w", name, ErrArtifactExists)
	}
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return name, nil
}

// List returns the artifact names for a case sorted lexicographically,
// which the timestamp prefix makes chronological. The meta.json document
// is not an artifact and is excluded.
func (s *Store) List(caseID string) ([]string, error) {
	if err := checkName(caseID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, caseID)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caseID, ErrCaseNotFound)
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() || fi.Name() == metaFilename {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether the case directory exists.
func (s *Store) Exists(caseID string) bool {
	if checkName(caseID) != nil {
		return false
	}
	ok, _ := afero.DirExists(s.fs, filepath.Join(s.root, caseID))
	return ok
}

// ArtifactPath validates caseID and name and returns the full path of an
// existing artifact. Traversal sequences are rejected before the
// filesystem is touched.
func (s *Store) ArtifactPath(caseID, name string) (string, error) {
	if err := checkName(caseID); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, caseID, name)
	if exists, err := afero.Exists(s.fs, path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	} else if !exists {
		return "", fmt.Errorf("%s/%s: %w", caseID, name, ErrArtifactNotFound)
	}
	return path, nil
}

// Open returns a reader over one artifact.
func (s *Store) Open(caseID, name string) (afero.File, error) {
	path, err := s.ArtifactPath(caseID, name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", caseID, name, ErrArtifactNotFound)
	}
	return f, nil
}

// Read returns the bytes of one artifact.
func (s *Store) Read(caseID, name string) ([]byte, error) {
	path, err := s.ArtifactPath(caseID, name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Purge removes the case directory and everything in it. A reader racing
// a purge sees either the old data or NotFound.
func (s *Store) Purge(caseID string) error {
	if err := checkName(caseID); err != nil {
		return err
	}
	dir := filepath.Join(s.root, caseID)
	if exists, err := afero.DirExists(s.fs, dir); err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	} else if !exists {
		return fmt.Errorf("%s: %w", caseID, ErrCaseNotFound)
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge %s: %w", dir, err)
	}
	return nil
}

// ReadMeta returns the case's meta document, or the default document if
// none has been written yet.
func (s *Store) ReadMeta(caseID string) (model.Meta, error) {
	if err := checkName(caseID); err != nil {
		return model.Meta{}, err
	}
	if !s.Exists(caseID) {
		return model.Meta{}, fmt.Errorf("%s: %w", caseID, ErrCaseNotFound)
	}
	path := filepath.Join(s.root, caseID, metaFilename)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return model.DefaultMeta(), nil
	}
	var m model.Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return model.Meta{}, fmt.Errorf("meta %s: %w", caseID, err)
	}
	return m, nil
}

// WriteMeta replaces the case's meta document.
func (s *Store) WriteMeta(caseID string, m model.Meta) error {
	if err := checkName(caseID); err != nil {
		return err
	}
	if !s.Exists(caseID) {
		return fmt.Errorf("%s: %w", caseID, ErrCaseNotFound)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("meta %s: %w", caseID, err)
	}
	path := filepath.Join(s.root, caseID, metaFilename)
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// checkName rejects empty names and anything that could escape the case
// directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, ErrUnsafeName)
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("%q: %w", name, ErrUnsafeName)
	}
	return nil
}

// SanitizeFilename reduces a client-supplied filename to a safe form:
// path components are dropped, spaces become underscores, and anything
// outside [A-Za-z0-9._-] is removed.
func SanitizeFilename(name string) string {
	// Drop any directory components, whichever separator the client used.
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}
	safe := strings.Trim(b.String(), "._-")
	// Collapse dot runs so the stored name can never contain "..".
	for strings.Contains(safe, "..") {
		safe = strings.ReplaceAll(safe, "..", ".")
	}
	if safe == "" {
		safe = "file"
	}
	return safe
}
