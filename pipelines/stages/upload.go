// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package stages implements the pipeline services that sit between the
// HTTP handlers and the stores: upload intake and processor execution.
package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdhender/limsd/casestore"
)

// DefaultHold is the minimum time an upload holds the intake lock.
const DefaultHold = time.Second

// DefaultAllowedExtensions is the upload extension allow-list.
var DefaultAllowedExtensions = []string{".jpg", ".jpeg", ".txt"}

// CaseRegistry defines the registry operations needed by UploadService.
type CaseRegistry interface {
	RegisterCase(ctx context.Context, caseID, description string) (bool, error)
}

// UploadService coordinates uploads into the case store and registry.
// Uploads are serialized process-wide: one at a time, each holding the
// intake lock for at least the configured hold time. The serialization
// keeps generated case ids and artifact timestamps strictly ordered.
type UploadService struct {
	files    *casestore.Store
	registry CaseRegistry
	allowed  map[string]bool

	mu        sync.Mutex
	hold      time.Duration
	lastStamp time.Time
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewUploadService creates an UploadService with the default extension
// allow-list and hold time.
func NewUploadService(files *casestore.Store, registry CaseRegistry) *UploadService {
	s := &UploadService{
		files:    files,
		registry: registry,
		allowed:  make(map[string]bool),
		hold:     DefaultHold,
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, ext := range DefaultAllowedExtensions {
		s.allowed[ext] = true
	}
	return s
}

// SetHold sets the minimum intake-lock hold time.
func (s *UploadService) SetHold(d time.Duration) {
	s.hold = d
}

// SetAllowedExtensions replaces the extension allow-list. Extensions are
// matched case-insensitively and include the leading dot.
func (s *UploadService) SetAllowedExtensions(exts []string) {
	s.allowed = make(map[string]bool, len(exts))
	for _, ext := range exts {
		s.allowed[strings.ToLower(ext)] = true
	}
}

// SetClock sets the timestamp source for testing.
func (s *UploadService) SetClock(now func() time.Time) {
	s.now = now
}

// SetSleep sets the hold-time sleeper for testing.
func (s *UploadService) SetSleep(sleep func(time.Duration)) {
	s.sleep = sleep
}

// UploadRequest contains the parameters for one upload.
type UploadRequest struct {
	CaseID      string // optional; generated when empty
	Filename    string // original client filename
	Description string // registry description for a new case
	Data        []byte
}

// UploadResult contains the result of an upload.
type UploadResult struct {
	CaseID   string
	Artifact string // stored artifact name, timestamp-prefixed
	URL      string
	Created  bool // true when the case was registered by this upload
}

// Upload validates the request, stores the artifact, and registers the
// case. The artifact is durably written before the case is registered, so
// a registered case always has at least one artifact on disk.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Filename == "" {
		return nil, &ErrNoFile{}
	}
	if ext := strings.ToLower(filepath.Ext(req.Filename)); !s.allowed[ext] {
		return nil, &ErrExtension{Name: req.Filename}
	}

	s.mu.Lock()
	start := s.now()
	defer s.mu.Unlock()
	defer s.holdRemainder(start)

	caseID := req.CaseID
	if caseID == "" {
		caseID = "case-" + casestore.TimestampToken(s.nextStamp())
	}

	artifact, err := s.files.Put(caseID, req.Filename, req.Data)
	if err != nil {
		return nil, &ErrWriteFile{Op: "write", Path: caseID + "/" + req.Filename, Err: err}
	}

	created, err := s.registry.RegisterCase(ctx, caseID, req.Description)
	if err != nil {
		return nil, &ErrDatabase{Op: "register case", Err: err}
	}

	return &UploadResult{
		CaseID:   caseID,
		Artifact: artifact,
		URL:      fmt.Sprintf("/cases/%s/%s", caseID, artifact),
		Created:  created,
	}, nil
}

// nextStamp returns a strictly increasing timestamp at microsecond
// resolution, so rapid successive uploads never collide on a generated
// case id. Callers must hold mu.
func (s *UploadService) nextStamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

// holdRemainder sleeps out the rest of the minimum hold time. It runs
// before the intake lock is released.
func (s *UploadService) holdRemainder(start time.Time) {
	if elapsed := s.now().Sub(start); elapsed < s.hold {
		s.sleep(s.hold - elapsed)
	}
}
