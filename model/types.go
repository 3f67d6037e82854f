// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package model

import (
	"path/filepath"
	"strings"
	"time"
)

// Case is one registry row: a logical grouping of uploaded artifacts
// and test results under a single identifier.
type Case struct {
	CaseID      string    `json:"case_id"     db:"case_id"`
	CreatedAt   time.Time `json:"created_at"  db:"created_at"`
	Description string    `json:"description" db:"description"`
}

// TestResult is one analysis outcome for a case. Rows are append-only;
// they are removed only when the owning case is purged.
type TestResult struct {
	ID         int64     `json:"id"                    db:"id"`
	CaseID     string    `json:"case_id"               db:"case_id"`
	TestName   string    `json:"test_name"             db:"test_name"`
	Result     Value     `json:"result"                db:"result_json"`
	Units      string    `json:"units"                 db:"units"`
	SampleType string    `json:"sample_type,omitempty" db:"sample_type"`
	ImageID    string    `json:"image_id,omitempty"    db:"image_id"`
	CreatedAt  time.Time `json:"timestamp"             db:"created_at"`
}

// ArtifactKind discriminates stored files by what the UI should do with them.
type ArtifactKind string

const (
	KindImage ArtifactKind = "image"
	KindNote  ArtifactKind = "note"
	KindOther ArtifactKind = "other"
)

// KindForName infers the artifact kind from the file extension.
func KindForName(name string) ArtifactKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return KindImage
	case ".txt":
		return KindNote
	default:
		return KindOther
	}
}

// Meta is the optional per-case metadata document. The level values are
// "Analyzed", "Not Analyzed", and "Not for Analysis". Columns maps an
// analysis name to its status string (e.g. "Microscopy QC" -> "Queued").
type Meta struct {
	Domain      string            `json:"domain"`
	Level       string            `json:"level"`
	Columns     map[string]string `json:"columns"`
	Tags        []string          `json:"tags"`
	Notes       string            `json:"notes"`
	Description string            `json:"description,omitempty"`
}

// DefaultMeta returns the document served for a case that has never been
// annotated.
func DefaultMeta() Meta {
	return Meta{
		Domain:  "health",
		Level:   "Not Analyzed",
		Columns: map[string]string{},
		Tags:    []string{},
	}
}
