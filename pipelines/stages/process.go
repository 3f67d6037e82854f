// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package stages

import (
	"context"
	"fmt"
	"log"

	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/model"
	"github.com/mdhender/limsd/processors"
	"github.com/mdhender/limsd/report"
)

// ResultStore defines the registry operations needed by ProcessService.
type ResultStore interface {
	RecordResult(ctx context.Context, caseID, testName string, payload model.Value, units, sampleType, imageID string) (*model.TestResult, error)
}

// ProcessService runs a named processor against a stored artifact,
// records the raw result, and formats the report.
type ProcessService struct {
	files     *casestore.Store
	registry  ResultStore
	procs     *processors.Registry
	formatter *report.Formatter
	logf      func(format string, v ...any)
}

// NewProcessService creates a ProcessService. The report formatter is
// seeded with the registry's processor names.
func NewProcessService(files *casestore.Store, registry ResultStore, procs *processors.Registry) *ProcessService {
	return &ProcessService{
		files:     files,
		registry:  registry,
		procs:     procs,
		formatter: report.NewFormatter(procs.Names()...),
		logf:      log.Printf,
	}
}

// SetLogf sets the report logger for testing.
func (s *ProcessService) SetLogf(logf func(format string, v ...any)) {
	s.logf = logf
}

// Formatter returns the report formatter the service renders with.
func (s *ProcessService) Formatter() *report.Formatter {
	return s.formatter
}

// Processors returns the registered processor names, sorted.
func (s *ProcessService) Processors() []string {
	return s.procs.Names()
}

// ProcessRequest contains the parameters for one processing run.
type ProcessRequest struct {
	CaseID     string
	Filename   string // stored artifact name within the case
	Processor  string
	SampleType string
}

// ProcessResult contains the raw processor output, its recorded row, and
// the formatted report.
type ProcessResult struct {
	Raw      model.Value
	Recorded *model.TestResult
	Report   *report.Report
}

// Process resolves the artifact, invokes the processor, appends the raw
// result to the registry with the artifact as image_id, and builds the
// normalized report. The rendered report is logged the way the bench
// scripts printed theirs.
func (s *ProcessService) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	path, err := s.files.ArtifactPath(req.CaseID, req.Filename)
	if err != nil {
		return nil, err
	}

	raw, err := s.procs.Invoke(s.files.FS(), req.Processor, path)
	if err != nil {
		return nil, err
	}

	recorded, err := s.registry.RecordResult(ctx, req.CaseID, req.Processor, raw, "", req.SampleType, req.Filename)
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}

	rpt, err := s.formatter.Build(req.CaseID, req.SampleType, req.Processor, raw, req.Filename)
	if err != nil {
		return nil, err
	}
	s.logf("%s", rpt.Render())

	return &ProcessResult{Raw: raw, Recorded: recorded, Report: rpt}, nil
}
