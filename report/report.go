// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package report normalizes heterogeneous processor output into a single
// report shape plus a human-readable rendering.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mdhender/limsd/model"
)

// Version is the report schema version.
const Version = "0.1.0"

// Report is the normalized, processor-agnostic summary record.
type Report struct {
	ReportVersion  string      `json:"report_version"`
	ClassifierName string      `json:"classifier_name"`
	ScoreOrClass   model.Value `json:"score_or_class"`
	Confidence     float64     `json:"confidence"`
	ImageID        string      `json:"image_id,omitempty"`
	CaseID         string      `json:"case_id"`
	SampleType     string      `json:"sample_type"`
	RawResult      model.Value `json:"raw_result"`
}

// ErrUnknownProcessor is returned for processor names outside the
// recognized set.
type ErrUnknownProcessor struct {
	Name string
}

func (e *ErrUnknownProcessor) Error() string {
	return fmt.Sprintf("unknown processor/classifier name %q", e.Name)
}

// ExtractFunc pulls the score-or-class and confidence out of one
// processor's raw result shape.
type ExtractFunc func(result model.Value) (scoreOrClass model.Value, confidence float64)

// Formatter maps processor names to extraction rules. Recognized names
// without a specific rule use the generic
// {classification|score, confidence} extraction; unrecognized names are
// an error.
type Formatter struct {
	known map[string]bool
	rules map[string]ExtractFunc
}

// NewFormatter returns a Formatter recognizing the given processor names
// plus the built-in ones.
func NewFormatter(known ...string) *Formatter {
	f := &Formatter{
		known: make(map[string]bool),
		rules: map[string]ExtractFunc{
			"dark_light": extractDarkLight,
			"mean_pixel": extractMeanPixel,
		},
	}
	for name := range f.rules {
		f.known[name] = true
	}
	for _, name := range known {
		f.known[name] = true
	}
	return f
}

// SetRule registers or replaces the extraction rule for one processor
// name, marking the name recognized.
func (f *Formatter) SetRule(name string, rule ExtractFunc) {
	f.known[name] = true
	f.rules[name] = rule
}

// Build produces the normalized report for one raw processor result. The
// input value is not mutated, and identical inputs always produce an
// identical report.
func (f *Formatter) Build(caseID, sampleType, processor string, result model.Value, imageID string) (*Report, error) {
	if !f.known[processor] {
		return nil, &ErrUnknownProcessor{Name: processor}
	}

	rule, ok := f.rules[processor]
	if !ok {
		rule = extractGeneric
	}
	scoreOrClass, confidence := rule(result)

	return &Report{
		ReportVersion:  Version,
		ClassifierName: processor,
		ScoreOrClass:   scoreOrClass,
		Confidence:     confidence,
		ImageID:        imageID,
		CaseID:         caseID,
		SampleType:     sampleType,
		RawResult:      result,
	}, nil
}

// JSON renders the report as indented JSON. Output is deterministic for
// a given report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Render produces the plain-text form used for logs and human display.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report for case #%s, type: %s\n", r.CaseID, r.SampleType)
	fmt.Fprintf(&b, "\tProcessor: %s\n", r.ClassifierName)
	renderValue(&b, r.RawResult, 2)
	return b.String()
}

func renderValue(b *strings.Builder, v model.Value, depth int) {
	indent := strings.Repeat("\t", depth)
	if fields, ok := v.Map(); ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			field := fields[k]
			switch field.Kind() {
			case model.ValueMap, model.ValueList:
				fmt.Fprintf(b, "%s%s:\n", indent, k)
				renderValue(b, field, depth+1)
			default:
				fmt.Fprintf(b, "%s%s: %s\n", indent, k, field)
			}
		}
		return
	}
	if items, ok := v.List(); ok {
		for _, item := range items {
			switch item.Kind() {
			case model.ValueMap, model.ValueList:
				fmt.Fprintf(b, "%s-\n", indent)
				renderValue(b, item, depth+1)
			default:
				fmt.Fprintf(b, "%s- %s\n", indent, item)
			}
		}
		return
	}
	fmt.Fprintf(b, "%s%s\n", indent, v)
}

// extractDarkLight expects {"sigmoid_score": 0.8, "classification": "Dark", ...}.
func extractDarkLight(result model.Value) (model.Value, float64) {
	scoreOrClass := model.Text("Unknown")
	if cls, ok := result.Get("classification"); ok {
		scoreOrClass = cls
	}
	confidence := 0.0
	if score, ok := result.Get("sigmoid_score"); ok {
		confidence, _ = score.Float()
	}
	return scoreOrClass, confidence
}

// extractMeanPixel expects {"mean_pixel": 128.5}. The measurement is
// deterministic, so confidence is always 1.0.
func extractMeanPixel(result model.Value) (model.Value, float64) {
	scoreOrClass := model.Number(0)
	if mp, ok := result.Get("mean_pixel"); ok {
		scoreOrClass = mp
	}
	return scoreOrClass, 1.0
}

// extractGeneric handles {"classification": str, "confidence": float} or
// {"score": float, "confidence": float}.
func extractGeneric(result model.Value) (model.Value, float64) {
	scoreOrClass := model.Text("Unknown")
	if cls, ok := result.Get("classification"); ok {
		scoreOrClass = cls
	} else if score, ok := result.Get("score"); ok {
		scoreOrClass = score
	}
	confidence := 0.0
	if conf, ok := result.Get("confidence"); ok {
		confidence, _ = conf.Float()
	}
	return scoreOrClass, confidence
}
