// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package report_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mdhender/limsd/model"
	"github.com/mdhender/limsd/report"
)

func TestBuildDarkLight(t *testing.T) {
	f := report.NewFormatter()
	raw := model.MapOf(map[string]model.Value{
		"sigmoid_score":  model.Number(0.989),
		"classification": model.Text("Light"),
		"mean_val":       model.Number(200),
	})

	r, err := f.Build("case-20250314-092653-000001", "image", "dark_light", raw, "scan.png")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.ReportVersion != report.Version {
		t.Errorf("report_version: got %q, want %q", r.ReportVersion, report.Version)
	}
	if r.ClassifierName != "dark_light" {
		t.Errorf("classifier_name: got %q", r.ClassifierName)
	}
	if s, _ := r.ScoreOrClass.Text(); s != "Light" {
		t.Errorf("score_or_class: got %v, want Light", r.ScoreOrClass)
	}
	if r.Confidence != 0.989 {
		t.Errorf("confidence: got %v, want 0.989", r.Confidence)
	}
	if r.ImageID != "scan.png" {
		t.Errorf("image_id: got %q", r.ImageID)
	}
}

func TestBuildMeanPixel(t *testing.T) {
	f := report.NewFormatter()
	raw := model.MapOf(map[string]model.Value{
		"mean_pixel": model.Number(150),
	})

	r, err := f.Build("case-1", "image", "mean_pixel", raw, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v, _ := r.ScoreOrClass.Float(); v != 150 {
		t.Errorf("score_or_class: got %v, want 150", r.ScoreOrClass)
	}
	// The measurement has no uncertainty attached.
	if r.Confidence != 1.0 {
		t.Errorf("confidence: got %v, want 1.0", r.Confidence)
	}
}

func TestBuildGenericRule(t *testing.T) {
	f := report.NewFormatter("edge_detect")
	raw := model.MapOf(map[string]model.Value{
		"score":      model.Number(0.75),
		"confidence": model.Number(0.6),
	})

	r, err := f.Build("case-1", "image", "edge_detect", raw, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v, _ := r.ScoreOrClass.Float(); v != 0.75 {
		t.Errorf("score_or_class: got %v, want 0.75", r.ScoreOrClass)
	}
	if r.Confidence != 0.6 {
		t.Errorf("confidence: got %v, want 0.6", r.Confidence)
	}
}

func TestBuildUnknownProcessor(t *testing.T) {
	f := report.NewFormatter()
	_, err := f.Build("case-1", "image", "mystery", model.Value{}, "")
	var unknown *report.ErrUnknownProcessor
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
	if unknown.Name != "mystery" {
		t.Errorf("error names %q, want mystery", unknown.Name)
	}
}

func TestJSONDeterministic(t *testing.T) {
	f := report.NewFormatter()
	raw := model.MapOf(map[string]model.Value{
		"sigmoid_score":  model.Number(0.123),
		"classification": model.Text("Dark"),
		"mean_val":       model.Number(97.5),
	})

	r1, err := f.Build("case-1", "image", "dark_light", raw, "a.png")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	r2, err := f.Build("case-1", "image", "dark_light", raw, "a.png")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	j1, err := r1.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	j2, err := r2.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !bytes.Equal(j1, j2) {
		t.Errorf("identical inputs produced different JSON:\n%s\n%s", j1, j2)
	}
	if !strings.Contains(string(j1), `"report_version": "0.1.0"`) {
		t.Errorf("missing report_version in %s", j1)
	}
}

func TestRenderText(t *testing.T) {
	f := report.NewFormatter()
	raw := model.MapOf(map[string]model.Value{
		"mean_pixel": model.Number(150),
	})

	r, err := f.Build("case-20250314-092653-000001", "image", "mean_pixel", raw, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	text := r.Render()
	if !strings.HasPrefix(text, "Report for case #case-20250314-092653-000001, type: image\n") {
		t.Errorf("unexpected header: %q", text)
	}
	if !strings.Contains(text, "\tProcessor: mean_pixel\n") {
		t.Errorf("missing processor line: %q", text)
	}
	if !strings.Contains(text, "\t\tmean_pixel: 150\n") {
		t.Errorf("missing raw result line: %q", text)
	}
}
