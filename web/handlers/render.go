// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"github.com/mdhender/limsd"
	"github.com/mdhender/limsd/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type indexData struct {
	Version    string
	Cases      []model.Case
	Processors []string
}

// Index lists the registered cases and the available endpoints.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	cases, err := h.registry.ListCases(r.Context())
	if err != nil {
		http.Error(w, "Failed to load cases", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Version:    limsd.Version().String(),
		Cases:      cases,
		Processors: h.procs.Processors(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("render index: %v", err)
	}
}

type artifactView struct {
	Name    string
	Kind    model.ArtifactKind
	URL     string
	Preview string
	Results []model.TestResult
}

type renderData struct {
	Version    string
	CaseID     string
	Meta       model.Meta
	Artifacts  []artifactView
	Unattached []model.TestResult
}

// RenderCase renders one HTML card per artifact, oldest first. Results
// are shown only on the artifact they reference.
func (h *Handlers) RenderCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")

	names, err := h.files.List(caseID)
	if err != nil {
		fail(w, err)
		return
	}
	meta, err := h.files.ReadMeta(caseID)
	if err != nil {
		fail(w, err)
		return
	}
	results, err := h.registry.ResultsByCase(r.Context(), caseID)
	if err != nil {
		fail(w, err)
		return
	}

	byImage := make(map[string][]model.TestResult)
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	var unattached []model.TestResult
	for _, tr := range results {
		if known[tr.ImageID] {
			byImage[tr.ImageID] = append(byImage[tr.ImageID], tr)
		} else {
			unattached = append(unattached, tr)
		}
	}

	artifacts := make([]artifactView, 0, len(names))
	for _, name := range names {
		av := artifactView{
			Name:    name,
			Kind:    model.KindForName(name),
			URL:     fmt.Sprintf("/cases/%s/%s", caseID, name),
			Results: byImage[name],
		}
		if av.Kind == model.KindNote {
			if data, err := h.files.Read(caseID, name); err == nil {
				av.Preview = string(data)
			}
		}
		artifacts = append(artifacts, av)
	}

	data := renderData{
		Version:    limsd.Version().String(),
		CaseID:     caseID,
		Meta:       meta,
		Artifacts:  artifacts,
		Unattached: unattached,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, "render_case.html", data); err != nil {
		log.Printf("render case %s: %v", caseID, err)
	}
}
