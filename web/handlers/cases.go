// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/mdhender/limsd/model"
	"github.com/mdhender/limsd/pipelines/stages"
)

// Cases lists all registered cases in creation order.
func (h *Handlers) Cases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.registry.ListCases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, stages.ErrCodeDatabase, err.Error())
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

// CaseFiles lists a case's artifact names, oldest first.
func (h *Handlers) CaseFiles(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")
	names, err := h.files.List(caseID)
	if err != nil {
		fail(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_id": caseID, "files": names})
}

// CaseFile serves one artifact's bytes with an inline disposition.
func (h *Handlers) CaseFile(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")
	name := r.PathValue("filename")

	data, err := h.files.Read(caseID, name)
	if err != nil {
		fail(w, err)
		return
	}

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("serve %s/%s: %v", caseID, name, err)
	}
}

// MetaGet serves the case's meta document, defaults included.
func (h *Handlers) MetaGet(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")
	m, err := h.files.ReadMeta(caseID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// MetaPost merges the request body into the case's meta document. Fields
// absent from the body keep their stored values. A description update is
// mirrored into the registry.
func (h *Handlers) MetaPost(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")
	m, err := h.files.ReadMeta(caseID)
	if err != nil {
		fail(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "invalid meta document: "+err.Error())
		return
	}
	if err := h.files.WriteMeta(caseID, m); err != nil {
		fail(w, err)
		return
	}
	if m.Description != "" {
		if err := h.registry.UpdateDescription(r.Context(), caseID, m.Description); err != nil {
			writeError(w, http.StatusInternalServerError, stages.ErrCodeDatabase, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, m)
}
