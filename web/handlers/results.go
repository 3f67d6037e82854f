// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/model"
	"github.com/mdhender/limsd/pipelines/stages"
	store "github.com/mdhender/limsd/stores/sqlite"
)

type recordResultRequest struct {
	CaseID     string          `json:"case_id"`
	TestName   string          `json:"test_name"`
	Result     json.RawMessage `json:"result"`
	Units      string          `json:"units"`
	SampleType string          `json:"sample_type"`
	ImageID    string          `json:"image_id"`
}

// RecordResult appends one test result to a registered case.
func (h *Handlers) RecordResult(w http.ResponseWriter, r *http.Request) {
	var req recordResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "invalid request body: "+err.Error())
		return
	}
	if req.CaseID == "" || req.TestName == "" || req.Result == nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "case_id, test_name, and result are required")
		return
	}

	var payload model.Value
	if err := json.Unmarshal(req.Result, &payload); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "invalid result payload: "+err.Error())
		return
	}

	tr, err := h.registry.RecordResult(r.Context(), req.CaseID, req.TestName, payload, req.Units, req.SampleType, req.ImageID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": tr})
}

// Results lists a case's results, oldest first.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")

	exists, err := h.registry.CaseExists(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, stages.ErrCodeDatabase, err.Error())
		return
	}
	if !exists {
		fail(w, &store.ErrUnknownCase{CaseID: caseID})
		return
	}

	results, err := h.registry.ResultsByCase(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, stages.ErrCodeDatabase, err.Error())
		return
	}
	if results == nil {
		results = []model.TestResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"case_id": caseID, "results": results})
}

// Purge removes a case's artifacts and registry rows. Either side alone
// is enough to purge: a registry row without a directory (or the
// reverse) is cleaned up, so a half-purged case can always be retried.
// 404 means neither side had anything.
func (h *Handlers) Purge(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("case_id")

	filesErr := h.files.Purge(caseID)
	if filesErr != nil && !errors.Is(filesErr, casestore.ErrCaseNotFound) {
		fail(w, filesErr)
		return
	}

	regErr := h.registry.PurgeCase(r.Context(), caseID)
	if regErr != nil {
		var unknown *store.ErrUnknownCase
		if !errors.As(regErr, &unknown) {
			writeError(w, http.StatusInternalServerError, stages.ErrCodeDatabase, regErr.Error())
			return
		}
	}

	if filesErr != nil && regErr != nil {
		fail(w, filesErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("case %s purged", caseID),
	})
}
