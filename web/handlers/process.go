// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"fmt"
	"net/http"

	"github.com/mdhender/limsd/pipelines/stages"
)

type processResponse struct {
	OK              bool   `json:"ok"`
	Result          any    `json:"result"`
	FormattedResult any    `json:"formatted_result"`
	ReportURL       string `json:"report_url"`
}

// Process runs a named processor against a stored artifact, records the
// result, and returns both the raw and formatted forms.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "invalid form: "+err.Error())
		return
	}

	caseID := r.FormValue("case_id")
	filename := r.FormValue("filename")
	processor := r.FormValue("processor")
	if caseID == "" || filename == "" || processor == "" {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "case_id, filename, and processor are required")
		return
	}
	sampleType := r.FormValue("sample_type")
	if sampleType == "" {
		sampleType = "image"
	}

	res, err := h.procs.Process(r.Context(), stages.ProcessRequest{
		CaseID:     caseID,
		Filename:   filename,
		Processor:  processor,
		SampleType: sampleType,
	})
	if err != nil {
		fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		OK:              true,
		Result:          res.Raw,
		FormattedResult: res.Report,
		ReportURL:       fmt.Sprintf("/results/%s", caseID),
	})
}
