// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"io"
	"net/http"

	"github.com/mdhender/limsd/pipelines/stages"
)

const maxUploadBytes = 32 << 20 // 32MB

type uploadResponse struct {
	OK       bool   `json:"ok"`
	CaseID   string `json:"case_id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Upload accepts a multipart upload and files it into a case. A new case
// answers 201, an existing one 200.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeNoFile, "failed to parse form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeNoFile, "no file part in request")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeNoFile, "failed to read file: "+err.Error())
		return
	}

	res, err := h.uploads.Upload(r.Context(), stages.UploadRequest{
		CaseID:      r.FormValue("case_id"),
		Filename:    header.Filename,
		Description: r.FormValue("description"),
		Data:        data,
	})
	if err != nil {
		fail(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, uploadResponse{
		OK:       true,
		CaseID:   res.CaseID,
		Filename: res.Artifact,
		URL:      res.URL,
	})
}
