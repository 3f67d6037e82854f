// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package handlers implements the HTTP surface of the case service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/pipelines/stages"
	"github.com/mdhender/limsd/processors"
	"github.com/mdhender/limsd/report"
	store "github.com/mdhender/limsd/stores/sqlite"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	registry *store.SQLiteStore
	files    *casestore.Store
	uploads  *stages.UploadService
	procs    *stages.ProcessService

	// enableSQL exposes the raw-query console. Off in production.
	enableSQL bool
}

// New creates a new Handlers over the registry, case store, and pipeline
// services.
func New(registry *store.SQLiteStore, files *casestore.Store, uploads *stages.UploadService, procs *stages.ProcessService) *Handlers {
	return &Handlers{
		registry: registry,
		files:    files,
		uploads:  uploads,
		procs:    procs,
	}
}

// EnableSQLConsole turns on the POST /sql debug endpoint.
func (h *Handlers) EnableSQLConsole() {
	h.enableSQL = true
}

// Routes registers all endpoints on mux.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("GET /cases", h.Cases)
	mux.HandleFunc("GET /cases/{case_id}", h.CaseFiles)
	mux.HandleFunc("GET /cases/{case_id}/{filename}", h.CaseFile)
	mux.HandleFunc("GET /cases/{case_id}/meta", h.MetaGet)
	mux.HandleFunc("POST /cases/{case_id}/meta", h.MetaPost)
	mux.HandleFunc("GET /render/{case_id}", h.RenderCase)
	mux.HandleFunc("DELETE /purge/{case_id}", h.Purge)
	mux.HandleFunc("POST /record_result", h.RecordResult)
	mux.HandleFunc("GET /results/{case_id}", h.Results)
	mux.HandleFunc("POST /process", h.Process)
	if h.enableSQL {
		mux.HandleFunc("POST /sql", h.SQLExec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// fail maps a service error to its HTTP status and structured body.
func fail(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), errorCode(err), err.Error())
}

// errorCode names the error for the JSON body. The wrapped cause wins
// over the stage wrapper when both carry a code.
func errorCode(err error) string {
	var (
		badName   *processors.ErrBadName
		invalid   *processors.ErrInvalidProcessor
		notFound  *processors.ErrNotFound
		execution *processors.ErrExecution
		unknown   *store.ErrUnknownCase
		noRule    *report.ErrUnknownProcessor
	)
	switch {
	case errors.As(err, &badName):
		return "BAD_NAME"
	case errors.As(err, &invalid):
		return "INVALID_PROCESSOR"
	case errors.As(err, &notFound):
		return "PROCESSOR_NOT_FOUND"
	case errors.As(err, &execution):
		return "EXECUTION"
	case errors.As(err, &unknown):
		return "UNKNOWN_CASE"
	case errors.As(err, &noRule):
		return "UNKNOWN_PROCESSOR"
	case errors.Is(err, casestore.ErrUnsafeName):
		return "UNSAFE_NAME"
	case errors.Is(err, casestore.ErrCaseNotFound):
		return "CASE_NOT_FOUND"
	case errors.Is(err, casestore.ErrArtifactNotFound):
		return "ARTIFACT_NOT_FOUND"
	}
	return stages.ErrorCode(err)
}

// errorStatus maps the service error taxonomy to HTTP status codes.
func errorStatus(err error) int {
	var (
		noFile    *stages.ErrNoFile
		badExt    *stages.ErrExtension
		badName   *processors.ErrBadName
		invalid   *processors.ErrInvalidProcessor
		notFound  *processors.ErrNotFound
		execution *processors.ErrExecution
		unknown   *store.ErrUnknownCase
		noRule    *report.ErrUnknownProcessor
	)
	switch {
	case errors.As(err, &noFile),
		errors.As(err, &badExt),
		errors.As(err, &badName),
		errors.As(err, &invalid),
		errors.Is(err, casestore.ErrUnsafeName):
		return http.StatusBadRequest
	case errors.As(err, &notFound),
		errors.As(err, &unknown),
		errors.As(err, &noRule),
		errors.Is(err, casestore.ErrCaseNotFound),
		errors.Is(err, casestore.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.As(err, &execution):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
