// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"net/http"

	"github.com/mdhender/limsd/pipelines/stages"
)

// SQLExec executes a raw query against the registry and returns rows as
// JSON. Only routed when the console is enabled in config.
func (h *Handlers) SQLExec(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "invalid form: "+err.Error())
		return
	}
	query := r.FormValue("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, stages.ErrCodeUnknown, "query is required")
		return
	}

	result := h.registry.ExecRawQuery(r.Context(), query)
	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}
