package api

import (
	"net/http"
	"strconv"

	"github.com/iotquery/iotquery/internal/auth"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema analyzer is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if raw := r.URL.Query().Get("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REFRESH", "refresh must be a boolean", false, nil)
			return
		}
		if refresh {
			deps.Schema.Invalidate()
		}
	}

	analysis, err := deps.Schema.Analyze(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to analyze schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}
