package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iotquery/iotquery/internal/archive"
	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/storage"
)

const maxListLimit = 100

type exportRequest struct {
	Since *time.Time `json:"since"`
}

type importRequest struct {
	Key string `json:"key"`
}

func handleKnowledgeStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !knowledgeReady(deps, w, r) {
		return
	}
	days := deps.StatsDays
	if days <= 0 {
		days = 7
	}
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DAYS", "days must be a positive integer", false, nil)
			return
		}
		days = parsed
	}

	stats, err := deps.Knowledge.SuccessStats(r.Context(), days)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "KNOWLEDGE_ERROR", "failed to load query stats", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func handleKnowledgeExamples(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !knowledgeReady(deps, w, r) {
		return
	}
	limit, ok := limitParam(w, r, deps.ExamplesLimit)
	if !ok {
		return
	}
	examples := deps.Knowledge.SimilarExamples(r.Context(), r.URL.Query().Get("q"), limit)
	if examples == nil {
		examples = []knowledge.Example{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"examples": examples, "count": len(examples)})
}

func handleKnowledgeVocabulary(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !knowledgeReady(deps, w, r) {
		return
	}
	minConfidence := knowledge.MinVocabularyConfidence
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MIN_CONFIDENCE", "min_confidence must be between 0 and 1", false, nil)
			return
		}
		minConfidence = parsed
	}

	entries, err := deps.Knowledge.Vocabulary(r.Context(), minConfidence)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "KNOWLEDGE_ERROR", "failed to load vocabulary", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []knowledge.VocabularyEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vocabulary": entries, "count": len(entries)})
}

func handleKnowledgePatterns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !knowledgeReady(deps, w, r) {
		return
	}
	limit, ok := limitParam(w, r, 10)
	if !ok {
		return
	}
	patterns, err := deps.Knowledge.Patterns(r.Context(), strings.TrimSpace(r.URL.Query().Get("type")), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "KNOWLEDGE_ERROR", "failed to load patterns", true, map[string]any{"details": err.Error()})
		return
	}
	if patterns == nil {
		patterns = []knowledge.Pattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns, "count": len(patterns)})
}

func handleKnowledgeExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !archiveReady(deps, w, r) {
		return
	}
	var request exportRequest
	if err := decodeBody(r, &request, true); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	var since time.Time
	if request.Since != nil {
		since = request.Since.UTC()
	}

	result, err := deps.Archive.Export(r.Context(), since)
	if err != nil {
		if errors.Is(err, archive.ErrNothingToExport) {
			writeError(r.Context(), w, http.StatusNotFound, "NOTHING_TO_EXPORT", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleKnowledgeImport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !archiveReady(deps, w, r) {
		return
	}
	var request importRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid import request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Key) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "KEY_REQUIRED", "key is required", false, nil)
		return
	}

	result, err := deps.Archive.Import(r.Context(), strings.TrimSpace(request.Key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_NOT_FOUND", "archive object was not found", false, map[string]any{"key": request.Key})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "IMPORT_FAILED", "failed to import query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func knowledgeReady(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Knowledge == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "KNOWLEDGE_NOT_CONFIGURED", "knowledge store is not configured", false, nil)
		return false
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func archiveReady(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "history archive is not configured", false, nil)
		return false
	}
	if err := requireRole(r, auth.RoleKnowledgeAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func limitParam(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	if fallback <= 0 {
		fallback = knowledge.DefaultExamplesLimit
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100", false, nil)
		return 0, false
	}
	return limit, true
}
