package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/nl2sql"
	"github.com/iotquery/iotquery/internal/nlquery"
)

type questionRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	question, ok := questionFromRequest(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Queries.Execute(r.Context(), question))
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	question, ok := questionFromRequest(deps, w, r)
	if !ok {
		return
	}
	result := deps.Queries.Translate(r.Context(), question)
	if !result.Success {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "TRANSLATE_FAILED", result.Error, false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":      result.Query,
		"sql":        result.SQL,
		"params":     result.Params,
		"time_range": result.TimeRange,
		"source":     result.Source,
		"provider":   result.ProviderUsed,
		"model":      result.Model,
		"confidence": result.Confidence,
	})
}

func handleProviders(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Queries.ProviderStatus())
}

type switchRequest struct {
	Provider string `json:"provider"`
}

func handleProviderHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !providerAdmin(deps, w, r) {
		return
	}
	status, err := deps.Queries.CheckProviders(r.Context())
	if err != nil {
		writeProviderError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func handleProviderSwitch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !providerAdmin(deps, w, r) {
		return
	}
	var request switchRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid switch request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(request.Provider)
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROVIDER_REQUIRED", "provider is required", false, nil)
		return
	}
	status, err := deps.Queries.SwitchProvider(r.Context(), name)
	if err != nil {
		writeProviderError(w, r, status, err)
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "provider switched", slog.String("provider", status.Preferred))
	}
	writeJSON(w, http.StatusOK, status)
}

func providerAdmin(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return false
	}
	if err := requireRole(r, auth.RoleProviderAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}

func writeProviderError(w http.ResponseWriter, r *http.Request, status nlquery.ProviderStatus, err error) {
	switch {
	case errors.Is(err, nlquery.ErrNoProviders):
		writeError(r.Context(), w, http.StatusNotImplemented, "PROVIDERS_NOT_CONFIGURED", err.Error(), false, nil)
	case errors.Is(err, nl2sql.ErrUnknownProvider):
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_PROVIDER", err.Error(), false, map[string]any{"priority": status.Priority})
	case errors.Is(err, nl2sql.ErrProviderUnhealthy):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "PROVIDER_UNHEALTHY", err.Error(), true, map[string]any{"health": status.Health})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "PROVIDER_ERROR", err.Error(), true, nil)
	}
}

func questionFromRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (string, bool) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return "", false
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}

	var request questionRequest
	if err := decodeBody(r, &request, false); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return "", false
	}
	question := strings.TrimSpace(request.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return "", false
	}
	return question, true
}

// SerializedQueries runs one question at a time against a service that
// holds per-session state.
type SerializedQueries struct {
	mu      sync.Mutex
	service QueryService
}

func Serialize(service QueryService) *SerializedQueries {
	return &SerializedQueries{service: service}
}

func (s *SerializedQueries) Execute(ctx context.Context, text string) nlquery.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service.Execute(ctx, text)
}

func (s *SerializedQueries) Translate(ctx context.Context, text string) nlquery.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service.Translate(ctx, text)
}

func (s *SerializedQueries) ProviderStatus() nlquery.ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service.ProviderStatus()
}

func (s *SerializedQueries) CheckProviders(ctx context.Context) (nlquery.ProviderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service.CheckProviders(ctx)
}

func (s *SerializedQueries) SwitchProvider(ctx context.Context, name string) (nlquery.ProviderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service.SwitchProvider(ctx, name)
}
