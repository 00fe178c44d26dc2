// Package api exposes the query pipeline, schema analysis and knowledge
// store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iotquery/iotquery/internal/archive"
	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/config"
	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/nlquery"
	"github.com/iotquery/iotquery/internal/observability"
	"github.com/iotquery/iotquery/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

// QueryService answers questions. Handlers call it from concurrent
// goroutines, so a single-request service must be wrapped with Serialize.
type QueryService interface {
	Execute(ctx context.Context, text string) nlquery.Result
	Translate(ctx context.Context, text string) nlquery.Result
	ProviderStatus() nlquery.ProviderStatus
	CheckProviders(ctx context.Context) (nlquery.ProviderStatus, error)
	SwitchProvider(ctx context.Context, name string) (nlquery.ProviderStatus, error)
}

type SchemaAnalyzer interface {
	Analyze(ctx context.Context) (schema.Analysis, error)
	Invalidate()
}

type KnowledgeReader interface {
	SuccessStats(ctx context.Context, daysBack int) (knowledge.Stats, error)
	SimilarExamples(ctx context.Context, text string, limit int) []knowledge.Example
	Vocabulary(ctx context.Context, minConfidence float64) ([]knowledge.VocabularyEntry, error)
	Patterns(ctx context.Context, patternType string, limit int) ([]knowledge.Pattern, error)
}

type HistoryArchiver interface {
	Export(ctx context.Context, since time.Time) (archive.ExportResult, error)
	Import(ctx context.Context, key string) (archive.ImportResult, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Queries           QueryService
	Schema            SchemaAnalyzer
	Knowledge         KnowledgeReader
	Archive           HistoryArchiver
	StatsDays         int
	ExamplesLimit     int
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, readyBody(deps))
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, readyBody(deps))
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	var limiter *questionLimiter
	if cfg.Query.RateLimit > 0 {
		limiter = newQuestionLimiter(cfg.Query.RateLimit, cfg.Query.RateBurst)
	}

	routes := map[string]http.HandlerFunc{
		"POST /v1/query/ask":              limiter.wrap(func(w http.ResponseWriter, r *http.Request) { handleAsk(deps, w, r) }),
		"POST /v1/query/translate":        limiter.wrap(func(w http.ResponseWriter, r *http.Request) { handleTranslate(deps, w, r) }),
		"GET /v1/query/providers":         func(w http.ResponseWriter, r *http.Request) { handleProviders(deps, w, r) },
		"GET /v1/query/providers/health":  func(w http.ResponseWriter, r *http.Request) { handleProviderHealth(deps, w, r) },
		"POST /v1/query/providers/switch": func(w http.ResponseWriter, r *http.Request) { handleProviderSwitch(deps, w, r) },
		"GET /v1/schema":                  func(w http.ResponseWriter, r *http.Request) { handleSchema(deps, w, r) },
		"GET /v1/knowledge/stats":         func(w http.ResponseWriter, r *http.Request) { handleKnowledgeStats(deps, w, r) },
		"GET /v1/knowledge/examples":      func(w http.ResponseWriter, r *http.Request) { handleKnowledgeExamples(deps, w, r) },
		"GET /v1/knowledge/vocabulary":    func(w http.ResponseWriter, r *http.Request) { handleKnowledgeVocabulary(deps, w, r) },
		"GET /v1/knowledge/patterns":      func(w http.ResponseWriter, r *http.Request) { handleKnowledgePatterns(deps, w, r) },
		"POST /v1/knowledge/export":       func(w http.ResponseWriter, r *http.Request) { handleKnowledgeExport(deps, w, r) },
		"POST /v1/knowledge/import":       func(w http.ResponseWriter, r *http.Request) { handleKnowledgeImport(deps, w, r) },
	}

	protected := http.NewServeMux()
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(deps.Logger))
	return chain(mux, middlewares...)
}

// CheckDatabase reports whether the queried database answers a trivial
// statement.
func CheckDatabase(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("database is not configured")
		}
		if err := ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Archive.Enabled && !cfg.Database.UsesObjectStore() {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// readyBody reports the last known generator health without calling any
// provider. Unhealthy generators do not fail readiness because local
// synthesis still answers.
func readyBody(deps Dependencies) map[string]any {
	body := map[string]any{"status": "ready"}
	if deps.Queries != nil {
		if health := deps.Queries.ProviderStatus().Health; len(health) > 0 {
			body["providers"] = health
		}
	}
	return body
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	observability.IncrementAuthFailure("forbidden")
	return fmt.Errorf("missing required role %q", role)
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
