// Package nlquery answers natural-language questions: it resolves a
// question to SQL through an external generator or local synthesis, runs
// it, and feeds the outcome back into the knowledge store.
package nlquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/iotquery/iotquery/internal/datasource"
	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/intent"
	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/nl2sql"
	"github.com/iotquery/iotquery/internal/observability"
	"github.com/iotquery/iotquery/internal/sqlgen"
	"github.com/iotquery/iotquery/internal/timeparse"
)

// ErrInvalidSQL is returned when generator output is not a single read
// query. It triggers the same fallback as a generation error.
var ErrInvalidSQL = errors.New("generated text is not a SQL query")

// ErrNoProviders is returned by provider operations when no generator is
// configured.
var ErrNoProviders = errors.New("no sql generator configured")

const (
	SourceGenerator = "generator"
	SourceFallback  = "fallback"

	// FallbackProvider names rule-based synthesis in results and history.
	FallbackProvider = "rules"
)

type Result struct {
	Success      bool              `json:"success"`
	Query        string            `json:"query"`
	SQL          string            `json:"sql,omitempty"`
	Params       []any             `json:"params"`
	Results      []datasource.Row  `json:"results"`
	Count        int               `json:"count"`
	TimeRange    *timeparse.Window `json:"time_range,omitempty"`
	ProviderUsed string            `json:"provider_used,omitempty"`
	Model        string            `json:"model,omitempty"`
	Source       string            `json:"source,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	LatencyMs    float64           `json:"execution_time_ms"`
	Error        string            `json:"error,omitempty"`
}

// Knowledge is the part of the knowledge store the pipeline uses.
type Knowledge interface {
	Record(ctx context.Context, in knowledge.RecordInput) (int64, error)
	SimilarExamples(ctx context.Context, text string, limit int) []knowledge.Example
}

// SchemaContext renders schema text for generator prompts.
type SchemaContext interface {
	PromptContext(ctx context.Context) (string, error)
}

type Options struct {
	// Providers enables the external generator; nil means synthesis only.
	Providers     *nl2sql.Chain
	Schema        SchemaContext
	Knowledge     Knowledge
	ExamplesLimit int
	// DefaultLimit and MaxLimit bound the row limit of synthesized SQL;
	// zero keeps the extractor defaults.
	DefaultLimit  int
	MaxLimit      int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Service runs one question at a time. It holds the sticky provider
// session and is not safe for concurrent use.
type Service struct {
	db            datasource.Database
	mapper        *domain.Mapper
	extractor     *intent.Extractor
	providers     *nl2sql.Chain
	session       *nl2sql.Session
	schema        SchemaContext
	knowledge     Knowledge
	examplesLimit int
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(db datasource.Database, mapper *domain.Mapper, parser *timeparse.Parser, opts Options) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if mapper == nil {
		return nil, fmt.Errorf("domain mapper is required")
	}
	if parser == nil {
		parser = timeparse.New()
	}
	s := &Service{
		db:            db,
		mapper:        mapper,
		extractor:     intent.NewExtractor(mapper, parser),
		providers:     opts.Providers,
		schema:        opts.Schema,
		knowledge:     opts.Knowledge,
		examplesLimit: opts.ExamplesLimit,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if opts.DefaultLimit > 0 {
		s.extractor.DefaultLimit = opts.DefaultLimit
	}
	if opts.MaxLimit > 0 {
		s.extractor.MaxLimit = opts.MaxLimit
	}
	if opts.Providers != nil {
		s.session = nl2sql.NewSession(opts.Providers)
	}
	if s.examplesLimit <= 0 {
		s.examplesLimit = knowledge.DefaultExamplesLimit
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ProviderStatus reports the sticky provider and recent attempts. It is
// empty when no generator is configured.
type ProviderStatus struct {
	Enabled   bool                             `json:"enabled"`
	Preferred string                           `json:"preferred,omitempty"`
	Priority  []string                         `json:"priority,omitempty"`
	History   []nl2sql.Attempt                 `json:"history,omitempty"`
	Health    map[string]nl2sql.ProviderHealth `json:"health,omitempty"`
}

func (s *Service) ProviderStatus() ProviderStatus {
	if s.session == nil {
		return ProviderStatus{}
	}
	return ProviderStatus{
		Enabled:   true,
		Preferred: s.session.Preferred(),
		Priority:  s.providers.Priority(),
		History:   s.session.History(),
		Health:    s.session.Health(),
	}
}

// CheckProviders health-checks every configured generator and returns the
// refreshed status.
func (s *Service) CheckProviders(ctx context.Context) (ProviderStatus, error) {
	if s.session == nil {
		return ProviderStatus{}, ErrNoProviders
	}
	s.session.CheckHealth(ctx)
	return s.ProviderStatus(), nil
}

// SwitchProvider makes name the preferred generator once it passes a
// health check.
func (s *Service) SwitchProvider(ctx context.Context, name string) (ProviderStatus, error) {
	if s.session == nil {
		return ProviderStatus{}, ErrNoProviders
	}
	if err := s.session.Switch(ctx, name); err != nil {
		return s.ProviderStatus(), err
	}
	return s.ProviderStatus(), nil
}

// plan is a resolved statement and where it came from.
type plan struct {
	sql        string
	params     []any
	source     string
	provider   string
	model      string
	confidence float64
}

// Execute runs the full pipeline. It never returns an error: failures are
// reported through Result.Success and Result.Error with the attempted SQL.
// Every outcome, including rejected questions and recovered panics, is
// recorded in the knowledge store.
func (s *Service) Execute(ctx context.Context, text string) (result Result) {
	start := s.now()
	result = Result{Query: text, Params: []any{}, Results: []datasource.Row{}}
	var p plan
	defer func() {
		if r := recover(); r != nil {
			observability.WithTrace(ctx, s.logger).ErrorContext(ctx, "query pipeline panic", slog.Any("panic", r))
			result.Success = false
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
		elapsed := s.now().Sub(start)
		result.LatencyMs = float64(elapsed.Microseconds()) / 1000
		observability.ObserveNLQuery(result.Source, result.Success, elapsed)
		s.record(ctx, text, p, result, elapsed)
	}()

	if strings.TrimSpace(text) == "" {
		result.Error = "question is required"
		return result
	}

	in := s.extractor.Extract(text)
	result.TimeRange = in.Window

	resolved, err := s.resolve(ctx, in)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	p = resolved
	result.SQL = p.sql
	result.Params = p.params
	result.Source = p.source
	result.ProviderUsed = p.provider
	result.Model = p.model
	result.Confidence = p.confidence

	rows, err := s.db.Query(ctx, p.sql, p.params...)
	if err != nil {
		result.Error = fmt.Sprintf("execute query: %v", err)
		return result
	}
	result.Success = true
	result.Results = rows
	result.Count = len(rows)
	return result
}

// Translate resolves text to SQL without executing or recording it.
func (s *Service) Translate(ctx context.Context, text string) Result {
	result := Result{Query: text, Params: []any{}, Results: []datasource.Row{}}
	if strings.TrimSpace(text) == "" {
		result.Error = "question is required"
		return result
	}
	in := s.extractor.Extract(text)
	result.TimeRange = in.Window

	p, err := s.resolve(ctx, in)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.SQL = p.sql
	result.Params = p.params
	result.Source = p.source
	result.ProviderUsed = p.provider
	result.Model = p.model
	result.Confidence = p.confidence
	return result
}

// resolve tries the generator once and falls back to synthesis on any
// generation or validation failure.
func (s *Service) resolve(ctx context.Context, in intent.Intent) (plan, error) {
	if s.session != nil {
		p, err := s.generate(ctx, in.Text)
		if err == nil {
			return p, nil
		}
		observability.IncrementGeneratorFallback()
		observability.WithTrace(ctx, s.logger).InfoContext(ctx, "falling back to rule-based synthesis", slog.Any("error", err))
	}

	stmt, err := sqlgen.Synthesize(in, s.mapper)
	if err != nil {
		return plan{}, fmt.Errorf("synthesize sql: %w", err)
	}
	return plan{
		sql:        stmt.SQL,
		params:     stmt.Params,
		source:     SourceFallback,
		provider:   FallbackProvider,
		confidence: knowledge.DefaultConfidence,
	}, nil
}

func (s *Service) generate(ctx context.Context, text string) (plan, error) {
	req := nl2sql.Request{Question: text, Dialect: dialectName(s.db.Dialect())}
	if s.schema != nil {
		schemaText, err := s.schema.PromptContext(ctx)
		if err != nil {
			return plan{}, fmt.Errorf("%w: schema context: %w", nl2sql.ErrGeneration, err)
		}
		req.SchemaContext = schemaText
	}
	if s.knowledge != nil {
		for _, example := range s.knowledge.SimilarExamples(ctx, text, s.examplesLimit) {
			req.Examples = append(req.Examples, nl2sql.Example{NaturalQuery: example.NaturalQuery, SQL: example.GeneratedSQL})
		}
	}

	generated, err := s.session.GenerateSQL(ctx, req)
	if err != nil {
		return plan{}, err
	}
	sqlText := datasource.StripTrailingSemicolons(generated.SQL)
	if !nl2sql.LooksLikeSQL(sqlText) {
		return plan{}, fmt.Errorf("%w: %q", ErrInvalidSQL, truncate(sqlText, 120))
	}
	return plan{
		sql:        sqlText,
		params:     []any{},
		source:     SourceGenerator,
		provider:   generated.Provider,
		model:      generated.Model,
		confidence: generated.Confidence,
	}, nil
}

func (s *Service) record(ctx context.Context, text string, p plan, result Result, elapsed time.Duration) {
	if s.knowledge == nil {
		return
	}
	in := knowledge.RecordInput{
		NaturalQuery: text,
		GeneratedSQL: p.sql,
		Params:       p.params,
		Success:      result.Success,
		LatencyMs:    float64(elapsed.Microseconds()) / 1000,
		ResultCount:  result.Count,
		Provider:     p.provider,
		Model:        p.model,
		Source:       p.source,
		Confidence:   p.confidence,
		Error:        result.Error,
	}
	if _, err := s.knowledge.Record(ctx, in); err != nil {
		observability.IncrementKnowledgeRecordFailure()
		observability.WithTrace(ctx, s.logger).WarnContext(ctx, "record query outcome failed", slog.Any("error", err))
	}
}

func dialectName(dialect datasource.Dialect) string {
	switch dialect {
	case datasource.DialectPostgres:
		return "PostgreSQL"
	case datasource.DialectDuckDB:
		return "DuckDB"
	default:
		return "SQLite"
	}
}

// truncate cuts value to at most max runes.
func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "..."
}
