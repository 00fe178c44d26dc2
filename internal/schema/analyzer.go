// Package schema inspects the live data source and renders what it finds as
// context for an external SQL generator.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iotquery/iotquery/internal/datasource"
	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/knowledge"
)

const (
	sampleRowLimit         = 5
	histogramDays          = 10
	relationshipConfidence = 0.8
)

// Knowledge is the part of the knowledge store the analyzer reads and
// writes. It may be nil.
type Knowledge interface {
	RecordSchemaKnowledge(ctx context.Context, fact knowledge.SchemaFact) error
	Vocabulary(ctx context.Context, minConfidence float64) ([]knowledge.VocabularyEntry, error)
}

type Relationship struct {
	ChildTable   string  `json:"child_table"`
	ChildColumn  string  `json:"child_column"`
	ParentTable  string  `json:"parent_table"`
	ParentColumn string  `json:"parent_column"`
	Confidence   float64 `json:"confidence"`
}

type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

type TableInsight struct {
	Name        string                `json:"name"`
	DomainNames []string              `json:"domain_names,omitempty"`
	Columns     []datasource.Column   `json:"columns"`
	KeyColumns  []string              `json:"key_columns,omitempty"`
	Samples     []datasource.Row      `json:"sample_data"`
	RowCount    int64                 `json:"row_count"`
	Histograms  map[string][]DayCount `json:"time_distribution,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type Analysis struct {
	Tables        []TableInsight `json:"tables"`
	Relationships []Relationship `json:"relationships"`
	AnalyzedAt    time.Time      `json:"analyzed_at"`
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Analyzer computes an Analysis on first use and serves the cached copy
// until Invalidate.
type Analyzer struct {
	db        datasource.Database
	mapper    *domain.Mapper
	knowledge Knowledge
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cached *Analysis
}

func NewAnalyzer(db datasource.Database, mapper *domain.Mapper, store Knowledge, opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Analyzer{db: db, mapper: mapper, knowledge: store, logger: logger, now: now}
}

func (a *Analyzer) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Analyze lists every table and inspects it. A failure on one table is
// logged and recorded on its insight; only listing tables is fatal.
func (a *Analyzer) Analyze(ctx context.Context) (Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cached != nil {
		return *a.cached, nil
	}

	tables, err := a.db.Tables(ctx)
	if err != nil {
		return Analysis{}, fmt.Errorf("list tables: %w", err)
	}

	analysis := Analysis{AnalyzedAt: a.now(), Relationships: []Relationship{}}
	for _, table := range tables {
		insight := a.analyzeTable(ctx, table)
		analysis.Tables = append(analysis.Tables, insight)
	}
	analysis.Relationships = DetectRelationships(analysis.Tables)
	a.persist(ctx, analysis)

	a.cached = &analysis
	return analysis, nil
}

func (a *Analyzer) analyzeTable(ctx context.Context, table string) TableInsight {
	insight := TableInsight{Name: table, Samples: []datasource.Row{}}
	if a.mapper != nil {
		insight.DomainNames = a.mapper.ReverseLookup(table)
	}

	columns, err := a.db.TableSchema(ctx, table)
	if err != nil {
		return a.tableFailed(ctx, insight, "describe table", err)
	}
	insight.Columns = columns
	for _, column := range columns {
		if column.PrimaryKey {
			insight.KeyColumns = append(insight.KeyColumns, column.Name)
		}
	}

	quoted := datasource.QuoteIdent(table)
	samples, err := a.db.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, sampleRowLimit))
	if err != nil {
		return a.tableFailed(ctx, insight, "sample rows", err)
	}
	insight.Samples = samples

	counted, err := a.db.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS row_count FROM %s", quoted))
	if err != nil {
		return a.tableFailed(ctx, insight, "count rows", err)
	}
	if len(counted) > 0 {
		insight.RowCount = toInt64(counted[0]["row_count"])
	}

	for _, column := range columns {
		if !IsTimestampColumn(column) {
			continue
		}
		days, err := a.histogram(ctx, table, column.Name)
		if err != nil {
			a.logger.WarnContext(ctx, "time distribution failed",
				slog.String("table", table),
				slog.String("column", column.Name),
				slog.Any("error", err),
			)
			continue
		}
		if insight.Histograms == nil {
			insight.Histograms = map[string][]DayCount{}
		}
		insight.Histograms[column.Name] = days
	}
	return insight
}

func (a *Analyzer) tableFailed(ctx context.Context, insight TableInsight, step string, err error) TableInsight {
	a.logger.WarnContext(ctx, "table analysis failed",
		slog.String("table", insight.Name),
		slog.String("step", step),
		slog.Any("error", err),
	)
	insight.Error = fmt.Sprintf("%s: %v", step, err)
	return insight
}

func (a *Analyzer) histogram(ctx context.Context, table, column string) ([]DayCount, error) {
	day := datasource.DayExpr(a.db.Dialect(), datasource.QuoteIdent(column))
	rows, err := a.db.Query(ctx, fmt.Sprintf(`SELECT %s AS day, COUNT(*) AS day_count
FROM %s
WHERE %s IS NOT NULL
GROUP BY %s
ORDER BY day DESC
LIMIT %d`, day, datasource.QuoteIdent(table), datasource.QuoteIdent(column), day, histogramDays))
	if err != nil {
		return nil, err
	}
	out := make([]DayCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, DayCount{Day: formatDay(row["day"]), Count: toInt64(row["day_count"])})
	}
	return out, nil
}

func (a *Analyzer) persist(ctx context.Context, analysis Analysis) {
	if a.knowledge == nil {
		return
	}
	for _, rel := range analysis.Relationships {
		data, _ := json.Marshal(rel)
		if err := a.knowledge.RecordSchemaKnowledge(ctx, knowledge.SchemaFact{
			TableName:     rel.ChildTable,
			ColumnName:    rel.ChildColumn,
			KnowledgeType: knowledge.KnowledgeRelationship,
			Data:          string(data),
			Confidence:    rel.Confidence,
		}); err != nil {
			a.logger.WarnContext(ctx, "persist relationship failed", slog.Any("error", err))
		}
	}
	for _, table := range analysis.Tables {
		for _, column := range sortedKeys(table.Histograms) {
			data, _ := json.Marshal(table.Histograms[column])
			if err := a.knowledge.RecordSchemaKnowledge(ctx, knowledge.SchemaFact{
				TableName:     table.Name,
				ColumnName:    column,
				KnowledgeType: knowledge.KnowledgeTimestamp,
				Data:          string(data),
				Confidence:    1,
			}); err != nil {
				a.logger.WarnContext(ctx, "persist time distribution failed", slog.Any("error", err))
			}
		}
	}
}

// DetectRelationships proposes a foreign key for every column named
// <table>_id, other than a bare id, whose prefix names another table.
func DetectRelationships(tables []TableInsight) []Relationship {
	out := []Relationship{}
	for _, child := range tables {
		for _, column := range child.Columns {
			name := strings.ToLower(column.Name)
			if name == "id" || !strings.HasSuffix(name, "_id") {
				continue
			}
			prefix := strings.TrimSuffix(name, "_id")
			for _, parent := range tables {
				if strings.EqualFold(parent.Name, prefix) {
					out = append(out, Relationship{
						ChildTable:   child.Name,
						ChildColumn:  column.Name,
						ParentTable:  parent.Name,
						ParentColumn: "id",
						Confidence:   relationshipConfidence,
					})
				}
			}
		}
	}
	return out
}

// IsTimestampColumn matches columns named like a time or typed as a date or
// time.
func IsTimestampColumn(column datasource.Column) bool {
	name := strings.ToLower(column.Name)
	typ := strings.ToLower(column.Type)
	return strings.Contains(name, "time") || strings.Contains(typ, "date") || strings.Contains(typ, "time")
}

func toInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int32:
		return int64(typed)
	case int:
		return int64(typed)
	case uint64:
		return int64(typed)
	case float64:
		return int64(typed)
	default:
		var n int64
		_, _ = fmt.Sscan(fmt.Sprint(typed), &n)
		return n
	}
}

func formatDay(value any) string {
	if ts, ok := value.(time.Time); ok {
		return ts.UTC().Format(time.DateOnly)
	}
	return fmt.Sprint(value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
