package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// RecordInput describes one executed (or attempted) query.
type RecordInput struct {
	NaturalQuery string
	GeneratedSQL string
	Params       []any
	Success      bool
	LatencyMs    float64
	ResultCount  int
	Provider     string
	Model        string
	Source       string
	Confidence   float64
	Error        string
}

// QueryRecord is a stored query_history row.
type QueryRecord struct {
	ID           int64     `json:"id"`
	NaturalQuery string    `json:"natural_query"`
	GeneratedSQL string    `json:"generated_sql"`
	ParamsJSON   string    `json:"params_json"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"execution_time_ms"`
	ResultCount  int       `json:"result_count"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Source       string    `json:"source"`
	Confidence   float64   `json:"confidence"`
	Error        string    `json:"error_message,omitempty"`
	QueryHash    string    `json:"query_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Record upserts a query on (query_hash, generated_sql) and then updates the
// learned vocabulary and patterns. Learning failures are logged, not
// returned.
func (s *Store) Record(ctx context.Context, in RecordInput) (int64, error) {
	params := in.Params
	if params == nil {
		params = []any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	confidence := in.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	if confidence > 1 {
		confidence = 1
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO query_history (
	natural_query, generated_sql, params_json, success, execution_time_ms, result_count,
	provider, model, source, confidence, error_message, query_hash, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (query_hash, generated_sql) DO UPDATE SET
	natural_query = excluded.natural_query,
	params_json = excluded.params_json,
	success = excluded.success,
	execution_time_ms = excluded.execution_time_ms,
	result_count = excluded.result_count,
	provider = excluded.provider,
	model = excluded.model,
	source = excluded.source,
	confidence = excluded.confidence,
	error_message = excluded.error_message,
	created_at = excluded.created_at
RETURNING id`,
		in.NaturalQuery, in.GeneratedSQL, string(paramsJSON), boolToInt(in.Success), in.LatencyMs, in.ResultCount,
		in.Provider, in.Model, in.Source, confidence, in.Error, QueryHash(in.NaturalQuery), s.timestamp(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record query: %w", err)
	}

	if err := s.learn(ctx, in.NaturalQuery, in.GeneratedSQL, in.Success); err != nil {
		s.logger.WarnContext(ctx, "knowledge learning failed",
			slog.Int64("query_id", id),
			slog.Any("error", err),
		)
	}
	return id, nil
}

// History returns every recorded query created at or after since, oldest
// first.
func (s *Store) History(ctx context.Context, since time.Time) ([]QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, natural_query, generated_sql, params_json, success, execution_time_ms, result_count,
	provider, model, source, confidence, error_message, query_hash, created_at
FROM query_history
WHERE created_at >= ?
ORDER BY created_at ASC, id ASC`, s.timestamp(since))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueryRecord
	for rows.Next() {
		var (
			record    QueryRecord
			success   int
			createdAt string
		)
		if err := rows.Scan(
			&record.ID, &record.NaturalQuery, &record.GeneratedSQL, &record.ParamsJSON, &success,
			&record.LatencyMs, &record.ResultCount, &record.Provider, &record.Model, &record.Source,
			&record.Confidence, &record.Error, &record.QueryHash, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		record.Success = success != 0
		record.CreatedAt = parseTimestamp(createdAt)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Import inserts records that are not already present. Existing rows keep
// their values. It returns the number of rows inserted.
func (s *Store) Import(ctx context.Context, records []QueryRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO query_history (
	natural_query, generated_sql, params_json, success, execution_time_ms, result_count,
	provider, model, source, confidence, error_message, query_hash, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (query_hash, generated_sql) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, record := range records {
		hash := record.QueryHash
		if hash == "" {
			hash = QueryHash(record.NaturalQuery)
		}
		paramsJSON := record.ParamsJSON
		if paramsJSON == "" {
			paramsJSON = "[]"
		}
		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		result, err := stmt.ExecContext(ctx,
			record.NaturalQuery, record.GeneratedSQL, paramsJSON, boolToInt(record.Success), record.LatencyMs,
			record.ResultCount, record.Provider, record.Model, record.Source, record.Confidence, record.Error,
			hash, s.timestamp(createdAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("import query %q: %w", record.NaturalQuery, err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return inserted, nil
}

// Example is a successful past query offered to a generator as a few-shot
// sample.
type Example struct {
	NaturalQuery string    `json:"natural_query"`
	GeneratedSQL string    `json:"generated_sql"`
	Confidence   float64   `json:"confidence"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`
}

func scanExamples(rows *sql.Rows) ([]Example, error) {
	defer func() { _ = rows.Close() }()
	var out []Example
	for rows.Next() {
		example, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, example)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func scanExample(rows *sql.Rows) (Example, error) {
	var (
		example   Example
		createdAt string
	)
	if err := rows.Scan(&example.NaturalQuery, &example.GeneratedSQL, &example.Confidence, &example.Provider, &createdAt); err != nil {
		return Example{}, fmt.Errorf("scan example: %w", err)
	}
	example.CreatedAt = parseTimestamp(createdAt)
	return example, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
