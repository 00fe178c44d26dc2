package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	KnowledgeRelationship = "relationship"
	KnowledgeTimestamp    = "timestamp_column"
)

// SchemaFact is one persisted observation about the data source schema.
// Data is an opaque JSON document.
type SchemaFact struct {
	TableName     string    `json:"table_name"`
	ColumnName    string    `json:"column_name"`
	KnowledgeType string    `json:"knowledge_type"`
	Data          string    `json:"knowledge_data"`
	Confidence    float64   `json:"confidence"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecordSchemaKnowledge upserts a fact keyed on (table, column, type).
func (s *Store) RecordSchemaKnowledge(ctx context.Context, fact SchemaFact) error {
	if strings.TrimSpace(fact.TableName) == "" || strings.TrimSpace(fact.KnowledgeType) == "" {
		return errors.New("schema knowledge requires table name and knowledge type")
	}
	data := fact.Data
	if data == "" {
		data = "{}"
	}
	now := s.timestamp(s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schema_knowledge (table_name, column_name, knowledge_type, knowledge_data, confidence, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (table_name, column_name, knowledge_type) DO UPDATE SET
	knowledge_data = excluded.knowledge_data,
	confidence = excluded.confidence,
	updated_at = excluded.updated_at`,
		fact.TableName, fact.ColumnName, fact.KnowledgeType, data, fact.Confidence, now, now)
	if err != nil {
		return fmt.Errorf("record schema knowledge: %w", err)
	}
	return nil
}

// SchemaKnowledge lists facts for table, or for every table when table is
// empty.
func (s *Store) SchemaKnowledge(ctx context.Context, table string) ([]SchemaFact, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, column_name, knowledge_type, knowledge_data, confidence, updated_at
FROM schema_knowledge
WHERE ? = '' OR table_name = ?
ORDER BY table_name, column_name, knowledge_type`, table, table)
	if err != nil {
		return nil, fmt.Errorf("query schema knowledge: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SchemaFact
	for rows.Next() {
		var (
			fact      SchemaFact
			updatedAt string
		)
		if err := rows.Scan(&fact.TableName, &fact.ColumnName, &fact.KnowledgeType, &fact.Data, &fact.Confidence, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan schema knowledge: %w", err)
		}
		fact.UpdatedAt = parseTimestamp(updatedAt)
		out = append(out, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
