// Package datasource defines the read-only database collaborator the query
// pipeline executes against, plus helpers shared by its implementations.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

var (
	ErrNotConnected = errors.New("database is not connected")
	ErrUnknownTable = errors.New("unknown table")
)

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// Row maps column name to value. []byte values are returned as strings.
type Row map[string]any

// Database executes parameterized SELECTs and describes its schema.
// Placeholders are "?" for every dialect.
type Database interface {
	Connect(ctx context.Context) error
	Tables(ctx context.Context) ([]string, error)
	TableSchema(ctx context.Context, table string) ([]Column, error)
	Query(ctx context.Context, sqlText string, params ...any) ([]Row, error)
	Dialect() Dialect
	Close() error
}

// ScanRows drains rows into maps and closes them.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ScanTableInfo reads the (cid, name, type, notnull, dflt_value, pk) shape
// returned by PRAGMA table_info in SQLite and DuckDB.
func ScanTableInfo(rows *sql.Rows) ([]Column, error) {
	defer func() { _ = rows.Close() }()

	var out []Column
	for rows.Next() {
		var (
			cid      any
			name     string
			typ      any
			notNull  any
			defValue any
			pk       any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		out = append(out, Column{
			Name:       name,
			Type:       fmt.Sprint(normalizeValue(typ)),
			Nullable:   !truthy(notNull),
			PrimaryKey: truthy(pk),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	return out, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case int64:
		return typed != 0
	case int32:
		return typed != 0
	case int:
		return typed != 0
	case []byte:
		return string(typed) != "" && string(typed) != "0"
	case string:
		return typed != "" && typed != "0"
	default:
		return false
	}
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// DayExpr truncates a timestamp column to its calendar day.
func DayExpr(dialect Dialect, column string) string {
	if dialect == DialectSQLite {
		return "DATE(" + column + ")"
	}
	return "CAST(" + column + " AS DATE)"
}

// StripTrailingSemicolons removes trailing statement terminators so the text
// can be embedded or executed as a single statement.
func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
