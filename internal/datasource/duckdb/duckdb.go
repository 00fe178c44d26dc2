// Package duckdb is the embedded analytics datasource. Besides native DuckDB
// tables it can expose parquet files, local or fetched from an object store,
// as views.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/iotquery/iotquery/internal/datasource"
	"github.com/iotquery/iotquery/internal/storage"
)

// ParquetSource exposes Paths (local files) and ObjectKeys (fetched from
// the configured store) as one view named Table.
type ParquetSource struct {
	Table      string
	Paths      []string
	ObjectKeys []string
}

type Config struct {
	// Path is the database file; empty means in-memory.
	Path    string
	Parquet []ParquetSource
	Store   storage.ObjectStore
}

type Database struct {
	cfg     Config
	db      *sql.DB
	workDir string
}

func New(cfg Config) *Database {
	return &Database{cfg: cfg}
}

func (d *Database) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	db, err := sql.Open("duckdb", d.cfg.Path)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping duckdb: %w", err)
	}
	d.db = db

	if err := d.registerParquet(ctx); err != nil {
		_ = d.Close()
		return err
	}
	return nil
}

func (d *Database) registerParquet(ctx context.Context) error {
	for index, source := range d.cfg.Parquet {
		if strings.TrimSpace(source.Table) == "" {
			return fmt.Errorf("parquet source %d has no table name", index)
		}
		paths := append([]string(nil), source.Paths...)
		for keyIndex, key := range source.ObjectKeys {
			localPath, err := d.fetchObject(ctx, source.Table, key, keyIndex)
			if err != nil {
				return err
			}
			paths = append(paths, localPath)
		}
		if len(paths) == 0 {
			return fmt.Errorf("parquet source %q has no files", source.Table)
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, datasource.QuoteIdent(source.Table), quoteStringArray(paths))
		if _, err := d.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", source.Table, err)
		}
	}
	return nil
}

func (d *Database) fetchObject(ctx context.Context, table, key string, index int) (string, error) {
	if d.cfg.Store == nil {
		return "", fmt.Errorf("object store is required for parquet object %q", key)
	}
	if d.workDir == "" {
		workDir, err := os.MkdirTemp("", "iotquery-parquet-")
		if err != nil {
			return "", fmt.Errorf("create parquet temp dir: %w", err)
		}
		d.workDir = workDir
	}
	reader, err := d.cfg.Store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	localPath := filepath.Join(d.workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table), index))
	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(localPath)
		return "", fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("close local parquet file %q: %w", localPath, err)
	}
	return localPath, nil
}

func (d *Database) Tables(ctx context.Context) ([]string, error) {
	if d.db == nil {
		return nil, datasource.ErrNotConnected
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main'
ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func (d *Database) TableSchema(ctx context.Context, table string) ([]datasource.Column, error) {
	if d.db == nil {
		return nil, datasource.ErrNotConnected
	}
	rows, err := d.db.QueryContext(ctx, "PRAGMA table_info("+quoteString(table)+")")
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
			return nil, fmt.Errorf("%w: %s", datasource.ErrUnknownTable, table)
		}
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	columns, err := datasource.ScanTableInfo(rows)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", datasource.ErrUnknownTable, table)
	}
	return columns, nil
}

func (d *Database) Query(ctx context.Context, sqlText string, params ...any) ([]datasource.Row, error) {
	if d.db == nil {
		return nil, datasource.ErrNotConnected
	}
	sqlText = datasource.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	rows, err := d.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return datasource.ScanRows(rows)
}

func (d *Database) Dialect() datasource.Dialect {
	return datasource.DialectDuckDB
}

func (d *Database) Close() error {
	var err error
	if d.db != nil {
		err = d.db.Close()
		d.db = nil
	}
	if d.workDir != "" {
		_ = os.RemoveAll(d.workDir)
		d.workDir = ""
	}
	return err
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
