// Package sqlite is the embedded-file datasource backed by mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iotquery/iotquery/internal/datasource"
)

type Database struct {
	path string
	db   *sql.DB
}

func New(path string) *Database {
	return &Database{path: path}
}

func (d *Database) Connect(ctx context.Context) error {
	if strings.TrimSpace(d.path) == "" {
		return fmt.Errorf("sqlite path is required")
	}
	if d.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite3", d.path)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}
	d.db = db
	return nil
}

func (d *Database) Tables(ctx context.Context) ([]string, error) {
	if d.db == nil {
		return nil, datasource.ErrNotConnected
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT name FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
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
	rows, err := d.db.QueryContext(ctx, "PRAGMA table_info("+datasource.QuoteIdent(table)+")")
	if err != nil {
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
	rows, err := d.db.QueryContext(ctx, datasource.StripTrailingSemicolons(sqlText), params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return datasource.ScanRows(rows)
}

func (d *Database) Dialect() datasource.Dialect {
	return datasource.DialectSQLite
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
