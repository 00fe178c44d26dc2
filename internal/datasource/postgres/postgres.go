// Package postgres is the networked RDBMS datasource, using pgx through
// database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iotquery/iotquery/internal/datasource"
)

type Config struct {
	DSN             string
	Schema          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type Database struct {
	cfg Config
	db  *sql.DB
}

func New(cfg Config) *Database {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	return &Database{cfg: cfg}
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB, schema string) *Database {
	d := New(Config{Schema: schema})
	d.db = db
	return d
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	return db, nil
}

func (d *Database) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	db, err := Open(ctx, d.cfg)
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

func (d *Database) Tables(ctx context.Context) ([]string, error) {
	if d.db == nil {
		return nil, datasource.ErrNotConnected
	}
	rows, err := d.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name`, d.cfg.Schema)
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
	rows, err := d.db.QueryContext(ctx, `
SELECT c.column_name, c.data_type, c.is_nullable = 'YES' AS nullable,
	EXISTS (
		SELECT 1
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage k
			ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND k.column_name = c.column_name
	) AS primary_key
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`, d.cfg.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []datasource.Column
	for rows.Next() {
		var column datasource.Column
		if err := rows.Scan(&column.Name, &column.Type, &column.Nullable, &column.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
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
	rows, err := d.db.QueryContext(ctx, Rebind(datasource.StripTrailingSemicolons(sqlText)), params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return datasource.ScanRows(rows)
}

func (d *Database) Dialect() datasource.Dialect {
	return datasource.DialectPostgres
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Rebind rewrites "?" placeholders to $1..$n, leaving quoted literals and
// identifiers untouched.
func Rebind(sqlText string) string {
	var (
		b     strings.Builder
		n     int
		quote rune
	)
	b.Grow(len(sqlText) + 8)
	for _, r := range sqlText {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			b.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			b.WriteRune(r)
		case r == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
