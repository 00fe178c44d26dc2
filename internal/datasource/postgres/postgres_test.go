package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/iotquery/iotquery/internal/datasource"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestRebind(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM t WHERE a = ? AND b BETWEEN ? AND ?": "SELECT * FROM t WHERE a = $1 AND b BETWEEN $2 AND $3",
		"SELECT '?' AS q, \"we?rd\" FROM t WHERE a = ?":     "SELECT '?' AS q, \"we?rd\" FROM t WHERE a = $1",
		"SELECT 1":                                          "SELECT 1",
	}
	for in, want := range cases {
		if got := Rebind(in); got != want {
			t.Fatalf("Rebind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQueryRebindsAndScansRows(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewWithDB(db, "")
	now := time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT device_id, value, timestamp FROM repdata WHERE value > $1 LIMIT $2`)).
		WithArgs(30.0, 100).
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "value", "timestamp"}).
			AddRow([]byte("d1"), 42.5, now))

	rows, err := source.Query(context.Background(), "SELECT device_id, value, timestamp FROM repdata WHERE value > ? LIMIT ?;", 30.0, 100)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0]["device_id"] != "d1" || rows[0]["value"] != 42.5 {
		t.Fatalf("row = %+v", rows[0])
	}
	if got, ok := rows[0]["timestamp"].(time.Time); !ok || !got.Equal(now) {
		t.Fatalf("timestamp = %#v", rows[0]["timestamp"])
	}
	assertSQLMock(t, mock)
}

func TestTablesUsesSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewWithDB(db, "iot")

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("iot").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("alertlog").AddRow("repdata"))

	tables, err := source.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(tables) != 2 || tables[0] != "alertlog" {
		t.Fatalf("tables = %v", tables)
	}
	assertSQLMock(t, mock)
}

func TestTableSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewWithDB(db, "")

	mock.ExpectQuery(`FROM information_schema.columns c`).
		WithArgs("public", "repdata").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "primary_key"}).
			AddRow("id", "integer", false, true).
			AddRow("value", "double precision", true, false))
	mock.ExpectQuery(`FROM information_schema.columns c`).
		WithArgs("public", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "primary_key"}))

	columns, err := source.TableSchema(context.Background(), "repdata")
	if err != nil {
		t.Fatalf("TableSchema() error = %v", err)
	}
	if len(columns) != 2 || !columns[0].PrimaryKey || !columns[1].Nullable {
		t.Fatalf("columns = %+v", columns)
	}

	if _, err := source.TableSchema(context.Background(), "missing"); !errors.Is(err, datasource.ErrUnknownTable) {
		t.Fatalf("TableSchema(missing) error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestQueryWrapsDriverErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewWithDB(db, "")

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("relation does not exist"))
	if _, err := source.Query(context.Background(), "SELECT * FROM nope"); err == nil {
		t.Fatal("expected query error")
	}
	if source.Dialect() != datasource.DialectPostgres {
		t.Fatalf("Dialect() = %q", source.Dialect())
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
