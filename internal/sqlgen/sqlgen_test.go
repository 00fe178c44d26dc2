package sqlgen

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/intent"
	"github.com/iotquery/iotquery/internal/timeparse"
)

var fixedNow = time.Date(2024, time.March, 13, 15, 30, 0, 0, time.UTC)

func extract(t *testing.T, mapping, text string) (intent.Intent, *domain.Mapper) {
	t.Helper()
	mapper, err := domain.Builtin(mapping)
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	e := intent.NewExtractor(mapper, &timeparse.Parser{Now: func() time.Time { return fixedNow }})
	return e.Extract(text), mapper
}

func synthesize(t *testing.T, mapping, text string) Statement {
	t.Helper()
	in, mapper := extract(t, mapping, text)
	stmt, err := Synthesize(in, mapper)
	if err != nil {
		t.Fatalf("Synthesize(%q) error = %v", text, err)
	}
	if got := strings.Count(stmt.SQL, "?"); got != len(stmt.Params) {
		t.Fatalf("Synthesize(%q) placeholders = %d, params = %d (%s)", text, got, len(stmt.Params), stmt.SQL)
	}
	return stmt
}

func TestSynthesizeCount(t *testing.T) {
	stmt := synthesize(t, "iot", "count total signals recorded")
	if stmt.SQL != "SELECT COUNT(*) FROM RepData" {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
	if len(stmt.Params) != 0 || stmt.Params == nil {
		t.Fatalf("Params = %#v", stmt.Params)
	}
	if !stmt.Aggregated {
		t.Fatal("Aggregated = false")
	}
}

func TestSynthesizeAggregatesHaveNoOrderBy(t *testing.T) {
	for _, text := range []string{
		"average readings last 24 hours",
		"show me the maximum reading",
		"how many alerts yesterday",
		"total readings in celsius",
	} {
		stmt := synthesize(t, "iot", text)
		if strings.Contains(stmt.SQL, "ORDER BY") || strings.Contains(stmt.SQL, "LIMIT") {
			t.Fatalf("%q: aggregate SQL has ORDER BY or LIMIT: %s", text, stmt.SQL)
		}
		if !strings.Contains(stmt.SQL, "(") {
			t.Fatalf("%q: no aggregate function: %s", text, stmt.SQL)
		}
	}
	stmt := synthesize(t, "iot", "average readings")
	if !strings.HasPrefix(stmt.SQL, "SELECT AVG(value) FROM RepData") {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
}

func TestSynthesizeAggregateWithoutNumericColumnCounts(t *testing.T) {
	stmt := synthesize(t, "iot", "maximum locations")
	if !strings.HasPrefix(stmt.SQL, "SELECT COUNT(*) FROM LocRef") {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
}

func TestSynthesizeProjectionOrderAndLimit(t *testing.T) {
	stmt := synthesize(t, "iot", "show top 5 readings")
	want := "SELECT device_id, sensor_type, value, unit, timestamp FROM RepData ORDER BY timestamp DESC LIMIT ?"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q, want %q", stmt.SQL, want)
	}
	if len(stmt.Params) != 1 || stmt.Params[0] != 5 {
		t.Fatalf("Params = %#v", stmt.Params)
	}

	stmt = synthesize(t, "iot", "oldest readings")
	if !strings.Contains(stmt.SQL, "ORDER BY timestamp ASC") {
		t.Fatalf("hint not applied: %s", stmt.SQL)
	}
}

func TestSynthesizeTimeWindow(t *testing.T) {
	stmt := synthesize(t, "iot", "show me alerts from yesterday")
	if !strings.Contains(stmt.SQL, "WHERE timestamp BETWEEN ? AND ?") {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
	if stmt.Params[0] != "2024-03-12 00:00:00" || stmt.Params[1] != "2024-03-12 23:59:59" {
		t.Fatalf("Params = %#v", stmt.Params)
	}
}

func TestSynthesizeFiltersPrecedeTimePredicate(t *testing.T) {
	stmt := synthesize(t, "iot", "readings above 30 in celsius last 2 hours")
	want := "SELECT device_id, sensor_type, value, unit, timestamp FROM RepData WHERE value > ? AND unit LIKE ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp DESC LIMIT ?"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q, want %q", stmt.SQL, want)
	}
	if stmt.Params[0] != 30.0 || stmt.Params[1] != "%°C%" {
		t.Fatalf("Params = %#v", stmt.Params)
	}
}

func TestSynthesizeTimeJoin(t *testing.T) {
	stmt := synthesize(t, "process", "historical data last 3 days")
	want := "SELECT REPDATA.PINSTID, REPDATA.RICODE, REPDATA.NUMVALUE, REPDATA.TEXTVALUE, REPDATA.PCTQUAL FROM REPDATA " +
		"INNER JOIN PROCINSTANCE ON REPDATA.PINSTID = PROCINSTANCE.PINSTID " +
		"WHERE PROCINSTANCE.PINSTSTART BETWEEN ? AND ? ORDER BY REPDATA.PINSTID DESC LIMIT ?"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q\nwant  %q", stmt.SQL, want)
	}

	stmt = synthesize(t, "process", "historical data")
	if strings.Contains(stmt.SQL, "JOIN") {
		t.Fatalf("join without window: %s", stmt.SQL)
	}
}

func TestSynthesizeBindsWindowInUTC(t *testing.T) {
	mapper, err := domain.Builtin("iot")
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	eastern := time.FixedZone("UTC-5", -5*60*60)
	parser := &timeparse.Parser{Now: func() time.Time { return fixedNow.In(eastern) }}
	in := intent.NewExtractor(mapper, parser).Extract("show sensor readings from the last 6 hours")
	stmt, err := Synthesize(in, mapper)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if stmt.Params[0] != "2024-03-13 09:30:00" || stmt.Params[1] != "2024-03-13 15:30:00" {
		t.Fatalf("Params = %#v", stmt.Params)
	}
}

func TestSynthesizeBoundsJoin(t *testing.T) {
	stmt := synthesize(t, "iot", "Which signals crossed the value limits last week?")
	want := "SELECT RepData.device_id, RepData.sensor_type, RepData.value, RepData.unit, RepData.timestamp FROM RepData " +
		"INNER JOIN ThreshSet ON RepData.sensor_type = ThreshSet.sensor_type " +
		"WHERE (RepData.value > ThreshSet.max_value OR RepData.value < ThreshSet.min_value) AND RepData.timestamp BETWEEN ? AND ? " +
		"ORDER BY RepData.timestamp DESC LIMIT ?"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q\nwant  %q", stmt.SQL, want)
	}

	stmt = synthesize(t, "iot", "how many signals exceeded limits")
	want = "SELECT COUNT(*) FROM RepData INNER JOIN ThreshSet ON RepData.sensor_type = ThreshSet.sensor_type " +
		"WHERE (RepData.value > ThreshSet.max_value OR RepData.value < ThreshSet.min_value)"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q\nwant  %q", stmt.SQL, want)
	}

	stmt = synthesize(t, "iot", "latest signals")
	if strings.Contains(stmt.SQL, "ThreshSet") {
		t.Fatalf("bounds without phrase: %s", stmt.SQL)
	}
}

func TestSynthesizeRejectsUnsafeBounds(t *testing.T) {
	mapper, err := domain.Builtin("iot")
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	bounds := &domain.BoundsSpec{Table: "ThreshSet", LocalKey: "sensor_type", ForeignKey: "sensor_type", LowColumn: "min_value", HighColumn: "1) OR (1"}
	if _, err := Synthesize(intent.Intent{Tables: []string{"RepData"}, Bounds: bounds}, mapper); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("Synthesize() error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestSynthesizeBindsTimeValuesWithoutLayout(t *testing.T) {
	mapper, err := domain.Parse([]byte(`
time_layout: ""
tables:
  - name: Events
    terms: [events]
    time_column: ts
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	window := &timeparse.Window{Start: fixedNow.Add(-time.Hour), End: fixedNow}
	stmt, err := Synthesize(intent.Intent{Tables: []string{"Events"}, Window: window, Limit: 10}, mapper)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if _, ok := stmt.Params[0].(time.Time); !ok {
		t.Fatalf("Params[0] = %#v, want time.Time", stmt.Params[0])
	}
	if stmt.SQL != "SELECT * FROM Events WHERE ts BETWEEN ? AND ? LIMIT ?" {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
}

func TestSynthesizeRejectsUnsafeInput(t *testing.T) {
	mapper, err := domain.Builtin("iot")
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	if _, err := Synthesize(intent.Intent{}, mapper); !errors.Is(err, ErrNoTable) {
		t.Fatalf("empty intent error = %v", err)
	}
	if _, err := Synthesize(intent.Intent{Tables: []string{"RepData; DROP TABLE x"}}, mapper); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("table injection error = %v", err)
	}
	bad := intent.Intent{Tables: []string{"RepData"}, Filters: []intent.Filter{{Column: "value) OR (1", Operator: "=", Value: 1}}}
	if _, err := Synthesize(bad, mapper); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("column injection error = %v", err)
	}
	bad = intent.Intent{Tables: []string{"RepData"}, Filters: []intent.Filter{{Column: "value", Operator: "; --", Value: 1}}}
	if _, err := Synthesize(bad, mapper); !errors.Is(err, ErrInvalidOperator) {
		t.Fatalf("operator injection error = %v", err)
	}
}

func TestSynthesizedStatementsExecuteOnSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	schema := []string{
		`CREATE TABLE RepData (id INTEGER PRIMARY KEY, device_id TEXT, sensor_type TEXT, value REAL, unit TEXT, timestamp DATETIME, quality_flag INTEGER DEFAULT 1)`,
		`CREATE TABLE AlertLog (id INTEGER PRIMARY KEY, device_id TEXT, sensor_type TEXT, alert_type TEXT, threshold_value REAL, actual_value REAL, severity TEXT, timestamp DATETIME, acknowledged BOOLEAN DEFAULT 0)`,
		`CREATE TABLE ThreshSet (id INTEGER PRIMARY KEY, sensor_type TEXT, min_value REAL, max_value REAL)`,
		`INSERT INTO RepData (device_id, sensor_type, value, unit, timestamp) VALUES ('d1', 'temperature', 42.5, '°C', '2024-03-13 15:00:00')`,
		`INSERT INTO RepData (device_id, sensor_type, value, unit, timestamp) VALUES ('d2', 'temperature', 25.0, '°C', '2024-03-13 15:10:00')`,
		`INSERT INTO ThreshSet (sensor_type, min_value, max_value) VALUES ('temperature', 10, 40)`,
		`INSERT INTO AlertLog (device_id, sensor_type, alert_type, threshold_value, actual_value, severity, timestamp) VALUES ('d1', 'temperature', 'threshold_exceeded', 40, 42.5, 'high', '2024-03-12 10:00:00')`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	cases := map[string]int{
		"readings above 30 in celsius last 2 hours": 1,
		"show me alerts from yesterday":             1,
		"alerts that crossed limits this week":      1,
		"readings with bad quality":                 0,
		"signals that exceeded limits today":        1,
	}
	for text, want := range cases {
		stmt := synthesize(t, "iot", text)
		rows, err := db.QueryContext(ctx, stmt.SQL, stmt.Params...)
		if err != nil {
			t.Fatalf("%q: query %s: %v", text, stmt.SQL, err)
		}
		count := 0
		for rows.Next() {
			count++
		}
		if err := rows.Err(); err != nil {
			t.Fatalf("%q: rows: %v", text, err)
		}
		_ = rows.Close()
		if count != want {
			t.Fatalf("%q: rows = %d, want %d (%s %v)", text, count, want, stmt.SQL, stmt.Params)
		}
	}
}
