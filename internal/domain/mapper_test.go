package domain

import (
	"errors"
	"reflect"
	"testing"
)

func mustBuiltin(t *testing.T, name string) *Mapper {
	t.Helper()
	m, err := Builtin(name)
	if err != nil {
		t.Fatalf("Builtin(%q) error = %v", name, err)
	}
	return m
}

func TestBuiltinMappingsLoad(t *testing.T) {
	for _, name := range BuiltinNames() {
		m := mustBuiltin(t, name)
		if m.Name() != name {
			t.Fatalf("Name() = %q, want %q", m.Name(), name)
		}
		if len(m.Tables()) == 0 {
			t.Fatalf("%s: no tables", name)
		}
	}
}

func TestSuggestTablesPrefersPatternMatches(t *testing.T) {
	m := mustBuiltin(t, "process")
	got := m.SuggestTables("show me current signal values")
	if len(got) == 0 || got[0] != "SIGNALVALUE" {
		t.Fatalf("SuggestTables() = %v, want SIGNALVALUE first", got)
	}
	if len(got) > 2 {
		t.Fatalf("SuggestTables() returned %d tables", len(got))
	}
}

func TestSuggestTablesIoT(t *testing.T) {
	m := mustBuiltin(t, "iot")
	cases := map[string]string{
		"show me alerts from yesterday":         "AlertLog",
		"count total signals recorded":          "RepData",
		"which devices are offline":             "DevMap",
		"list thresholds for temperature":       "ThreshSet",
		"devices in building A":                 "DevMap",
		"show me sensor_readings from last week": "RepData",
	}
	for text, want := range cases {
		got := m.SuggestTables(text)
		if len(got) == 0 || got[0] != want {
			t.Fatalf("SuggestTables(%q) = %v, want %s first", text, got, want)
		}
	}
}

func TestSuggestTablesTiesKeepDeclarationOrder(t *testing.T) {
	m, err := New(File{
		Tables: []TableSpec{
			{Name: "First", Terms: []string{"pump"}},
			{Name: "Second", Terms: []string{"tank"}},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := m.SuggestTables("tank and pump")
	if !reflect.DeepEqual(got, []string{"First", "Second"}) {
		t.Fatalf("SuggestTables() = %v", got)
	}
}

func TestSuggestTablesEmptyInput(t *testing.T) {
	m := mustBuiltin(t, "iot")
	if got := m.SuggestTables("   "); len(got) != 0 {
		t.Fatalf("SuggestTables() = %v, want empty", got)
	}
	if got := m.SuggestTables("xyzabc123nonsense"); len(got) != 0 {
		t.Fatalf("SuggestTables() = %v, want empty", got)
	}
}

func TestTableForNormalizesTerms(t *testing.T) {
	m := mustBuiltin(t, "iot")
	for _, term := range []string{"sensor_data", "Sensor Data", "  sensor   data "} {
		table, ok := m.TableFor(term)
		if !ok || table != "RepData" {
			t.Fatalf("TableFor(%q) = %q, %v", term, table, ok)
		}
	}
	if _, ok := m.TableFor("spaceship"); ok {
		t.Fatal("TableFor(spaceship) should not resolve")
	}
}

func TestReverseLookupIsSorted(t *testing.T) {
	m := mustBuiltin(t, "iot")
	terms := m.ReverseLookup("LocRef")
	if len(terms) == 0 {
		t.Fatal("ReverseLookup() returned nothing")
	}
	for i := 1; i < len(terms); i++ {
		if terms[i-1] > terms[i] {
			t.Fatalf("ReverseLookup() not sorted: %v", terms)
		}
	}
}

func TestExpandSynonyms(t *testing.T) {
	m := mustBuiltin(t, "iot")
	got := m.ExpandSynonyms("crossed")
	if got[0] != "crossed" || len(got) != 5 {
		t.Fatalf("ExpandSynonyms(crossed) = %v", got)
	}
	got = m.ExpandSynonyms("breached")
	if got[0] != "crossed" {
		t.Fatalf("ExpandSynonyms(breached) = %v", got)
	}
	got = m.ExpandSynonyms("Gizmo")
	if !reflect.DeepEqual(got, []string{"Gizmo"}) {
		t.Fatalf("ExpandSynonyms(Gizmo) = %v", got)
	}
}

func TestExpandSynonymsFirstOwnerWins(t *testing.T) {
	m := mustBuiltin(t, "iot")
	got := m.ExpandSynonyms("critical")
	if got[0] != "high" {
		t.Fatalf("ExpandSynonyms(critical) = %v, want owner high", got)
	}
}

func TestOperatorFor(t *testing.T) {
	m := mustBuiltin(t, "process")
	cases := map[string]string{
		"greater than": ">",
		"Below":        "<",
		"between":      "BETWEEN",
		"contains":     "LIKE",
		"roughly":      "=",
	}
	for phrase, want := range cases {
		if got := m.OperatorFor(phrase); got != want {
			t.Fatalf("OperatorFor(%q) = %q, want %q", phrase, got, want)
		}
	}
}

func TestColumnAliases(t *testing.T) {
	m := mustBuiltin(t, "iot")
	got := m.ColumnAliases("RepData", "value")
	if len(got) == 0 || got[0] != "measurement" {
		t.Fatalf("ColumnAliases() = %v", got)
	}
	if got := m.ColumnAliases("RepData", "created_at"); !reflect.DeepEqual(got, []string{"created_at"}) {
		t.Fatalf("ColumnAliases(created_at) = %v", got)
	}
}

func TestFallbackTable(t *testing.T) {
	m := mustBuiltin(t, "process")
	cases := map[string]string{
		"what happened in history":         "REPDATA",
		"list equipment groups":            "CHANNELGROUP",
		"configure signal definition":      "SIGNALITEM",
		"tell me about the signal":         "SIGNALVALUE",
		"what is happening now":            "SIGNALVALUE",
		"what do you know":                 "SIGNALITEM",
		"xyzabc123nonsense":                "SIGNALITEM",
		"show the external systems please": "ADDRESS",
	}
	for text, want := range cases {
		if got := m.FallbackTable(text); got != want {
			t.Fatalf("FallbackTable(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestConditions(t *testing.T) {
	m := mustBuiltin(t, "iot")
	got := m.Conditions("AlertLog", "devices that crossed limits")
	if len(got) != 1 || got[0].Column != "alert_type" || got[0].Value != "threshold_exceeded" {
		t.Fatalf("Conditions() = %+v", got)
	}
	if got := m.Conditions("RepData", "crossed"); len(got) != 0 {
		t.Fatalf("Conditions(RepData) = %+v", got)
	}
	if got := m.Conditions("Missing", "crossed"); got != nil {
		t.Fatalf("Conditions(Missing) = %+v", got)
	}
}

func TestBoundsFor(t *testing.T) {
	m := mustBuiltin(t, "iot")
	got, ok := m.BoundsFor("RepData", "signals that crossed the limits")
	if !ok {
		t.Fatal("BoundsFor(RepData) ok = false")
	}
	want := BoundsSpec{Table: "ThreshSet", LocalKey: "sensor_type", ForeignKey: "sensor_type", LowColumn: "min_value", HighColumn: "max_value"}
	got.Phrases = nil
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BoundsFor() = %+v, want %+v", got, want)
	}
	if _, ok := m.BoundsFor("RepData", "latest signals"); ok {
		t.Fatal("BoundsFor() matched without a bounds phrase")
	}
	if _, ok := m.BoundsFor("AlertLog", "crossed"); ok {
		t.Fatal("BoundsFor(AlertLog) ok = true")
	}
}

func TestParseRejectsInvalidMappings(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"malformed": "tables: [",
		"unknown field": `
tables:
  - name: A
    colour: red
`,
		"duplicate term": `
tables:
  - name: A
    terms: [pump]
  - name: B
    terms: [Pump]
`,
		"bad pattern": `
tables:
  - name: A
    patterns: ['(']
`,
		"bad operator": `
tables:
  - name: A
operators:
  roughly: "~"
`,
		"unknown fallback table": `
tables:
  - name: A
fallback:
  - phrases: [x]
    table: B
`,
		"unknown default": `
default_table: Z
tables:
  - name: A
`,
		"time column and join": `
tables:
  - name: A
    time_column: ts
    time_join: {table: B, local_key: id, foreign_key: id, time_column: ts}
`,
		"bounds without numeric column": `
tables:
  - name: A
    bounds: {phrases: [crossed], table: B, local_key: k, foreign_key: k, low_column: lo, high_column: hi}
`,
		"bounds without phrases": `
tables:
  - name: A
    numeric_column: v
    bounds: {phrases: [], table: B, local_key: k, foreign_key: k, low_column: lo, high_column: hi}
`,
		"invalid identifier": `
tables:
  - name: "A; DROP"
`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: Parse() error = %v, want ErrConfiguration", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mapping.yaml"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := Resolve("unknown-builtin.yaml"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestEmptyTimeLayoutIsKept(t *testing.T) {
	m, err := Parse([]byte("time_layout: \"\"\ntables:\n  - name: A\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.TimeLayout() != "" {
		t.Fatalf("TimeLayout() = %q", m.TimeLayout())
	}
	if m.DefaultTable() != "A" {
		t.Fatalf("DefaultTable() = %q", m.DefaultTable())
	}
}
