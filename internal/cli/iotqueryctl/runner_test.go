package iotqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	apiKey string
	body   map[string]any
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.apiKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunAskCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"success":true,"count":3}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"ask", "how", "many", "alerts",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/query/ask" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.apiKey != "k1" {
		t.Fatalf("api key = %q", got.apiKey)
	}
	if got.body["question"] != "how many alerts" {
		t.Fatalf("body = %v", got.body)
	}
	if !strings.Contains(stdout.String(), `"count": 3`) {
		t.Fatalf("stdout = %s, want pretty JSON", stdout.String())
	}
}

func TestRunTranslateRequiresQuestion(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"translate"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunQueryParameterCommands(t *testing.T) {
	cases := []struct {
		args      []string
		wantPath  string
		wantQuery string
	}{
		{args: []string{"stats", "--days", "30"}, wantPath: "/v1/knowledge/stats", wantQuery: "days=30"},
		{args: []string{"stats"}, wantPath: "/v1/knowledge/stats", wantQuery: ""},
		{args: []string{"examples", "--limit", "3", "alerts"}, wantPath: "/v1/knowledge/examples", wantQuery: "limit=3&q=alerts"},
		{args: []string{"schema", "--refresh"}, wantPath: "/v1/schema", wantQuery: "refresh=true"},
		{args: []string{"vocabulary", "--min-confidence", "0.5"}, wantPath: "/v1/knowledge/vocabulary", wantQuery: "min_confidence=0.5"},
		{args: []string{"providers"}, wantPath: "/v1/query/providers", wantQuery: ""},
		{args: []string{"providers", "check"}, wantPath: "/v1/query/providers/health", wantQuery: ""},
	}
	for _, tc := range cases {
		srv, got := newRecordingServer(t, http.StatusOK, `{}`)
		code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
		if code != 0 {
			t.Fatalf("%v: exit code = %d", tc.args, code)
		}
		if got.method != http.MethodGet || got.path != tc.wantPath || got.query != tc.wantQuery {
			t.Fatalf("%v: request = %s %s?%s", tc.args, got.method, got.path, got.query)
		}
	}
}

func TestRunExportAndImportCommands(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"key":"query_history/x.parquet"}`)
	code := Run(context.Background(), []string{"--base-url", srv.URL, "export", "--since", "2024-03-01T00:00:00Z"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/knowledge/export" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.body["since"] != "2024-03-01T00:00:00Z" {
		t.Fatalf("body = %v", got.body)
	}

	code = Run(context.Background(), []string{"--base-url", srv.URL, "import", "query_history/x.parquet"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/knowledge/import" || got.body["key"] != "query_history/x.parquet" {
		t.Fatalf("request = %s body = %v", got.path, got.body)
	}

	var stderr bytes.Buffer
	code = Run(context.Background(), []string{"--base-url", srv.URL, "export", "--since", "yesterday"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunProvidersSwitchCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"preferred":"openai"}`)
	code := Run(context.Background(), []string{"--base-url", srv.URL, "providers", "switch", "openai"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/query/providers/switch" || got.body["provider"] != "openai" {
		t.Fatalf("request = %s %s body = %v", got.method, got.path, got.body)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusForbidden, `{"error_code":"FORBIDDEN"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "health"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 403") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand(Options{}, io.Discard, io.Discard)
	for _, name := range []string{"ask", "translate", "providers", "health", "ready", "schema", "stats", "examples", "vocabulary", "export", "import"} {
		sub, _, err := root.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("Find(%q) = %v, %v", name, sub, err)
		}
	}
}
