package config

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("iotquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "iot_demo.db" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.Domain.Mapping != "iot" {
		t.Fatalf("Domain.Mapping = %q", cfg.Domain.Mapping)
	}
	if cfg.Knowledge.Path != "query_knowledge.db" || cfg.Knowledge.ExamplesLimit != 5 || cfg.Knowledge.StatsDays != 7 {
		t.Fatalf("Knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Query.DefaultLimit != 100 || cfg.Query.MaxLimit != 1000 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.Providers != "openai,anthropic" {
		t.Fatalf("AI.Providers = %q", cfg.AI.Providers)
	}
	if cfg.AI.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("AI.OpenAIModel = %q", cfg.AI.OpenAIModel)
	}
	if cfg.Archive.Enabled || cfg.Archive.Dataset != "query_history" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Query.RateLimit != 0 || cfg.Query.RateBurst != 5 {
		t.Fatalf("Query rate = %+v", cfg.Query)
	}
	if cfg.Observability.LogFile != "" || cfg.Observability.LogMaxSizeMB != 100 {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"IOTQUERY_PROFILE": "prod"})
	cfg, err := Load("iotquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
	if cfg.Query.RateLimit != 2 {
		t.Fatalf("Query.RateLimit = %v, want 2 in prod", cfg.Query.RateLimit)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"IOTQUERY_PROFILE":                  "test",
		"IOTQUERY_SERVICE_NAME":             "iotquery-custom",
		"IOTQUERY_HTTP_ADDR":                ":9999",
		"IOTQUERY_HTTP_READ_TIMEOUT":        "2s",
		"IOTQUERY_HTTP_WRITE_TIMEOUT":       "3s",
		"IOTQUERY_LOG_LEVEL":                "error",
		"IOTQUERY_AUTH_REQUIRED":            "true",
		"IOTQUERY_AUTH_STATIC_KEYS":         "k1:ops:query_reader",
		"IOTQUERY_DB_DRIVER":                "postgres",
		"IOTQUERY_DB_DSN":                   "postgres://example",
		"IOTQUERY_DB_SCHEMA":                "plant",
		"IOTQUERY_DOMAIN_MAPPING":           "/etc/iotquery/mapping.yaml",
		"IOTQUERY_KNOWLEDGE_PATH":           "/var/lib/iotquery/knowledge.db",
		"IOTQUERY_KNOWLEDGE_EXAMPLES_LIMIT": "3",
		"IOTQUERY_KNOWLEDGE_STATS_DAYS":     "30",
		"IOTQUERY_QUERY_DEFAULT_LIMIT":      "50",
		"IOTQUERY_QUERY_MAX_LIMIT":          "500",
		"IOTQUERY_QUERY_RATE_LIMIT":         "0.5",
		"IOTQUERY_QUERY_RATE_BURST":         "2",
		"IOTQUERY_AI_ENABLED":               "true",
		"IOTQUERY_AI_PROVIDERS":             "anthropic",
		"IOTQUERY_AI_OPENAI_BASE_URL":       "https://api.example.com",
		"IOTQUERY_AI_OPENAI_API_KEY":        "secret-key",
		"IOTQUERY_AI_OPENAI_MODEL":          "gpt-4.1",
		"IOTQUERY_AI_ANTHROPIC_API_KEY":     "other-key",
		"IOTQUERY_AI_ANTHROPIC_MODEL":       "claude-x",
		"IOTQUERY_AI_TEMPERATURE":           "0.3",
		"IOTQUERY_AI_MAX_TOKENS":            "256",
		"IOTQUERY_AI_TIMEOUT":               "21s",
		"IOTQUERY_ARCHIVE_ENABLED":          "true",
		"IOTQUERY_ARCHIVE_DATASET":          "history",
		"IOTQUERY_ARCHIVE_INTERVAL":         "1h",
		"IOTQUERY_ARCHIVE_SCHEDULE":         "15 3 * * *",
		"IOTQUERY_LOG_FILE":                 "/var/log/iotquery/api.log",
		"IOTQUERY_LOG_MAX_SIZE_MB":          "10",
		"IOTQUERY_OBJECTSTORE_ENDPOINT":     "s3.example.com",
		"IOTQUERY_OBJECTSTORE_BUCKET":       "iotquery-prod",
		"IOTQUERY_OBJECTSTORE_USE_SSL":      "true",
		"IOTQUERY_OBJECTSTORE_PREFIX":       "archive-root",
	})
	cfg, err := Load("iotquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "iotquery-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:ops:query_reader" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://example" || cfg.Database.Schema != "plant" {
		t.Fatalf("Database = %+v", cfg.Database)
	}
	if cfg.Domain.Mapping != "/etc/iotquery/mapping.yaml" {
		t.Fatalf("Domain.Mapping = %q", cfg.Domain.Mapping)
	}
	if cfg.Knowledge.Path != "/var/lib/iotquery/knowledge.db" || cfg.Knowledge.ExamplesLimit != 3 || cfg.Knowledge.StatsDays != 30 {
		t.Fatalf("Knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Query.DefaultLimit != 50 || cfg.Query.MaxLimit != 500 || cfg.Query.RateLimit != 0.5 || cfg.Query.RateBurst != 2 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if !cfg.AI.Enabled || cfg.AI.Providers != "anthropic" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.OpenAIBaseURL != "https://api.example.com" || cfg.AI.OpenAIAPIKey != "secret-key" || cfg.AI.OpenAIModel != "gpt-4.1" {
		t.Fatalf("AI openai = %+v", cfg.AI)
	}
	if cfg.AI.AnthropicAPIKey != "other-key" || cfg.AI.AnthropicModel != "claude-x" {
		t.Fatalf("AI anthropic = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.MaxTokens != 256 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI tuning = %+v", cfg.AI)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Dataset != "history" || cfg.Archive.Interval != time.Hour || cfg.Archive.Schedule != "15 3 * * *" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "iotquery-prod" || cfg.ObjectStore.Prefix != "archive-root" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if cfg.Observability.LogFile != "/var/log/iotquery/api.log" || cfg.Observability.LogMaxSizeMB != 10 {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"IOTQUERY_PROFILE": "oops"},
		{"IOTQUERY_HTTP_READ_TIMEOUT": "NaN"},
		{"IOTQUERY_DB_DRIVER": "oracle"},
		{"IOTQUERY_DB_DSN": ""},
		{"IOTQUERY_DOMAIN_MAPPING": " "},
		{"IOTQUERY_KNOWLEDGE_EXAMPLES_LIMIT": "0"},
		{"IOTQUERY_QUERY_MAX_LIMIT": "oops"},
		{"IOTQUERY_QUERY_DEFAULT_LIMIT": "5000"},
		{"IOTQUERY_AI_TEMPERATURE": "bad"},
		{"IOTQUERY_ARCHIVE_INTERVAL": "-1m"},
		{"IOTQUERY_ARCHIVE_SCHEDULE": "every tuesday"},
		{"IOTQUERY_QUERY_RATE_LIMIT": "-1"},
		{"IOTQUERY_QUERY_RATE_LIMIT": "1", "IOTQUERY_QUERY_RATE_BURST": "0"},
		{"IOTQUERY_LOG_MAX_SIZE_MB": "0"},
		{"IOTQUERY_AUTH_REQUIRED": "not-bool"},
		{"IOTQUERY_LOG_LEVEL": "verbose"},
		{"IOTQUERY_DB_DRIVER": "duckdb", "IOTQUERY_DB_PARQUET": "RepData"},
		{"IOTQUERY_DB_DRIVER": "duckdb", "IOTQUERY_DB_PARQUET": "Rep Data=a.parquet"},
		{"IOTQUERY_DB_DRIVER": "duckdb", "IOTQUERY_DB_PARQUET": "RepData=object:"},
		{"IOTQUERY_DB_PARQUET": "RepData=a.parquet"},
	}
	for _, env := range tests {
		_, err := Load("iotquery-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadParquetSources(t *testing.T) {
	cfg, err := Load("iotquery-api", mapLookup(map[string]string{
		"IOTQUERY_DB_DRIVER":  "duckdb",
		"IOTQUERY_DB_DSN":     "analytics.duckdb",
		"IOTQUERY_DB_PARQUET": "RepData=/data/a.parquet, object:exports/RepData/part-1.parquet; AlertLog=/data/alerts.parquet",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []ParquetSource{
		{Table: "RepData", Paths: []string{"/data/a.parquet"}, ObjectKeys: []string{"exports/RepData/part-1.parquet"}},
		{Table: "AlertLog", Paths: []string{"/data/alerts.parquet"}},
	}
	if !reflect.DeepEqual(cfg.Database.Parquet, want) {
		t.Fatalf("Parquet = %+v, want %+v", cfg.Database.Parquet, want)
	}
	if !cfg.Database.UsesObjectStore() {
		t.Fatal("UsesObjectStore() = false")
	}
	cfg.Database.Parquet = want[1:]
	if cfg.Database.UsesObjectStore() {
		t.Fatal("UsesObjectStore() = true for local files only")
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	_, err := Load("iotquery-api", nil)
	if err == nil || !strings.Contains(err.Error(), "lookup") {
		t.Fatalf("Load(nil) error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
