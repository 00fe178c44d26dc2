package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type LookupFunc func(string) (string, bool)

var parquetTablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Domain        DomainConfig
	Knowledge     KnowledgeConfig
	Query         QueryConfig
	AI            AIConfig
	Archive       ArchiveConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the queried database. DSN is a file path for
// sqlite and duckdb and a connection string for postgres. Parquet is only
// read by the duckdb driver.
type DatabaseConfig struct {
	Driver  string
	DSN     string
	Schema  string
	Parquet []ParquetSource
}

// ParquetSource exposes parquet files as one DuckDB view named Table.
// ObjectKeys are fetched from the object store.
type ParquetSource struct {
	Table      string
	Paths      []string
	ObjectKeys []string
}

// UsesObjectStore reports whether any parquet source reads object keys.
func (c DatabaseConfig) UsesObjectStore() bool {
	for _, source := range c.Parquet {
		if len(source.ObjectKeys) > 0 {
			return true
		}
	}
	return false
}

// DomainConfig.Mapping is a builtin mapping name or a path to a YAML file.
type DomainConfig struct {
	Mapping string
}

type KnowledgeConfig struct {
	Path          string
	ExamplesLimit int
	StatsDays     int
}

// QueryConfig.RateLimit is questions per second per caller; zero disables
// rate limiting.
type QueryConfig struct {
	DefaultLimit int
	MaxLimit     int
	RateLimit    float64
	RateBurst    int
}

type AIConfig struct {
	Enabled          bool
	Providers        string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	AnthropicBaseURL string
	AnthropicAPIKey  string
	AnthropicModel   string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
}

// ArchiveConfig.Interval schedules incremental history exports; zero leaves
// exports to the API. Schedule is a five-field cron expression and wins over
// Interval when both are set.
type ArchiveConfig struct {
	Enabled  bool
	Dataset  string
	Interval time.Duration
	Schedule string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ObservabilityConfig.LogFile, when set, receives a rotated copy of the log
// stream.
type ObservabilityConfig struct {
	LogLevel      slog.Level
	LogJSON       bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("IOTQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid IOTQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "IOTQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "IOTQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "IOTQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "IOTQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "IOTQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "IOTQUERY_DB_DRIVER", &cfg.Database.Driver) },
		func() error { return applyString(lookup, "IOTQUERY_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "IOTQUERY_DB_SCHEMA", &cfg.Database.Schema) },
		func() error { return applyParquetSources(lookup, "IOTQUERY_DB_PARQUET", &cfg.Database.Parquet) },
		func() error { return applyString(lookup, "IOTQUERY_DOMAIN_MAPPING", &cfg.Domain.Mapping) },
		func() error { return applyString(lookup, "IOTQUERY_KNOWLEDGE_PATH", &cfg.Knowledge.Path) },
		func() error { return applyInt(lookup, "IOTQUERY_KNOWLEDGE_EXAMPLES_LIMIT", &cfg.Knowledge.ExamplesLimit) },
		func() error { return applyInt(lookup, "IOTQUERY_KNOWLEDGE_STATS_DAYS", &cfg.Knowledge.StatsDays) },
		func() error { return applyInt(lookup, "IOTQUERY_QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit) },
		func() error { return applyInt(lookup, "IOTQUERY_QUERY_MAX_LIMIT", &cfg.Query.MaxLimit) },
		func() error { return applyFloat(lookup, "IOTQUERY_QUERY_RATE_LIMIT", &cfg.Query.RateLimit) },
		func() error { return applyInt(lookup, "IOTQUERY_QUERY_RATE_BURST", &cfg.Query.RateBurst) },
		func() error { return applyBool(lookup, "IOTQUERY_AI_ENABLED", &cfg.AI.Enabled) },
		func() error { return applyString(lookup, "IOTQUERY_AI_PROVIDERS", &cfg.AI.Providers) },
		func() error { return applyString(lookup, "IOTQUERY_AI_OPENAI_BASE_URL", &cfg.AI.OpenAIBaseURL) },
		func() error { return applyString(lookup, "IOTQUERY_AI_OPENAI_API_KEY", &cfg.AI.OpenAIAPIKey) },
		func() error { return applyString(lookup, "IOTQUERY_AI_OPENAI_MODEL", &cfg.AI.OpenAIModel) },
		func() error { return applyString(lookup, "IOTQUERY_AI_ANTHROPIC_BASE_URL", &cfg.AI.AnthropicBaseURL) },
		func() error { return applyString(lookup, "IOTQUERY_AI_ANTHROPIC_API_KEY", &cfg.AI.AnthropicAPIKey) },
		func() error { return applyString(lookup, "IOTQUERY_AI_ANTHROPIC_MODEL", &cfg.AI.AnthropicModel) },
		func() error { return applyFloat(lookup, "IOTQUERY_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "IOTQUERY_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "IOTQUERY_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyBool(lookup, "IOTQUERY_ARCHIVE_ENABLED", &cfg.Archive.Enabled) },
		func() error { return applyString(lookup, "IOTQUERY_ARCHIVE_DATASET", &cfg.Archive.Dataset) },
		func() error { return applyDuration(lookup, "IOTQUERY_ARCHIVE_INTERVAL", &cfg.Archive.Interval) },
		func() error { return applyString(lookup, "IOTQUERY_ARCHIVE_SCHEDULE", &cfg.Archive.Schedule) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "IOTQUERY_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "IOTQUERY_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "IOTQUERY_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "IOTQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "IOTQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyString(lookup, "IOTQUERY_LOG_FILE", &cfg.Observability.LogFile) },
		func() error { return applyInt(lookup, "IOTQUERY_LOG_MAX_SIZE_MB", &cfg.Observability.LogMaxSizeMB) },
		func() error { return applyInt(lookup, "IOTQUERY_LOG_MAX_BACKUPS", &cfg.Observability.LogMaxBackups) },
		func() error { return applyInt(lookup, "IOTQUERY_LOG_MAX_AGE_DAYS", &cfg.Observability.LogMaxAgeDays) },
		func() error { return applyBool(lookup, "IOTQUERY_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "IOTQUERY_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "duckdb":
	default:
		return fmt.Errorf("invalid IOTQUERY_DB_DRIVER: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("IOTQUERY_DB_DSN is required")
	}
	if len(c.Database.Parquet) > 0 && c.Database.Driver != "duckdb" {
		return fmt.Errorf("IOTQUERY_DB_PARQUET requires IOTQUERY_DB_DRIVER=duckdb")
	}
	if c.Domain.Mapping == "" {
		return fmt.Errorf("IOTQUERY_DOMAIN_MAPPING is required")
	}
	if c.Knowledge.Path == "" {
		return fmt.Errorf("IOTQUERY_KNOWLEDGE_PATH is required")
	}
	if c.Knowledge.ExamplesLimit <= 0 || c.Knowledge.StatsDays <= 0 {
		return fmt.Errorf("IOTQUERY_KNOWLEDGE_EXAMPLES_LIMIT and IOTQUERY_KNOWLEDGE_STATS_DAYS must be > 0")
	}
	if c.Query.DefaultLimit <= 0 || c.Query.MaxLimit <= 0 {
		return fmt.Errorf("IOTQUERY_QUERY_DEFAULT_LIMIT and IOTQUERY_QUERY_MAX_LIMIT must be > 0")
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("IOTQUERY_QUERY_DEFAULT_LIMIT must not exceed IOTQUERY_QUERY_MAX_LIMIT")
	}
	if c.Query.RateLimit < 0 {
		return fmt.Errorf("IOTQUERY_QUERY_RATE_LIMIT must be >= 0")
	}
	if c.Query.RateLimit > 0 && c.Query.RateBurst <= 0 {
		return fmt.Errorf("IOTQUERY_QUERY_RATE_BURST must be > 0 when rate limiting is enabled")
	}
	if c.Archive.Interval < 0 {
		return fmt.Errorf("IOTQUERY_ARCHIVE_INTERVAL must be >= 0")
	}
	if c.Archive.Schedule != "" {
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			return fmt.Errorf("invalid IOTQUERY_ARCHIVE_SCHEDULE: %w", err)
		}
	}
	if c.Observability.LogMaxSizeMB <= 0 || c.Observability.LogMaxBackups < 0 || c.Observability.LogMaxAgeDays < 0 {
		return fmt.Errorf("IOTQUERY_LOG_MAX_SIZE_MB must be > 0; backups and age must be >= 0")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "iotquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "iot_demo.db",
		},
		Domain: DomainConfig{
			Mapping: "iot",
		},
		Knowledge: KnowledgeConfig{
			Path:          "query_knowledge.db",
			ExamplesLimit: 5,
			StatsDays:     7,
		},
		Query: QueryConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
			RateBurst:    5,
		},
		AI: AIConfig{
			Enabled:          false,
			Providers:        "openai,anthropic",
			OpenAIBaseURL:    "https://api.openai.com",
			OpenAIModel:      "gpt-4o-mini",
			AnthropicBaseURL: "https://api.anthropic.com",
			AnthropicModel:   "claude-3-haiku-20240307",
			Temperature:      0.1,
			MaxTokens:        1000,
			Timeout:          15 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Dataset: "query_history",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "iotquery",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:      slog.LevelDebug,
			LogJSON:       true,
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
			LogMaxAgeDays: 28,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Query.RateLimit = 2
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

// applyParquetSources parses "Table=entry,entry;Table2=entry". Entries
// prefixed with "object:" are object store keys, the rest local paths.
func applyParquetSources(lookup LookupFunc, key string, dst *[]ParquetSource) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var sources []ParquetSource
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		table, entries, found := strings.Cut(part, "=")
		table = strings.TrimSpace(table)
		if !found || !parquetTablePattern.MatchString(table) {
			return fmt.Errorf("invalid %s: source %q needs Table=files", key, part)
		}
		source := ParquetSource{Table: table}
		for _, entry := range strings.Split(entries, ",") {
			entry = strings.TrimSpace(entry)
			switch {
			case entry == "":
			case strings.HasPrefix(entry, "object:"):
				if objectKey := strings.TrimSpace(strings.TrimPrefix(entry, "object:")); objectKey != "" {
					source.ObjectKeys = append(source.ObjectKeys, objectKey)
				}
			default:
				source.Paths = append(source.Paths, entry)
			}
		}
		if len(source.Paths) == 0 && len(source.ObjectKeys) == 0 {
			return fmt.Errorf("invalid %s: source %q has no files", key, table)
		}
		sources = append(sources, source)
	}
	*dst = sources
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
