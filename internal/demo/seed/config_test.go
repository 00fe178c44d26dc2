package seed

import (
	"strings"
	"testing"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.DBPath != "iot_demo.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Readings <= 0 || cfg.Alerts <= 0 || cfg.Items <= 0 {
		t.Fatalf("unexpected counts: %+v", cfg)
	}
	if cfg.Days != 30 {
		t.Fatalf("Days = %d", cfg.Days)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"IOTQUERY_DEMO_DB_PATH":  "/tmp/demo.db",
		"IOTQUERY_DEMO_READINGS": "12",
		"IOTQUERY_DEMO_ALERTS":   "3",
		"IOTQUERY_DEMO_ITEMS":    "0",
		"IOTQUERY_DEMO_DAYS":     "7",
		"IOTQUERY_DEMO_SEED":     "12345",
		"IOTQUERY_DEMO_RESET":    "true",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.DBPath != "/tmp/demo.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Readings != 12 || cfg.Alerts != 3 || cfg.Items != 0 {
		t.Fatalf("unexpected counts: %+v", cfg)
	}
	if cfg.Days != 7 {
		t.Fatalf("Days = %d", cfg.Days)
	}
	if cfg.Seed != 12345 {
		t.Fatalf("Seed = %d", cfg.Seed)
	}
	if !cfg.Reset {
		t.Fatalf("Reset = false")
	}
}

func TestLoadConfigFromEnvValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"IOTQUERY_DEMO_READINGS": {"IOTQUERY_DEMO_READINGS": "many"},
		"must be >= 0":           {"IOTQUERY_DEMO_ALERTS": "-1"},
		"must be > 0":            {"IOTQUERY_DEMO_DAYS": "0"},
		"IOTQUERY_DEMO_DB_PATH":  {"IOTQUERY_DEMO_DB_PATH": "  "},
		"IOTQUERY_DEMO_RESET":    {"IOTQUERY_DEMO_RESET": "maybe"},
	}
	for want, env := range cases {
		_, err := LoadConfigFromEnv(mapLookup(env))
		if err == nil {
			t.Fatalf("expected error for %v", env)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error = %v, want substring %q", err, want)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
