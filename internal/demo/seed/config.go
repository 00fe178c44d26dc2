package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	DBPath   string
	Readings int
	Alerts   int
	Items    int
	Days     int
	Seed     int64
	Reset    bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:   "iot_demo.db",
		Readings: 5000,
		Alerts:   200,
		Items:    1000,
		Days:     30,
		Seed:     time.Now().UTC().UnixNano(),
		Reset:    false,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "IOTQUERY_DEMO_DB_PATH", &cfg.DBPath); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "IOTQUERY_DEMO_READINGS", &cfg.Readings); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "IOTQUERY_DEMO_ALERTS", &cfg.Alerts); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "IOTQUERY_DEMO_ITEMS", &cfg.Items); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "IOTQUERY_DEMO_DAYS", &cfg.Days); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "IOTQUERY_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "IOTQUERY_DEMO_RESET", &cfg.Reset); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.DBPath) == "" {
		return Config{}, fmt.Errorf("IOTQUERY_DEMO_DB_PATH is required")
	}
	if cfg.Readings < 0 || cfg.Alerts < 0 || cfg.Items < 0 {
		return Config{}, fmt.Errorf("IOTQUERY_DEMO_READINGS, IOTQUERY_DEMO_ALERTS and IOTQUERY_DEMO_ITEMS must be >= 0")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("IOTQUERY_DEMO_DAYS must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
