// Package seed builds the sample IoT database used by demos and tests.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Schema is the IoT table layout the builtin iot mapping describes.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS RepData (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	sensor_type TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	quality_flag INTEGER DEFAULT 1,
	location_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS RepItem (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	log_type TEXT NOT NULL,
	source_signal_ids TEXT,
	calculated_value REAL,
	calculation_method TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	status TEXT DEFAULT 'active',
	metadata TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS DevMap (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT UNIQUE NOT NULL,
	device_name TEXT,
	location TEXT,
	device_type TEXT,
	install_date DATE,
	status TEXT DEFAULT 'online',
	config_params TEXT,
	last_seen DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS ThreshSet (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor_type TEXT NOT NULL,
	device_id TEXT,
	min_value REAL,
	max_value REAL,
	warning_low REAL,
	warning_high REAL,
	critical_low REAL,
	critical_high REAL,
	active BOOLEAN DEFAULT TRUE,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS AlertLog (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	sensor_type TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	threshold_value REAL,
	actual_value REAL,
	severity TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	acknowledged BOOLEAN DEFAULT FALSE,
	ack_timestamp DATETIME,
	ack_user TEXT
)`,
	`CREATE TABLE IF NOT EXISTS LocRef (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id TEXT UNIQUE NOT NULL,
	location_name TEXT,
	building TEXT,
	floor INTEGER,
	zone TEXT,
	coordinates TEXT,
	description TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_repdata_timestamp ON RepData(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_repdata_device ON RepData(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alertlog_timestamp ON AlertLog(timestamp)`,
}

var seededTables = []string{"RepData", "RepItem", "DevMap", "ThreshSet", "AlertLog", "LocRef"}

type Summary struct {
	Locations  int
	Devices    int
	Thresholds int
	Readings   int
	Items      int
	Alerts     int
}

// CreateSchema creates the IoT tables when they do not exist.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, statement := range Schema {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Seed creates the schema and fills it in one transaction. With cfg.Reset
// existing rows are removed first; otherwise reference rows already present
// are kept and generated rows are appended.
func Seed(ctx context.Context, db *sql.DB, cfg Config, now time.Time, logger *slog.Logger) (Summary, error) {
	if db == nil {
		return Summary{}, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := CreateSchema(ctx, db); err != nil {
		return Summary{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cfg.Reset {
		for _, table := range seededTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return Summary{}, fmt.Errorf("reset %s: %w", table, err)
			}
		}
	}

	now = now.UTC()
	generator := NewGenerator(cfg.Seed, now, cfg.Days)
	var summary Summary

	for _, location := range Locations {
		result, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO LocRef (location_id, location_name, building, floor, zone, coordinates, description)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			location.ID, location.Name, location.Building, location.Floor, location.Zone, location.Coordinates, location.Description)
		if err != nil {
			return Summary{}, fmt.Errorf("insert location %s: %w", location.ID, err)
		}
		summary.Locations += affected(result)
	}

	for _, device := range Devices {
		lastSeen := now.Add(-time.Duration(generator.rnd.Intn(60)) * time.Minute)
		result, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO DevMap (device_id, device_name, location, device_type, install_date, status, config_params, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			device.ID, device.Name, device.LocationID, device.Type, device.InstallDate, device.Status,
			`{"sampling_rate":60,"calibration_date":"2024-01-01"}`, lastSeen.Format(TimestampLayout))
		if err != nil {
			return Summary{}, fmt.Errorf("insert device %s: %w", device.ID, err)
		}
		summary.Devices += affected(result)
	}

	var existingThresholds int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM ThreshSet").Scan(&existingThresholds); err != nil {
		return Summary{}, fmt.Errorf("count thresholds: %w", err)
	}
	if existingThresholds == 0 {
		for _, threshold := range Thresholds {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO ThreshSet (sensor_type, min_value, max_value, warning_low, warning_high, critical_low, critical_high, active)
VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
				threshold.SensorType, threshold.Min, threshold.Max, threshold.WarnLow, threshold.WarnHigh,
				threshold.CriticalLow, threshold.CriticalHigh); err != nil {
				return Summary{}, fmt.Errorf("insert threshold %s: %w", threshold.SensorType, err)
			}
			summary.Thresholds++
		}
	}

	readingStmt, err := tx.PrepareContext(ctx, `
INSERT INTO RepData (device_id, sensor_type, value, unit, timestamp, quality_flag, location_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Summary{}, fmt.Errorf("prepare readings: %w", err)
	}
	defer func() { _ = readingStmt.Close() }()
	for i := 0; i < cfg.Readings; i++ {
		reading := generator.NextReading()
		if _, err := readingStmt.ExecContext(ctx, reading.DeviceID, reading.SensorType, reading.Value, reading.Unit,
			reading.Timestamp.Format(TimestampLayout), reading.QualityFlag, reading.LocationID); err != nil {
			return Summary{}, fmt.Errorf("insert reading: %w", err)
		}
		summary.Readings++
	}

	itemStmt, err := tx.PrepareContext(ctx, `
INSERT INTO RepItem (log_type, source_signal_ids, calculated_value, calculation_method, timestamp, metadata)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Summary{}, fmt.Errorf("prepare items: %w", err)
	}
	defer func() { _ = itemStmt.Close() }()
	for i := 0; i < cfg.Items; i++ {
		item := generator.NextItem()
		if _, err := itemStmt.ExecContext(ctx, item.LogType, item.SourceIDs, item.Value, item.Method,
			item.Timestamp.Format(TimestampLayout), item.Metadata); err != nil {
			return Summary{}, fmt.Errorf("insert item: %w", err)
		}
		summary.Items++
	}

	alertStmt, err := tx.PrepareContext(ctx, `
INSERT INTO AlertLog (device_id, sensor_type, alert_type, threshold_value, actual_value, severity, timestamp, acknowledged, ack_timestamp, ack_user)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Summary{}, fmt.Errorf("prepare alerts: %w", err)
	}
	defer func() { _ = alertStmt.Close() }()
	for i := 0; i < cfg.Alerts; i++ {
		alert := generator.NextAlert()
		var (
			actual  any
			ackAt   any
			ackUser any
		)
		if alert.ActualValue != nil {
			actual = *alert.ActualValue
		}
		if alert.AckTimestamp != nil {
			ackAt = alert.AckTimestamp.Format(TimestampLayout)
			ackUser = alert.AckUser
		}
		acknowledged := 0
		if alert.Acknowledged {
			acknowledged = 1
		}
		if _, err := alertStmt.ExecContext(ctx, alert.DeviceID, alert.SensorType, alert.AlertType, alert.ThresholdValue,
			actual, alert.Severity, alert.Timestamp.Format(TimestampLayout), acknowledged, ackAt, ackUser); err != nil {
			return Summary{}, fmt.Errorf("insert alert: %w", err)
		}
		summary.Alerts++
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit seed transaction: %w", err)
	}
	logger.InfoContext(ctx, "demo database seeded",
		slog.Int("locations", summary.Locations),
		slog.Int("devices", summary.Devices),
		slog.Int("thresholds", summary.Thresholds),
		slog.Int("readings", summary.Readings),
		slog.Int("items", summary.Items),
		slog.Int("alerts", summary.Alerts),
	)
	return summary, nil
}

func affected(result sql.Result) int {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
