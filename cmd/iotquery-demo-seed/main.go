package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iotquery/iotquery/internal/config"
	"github.com/iotquery/iotquery/internal/demo/seed"
)

func main() {
	if _, err := config.LoadDotEnv(os.LookupEnv); err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		logger.Error("failed to open demo database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"demo seed started",
		slog.String("db_path", cfg.DBPath),
		slog.Int("readings", cfg.Readings),
		slog.Int("alerts", cfg.Alerts),
		slog.Int("items", cfg.Items),
		slog.Int("days", cfg.Days),
		slog.Int64("seed", cfg.Seed),
		slog.Bool("reset", cfg.Reset),
	)
	if _, err := seed.Seed(ctx, db, cfg, time.Now(), logger); err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}
