package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iotquery/iotquery/internal/api"
	"github.com/iotquery/iotquery/internal/archive"
	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/config"
	"github.com/iotquery/iotquery/internal/datasource"
	"github.com/iotquery/iotquery/internal/datasource/duckdb"
	"github.com/iotquery/iotquery/internal/datasource/postgres"
	"github.com/iotquery/iotquery/internal/datasource/sqlite"
	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/maintenance"
	"github.com/iotquery/iotquery/internal/nl2sql"
	"github.com/iotquery/iotquery/internal/nlquery"
	"github.com/iotquery/iotquery/internal/observability"
	"github.com/iotquery/iotquery/internal/schema"
	s3store "github.com/iotquery/iotquery/internal/storage/s3"
	"github.com/iotquery/iotquery/internal/timeparse"
)

func main() {
	envFile, err := config.LoadDotEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("iotquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logOutput, logCloser := observability.LogOutput(cfg, os.Stdout)
	defer func() { _ = logCloser.Close() }()
	logger := observability.NewLogger(cfg, logOutput)
	if envFile != "" {
		logger.Debug("loaded env file", slog.String("path", envFile))
	}
	ctx := context.Background()

	var objectStore *s3store.Store
	if cfg.Archive.Enabled || cfg.Database.UsesObjectStore() {
		objectStore, err = s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db := openDatabase(cfg, objectStore)
	if err := db.Connect(ctx); err != nil {
		logger.Error("failed to connect database", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	mapper, err := domain.Resolve(cfg.Domain.Mapping)
	if err != nil {
		logger.Error("failed to load domain mapping", slog.String("mapping", cfg.Domain.Mapping), slog.Any("error", err))
		os.Exit(1)
	}

	store, err := knowledge.Open(ctx, cfg.Knowledge.Path, knowledge.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to open knowledge store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	analyzer := schema.NewAnalyzer(db, mapper, store, schema.Options{Logger: logger})

	var providers *nl2sql.Chain
	if cfg.AI.Enabled {
		providers, err = buildProviders(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize sql generators", slog.Any("error", err))
			os.Exit(1)
		}
	}

	service, err := nlquery.NewService(db, mapper, timeparse.New(), nlquery.Options{
		Providers:     providers,
		Schema:        analyzer,
		Knowledge:     store,
		ExamplesLimit: cfg.Knowledge.ExamplesLimit,
		DefaultLimit:  cfg.Query.DefaultLimit,
		MaxLimit:      cfg.Query.MaxLimit,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to initialize query service", slog.Any("error", err))
		os.Exit(1)
	}

	queries := api.Serialize(service)
	if providers != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		go func() {
			defer cancel()
			if _, err := queries.CheckProviders(checkCtx); err != nil {
				logger.WarnContext(checkCtx, "initial provider health check failed", slog.Any("error", err))
			}
		}()
	}

	deps := api.Dependencies{
		Logger:            logger,
		Queries:           queries,
		Schema:            analyzer,
		Knowledge:         store,
		StatsDays:         cfg.Knowledge.StatsDays,
		ExamplesLimit:     cfg.Knowledge.ExamplesLimit,
		DependencyTimeout: time.Second,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(func(ctx context.Context) error {
				_, err := db.Tables(ctx)
				return err
			}),
			api.CheckDatabase(store.Ping),
			api.CheckObjectStoreConfig(cfg),
		),
	}

	var scheduled *maintenance.Service
	if cfg.Archive.Enabled {
		archiver, err := archive.New(store, objectStore, archive.Options{Dataset: cfg.Archive.Dataset, Logger: logger})
		if err != nil {
			logger.Error("failed to initialize history archive", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Archive = archiver
		if cfg.Archive.Interval > 0 || cfg.Archive.Schedule != "" {
			scheduleCfg := maintenance.Config{ArchiveInterval: cfg.Archive.Interval}
			if cfg.Archive.Schedule != "" {
				scheduleCfg.Schedule, err = maintenance.ParseSchedule(cfg.Archive.Schedule)
				if err != nil {
					logger.Error("invalid archive schedule", slog.Any("error", err))
					os.Exit(1)
				}
			}
			scheduled = &maintenance.Service{
				Archive:     archiver,
				ObjectStore: objectStore,
				Config:      scheduleCfg,
				Logger:      logger,
			}
		}
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	if scheduled != nil {
		group.Go(func() error {
			logger.Info("starting scheduled history archive",
				slog.Duration("interval", cfg.Archive.Interval),
				slog.String("schedule", cfg.Archive.Schedule),
			)
			return scheduled.Run(groupCtx)
		})
	}
	group.Go(func() error {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", cfg.Database.Driver),
			slog.String("mapping", mapper.Name()),
			slog.Bool("ai_enabled", providers != nil),
			slog.Bool("archive_enabled", deps.Archive != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("shutting down api server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(cfg config.Config, objectStore *s3store.Store) datasource.Database {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.New(postgres.Config{DSN: cfg.Database.DSN, Schema: cfg.Database.Schema})
	case "duckdb":
		duckCfg := duckdb.Config{Path: cfg.Database.DSN}
		for _, source := range cfg.Database.Parquet {
			duckCfg.Parquet = append(duckCfg.Parquet, duckdb.ParquetSource{
				Table:      source.Table,
				Paths:      source.Paths,
				ObjectKeys: source.ObjectKeys,
			})
		}
		if objectStore != nil {
			duckCfg.Store = objectStore
		}
		return duckdb.New(duckCfg)
	default:
		return sqlite.New(cfg.Database.DSN)
	}
}

// buildProviders creates a generator for every configured provider that has
// credentials, in priority order.
func buildProviders(cfg config.Config, logger *slog.Logger) (*nl2sql.Chain, error) {
	var providers []nl2sql.Provider
	for _, name := range nl2sql.ParsePriority(cfg.AI.Providers) {
		switch name {
		case "openai":
			if cfg.AI.OpenAIAPIKey == "" {
				logger.Warn("skipping sql generator without api key", slog.String("provider", name))
				continue
			}
			generator, err := nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
				BaseURL:     cfg.AI.OpenAIBaseURL,
				APIKey:      cfg.AI.OpenAIAPIKey,
				Model:       cfg.AI.OpenAIModel,
				Temperature: cfg.AI.Temperature,
				MaxTokens:   cfg.AI.MaxTokens,
				Timeout:     cfg.AI.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("openai generator: %w", err)
			}
			providers = append(providers, generator)
		case "anthropic":
			if cfg.AI.AnthropicAPIKey == "" {
				logger.Warn("skipping sql generator without api key", slog.String("provider", name))
				continue
			}
			generator, err := nl2sql.NewAnthropicGenerator(nl2sql.AnthropicConfig{
				BaseURL:     cfg.AI.AnthropicBaseURL,
				APIKey:      cfg.AI.AnthropicAPIKey,
				Model:       cfg.AI.AnthropicModel,
				Temperature: cfg.AI.Temperature,
				MaxTokens:   cfg.AI.MaxTokens,
				Timeout:     cfg.AI.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic generator: %w", err)
			}
			providers = append(providers, generator)
		default:
			return nil, fmt.Errorf("unknown sql generator %q", name)
		}
	}
	if len(providers) == 0 {
		logger.Warn("no sql generator has credentials; using rule-based synthesis only")
		return nil, nil
	}
	return nl2sql.NewChain(logger, providers...)
}
