// Package app assembles the service from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/store"
	"github.com/Ramsey-B/fern/pkg/currency"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/ingestion"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Version is stamped at build time.
var Version = "dev"

type App struct {
	Config *config.Config
	Logger ectologger.Logger

	DB          database.DB
	Redis       *redis.Client
	Graph       *graph.Client
	Producer    *kafka.Producer
	Store       *store.Postgres
	Coordinator *ingestion.Coordinator
	Runner      *jobs.Runner
	Checker     *health.Checker

	startup       *startup.Startup
	stopTracing   func(context.Context) error
	migrateOnBoot bool
}

type Option func(*App)

// WithMigrations applies pending migrations once the database is reachable.
func WithMigrations() Option {
	return func(a *App) { a.migrateOnBoot = true }
}

// New builds the logger and tracer. Nothing external is contacted until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, err
	}

	stopTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.AppName,
		Endpoint:    cfg.TracingEndpoint,
		Protocol:    cfg.TracingProtocol,
		Insecure:    cfg.TracingInsecure,
		Timeout:     cfg.TracingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Checker:     health.NewChecker(Version),
		startup:     startup.NewStartup(logger, cfg.StartupMaxAttempts),
		stopTracing: stopTracing,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registerDependencies()
	return a, nil
}

func (a *App) registerDependencies() {
	cfg := a.Config

	a.startup.AddDependency(startup.Func{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			db, err := database.Open(ctx, a.databaseConfig(), a.Logger)
			if err != nil {
				return err
			}
			if a.migrateOnBoot {
				if err := a.migrate(db); err != nil {
					_ = db.Close()
					return err
				}
			}
			a.DB = db
			return nil
		},
		StopFunc: func(context.Context) error {
			if a.DB == nil {
				return nil
			}
			return a.DB.Close()
		},
	})

	if cfg.RedisEnabled {
		a.startup.AddDependency(startup.Func{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.Logger)
				if err != nil {
					return err
				}
				a.Redis = client
				return nil
			},
			StopFunc: func(context.Context) error {
				if a.Redis == nil {
					return nil
				}
				return a.Redis.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		a.startup.AddDependency(startup.Func{
			Name: "graph",
			StartFunc: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, a.Logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.Graph = client
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				if a.Graph == nil {
					return nil
				}
				return a.Graph.Close(ctx)
			},
		})
	}

	if cfg.KafkaProducerEnabled {
		a.startup.AddDependency(startup.Func{
			Name: "kafka-producer",
			StartFunc: func(context.Context) error {
				a.Producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: cfg.KafkaBatchTimeout,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.Logger)
				return nil
			},
			StopFunc: func(context.Context) error {
				if a.Producer == nil {
					return nil
				}
				return a.Producer.Close()
			},
		})
	}
}

// Start connects every dependency, then builds the store, the coordinator and the job runner.
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}

	a.Checker.Register("database", a.DB.PingContext)
	if a.Redis != nil {
		a.Checker.Register("redis", a.Redis.Ping)
	}
	if a.Graph != nil {
		a.Checker.RegisterOptional("graph", a.Graph.VerifyConnectivity)
	}

	coordinatorOpts, err := a.coordinatorOptions()
	if err != nil {
		return err
	}
	tolerance, err := decimal.NewFromString(a.Config.CrossCurrencyTolerance)
	if err != nil {
		return fmt.Errorf("invalid CROSS_CURRENCY_TOLERANCE %q: %w", a.Config.CrossCurrencyTolerance, err)
	}

	a.Store = store.NewPostgres(a.DB, a.Logger)
	a.Coordinator = ingestion.NewCoordinator(a.Store, a.Logger, ingestion.Config{
		ChainCap:          a.Config.MergeChainCap,
		DetachIdentifiers: a.Config.DetachIdentifiersOnMerge,
		TransferMatcher:   matching.TransferMatcherConfig{CrossCurrencyTolerance: tolerance},
	}, coordinatorOpts...)

	var locker jobs.Locker = jobs.NewLocalLocker()
	if a.Redis != nil {
		locker = redis.NewLocker(a.Redis, "")
	}
	a.Runner = jobs.NewRunner(locker, a.Logger, jobs.Config{
		LockTTL:           a.Config.JobLockTTL,
		RescheduleBackoff: a.Config.JobRescheduleBackoff,
		MaxReschedules:    a.Config.JobMaxReschedules,
		Workers:           a.Config.JobWorkers,
	})
	return nil
}

func (a *App) coordinatorOptions() ([]ingestion.Option, error) {
	opts := []ingestion.Option{
		ingestion.WithReportWriter(report.NewExcelWriter(a.Config.ReportDir, a.Logger)),
	}

	var sinks events.MultiSink
	if a.Producer != nil {
		sinks = append(sinks, a.Producer)
	}
	if a.Graph != nil {
		sinks = append(sinks, graph.NewProjector(a.Graph, a.Logger))
	}
	if len(sinks) > 0 {
		opts = append(opts, ingestion.WithEmitter(events.NewEmitter(sinks, a.Logger)))
	}

	if path := a.Config.CurrencyRatesFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open currency rates %s: %w", path, err)
		}
		defer f.Close()
		table, err := currency.LoadTable(f)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingestion.WithRates(table))
	}
	return opts, nil
}

// Refresher wires one HTTP fetcher per configured registry, each behind its own token bucket.
// It returns nil when no registry URL is configured.
func (a *App) Refresher() (*registry.Refresher, error) {
	urls := map[models.Registry]string{
		models.RegistryROR:      a.Config.RegistryRORURL,
		models.RegistryWikidata: a.Config.RegistryWikidataURL,
		models.RegistryCustom:   a.Config.RegistryCustomURL,
	}
	bucketConfig := ratelimit.Config{
		Capacity:        a.Config.RegistryBucketCapacity,
		RefillPerSecond: a.Config.RegistryBucketRefillPerSecond,
	}

	sources := map[models.Registry]registry.Source{}
	for _, reg := range models.Registries {
		if urls[reg] == "" {
			continue
		}
		bucket, err := a.bucket(string(reg), bucketConfig)
		if err != nil {
			return nil, err
		}
		sources[reg] = registry.Source{
			Fetcher: registry.NewHTTPFetcher(registry.HTTPConfig{BaseURL: urls[reg], Timeout: a.Config.RegistryTimeout}, a.Logger),
			Bucket:  bucket,
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}
	return registry.NewRefresher(a.Store.Identifiers(), sources, a.Config.RegistryBatchSize, a.Logger), nil
}

func (a *App) bucket(name string, cfg ratelimit.Config) (ratelimit.Bucket, error) {
	if a.Redis != nil {
		return redis.NewTokenBucket(a.Redis, "registry:"+name, cfg)
	}
	return ratelimit.NewMemoryBucket(cfg)
}

// Migrate connects to the database and applies the migrations without building the rest of the service.
func (a *App) Migrate(ctx context.Context) error {
	db, err := database.Open(ctx, a.databaseConfig(), a.Logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return a.migrate(db)
}

func (a *App) migrate(db database.DB) error {
	svc := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		MigrationFolderPath: a.Config.DatabaseMigrationFolderPath,
		Version:             uint(a.Config.DatabaseMigrationVersion),
		Force:               a.Config.DatabaseMigrationForce,
		AutoRollback:        a.Config.DatabaseMigrationAutoRollback,
	})
	return svc.MigratePostgres(db.SQL(), a.Config.DatabaseName)
}

func (a *App) databaseConfig() database.Config {
	cfg := a.Config
	return database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

// Stop closes dependencies in reverse start order and flushes pending spans.
func (a *App) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := a.startup.Stop(ctx)
	if tracingErr := a.stopTracing(ctx); tracingErr != nil && err == nil {
		err = tracingErr
	}
	return err
}
