// Package app wires the ingestion pipeline's concrete adapters into the
// core domain contracts and exposes the two deployment modes (server,
// worker) that cmd/ boots.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/config"
	"eventpipe/internal/core/services/ingest"
	workerService "eventpipe/internal/core/services/worker"
	"eventpipe/internal/infrastructure/database"
	"eventpipe/internal/infrastructure/postgres"
	redisAdapters "eventpipe/internal/infrastructure/redis"
	"eventpipe/internal/migration"
	httpTransport "eventpipe/internal/transport/http"
	"eventpipe/internal/transport/http/handlers"
	"eventpipe/internal/transport/http/middleware"
	"eventpipe/pkg/retry"
)

// DeploymentMode selects which half of the pipeline a process runs.
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// DatabaseContainer holds the shared Postgres and Redis connections.
type DatabaseContainer struct {
	Postgres *database.PostgresDB
	Redis    *database.RedisDB
}

// CoreContainer holds everything common to both deployment modes.
type CoreContainer struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Databases *DatabaseContainer
	Migration *migration.Manager

	DedupIndex       *redisAdapters.DedupIndex
	Stream           *redisAdapters.Stream
	Counters         *redisAdapters.Counters
	EventStore       *postgres.EventStore
	DLQ              *postgres.DLQ
	CredentialStore  *postgres.CredentialStore
}

// ServerContainer holds the HTTP server and its handlers.
type ServerContainer struct {
	HTTPServer *httpTransport.Server
}

// WorkerContainer holds the pool of background consumers sharing one
// consumer group, sized by Worker.Concurrency.
type WorkerContainer struct {
	Consumers []*workerService.Worker
}

// ProviderContainer is the root of the dependency graph for a running process.
type ProviderContainer struct {
	Core    *CoreContainer
	Server  *ServerContainer
	Workers *WorkerContainer
	Mode    DeploymentMode
}

// ProvideCore builds the shared infrastructure and domain adapters used by
// both the server and the worker: connections, dedup index, stream,
// counters, store, DLQ, and credential cache.
func ProvideCore(cfg *config.Config, bootstrapLogger *slog.Logger) (*CoreContainer, error) {
	logger := newServiceLogger(cfg)

	pg, err := database.NewPostgresDB(cfg, bootstrapLogger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisDB, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	migrator, err := migration.New(pg, cfg.Database.MigrationsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("init migration manager: %w", err)
	}

	eventStore := postgres.NewEventStore(pg, cfg.Database.EventShards)
	dlq := postgres.NewDLQ(pg)
	credentialStore, err := postgres.NewCredentialStore(pg.DB, cfg.Database.CredentialCache)
	if err != nil {
		return nil, fmt.Errorf("init credential store: %w", err)
	}

	dedupIndex := redisAdapters.NewDedupIndex(redisDB, cfg.Dedup.BaseTTL)
	stream := redisAdapters.NewStream(redisDB, cfg.Stream.StreamKey, cfg.Stream.MaxLen)
	counters := redisAdapters.NewCounters(redisDB, logger)

	return &CoreContainer{
		Config: cfg,
		Logger: logger,
		Databases: &DatabaseContainer{
			Postgres: pg,
			Redis:    redisDB,
		},
		Migration:       migrator,
		DedupIndex:      dedupIndex,
		Stream:          stream,
		Counters:        counters,
		EventStore:      eventStore,
		DLQ:             dlq,
		CredentialStore: credentialStore,
	}, nil
}

// ProvideServer wires the ingest service and HTTP transport on top of Core.
func ProvideServer(core *CoreContainer) (*ServerContainer, error) {
	if core.Config.Server.AutoMigrate {
		if err := core.Migration.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	if err := core.EventStore.EnsureShardTables(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure shard tables: %w", err)
	}

	ingestService := ingest.NewService(core.DedupIndex, core.Stream, core.Counters, core.Config.Stream.ConsumerGroup, core.Logger)

	ingestHandler := handlers.NewIngestHandler(ingestService, core.Counters, core.Logger)
	healthHandler := handlers.NewHealthHandler(core.Databases.Postgres, core.Databases.Redis)
	metricsHandler := handlers.NewMetricsHandler()
	h := handlers.New(ingestHandler, healthHandler, metricsHandler)

	sdkAuth := middleware.NewSDKAuthMiddleware(core.CredentialStore)

	httpServer := httpTransport.NewServer(core.Config, core.Logger, h, sdkAuth)

	return &ServerContainer{HTTPServer: httpServer}, nil
}

// ProvideWorkers wires a pool of consumer loops, one goroutine per
// Worker.Concurrency, all sharing the stream's consumer group under distinct
// consumer identities.
func ProvideWorkers(core *CoreContainer) (*WorkerContainer, error) {
	if err := core.EventStore.EnsureShardTables(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure shard tables: %w", err)
	}

	wc := core.Config.Worker
	workerCfg := workerService.Config{
		BatchSize:     wc.BatchSize,
		BatchTimeout:  wc.BatchTimeout,
		ClaimInterval: wc.StaleClaimAge / 2,
		StaleAge:      wc.StaleClaimAge,
		StopTimeout:   wc.StopTimeout,
		Retry: retry.Config{
			MaxRetries:   wc.MaxRetries,
			BaseDelay:    wc.RetryBaseDelay,
			CapDelay:     wc.RetryMaxDelay,
			JitterFactor: wc.RetryJitterPercent,
		},
	}

	concurrency := wc.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	consumers := make([]*workerService.Worker, concurrency)
	for i := 0; i < concurrency; i++ {
		consumers[i] = workerService.New(core.Stream, core.EventStore, core.DLQ, core.Counters, core.Config.Stream.ConsumerGroup, workerCfg, core.Logger)
	}

	return &WorkerContainer{Consumers: consumers}, nil
}

// Shutdown releases every connection Core opened.
func (p *ProviderContainer) Shutdown() error {
	if p.Core == nil || p.Core.Databases == nil {
		return nil
	}
	var firstErr error
	if err := p.Core.Databases.Postgres.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.Core.Databases.Redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// HealthCheck reports the state of the shared connections.
func (p *ProviderContainer) HealthCheck() map[string]string {
	status := map[string]string{}
	if p.Core == nil || p.Core.Databases == nil {
		status["status"] = "not initialized"
		return status
	}
	if err := p.Core.Databases.Postgres.Health(); err != nil {
		status["postgres"] = err.Error()
	} else {
		status["postgres"] = "ok"
	}
	if err := p.Core.Databases.Redis.Health(); err != nil {
		status["redis"] = err.Error()
	} else {
		status["redis"] = "ok"
	}
	return status
}
