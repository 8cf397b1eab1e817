package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"tariffpub/internal/blobstore"
	"tariffpub/internal/checks"
	"tariffpub/internal/exporter"
	"tariffpub/internal/notify"
	"tariffpub/internal/platform/config"
	"tariffpub/internal/platform/metrics"
	"tariffpub/internal/platform/postgres"
	"tariffpub/internal/platform/redis"
	"tariffpub/internal/publishing/api"
	"tariffpub/internal/publishing/envelope"
	"tariffpub/internal/publishing/queue"
	pubstore "tariffpub/internal/publishing/store"
	"tariffpub/internal/publishing/worker"
	trackedservice "tariffpub/internal/tracked/service"
	trackedstore "tariffpub/internal/tracked/store"
	wbservice "tariffpub/internal/workbasket/service"
	wbstore "tariffpub/internal/workbasket/store"
	"tariffpub/pkg/platform/tx"
)

// publishLockTTL bounds how long a crashed publish run can hold the
// distributed lock before another process may take over.
const publishLockTTL = 5 * time.Minute

// dependencies holds the wired object graph and the resources main must
// release on shutdown.
type dependencies struct {
	workbaskets *wbservice.Service
	records     *trackedservice.Service
	queue       *queue.Coordinator
	envelopes   *envelope.Service
	worker      *worker.Worker

	db       *sql.DB
	redis    *redis.Client
	notifier notify.Notifier
}

// Close releases external connections in reverse construction order.
func (d *dependencies) Close() {
	if kafka, ok := d.notifier.(*notify.Kafka); ok {
		kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildDependencies constructs the full object graph. An empty DATABASE_URL
// selects the in-memory stores; Redis and Kafka degrade to in-process
// equivalents when unconfigured.
func buildDependencies(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*dependencies, error) {
	deps := &dependencies{}

	var (
		wbSt      wbstore.Store
		trackedSt trackedstore.Store
		pubSt     pubstore.Store
		recorder  checks.Recorder
		runner    tx.Runner
	)
	if cfg.Postgres.URL == "" {
		memory := wbstore.NewInMemory()
		wbSt = memory
		trackedSt = trackedstore.NewInMemory(memory)
		pubSt = pubstore.NewInMemory()
		recorder = checks.NewInMemoryRecorder()
		runner = tx.NoopRunner{}
		log.Warn("DATABASE_URL not set, running on in-memory stores")
	} else {
		db, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			deps.Close()
			return nil, err
		}
		wbSt = wbstore.NewPostgres(db)
		trackedSt = trackedstore.NewPostgres(db)
		pubSt = pubstore.NewPostgres(db)
		recorder = checks.NewPostgresRecorder(db)
		runner = &tx.SQLRunner{DB: db}
	}

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	deps.redis = rdb

	deps.notifier = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		deps.notifier = kafka
	}

	blobs, err := blobstore.NewFilesystem(cfg.Storage.Directory)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("open envelope storage: %w", err)
	}

	checker, err := checks.NewRuleSet(wbSt, trackedSt)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.workbaskets, err = wbservice.New(wbSt, trackedSt, checker, recorder, runner,
		wbservice.WithLogger(log))
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.records, err = trackedservice.New(trackedSt, wbSt,
		trackedservice.WithLogger(log))
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.queue, err = queue.New(pubSt, deps.workbaskets, runner, nil,
		queue.WithLogger(log),
		queue.WithMetrics(m),
		queue.WithTemplates(cfg.Notify))
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.envelopes, err = envelope.New(pubSt, wbSt, trackedSt,
		exporter.NewTaricSerializer(), exporter.NewTaricValidator(), blobs, runner,
		envelope.WithLogger(log),
		envelope.WithMetrics(m),
		envelope.WithSeed(cfg.Packaging.EnvelopeSeed),
		envelope.WithMaxSize(cfg.Packaging.EnvelopeMaxSize))
	if err != nil {
		deps.Close()
		return nil, err
	}

	publisher, err := buildPublisher(cfg, log, m, deps, pubSt)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.worker, err = worker.New(deps.envelopes, publisher, deps.queue,
		worker.WithLogger(log),
		worker.WithMetrics(m),
		worker.WithNotifier(deps.notifier, cfg.Notify, cfg.Packaging.NotificationsEnabled),
		worker.WithPublishInterval(cfg.Packaging.PublishInterval))
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.queue.SetDispatcher(deps.worker)

	return deps, nil
}

// buildPublisher assembles the Crown Dependencies publisher, or returns nil
// when no tariff API endpoint is configured so the publish ticker stays off.
func buildPublisher(cfg config.Config, log *slog.Logger, m *metrics.Metrics, deps *dependencies, pubSt pubstore.Store) (*api.Publisher, error) {
	baseURL, apiKey := cfg.TariffAPI.ProductionURL, cfg.TariffAPI.ProductionKey
	if baseURL == "" {
		baseURL, apiKey = cfg.TariffAPI.StagingURL, cfg.TariffAPI.StagingKey
	}
	if baseURL == "" {
		log.Warn("no tariff API endpoint configured, Crown Dependencies publishing disabled")
		return nil, nil
	}

	var lock api.Locker
	if deps.redis != nil {
		lock = deps.redis.NewLock("crown-dependencies-publish", publishLockTTL)
	}
	client := api.NewHTTPClient(baseURL, apiKey, cfg.TariffAPI.Timeout)
	return api.New(pubSt, client, deps.envelopes, lock, deps.queue,
		api.WithLogger(log),
		api.WithMetrics(m),
		api.WithSeed(cfg.Packaging.EnvelopeSeed),
		api.WithNotifier(deps.notifier, cfg.Notify))
}

// openPostgres opens and verifies the relational datastore connection.
func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
