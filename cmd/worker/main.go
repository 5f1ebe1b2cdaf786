// Package main is the entry point for the payment desk background worker.
// It relays outbox events and expires idempotency keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"paydesk/internal/config"
	"paydesk/internal/infrastructure/cache"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn (DATABASE_DSN) is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting paydesk worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.ApplicationName = "paydesk-worker"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)

	var handler postgres.OutboxHandler = logHandler{log: log.WithComponent("outbox")}
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() { _ = client.Close() }()
		handler = cache.NewRedisEventRelay(client, cfg.Redis.ChannelPrefix)
		log.Infow("relaying outbox to redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}

	worker := &Worker{
		relay:       postgres.NewOutboxRelay(txm, cfg.Outbox.BatchSize, handler),
		idempotency: postgres.NewIdempotencyStore(txm, cfg.Idempotency.TTL),
		cfg:         cfg,
		log:         log.WithComponent("worker"),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutting down worker...")
	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic jobs.
type Worker struct {
	relay       *postgres.OutboxRelay
	idempotency *postgres.IdempotencyStore
	cfg         *config.Config
	log         *logger.Logger
}

// Run polls the outbox and runs cleanup until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Outbox.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.Outbox.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

// drainOutbox processes full batches back to back until the outbox is empty.
func (w *Worker) drainOutbox(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n > 0 {
			w.log.Debugw("processed outbox batch", "count", n)
		}
		if n < w.cfg.Outbox.BatchSize {
			return
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	if n, err := w.idempotency.CleanupExpired(ctx); err != nil {
		w.log.Warnw("idempotency cleanup failed", "error", err)
	} else if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}

	if n, err := w.relay.PurgePublished(ctx, w.cfg.Outbox.PurgeAfter); err != nil {
		w.log.Warnw("outbox purge failed", "error", err)
	} else if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}

// logHandler is the outbox sink when no broker is configured.
type logHandler struct {
	log *logger.Logger
}

func (h logHandler) Handle(_ context.Context, msg *postgres.OutboxMessage) error {
	h.log.Infow("event",
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
	)
	return nil
}
