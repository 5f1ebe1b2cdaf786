package main

import (
	"context"
	"fmt"

	"paydesk/internal/config"
	"paydesk/internal/core/audit"
	"paydesk/internal/core/events"
	"paydesk/internal/core/lock"
	corenumerator "paydesk/internal/core/numerator"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/tx"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/cache"
	"paydesk/internal/infrastructure/http/v1/handlers"
	"paydesk/internal/infrastructure/http/v1/middleware"
	"paydesk/internal/infrastructure/metrics"
	"paydesk/internal/infrastructure/numerator"
	"paydesk/internal/infrastructure/storage/memory"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/internal/infrastructure/storage/postgres/catalog_repo"
	"paydesk/internal/infrastructure/storage/postgres/document_repo"
	"paydesk/internal/infrastructure/storage/postgres/register_repo"
	"paydesk/migrations"
	"paydesk/pkg/logger"
)

// app holds the wired services and the resources to release on shutdown.
type app struct {
	payments     *payment.Service
	applications *application.Service
	taxTypes     *wtax.Service
	metrics      *metrics.Metrics
	idempotency  middleware.IdempotencyStore
	pool         *postgres.Pool
	healthChecks map[string]handlers.Pinger

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storage is the backend-specific half of the wiring.
type storage struct {
	drafts      payment.DraftRepository
	allocations payment.AllocationStore
	register    application.Repository
	ledger      orders.Ledger
	taxTypes    cache.TaxTypeSource
	txManager   tx.ReadOnlyManager
	numerator   corenumerator.Generator
	events      events.Publisher
	audit       audit.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		metrics:      metrics.New(),
		healthChecks: map[string]handlers.Pinger{},
	}

	var (
		st  storage
		err error
	)
	if cfg.Database.DSN == "" {
		log.Warn("database.dsn is empty, using the in-memory store")
		st = memoryStorage()
	} else {
		st, err = a.postgresStorage(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	locker, err := a.locker(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	taxCache := newTaxCache(st.taxTypes, a.pool)
	taxCache.Start(ctx)
	a.closers = append(a.closers, taxCache.Stop)
	a.taxTypes = wtax.NewService(taxCache, taxCache)

	a.applications = application.NewService(application.ServiceConfig{
		Repo:      st.register,
		Ledger:    st.ledger,
		TxManager: st.txManager,
		Events:    st.events,
		Audit:     st.audit,
		Metrics:   a.metrics,
	})

	a.payments = payment.NewService(payment.Config{
		Drafts:       st.drafts,
		Allocations:  st.allocations,
		Applications: a.applications,
		Ledger:       st.ledger,
		TaxTypes:     a.taxTypes,
		TxManager:    st.txManager,
		Locker:       locker,
		Numerator:    st.numerator,
		Events:       st.events,
		Audit:        st.audit,
		Metrics:      a.metrics,
		Options: payment.Options{
			PayTypes:           cfg.Payments.PayTypes,
			DefaultTaxTypeCode: cfg.Payments.DefaultWTaxCode,
			NumberPrefix:       cfg.Payments.NumberPrefix,
			OperationTimeout:   cfg.Payments.OperationTimeout,
			Retry: retry.Policy{
				MaxAttempts:    cfg.Payments.Retry.MaxAttempts,
				InitialBackoff: cfg.Payments.Retry.InitialBackoff,
				MaxBackoff:     cfg.Payments.Retry.MaxBackoff,
			},
		},
	})

	return a, nil
}

// memoryStorage runs the service without a database, seeded with the
// default tax catalog and a few open orders for demos.
func memoryStorage() storage {
	store := memory.NewStore()
	for _, t := range wtax.DefaultTaxTypes() {
		store.SetTaxType(t)
	}
	store.SetVATRate(wtax.DefaultVATRate)
	for i, total := range []string{"1500", "2750.50", "980", "12400", "640.25"} {
		store.SetOrder(orders.Balance{
			OrderID:    int64(1001 + i),
			GrandTotal: types.MustMoney(total),
			AmountPaid: types.Zero(),
		})
	}
	return storage{
		drafts:      store.Drafts(),
		allocations: store.Allocations(),
		register:    store.Applications(),
		ledger:      store.Orders(),
		taxTypes:    store.TaxTypes(),
		txManager:   store.TxManager(),
		numerator:   corenumerator.NewMemoryGenerator(),
		events:      events.NopPublisher{},
		audit:       audit.NopLogger{},
	}
}

func (a *app) postgresStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return storage{}, fmt.Errorf("connect database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.metrics.RegisterPool(pool)

	if cfg.Database.AutoMigrate {
		n, err := postgres.NewMigrator(pool, migrations.FS).Run(ctx)
		if err != nil {
			return storage{}, err
		}
		log.Infow("schema up to date", "applied", n)
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Database.StatementTimeout
	txOpts.LockTimeout = cfg.Database.LockTimeout
	txm := postgres.NewTxManager(pool).WithOptions(txOpts)

	auditLog, err := postgres.NewAuditLog(txm, cfg.Outbox.AuditCompressMin)
	if err != nil {
		return storage{}, err
	}

	if cfg.Idempotency.Enabled {
		a.idempotency = postgres.NewIdempotencyStore(txm, cfg.Idempotency.TTL)
	}

	return storage{
		drafts:      document_repo.NewPaymentDraftRepo(txm),
		allocations: document_repo.NewPaymentAllocationRepo(txm),
		register:    register_repo.NewPaymentApplicationRepo(txm),
		ledger:      register_repo.NewOrderLedger(txm),
		taxTypes:    catalog_repo.NewTaxTypeRepo(txm),
		txManager:   txm,
		numerator: numerator.NewWithResolver(func(ctx context.Context) numerator.Querier {
			return txm.GetQuerier(ctx)
		}),
		events: postgres.NewOutboxPublisher(txm),
		audit:  auditLog,
	}, nil
}

// locker returns a Redis lease lock when redis.addr is set, so several
// API replicas serialize edits of one draft.
func (a *app) locker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewKeyedMutex(), nil
	}
	client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.healthChecks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	log.Infow("using redis draft locks", "addr", cfg.Redis.Addr)
	return cache.NewRedisLocker(client, cache.WithLeaseTTL(cfg.Redis.LockTTL)), nil
}

func newTaxCache(source cache.TaxTypeSource, pool *postgres.Pool) *cache.TaxTypeCache {
	if pool == nil {
		return cache.NewTaxTypeCache(source, nil)
	}
	return cache.NewTaxTypeCache(source, pool.Pool)
}
