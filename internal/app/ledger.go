package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/keylock"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Ledger bundles the wired ledger services shared by the API and the worker.
type Ledger struct {
	Service    *inventory.Service
	Transfers  *transfer.Service
	Reconciler *inventory.Reconciler

	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher *integration.Publisher
	logger    *slog.Logger
}

// LedgerOptions lets callers inject infrastructure, mostly for tests.
type LedgerOptions struct {
	Metrics *observability.Metrics
	// Redis replaces the client dialled from REDIS_ADDR.
	Redis *redis.Client
}

// BuildLedger connects the configured store, lock backend, balance cache and
// event stream, and returns the ledger services on top of them.
func BuildLedger(ctx context.Context, cfg *Config, logger *slog.Logger, opts LedgerOptions) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{logger: logger, redis: opts.Redis}
	ledgerMetrics := opts.Metrics.Ledger()

	var (
		repo         inventory.RepositoryPort
		transferRepo transfer.RepositoryPort
		audit        inventory.AuditPort
		idempotency  inventory.IdempotencyPort
	)
	switch cfg.LedgerStore {
	case StoreMemory:
		store := memstore.New()
		repo = store
		transferRepo = store.Transfers()
		audit = shared.NewSlogAuditor(logger)
		idempotency = shared.NewMemoryIdempotency()
		logger.Warn("ledger running on the in-memory store")
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		l.pool = pool
		repo = inventory.NewRepository(pool, cfg.LedgerLockTimeout)
		transferRepo = transfer.NewRepository(pool, cfg.LedgerLockTimeout)
		audit = shared.NewAuditLogger(pool)
		idempotency = shared.NewIdempotencyStore(pool)
	}

	if l.redis == nil && (cfg.LedgerLockBackend == LockRedis || cfg.BalanceCacheTTL > 0) {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			if cfg.LedgerLockBackend == LockRedis {
				l.Close()
				return nil, fmt.Errorf("app: redis lock backend: %w", err)
			}
			logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		} else {
			l.redis = client
		}
	}

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.LedgerLockBackend == LockRedis {
		locker = keylock.NewRedis(l.redis, keylock.RedisOptions{TTL: cfg.LedgerLockTTL, Logger: logger})
	}

	var balanceCache *inventory.BalanceCache
	if l.redis != nil && cfg.BalanceCacheTTL > 0 {
		balanceCache = inventory.NewBalanceCache(l.redis, cfg.BalanceCacheTTL, ledgerMetrics)
	}

	var (
		ledgerEvents   inventory.EventSink = inventory.NopEventSink{}
		transferEvents transfer.EventSink
	)
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := integration.Dial(cfg.KafkaBrokers, "stockledger", integration.TopicsWithPrefix(cfg.KafkaTopicPrefix), logger)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.publisher = publisher
		ledgerEvents = publisher
		transferEvents = publisher
	}

	l.Service = inventory.NewService(inventory.ServiceParams{
		Repo:        repo,
		Locker:      locker,
		Audit:       audit,
		Idempotency: idempotency,
		Events:      ledgerEvents,
		Cache:       balanceCache,
		Metrics:     ledgerMetrics,
		Logger:      logger,
		Config: inventory.ServiceConfig{
			AllowNegativeStock: cfg.LedgerAllowNegative,
			LockTimeout:        cfg.LedgerLockTimeout,
			LockRetries:        cfg.LedgerLockRetries,
			LockBackoff:        cfg.LedgerLockBackoff,
		},
	})
	l.Transfers = transfer.NewService(transfer.ServiceParams{
		Repo:    transferRepo,
		Ledger:  l.Service,
		Events:  transferEvents,
		Audit:   audit,
		Metrics: ledgerMetrics,
		Logger:  logger,
		Config:  transfer.Config{RequireApproval: cfg.TransferRequireApproval},
	})
	l.Reconciler = inventory.NewReconciler(l.Service)
	return l, nil
}

// Close releases the connections opened by BuildLedger.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	if l.publisher != nil {
		if err := l.publisher.Close(); err != nil {
			l.logger.Warn("kafka close", slog.Any("error", err))
		}
	}
	if l.redis != nil {
		if err := l.redis.Close(); err != nil {
			l.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if l.pool != nil {
		l.pool.Close()
	}
}
