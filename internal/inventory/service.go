package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/keylock"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetBalance(ctx context.Context, key Key) (Balance, error)
	ListBalances(ctx context.Context, productID, warehouseID int64) ([]Balance, error)
	ListKeys(ctx context.Context) ([]Key, error)

	GetMovement(ctx context.Context, id int64) (Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	KeyHistory(ctx context.Context, key Key) ([]Movement, error)
	KeyBatches(ctx context.Context, key Key) ([]Batch, error)

	GetPolicy(ctx context.Context, productID int64) (Policy, error)
	GetSettings(ctx context.Context, key Key) (StockSettings, error)

	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter tracking.BatchFilter) ([]Batch, error)
	GetSerial(ctx context.Context, id int64) (Serial, error)
	ListSerials(ctx context.Context, filter tracking.SerialFilter) ([]Serial, error)

	GetAlert(ctx context.Context, id int64) (LowStockAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]LowStockAlert, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	LockTimeout        time.Duration
	LockRetries        int
	LockBackoff        time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Second
	}
	if c.LockRetries <= 0 {
		c.LockRetries = 3
	}
	if c.LockBackoff <= 0 {
		c.LockBackoff = 50 * time.Millisecond
	}
	return c
}

// ServiceParams wires the service dependencies. Only Repo and Locker are
// required.
type ServiceParams struct {
	Repo        RepositoryPort
	Locker      keylock.Locker
	Audit       AuditPort
	Idempotency IdempotencyPort
	Events      EventSink
	Cache       *BalanceCache
	Metrics     *observability.LedgerMetrics
	Logger      *slog.Logger
	Config      ServiceConfig
	Now         func() time.Time
}

// Service is the single writer of stock state. Every change to a balance,
// batch or serial goes through it under the stock unit's lock.
type Service struct {
	repo        RepositoryPort
	locker      keylock.Locker
	audit       AuditPort
	idempotency IdempotencyPort
	events      EventSink
	cache       *BalanceCache
	metrics     *observability.LedgerMetrics
	logger      *slog.Logger
	engine      *valuation.Engine
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := p.Events
	if events == nil {
		events = NopEventSink{}
	}
	locker := p.Locker
	if locker == nil {
		locker = keylock.NewLocal()
	}
	return &Service{
		repo:        p.Repo,
		locker:      locker,
		audit:       p.Audit,
		idempotency: p.Idempotency,
		events:      events,
		cache:       p.Cache,
		metrics:     p.Metrics,
		logger:      logger.With(slog.String("component", "inventory")),
		engine:      valuation.NewEngine(now),
		cfg:         p.Config.withDefaults(),
		now:         now,
	}
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// WithLocks runs fn while holding every key. Keys are taken in sorted order.
// Contention is retried with exponential backoff; once retries run out the
// caller gets a LockTimeoutError and nothing has been written.
func (s *Service) WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) error {
	keys = keylock.Sorted(keys)
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LockRetries; attempt++ {
		err := s.lockedOnce(ctx, keys, fn)
		if err == nil || !isContention(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt == s.cfg.LockRetries {
			break
		}
		s.metrics.LockRetry()
		s.logger.DebugContext(ctx, "lock contention, retrying", slog.Any("keys", keys), slog.Int("attempt", attempt))
		timer := time.NewTimer(s.cfg.LockBackoff << (attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.metrics.LockTimeout()
	s.logger.WarnContext(ctx, "lock timeout", slog.Any("keys", keys), slog.Int("attempts", s.cfg.LockRetries))
	return &LockTimeoutError{Keys: keys, Attempts: s.cfg.LockRetries, Cause: lastErr}
}

func (s *Service) lockedOnce(ctx context.Context, keys []string, fn func(context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	start := time.Now()
	release, err := keylock.AcquireAll(lockCtx, s.locker, keys)
	cancel()
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func isContention(err error) bool {
	return errors.Is(err, keylock.ErrNotAcquired) || errors.Is(err, ErrLockContention)
}

// Apply validates and records one movement intent: it locks the stock unit,
// updates the balance, batches and serials, writes one movement per cost
// layer touched, evaluates the alert threshold, then publishes.
func (s *Service) Apply(ctx context.Context, in MovementIntent) (Outcome, error) {
	if err := in.validate(); err != nil {
		s.reject(ctx, in, err)
		return Outcome{}, err
	}
	idemKey := ""
	if in.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = "movement:" + in.IdempotencyKey
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			return Outcome{}, err
		}
	}
	var out Outcome
	err := s.WithLocks(ctx, in.LockKeys(), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			out, err = s.ApplyInTx(ctx, tx, in)
			return err
		})
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		s.reject(ctx, in, err)
		return Outcome{}, err
	}
	s.Publish(ctx, out)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   fmt.Sprintf("inventory:%s", in.Type),
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", out.Movements[len(out.Movements)-1].ID),
		Meta: map[string]any{
			"product_id":     in.ProductID,
			"warehouse_id":   in.WarehouseID,
			"quantity":       in.Delta().String(),
			"movements":      len(out.Movements),
			"reference_kind": string(in.Reference.Kind),
			"reference_id":   in.Reference.ID,
		},
	})
	return out, nil
}

// ApplyInTx applies an intent inside a caller-owned transaction. The caller
// must hold the intent's lock keys and call Publish after commit.
func (s *Service) ApplyInTx(ctx context.Context, tx TxRepository, in MovementIntent) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	key := in.Key()
	policy, err := loadPolicy(ctx, tx, in.ProductID)
	if err != nil {
		return Outcome{}, err
	}
	settings, err := loadSettings(ctx, tx, key)
	if err != nil {
		return Outcome{}, err
	}
	balance, err := tx.GetBalanceForUpdate(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{ProductID: in.ProductID, WarehouseID: in.WarehouseID}
	} else if err != nil {
		return Outcome{}, err
	}
	if policy.Serialized {
		if err := checkSerialCount(in); err != nil {
			return Outcome{}, err
		}
	} else if len(in.SerialNumbers) > 0 {
		return Outcome{}, fmt.Errorf("%w: product %d is not serialized", ErrSerialCount, in.ProductID)
	}

	p := &posting{
		svc:      s,
		tx:       tx,
		tracker:  tracking.NewTracker(tx, s.now),
		policy:   policy,
		settings: settings,
		balance:  balance,
		intent:   in,
		at:       s.now(),
	}
	var movements []Movement
	if in.Delta().IsPositive() {
		movements, err = p.receive(ctx)
	} else {
		movements, err = p.issue(ctx)
	}
	if err != nil {
		return Outcome{}, err
	}
	p.balance.UpdatedAt = p.at
	if err := tx.UpsertBalance(ctx, p.balance); err != nil {
		return Outcome{}, err
	}
	alert, err := s.evaluateThreshold(ctx, tx, p.balance, settings)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Movements: movements, Balance: p.balance, Alert: alert}, nil
}

// Publish emits events, drops cached balances and counts movements for
// committed outcomes. Sink failures are logged and never surfaced.
func (s *Service) Publish(ctx context.Context, outcomes ...Outcome) {
	keys := make([]Key, 0, len(outcomes))
	for _, out := range outcomes {
		for _, m := range out.Movements {
			s.metrics.MovementPosted(string(m.Type))
			evt := MovementPostedEvent{
				Movement:  m,
				OnHand:    out.Balance.OnHand,
				Reserved:  out.Balance.Reserved,
				Available: out.Balance.Available(),
				PostedAt:  m.CreatedAt,
			}
			if err := s.events.MovementPosted(ctx, evt); err != nil {
				s.logger.WarnContext(ctx, "publish movement event", slog.Int64("movement_id", m.ID), slog.Any("error", err))
			}
		}
		if out.Alert != nil {
			s.publishAlert(ctx, *out.Alert)
		}
		if out.Balance.ProductID != 0 {
			keys = append(keys, out.Balance.Key())
		}
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.WarnContext(ctx, "invalidate balance cache", slog.Any("error", err))
	}
}

func (s *Service) publishAlert(ctx context.Context, change AlertChange) {
	event := "resolved"
	if change.Opened {
		event = "opened"
	}
	s.metrics.Alert(event)
	evt := AlertChangedEvent{Alert: change.Alert, Opened: change.Opened, ChangeAt: s.now()}
	if err := s.events.AlertChanged(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "publish alert event", slog.Int64("alert_id", change.Alert.ID), slog.Any("error", err))
	}
}

// Reverse offsets an earlier movement with one of the opposite sign and the
// same unit cost, marking the original voided. Serialized products must
// name the units being reversed.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Outcome, error) {
	original, err := s.repo.GetMovement(ctx, in.MovementID)
	if err != nil {
		return Outcome{}, err
	}
	if original.VoidedAt != nil {
		return Outcome{}, ErrAlreadyVoided
	}
	intent := MovementIntent{
		ProductID:     original.ProductID,
		WarehouseID:   original.WarehouseID,
		Type:          MovementAdjustment,
		Quantity:      original.Quantity.Neg(),
		UnitCost:      decimal.NewNullDecimal(original.UnitCost),
		BatchID:       original.BatchID,
		SerialNumbers: in.SerialNumbers,
		Reference:     Reference{Kind: DocumentReversal, ID: fmt.Sprintf("%d", original.ID)},
		ActorID:       in.ActorID,
		Note:          in.Note,
	}
	if intent.Note == "" {
		intent.Note = fmt.Sprintf("reversal of movement %d", original.ID)
	}

	var out Outcome
	err = s.WithLocks(ctx, intent.LockKeys(), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.GetMovementForUpdate(ctx, original.ID)
			if err != nil {
				return err
			}
			if locked.VoidedAt != nil {
				return ErrAlreadyVoided
			}
			out, err = s.ApplyInTx(ctx, tx, intent)
			if err != nil {
				return err
			}
			reversal := out.Movements[len(out.Movements)-1]
			return tx.VoidMovement(ctx, original.ID, in.ActorID, reversal.ID, s.now())
		})
	})
	if err != nil {
		s.reject(ctx, intent, err)
		return Outcome{}, err
	}
	s.Publish(ctx, out)
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "inventory:reverse",
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", original.ID),
		Meta:     map[string]any{"reversed_by": out.Movements[len(out.Movements)-1].ID},
	})
	return out, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func (s *Service) reject(ctx context.Context, in MovementIntent, err error) {
	reason := rejectionReason(err)
	s.metrics.Rejected(reason)
	s.logger.InfoContext(ctx, "movement rejected",
		slog.Int64("product_id", in.ProductID),
		slog.Int64("warehouse_id", in.WarehouseID),
		slog.String("type", string(in.Type)),
		slog.String("quantity", in.Quantity.String()),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}

func rejectionReason(err error) string {
	var noBasis *valuation.NoCostBasisError
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOverReserved):
		return "over_reserved"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.As(err, &noBasis):
		return "no_cost_basis"
	case errors.Is(err, shared.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "invalid"
	}
}

func loadPolicy(ctx context.Context, r interface {
	GetPolicy(context.Context, int64) (Policy, error)
}, productID int64) (Policy, error) {
	policy, err := r.GetPolicy(ctx, productID)
	if errors.Is(err, ErrPolicyNotFound) {
		return valuation.DefaultPolicy(productID), nil
	}
	return policy, err
}

func loadSettings(ctx context.Context, r interface {
	GetSettings(context.Context, Key) (StockSettings, error)
}, key Key) (StockSettings, error) {
	settings, err := r.GetSettings(ctx, key)
	if errors.Is(err, ErrSettingsNotFound) {
		return StockSettings{ProductID: key.ProductID, WarehouseID: key.WarehouseID}, nil
	}
	return settings, err
}
