package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/lock"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
	RoleMediator   = "mediator"
	RoleSystem     = "system"
)

// Actor — пользователь, от имени которого выполняется команда.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleMediator
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

func (a Actor) auditID() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// SystemActor — планировщик и другие фоновые процессы.
var SystemActor = Actor{Role: RoleSystem}

// Notifier получает сигнал о новых событиях в outbox после фиксации изменений.
type Notifier interface {
	Kick()
}

// Deps — общие зависимости сервисов движка.
type Deps struct {
	Store    repository.UnitOfWork
	Ledger   ledger.Provider
	Locker   lock.Locker
	Notifier Notifier
	Now      func() time.Time
}

type engine struct {
	store  repository.UnitOfWork
	ledger ledger.Provider
	locker lock.Locker
	notify Notifier
	now    func() time.Time
}

func newEngine(d Deps) *engine {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &engine{
		store:  d.Store,
		ledger: d.Ledger,
		locker: d.Locker,
		notify: d.Notifier,
		now:    now,
	}
}

// withOrderLock выполняет fn под блокировкой заказа. Блокировка держится и на время вызова провайдера.
func (e *engine) withOrderLock(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context) error) error {
	release, err := e.locker.Acquire(ctx, lock.OrderKey(orderID.String()))
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return apperror.ConcurrentModification(err)
		}
		return fmt.Errorf("acquire order lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.WithOrder(orderID.String()).WithError(err).Warn("не удалось освободить блокировку заказа")
		}
	}()
	return fn(ctx)
}

// commit атомарно сохраняет изменения и будит доставку событий.
func (e *engine) commit(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if err := e.store.Do(ctx, fn); err != nil {
		return mapStoreError(err)
	}
	if e.notify != nil {
		e.notify.Kick()
	}
	return nil
}

func mapStoreError(err error) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrVersionConflict):
		return apperror.ConcurrentModification(err)
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка хранилища")
}

func loadOrder(ctx context.Context, store repository.Store, id uuid.UUID) (*entity.Order, error) {
	o, err := store.Orders().FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return o, nil
}

func loadDispute(ctx context.Context, store repository.Store, id uuid.UUID) (*entity.Dispute, error) {
	d, err := store.Disputes().FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find dispute: %w", err)
	}
	return d, nil
}

func loadResolution(ctx context.Context, store repository.Store, disputeID uuid.UUID) (*entity.Resolution, error) {
	r, err := store.Disputes().FindResolution(ctx, disputeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.ErrResolutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find resolution: %w", err)
	}
	return r, nil
}

func orderBalance(ctx context.Context, store repository.Store, orderID uuid.UUID) (decimal.Decimal, error) {
	txs, err := store.Transactions().ListByOrder(ctx, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list transactions: %w", err)
	}
	return entity.Balance(txs), nil
}

// requireSettled запрещает переходы по заказу с операцией у провайдера, ожидающей сверки.
func requireSettled(o *entity.Order) error {
	if o.NeedsReconciliation() {
		return apperror.LedgerAmbiguous(fmt.Errorf("order %s awaits reconciliation of %s", o.ID, *o.PendingLedgerOp))
	}
	return nil
}

func authorizeView(o *entity.Order, actor Actor) error {
	if actor.IsStaff() || actor.IsSystem() {
		return nil
	}
	if _, ok := o.PartyOf(actor.UserID); ok {
		return nil
	}
	return apperror.ErrForbidden
}

// callLedger выполняет операцию у провайдера с ключом идемпотентности (заказ, вид, назначение).
// Неизвестный исход помечает заказ для сверки отдельной транзакцией хранилища.
func (e *engine) callLedger(ctx context.Context, o *entity.Order, kind ledger.Kind, purpose string, amount decimal.Decimal) (string, string, error) {
	key := ledger.IdempotencyKey(o.ID, kind, purpose)
	log := logger.WithOrder(o.ID.String()).WithFields(logrus.Fields{"op": kind, "idem_key": key, "amount": amount.StringFixed(valueobject.AmountScale)})

	var (
		ref string
		err error
	)
	switch kind {
	case ledger.KindHold:
		ref, err = e.ledger.Hold(ctx, o.ID, amount, key)
	case ledger.KindCapture, ledger.KindRefund:
		if o.HoldRef == nil {
			return "", "", apperror.Invariant("у заказа нет удержания средств")
		}
		if kind == ledger.KindCapture {
			ref, err = e.ledger.Capture(ctx, *o.HoldRef, amount, key)
		} else {
			ref, err = e.ledger.Refund(ctx, *o.HoldRef, amount, key)
		}
	default:
		return "", "", fmt.Errorf("unknown ledger operation %q", kind)
	}
	if err == nil {
		log.Debug("операция у провайдера выполнена")
		return ref, key, nil
	}

	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		log.WithError(err).Warn("платёжный провайдер недоступен")
		return "", "", apperror.LedgerUnavailable(err)
	case errors.Is(err, ledger.ErrDeclined):
		log.WithError(err).Warn("платёжный провайдер отклонил операцию")
		return "", "", apperror.Wrap(err, apperror.ErrCodeConflict, "платёжный провайдер отклонил операцию")
	}

	log.WithError(err).Error("исход операции у провайдера неизвестен, заказ ожидает сверки")
	if markErr := e.markPendingLedger(context.WithoutCancel(ctx), o.ID, string(kind), key); markErr != nil {
		log.WithError(markErr).Error("не удалось пометить заказ для сверки")
	}
	return "", "", apperror.LedgerAmbiguous(err)
}

func (e *engine) markPendingLedger(ctx context.Context, orderID uuid.UUID, op, key string) error {
	now := e.now()
	return e.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		o.MarkPendingLedger(op, key, now)
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		if err := addAudit(ctx, tx, o.ID, SystemActor, "ledger_pending", nil, map[string]string{"op": op}, now); err != nil {
			return err
		}
		return emit(ctx, tx, events.TypeOrderNeedsReconcile, o.ID, events.OrderNeedsReconcile{OrderID: o.ID, Op: op}, nil, now)
	})
}

func emit(ctx context.Context, tx repository.Store, eventType string, aggregateID uuid.UUID, payload any, recipients []uuid.UUID, now time.Time) error {
	ev, err := events.New(eventType, aggregateID, payload, recipients, now)
	if err != nil {
		return fmt.Errorf("build event %s: %w", eventType, err)
	}
	return tx.Events().Add(ctx, ev)
}

func addAudit(ctx context.Context, tx repository.Store, orderID uuid.UUID, actor Actor, action string, oldValue, newValue any, now time.Time) error {
	return tx.Audit().Add(ctx, entity.NewAuditEntry(orderID, actor.auditID(), action, oldValue, newValue, now))
}

// recordTransitions пишет событие и запись аудита на каждую смену статуса заказа.
func recordTransitions(ctx context.Context, tx repository.Store, actor Actor, o *entity.Order, path []valueobject.OrderStatus, now time.Time) error {
	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		if from == to {
			continue
		}
		payload := events.OrderStatusChanged{OrderID: o.ID, From: from, To: to}
		if err := emit(ctx, tx, events.TypeOrderStatusChanged, o.ID, payload, o.Participants(), now); err != nil {
			return err
		}
		if err := addAudit(ctx, tx, o.ID, actor, "status_changed",
			map[string]string{"status": string(from)}, map[string]string{"status": string(to)}, now); err != nil {
			return err
		}
	}
	return nil
}

func appendTransaction(ctx context.Context, tx repository.Store, orderID uuid.UUID, typ valueobject.TransactionType, amount decimal.Decimal, ref, key string, now time.Time) error {
	t, err := entity.NewTransaction(orderID, typ, amount, ref, now)
	if err != nil {
		return err
	}
	if key != "" {
		t.IdempotencyKey = &key
	}
	if err := tx.Transactions().Append(ctx, t); err != nil {
		return fmt.Errorf("append %s transaction: %w", typ, err)
	}
	return nil
}
