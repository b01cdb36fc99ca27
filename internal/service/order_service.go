package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// OrderService ведёт заказ по жизненному циклу и управляет удержанием средств.
type OrderService struct {
	*engine
	settlements SettlementReplayer
}

func NewOrderService(deps Deps) *OrderService {
	return &OrderService{engine: newEngine(deps)}
}

// CreateOrderInput — параметры заказа, пришедшие из процесса покупки.
type CreateOrderInput struct {
	ClientID          uuid.UUID
	FreelancerID      uuid.UUID
	ContractType      valueobject.ContractType
	Title             string
	Currency          string
	Amount            decimal.Decimal
	PlatformFee       decimal.Decimal
	ProcessingFee     decimal.Decimal
	ProviderFee       decimal.Decimal
	AllottedRevisions int
	DeliveryDays      int
}

// CreateOrder создаёт заказ в статусе pending. Клиентом становится сам пользователь,
// администратор может указать клиента явно.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*entity.Order, error) {
	clientID := actor.UserID
	switch actor.Role {
	case RoleAdmin:
		if in.ClientID != uuid.Nil {
			clientID = in.ClientID
		}
	case RoleClient:
	default:
		return nil, apperror.New(apperror.ErrCodeForbidden, "создать заказ может только клиент")
	}

	now := s.now()
	order, err := entity.NewOrder(entity.NewOrderParams{
		ClientID:     clientID,
		FreelancerID: in.FreelancerID,
		ContractType: in.ContractType,
		Title:        in.Title,
		Currency:     in.Currency,
		Pricing: valueobject.Pricing{
			Amount:        in.Amount,
			PlatformFee:   in.PlatformFee,
			ProcessingFee: in.ProcessingFee,
			ProviderFee:   in.ProviderFee,
		},
		AllottedRevisions: in.AllottedRevisions,
		DeliveryDays:      in.DeliveryDays,
	}, now)
	if err != nil {
		return nil, err
	}

	err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return addAudit(ctx, tx, order.ID, actor, "order_created", nil, map[string]string{
			"status": string(order.Status),
			"total":  order.TotalAmount.StringFixed(valueobject.AmountScale),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	logger.WithOrder(order.ID.String()).WithField("order_number", order.OrderNumber).Info("заказ создан")
	return order, nil
}

// Fund удерживает полную сумму заказа у провайдера: pending → accepted.
// Пакетный заказ сразу переходит в работу без подтверждения исполнителя.
func (s *OrderService) Fund(ctx context.Context, actor Actor, orderID uuid.UUID) (*entity.Order, error) {
	var result *entity.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		if !o.IsOwnedBy(actor.UserID) && actor.Role != RoleAdmin {
			return apperror.New(apperror.ErrCodeForbidden, "оплатить заказ может только клиент")
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		if err := s.fundLocked(ctx, actor, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	return result, err
}

// fundLocked выполняется под блокировкой заказа.
func (s *OrderService) fundLocked(ctx context.Context, actor Actor, o *entity.Order) error {
	if err := o.CheckFundable(); err != nil {
		return err
	}
	if err := o.CheckFinancials(); err != nil {
		return err
	}

	holdRef, key, err := s.callLedger(ctx, o, ledger.KindHold, ledger.PurposeFunding, o.TotalAmount)
	if err != nil {
		return err
	}

	now := s.now()
	path := []valueobject.OrderStatus{o.Status}
	if err := o.Fund(holdRef, now); err != nil {
		return err
	}
	path = append(path, o.Status)
	if o.ContractType == valueobject.ContractTypePackage {
		if err := o.Accept(now); err != nil {
			return err
		}
		path = append(path, o.Status)
	}

	return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		if err := appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypePayment, o.TotalAmount, holdRef, key, now); err != nil {
			return err
		}
		if err := addAudit(ctx, tx, o.ID, actor, "escrow_held",
			map[string]string{"escrow": string(valueobject.EscrowStatusNone)},
			map[string]string{"escrow": string(o.EscrowStatus), "hold_ref": holdRef}, now); err != nil {
			return err
		}
		return recordTransitions(ctx, tx, actor, o, path, now)
	})
}

// Accept — исполнитель подтверждает начало работы.
func (s *OrderService) Accept(ctx context.Context, actor Actor, orderID uuid.UUID) (*entity.Order, error) {
	return s.transition(ctx, actor, orderID, valueobject.PartyFreelancer, "подтвердить заказ может только исполнитель",
		func(o *entity.Order) error { return o.Accept(s.now()) })
}

// SubmitDelivery сохраняет сдачу работы и переводит заказ в submitted.
func (s *OrderService) SubmitDelivery(ctx context.Context, actor Actor, orderID uuid.UUID, message string) (*entity.Delivery, error) {
	var delivery *entity.Delivery
	_, err := s.transitionWith(ctx, actor, orderID, valueobject.PartyFreelancer, "сдать работу может только исполнитель",
		func(o *entity.Order) error {
			revision, err := o.SubmitDelivery(s.now())
			if err != nil {
				return err
			}
			delivery = entity.NewDelivery(o.ID, revision, message, s.now())
			return nil
		},
		func(ctx context.Context, tx repository.Store) error {
			return tx.Deliveries().Create(ctx, delivery)
		})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

// RequestRevision возвращает работу исполнителю, пока не исчерпан лимит правок.
func (s *OrderService) RequestRevision(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) (*entity.Order, error) {
	return s.transitionWith(ctx, actor, orderID, valueobject.PartyClient, "запросить правки может только клиент",
		func(o *entity.Order) error { return o.RequestRevision(s.now()) },
		func(ctx context.Context, tx repository.Store) error {
			return reviewLatestDelivery(ctx, tx, orderID, func(d *entity.Delivery) { d.MarkRevisionRequested(reason, s.now()) })
		})
}

// AcceptDelivery принимает работу: провайдер списывает удержание,
// в журнал пишутся выплата исполнителю и комиссия платформы.
func (s *OrderService) AcceptDelivery(ctx context.Context, actor Actor, orderID uuid.UUID) (*entity.Order, error) {
	var result *entity.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		if !o.IsOwnedBy(actor.UserID) {
			return apperror.New(apperror.ErrCodeForbidden, "принять работу может только клиент")
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		if err := s.acceptDeliveryLocked(ctx, actor, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	return result, err
}

// acceptDeliveryLocked выполняется под блокировкой заказа.
func (s *OrderService) acceptDeliveryLocked(ctx context.Context, actor Actor, o *entity.Order) error {
	if err := o.CheckDeliveryAcceptable(); err != nil {
		return err
	}
	if err := o.CheckFinancials(); err != nil {
		return err
	}
	balance, err := orderBalance(ctx, s.store, o.ID)
	if err != nil {
		return err
	}
	if !balance.Equal(o.TotalAmount) {
		return apperror.Invariant(fmt.Sprintf("баланс заказа %s не совпадает с удержанной суммой %s", balance, o.TotalAmount))
	}

	captureRef, key, err := s.callLedger(ctx, o, ledger.KindCapture, ledger.PurposeDelivery, o.TotalAmount)
	if err != nil {
		return err
	}

	now := s.now()
	path := []valueobject.OrderStatus{o.Status}
	if err := o.AcceptDelivery(now); err != nil {
		return err
	}
	path = append(path, valueobject.OrderStatusDelivered, o.Status)

	return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		if err := appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypePayout, o.ProviderPayout, captureRef, key, now); err != nil {
			return err
		}
		if fee := o.PlatformShare(); fee.IsPositive() {
			if err := appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypeFee, fee, captureRef, "", now); err != nil {
				return err
			}
		}
		if err := reviewLatestDelivery(ctx, tx, o.ID, func(d *entity.Delivery) { d.MarkAccepted(now) }); err != nil {
			return err
		}
		if err := addAudit(ctx, tx, o.ID, actor, "escrow_released",
			map[string]string{"escrow": string(valueobject.EscrowStatusHeld)},
			map[string]string{"escrow": string(o.EscrowStatus), "capture_ref": captureRef}, now); err != nil {
			return err
		}
		return recordTransitions(ctx, tx, actor, o, path, now)
	})
}

// Cancel отменяет заказ до сдачи работы и возвращает удержанные средства клиенту.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) (*entity.Order, error) {
	var result *entity.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		if _, ok := o.PartyOf(actor.UserID); !ok && actor.Role != RoleAdmin {
			return apperror.New(apperror.ErrCodeForbidden, "отменить заказ может только его участник")
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		if err := s.cancelLocked(ctx, actor, o, reason); err != nil {
			return err
		}
		result = o
		return nil
	})
	return result, err
}

// cancelLocked выполняется под блокировкой заказа.
func (s *OrderService) cancelLocked(ctx context.Context, actor Actor, o *entity.Order, reason string) error {
	if err := o.CheckCancellable(); err != nil {
		return err
	}

	var (
		refundRef, key string
		err            error
	)
	funded := o.IsFunded()
	if funded {
		if refundRef, key, err = s.callLedger(ctx, o, ledger.KindRefund, ledger.PurposeCancellation, o.TotalAmount); err != nil {
			return err
		}
	}

	now := s.now()
	path := []valueobject.OrderStatus{o.Status}
	if err := o.Cancel(reason, now); err != nil {
		return err
	}
	path = append(path, o.Status)

	return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		if funded {
			if err := appendTransaction(ctx, tx, o.ID, valueobject.TransactionTypeRefund, o.TotalAmount, refundRef, key, now); err != nil {
				return err
			}
		}
		return recordTransitions(ctx, tx, actor, o, path, now)
	})
}

// SettlementReplayer доисполняет решение по спору, операция которого подтвердилась при сверке.
// Вызывается под блокировкой заказа; false означает, что ключ не относится к спору.
type SettlementReplayer interface {
	ReplaySettlement(ctx context.Context, actor Actor, o *entity.Order, key string) (bool, error)
}

// UseSettlements подключает доисполнение решений по спорам к сверке.
func (s *OrderService) UseSettlements(r SettlementReplayer) {
	s.settlements = r
}

const reconciledCancelReason = "Отмена подтверждена при сверке с провайдером"

// Reconcile снимает блокировку заказа после операции с неизвестным исходом.
// Если провайдер подтвердил операцию, она доводится до конца: повтор с тем же ключом
// возвращает исходный результат, и в журнал пишутся те же записи, что при обычном ответе.
// Статус pending оставляет блокировку.
func (s *OrderService) Reconcile(ctx context.Context, actor Actor, orderID uuid.UUID) (*entity.Order, error) {
	var result *entity.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		if err := authorizeView(o, actor); err != nil {
			return err
		}
		if !o.NeedsReconciliation() {
			result = o
			return nil
		}

		op, key := *o.PendingLedgerOp, *o.PendingLedgerKey
		status, err := s.ledger.Status(ctx, key)
		if err != nil {
			return apperror.LedgerUnavailable(err)
		}
		log := logger.WithOrder(o.ID.String()).WithFields(logrus.Fields{"op": op, "idem_key": key, "status": status})
		if status == ledger.OpPending {
			log.Info("операция у провайдера ещё не завершена")
			return apperror.LedgerAmbiguous(fmt.Errorf("operation %s is still pending", op))
		}

		now := s.now()
		o.ClearPendingLedger(now)
		if status == ledger.OpSucceeded {
			if err := s.replay(ctx, actor, o, op, key); err != nil {
				log.WithError(err).Error("не удалось довести подтверждённую операцию")
				return err
			}
		} else if err := s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return tx.Orders().Update(ctx, o)
		}); err != nil {
			return err
		}

		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			return addAudit(ctx, tx, o.ID, actor, "ledger_reconciled", map[string]string{"op": op},
				map[string]string{"op": op, "status": string(status)}, now)
		})
		if err != nil {
			return err
		}
		log.Info("сверка с провайдером завершена")
		result = o
		return nil
	})
	return result, err
}

// replay повторяет подтверждённую провайдером операцию по её ключу идемпотентности.
func (s *OrderService) replay(ctx context.Context, actor Actor, o *entity.Order, op, key string) error {
	switch key {
	case ledger.IdempotencyKey(o.ID, ledger.KindHold, ledger.PurposeFunding):
		return s.fundLocked(ctx, actor, o)
	case ledger.IdempotencyKey(o.ID, ledger.KindCapture, ledger.PurposeDelivery):
		return s.acceptDeliveryLocked(ctx, actor, o)
	case ledger.IdempotencyKey(o.ID, ledger.KindRefund, ledger.PurposeCancellation):
		return s.cancelLocked(ctx, actor, o, reconciledCancelReason)
	}
	if s.settlements != nil {
		matched, err := s.settlements.ReplaySettlement(ctx, actor, o, key)
		if matched || err != nil {
			return err
		}
	}
	return apperror.Invariant(fmt.Sprintf("операция %s заказа не распознана при сверке", op))
}

// ReconcilePending сверяет заказы, ожидающие ответа провайдера. Возвращает число разблокированных.
func (s *OrderService) ReconcilePending(ctx context.Context, limit int) (int, error) {
	orders, err := s.store.Orders().ListPendingLedger(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending ledger orders: %w", err)
	}
	var (
		cleared int
		errs    []error
	)
	for _, o := range orders {
		_, err := s.Reconcile(ctx, SystemActor, o.ID)
		switch {
		case err == nil:
			cleared++
		case apperror.Is(err, apperror.ErrCodeLedgerAmbiguous):
		default:
			errs = append(errs, fmt.Errorf("reconcile order %s: %w", o.ID, err))
		}
	}
	return cleared, errors.Join(errs...)
}

// FlagOverdue отмечает просроченные заказы в работе. Заказы не отменяются.
func (s *OrderService) FlagOverdue(ctx context.Context, limit int) (int, error) {
	orders, err := s.store.Orders().ListOverdue(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue orders: %w", err)
	}
	var (
		flagged int
		errs    []error
	)
	for _, candidate := range orders {
		err := s.withOrderLock(ctx, candidate.ID, func(ctx context.Context) error {
			o, err := loadOrder(ctx, s.store, candidate.ID)
			if err != nil {
				return err
			}
			now := s.now()
			if !o.FlagOverdue(now) {
				return nil
			}
			err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
				if err := tx.Orders().Update(ctx, o); err != nil {
					return err
				}
				if err := emit(ctx, tx, events.TypeOrderOverdue, o.ID,
					events.OrderOverdue{OrderID: o.ID, DeliveryDueAt: *o.DeliveryDueAt}, o.Participants(), now); err != nil {
					return err
				}
				return addAudit(ctx, tx, o.ID, SystemActor, "order_overdue", nil, map[string]any{"delivery_due_at": o.DeliveryDueAt}, now)
			})
			if err != nil {
				return err
			}
			flagged++
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("flag order %s: %w", candidate.ID, err))
		}
	}
	return flagged, errors.Join(errs...)
}

func (s *OrderService) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*entity.Order, error) {
	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(o, actor); err != nil {
		return nil, err
	}
	return o, nil
}

// ListMy возвращает заказы, где пользователь клиент или исполнитель.
func (s *OrderService) ListMy(ctx context.Context, actor Actor, filter repository.OrderFilter) ([]*entity.Order, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s.store.Orders().ListByParticipant(ctx, actor.UserID, filter)
}

func (s *OrderService) Deliveries(ctx context.Context, actor Actor, orderID uuid.UUID) ([]*entity.Delivery, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.Deliveries().ListByOrder(ctx, orderID)
}

// History возвращает журнал аудита заказа.
func (s *OrderService) History(ctx context.Context, actor Actor, orderID uuid.UUID) ([]*entity.AuditEntry, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.Audit().ListByOrder(ctx, orderID)
}

func (s *OrderService) transition(ctx context.Context, actor Actor, orderID uuid.UUID, party valueobject.Party, forbidden string, apply func(o *entity.Order) error) (*entity.Order, error) {
	return s.transitionWith(ctx, actor, orderID, party, forbidden, apply, nil)
}

// transitionWith выполняет переход без обращения к провайдеру: apply меняет заказ,
// extra сохраняет связанные записи в той же транзакции хранилища.
func (s *OrderService) transitionWith(
	ctx context.Context,
	actor Actor,
	orderID uuid.UUID,
	party valueobject.Party,
	forbidden string,
	apply func(o *entity.Order) error,
	extra func(ctx context.Context, tx repository.Store) error,
) (*entity.Order, error) {
	var result *entity.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := loadOrder(ctx, s.store, orderID)
		if err != nil {
			return err
		}
		if o.UserOf(party) != actor.UserID {
			return apperror.New(apperror.ErrCodeForbidden, forbidden)
		}
		if err := requireSettled(o); err != nil {
			return err
		}
		from := o.Status
		if err := apply(o); err != nil {
			return err
		}
		now := s.now()
		err = s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			if extra != nil {
				if err := extra(ctx, tx); err != nil {
					return err
				}
			}
			return recordTransitions(ctx, tx, actor, o, []valueobject.OrderStatus{from, o.Status}, now)
		})
		if err != nil {
			return err
		}
		result = o
		return nil
	})
	return result, err
}

func reviewLatestDelivery(ctx context.Context, tx repository.Store, orderID uuid.UUID, mark func(d *entity.Delivery)) error {
	d, err := tx.Deliveries().FindLatest(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find latest delivery: %w", err)
	}
	mark(d)
	return tx.Deliveries().Update(ctx, d)
}
