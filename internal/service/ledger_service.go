package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// LedgerService — журнал движения средств по заказу. Записи только добавляются.
type LedgerService struct {
	*engine
}

func NewLedgerService(deps Deps) *LedgerService {
	return &LedgerService{engine: newEngine(deps)}
}

// Record добавляет запись в журнал под блокировкой заказа.
// Списание не может превышать текущий баланс заказа.
func (s *LedgerService) Record(ctx context.Context, orderID uuid.UUID, typ valueobject.TransactionType, amount decimal.Decimal, externalRef string) (*entity.Transaction, error) {
	var result *entity.Transaction
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		if _, err := loadOrder(ctx, s.store, orderID); err != nil {
			return err
		}
		now := s.now()
		t, err := entity.NewTransaction(orderID, typ, amount, externalRef, now)
		if err != nil {
			return err
		}
		return s.commit(ctx, func(ctx context.Context, tx repository.Store) error {
			if typ != valueobject.TransactionTypePayment {
				balance, err := orderBalance(ctx, tx, orderID)
				if err != nil {
					return err
				}
				if amount.GreaterThan(balance) {
					return apperror.Invariant(fmt.Sprintf("списание %s превышает баланс заказа %s", amount, balance))
				}
			}
			if err := tx.Transactions().Append(ctx, t); err != nil {
				return fmt.Errorf("append transaction: %w", err)
			}
			result = t
			return nil
		})
	})
	return result, err
}

// Balance = Σpayment − Σrefund − Σpayout − Σfee.
func (s *LedgerService) Balance(ctx context.Context, actor Actor, orderID uuid.UUID) (decimal.Decimal, error) {
	if err := s.authorize(ctx, actor, orderID); err != nil {
		return decimal.Zero, err
	}
	return orderBalance(ctx, s.store, orderID)
}

// List возвращает записи журнала в порядке добавления.
func (s *LedgerService) List(ctx context.Context, actor Actor, orderID uuid.UUID) ([]entity.Transaction, error) {
	if err := s.authorize(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.Transactions().ListByOrder(ctx, orderID)
}

func (s *LedgerService) authorize(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return err
	}
	return authorizeView(o, actor)
}
