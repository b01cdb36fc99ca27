package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	// Update сохраняет заказ, если его версия не изменилась, и увеличивает Version.
	// При расхождении версий возвращает ErrVersionConflict.
	Update(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]*entity.Order, error)

	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Order, error)
	ListPendingLedger(ctx context.Context, limit int) ([]*entity.Order, error)
}

type OrderFilter struct {
	Status valueobject.OrderStatus
	Limit  int
	Offset int
}

type DeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.Delivery) error
	Update(ctx context.Context, delivery *entity.Delivery) error
	FindLatest(ctx context.Context, orderID uuid.UUID) (*entity.Delivery, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.Delivery, error)
}

// TransactionRepository — журнал только на добавление.
type TransactionRepository interface {
	// Append назначает транзакции следующий Seq в рамках заказа.
	Append(ctx context.Context, tx *entity.Transaction) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*entity.Transaction, error)
}
