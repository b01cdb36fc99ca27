package repository

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// Store открывает доступ к репозиториям одного хранилища.
type Store interface {
	Orders() OrderRepository
	Deliveries() DeliveryRepository
	Transactions() TransactionRepository
	Disputes() DisputeRepository
	Events() EventRepository
	Audit() AuditRepository
}

// UnitOfWork выполняет fn атомарно: либо сохраняются все изменения, сделанные через tx, либо ни одно.
// Внутри fn нельзя обращаться к репозиториям вне tx.
type UnitOfWork interface {
	Store
	Do(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
