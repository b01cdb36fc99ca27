// Package persistence собирает репозитории PostgreSQL в единицу работы.
package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	pg "github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

// PostgresStore реализует repository.UnitOfWork поверх sqlx.
// Вне Do репозитории работают с пулом соединений, внутри с транзакцией.
type PostgresStore struct {
	db *sqlx.DB
	repos
}

type repos struct {
	orders       *pg.OrderRepository
	deliveries   *pg.DeliveryRepository
	transactions *pg.TransactionRepository
	disputes     *pg.DisputeRepository
	events       *pg.EventRepository
	audit        *pg.AuditRepository
}

func newRepos(q common.Querier) repos {
	return repos{
		orders:       pg.NewOrderRepository(q),
		deliveries:   pg.NewDeliveryRepository(q),
		transactions: pg.NewTransactionRepository(q),
		disputes:     pg.NewDisputeRepository(q),
		events:       pg.NewEventRepository(q),
		audit:        pg.NewAuditRepository(q),
	}
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: newRepos(db)}
}

func (r repos) Orders() repository.OrderRepository             { return r.orders }
func (r repos) Deliveries() repository.DeliveryRepository      { return r.deliveries }
func (r repos) Transactions() repository.TransactionRepository { return r.transactions }
func (r repos) Disputes() repository.DisputeRepository         { return r.disputes }
func (r repos) Events() repository.EventRepository             { return r.events }
func (r repos) Audit() repository.AuditRepository              { return r.audit }

// Do выполняет fn в транзакции. Любая ошибка fn откатывает все изменения.
func (s *PostgresStore) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return common.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(ctx, newRepos(tx))
	})
}
