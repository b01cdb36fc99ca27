package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	domain "github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

const transactionColumns = `id, order_id, seq, type, amount, status, external_ref, idempotency_key, description, created_at`

// TransactionRepository — журнал движения средств. Строки только добавляются.
type TransactionRepository struct {
	q common.Querier
}

func NewTransactionRepository(q common.Querier) *TransactionRepository {
	return &TransactionRepository{q: q}
}

// Append назначает следующий seq в рамках заказа. Конкурентная вставка с тем же seq
// отклоняется уникальным индексом (order_id, seq).
func (r *TransactionRepository) Append(ctx context.Context, t *entity.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9
		FROM transactions WHERE order_id = $2
		RETURNING seq
	`
	var seq int64
	err := sqlx.GetContext(ctx, r.q, &seq, query,
		t.ID, t.OrderID, t.Type, t.Amount, t.Status, t.ExternalRef, t.IdempotencyKey, t.Description, t.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	t.Seq = seq
	return nil
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.Transaction, error) {
	var out []entity.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1 ORDER BY seq`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, orderID); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return common.Get[entity.Transaction](ctx, r.q, "transaction", query, key)
}
