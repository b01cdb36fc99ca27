package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Transaction — запись журнала движения средств по заказу. Не изменяется и не удаляется.
type Transaction struct {
	ID             uuid.UUID                   `db:"id" json:"id"`
	OrderID        uuid.UUID                   `db:"order_id" json:"order_id"`
	Seq            int64                       `db:"seq" json:"seq"`
	Type           valueobject.TransactionType `db:"type" json:"type"`
	Amount         decimal.Decimal             `db:"amount" json:"amount"`
	Status         string                      `db:"status" json:"status"`
	ExternalRef    *string                     `db:"external_ref" json:"external_ref,omitempty"`
	IdempotencyKey *string                     `db:"idempotency_key" json:"-"`
	Description    *string                     `db:"description" json:"description,omitempty"`
	CreatedAt      time.Time                   `db:"created_at" json:"created_at"`
}

func NewTransaction(orderID uuid.UUID, typ valueobject.TransactionType, amount decimal.Decimal, externalRef string, now time.Time) (*Transaction, error) {
	if !typ.IsValid() {
		return nil, apperror.Invariant("некорректный тип транзакции")
	}
	if !amount.IsPositive() {
		return nil, apperror.Invariant("сумма транзакции должна быть положительной")
	}
	t := &Transaction{
		ID:        uuid.New(),
		OrderID:   orderID,
		Type:      typ,
		Amount:    amount,
		Status:    valueobject.TransactionStatusCompleted,
		CreatedAt: now,
	}
	if externalRef != "" {
		t.ExternalRef = &externalRef
	}
	return t, nil
}

// Signed возвращает вклад транзакции в баланс заказа.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Type == valueobject.TransactionTypePayment {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Balance = Σpayment − Σrefund − Σpayout − Σfee.
func Balance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for i := range txs {
		sum = sum.Add(txs[i].Signed())
	}
	return sum
}
