package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
)

// ListResponse wraps a page of items
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewListResponse never returns null items
func NewListResponse[T any](items []T, limit, offset int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Limit: limit, Offset: offset}
}

// BalanceResponse represents the escrow balance of an order
type BalanceResponse struct {
	OrderID uuid.UUID       `json:"order_id"`
	Balance decimal.Decimal `json:"balance"`
}

// LedgerResponse represents the transaction journal of an order
type LedgerResponse struct {
	OrderID      uuid.UUID            `json:"order_id"`
	Balance      decimal.Decimal      `json:"balance"`
	Transactions []entity.Transaction `json:"transactions"`
}

// NewLedgerResponse computes the balance shown next to the journal
func NewLedgerResponse(orderID uuid.UUID, txs []entity.Transaction) LedgerResponse {
	if txs == nil {
		txs = []entity.Transaction{}
	}
	return LedgerResponse{OrderID: orderID, Balance: entity.Balance(txs), Transactions: txs}
}
