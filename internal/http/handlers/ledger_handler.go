package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// LedgerHandler отдаёт журнал транзакций и баланс удержания по заказу.
type LedgerHandler struct {
	ledger *service.LedgerService
}

func NewLedgerHandler(ledger *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// ListTransactions GET /orders/:id/transactions
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, orderID uuid.UUID) (any, error) {
		txs, err := h.ledger.List(c.Request.Context(), actor, orderID)
		if err != nil {
			return nil, err
		}
		return dto.NewLedgerResponse(orderID, txs), nil
	})
}

// GetBalance GET /orders/:id/balance
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	runAction(c, "id", func(c *gin.Context, actor service.Actor, orderID uuid.UUID) (any, error) {
		balance, err := h.ledger.Balance(c.Request.Context(), actor, orderID)
		if err != nil {
			return nil, err
		}
		return dto.BalanceResponse{OrderID: orderID, Balance: balance}, nil
	})
}
