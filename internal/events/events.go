// Package events — доменные события движка и их доставка получателям через outbox.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

const (
	TypeOrderStatusChanged  = "order.status_changed"
	TypeOrderOverdue        = "order.overdue"
	TypeDisputeOpened       = "dispute.opened"
	TypeResolutionProposed  = "dispute.resolution_proposed"
	TypeResolutionExecuted  = "resolution.executed"
	TypeDisputeCancelled    = "dispute.cancelled"
	TypeOrderNeedsReconcile = "order.needs_reconciliation"
)

type OrderStatusChanged struct {
	OrderID uuid.UUID               `json:"orderId"`
	From    valueobject.OrderStatus `json:"from"`
	To      valueobject.OrderStatus `json:"to"`
}

type OrderOverdue struct {
	OrderID       uuid.UUID `json:"orderId"`
	DeliveryDueAt time.Time `json:"deliveryDueAt"`
}

type DisputeOpened struct {
	DisputeID uuid.UUID         `json:"disputeId"`
	OrderID   uuid.UUID         `json:"orderId"`
	OpenedBy  valueobject.Party `json:"openedBy"`
}

type ResolutionProposed struct {
	DisputeID uuid.UUID                     `json:"disputeId"`
	Outcome   valueobject.ResolutionOutcome `json:"outcome"`
}

type ResolutionExecuted struct {
	DisputeID uuid.UUID                     `json:"disputeId"`
	OrderID   uuid.UUID                     `json:"orderId"`
	Outcome   valueobject.ResolutionOutcome `json:"outcome"`
	Forced    bool                          `json:"forced"`
}

type DisputeCancelled struct {
	DisputeID uuid.UUID `json:"disputeId"`
	OrderID   uuid.UUID `json:"orderId"`
}

type OrderNeedsReconcile struct {
	OrderID uuid.UUID `json:"orderId"`
	Op      string    `json:"op"`
}

// New собирает запись outbox. Полезная нагрузка сериализуется сразу.
func New(eventType string, aggregateID uuid.UUID, payload any, recipients []uuid.UUID, now time.Time) (*entity.DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &entity.DomainEvent{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     data,
		Recipients:  recipients,
		CreatedAt:   now,
	}, nil
}
