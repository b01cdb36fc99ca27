package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

// Delivery — сдача работы по заказу. Revision 0 — первая сдача.
type Delivery struct {
	ID             uuid.UUID                  `db:"id" json:"id"`
	OrderID        uuid.UUID                  `db:"order_id" json:"order_id"`
	Revision       int                        `db:"revision" json:"revision"`
	Message        string                     `db:"message" json:"message"`
	Status         valueobject.DeliveryStatus `db:"status" json:"status"`
	RevisionReason *string                    `db:"revision_reason" json:"revision_reason,omitempty"`
	CreatedAt      time.Time                  `db:"created_at" json:"created_at"`
	ReviewedAt     *time.Time                 `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

func NewDelivery(orderID uuid.UUID, revision int, message string, now time.Time) *Delivery {
	return &Delivery{
		ID:        uuid.New(),
		OrderID:   orderID,
		Revision:  revision,
		Message:   strings.TrimSpace(message),
		Status:    valueobject.DeliveryStatusPending,
		CreatedAt: now,
	}
}

func (d *Delivery) MarkAccepted(now time.Time) {
	d.Status = valueobject.DeliveryStatusAccepted
	d.ReviewedAt = &now
}

func (d *Delivery) MarkRevisionRequested(reason string, now time.Time) {
	d.Status = valueobject.DeliveryStatusRevisionRequested
	d.ReviewedAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		d.RevisionReason = &reason
	}
}
