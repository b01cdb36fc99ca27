package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
)

// EventRepository — outbox доменных событий.
type EventRepository interface {
	Add(ctx context.Context, event *entity.DomainEvent) error
	ListUndelivered(ctx context.Context, limit int) ([]*entity.DomainEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

type AuditRepository interface {
	Add(ctx context.Context, entry *entity.AuditEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.AuditEntry, error)
}
