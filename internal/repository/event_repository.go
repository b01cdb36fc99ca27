package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	domain "github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

const eventColumns = `id, type, aggregate_id, payload, recipients, created_at, delivered_at, attempts`

// EventRepository — outbox доменных событий.
type EventRepository struct {
	q common.Querier
}

func NewEventRepository(q common.Querier) *EventRepository {
	return &EventRepository{q: q}
}

func (r *EventRepository) Add(ctx context.Context, e *entity.DomainEvent) error {
	query := `INSERT INTO domain_events (` + eventColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	return common.Exec(ctx, r.q, "add event", nil, query,
		e.ID, e.Type, e.AggregateID, common.JSONArg(e.Payload), e.Recipients, e.CreatedAt, e.DeliveredAt, e.Attempts)
}

func (r *EventRepository) ListUndelivered(ctx context.Context, limit int) ([]*entity.DomainEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM domain_events
		WHERE delivered_at IS NULL
		ORDER BY seq
		LIMIT $1
	`
	return common.Select[entity.DomainEvent](ctx, r.q, "undelivered events", query, limitOrAll(limit))
}

func (r *EventRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE domain_events SET delivered_at = $2 WHERE id = $1`
	return common.Exec(ctx, r.q, "mark event delivered", domain.ErrNotFound, query, id, at)
}

func (r *EventRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE domain_events SET attempts = attempts + 1 WHERE id = $1`
	return common.Exec(ctx, r.q, "mark event failed", domain.ErrNotFound, query, id)
}

const auditColumns = `id, order_id, actor_id, action, old_value, new_value, created_at`

// AuditRepository — история изменений заказа.
type AuditRepository struct {
	q common.Querier
}

func NewAuditRepository(q common.Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

func (r *AuditRepository) Add(ctx context.Context, a *entity.AuditEntry) error {
	query := `INSERT INTO order_audit (` + auditColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	return common.Exec(ctx, r.q, "add audit entry", nil, query,
		a.ID, a.OrderID, a.ActorID, a.Action, common.JSONArg(a.OldValue), common.JSONArg(a.NewValue), a.CreatedAt)
}

func (r *AuditRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM order_audit WHERE order_id = $1 ORDER BY seq`
	return common.Select[entity.AuditEntry](ctx, r.q, "audit entries", query, orderID)
}
