package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	domain "github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

const orderColumns = `id, order_number, client_id, freelancer_id, contract_type, title, currency,
	amount, platform_fee, processing_fee, provider_fee, provider_payout, total_amount,
	escrow_status, hold_ref, status, status_before_dispute, allotted_revisions, revisions_used, delivery_days,
	delivery_due_at, actual_delivered_at, accepted_at, completed_at, cancelled_at, cancel_reason, overdue_at,
	pending_ledger_op, pending_ledger_key, version, created_at, updated_at`

// OrderRepository хранит заказы в PostgreSQL.
type OrderRepository struct {
	q common.Querier
}

func NewOrderRepository(q common.Querier) *OrderRepository {
	return &OrderRepository{q: q}
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :order_number, :client_id, :freelancer_id, :contract_type, :title, :currency,
			:amount, :platform_fee, :processing_fee, :provider_fee, :provider_payout, :total_amount,
			:escrow_status, :hold_ref, :status, :status_before_dispute, :allotted_revisions, :revisions_used, :delivery_days,
			:delivery_due_at, :actual_delivered_at, :accepted_at, :completed_at, :cancelled_at, :cancel_reason, :overdue_at,
			:pending_ledger_op, :pending_ledger_key, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, o); err != nil {
		if common.IsUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update сохраняет заказ только при совпадении версии.
func (r *OrderRepository) Update(ctx context.Context, o *entity.Order) error {
	query := `
		UPDATE orders
		SET escrow_status = $3, hold_ref = $4, status = $5, status_before_dispute = $6,
		    revisions_used = $7, delivery_due_at = $8, actual_delivered_at = $9, accepted_at = $10,
		    completed_at = $11, cancelled_at = $12, cancel_reason = $13, overdue_at = $14,
		    pending_ledger_op = $15, pending_ledger_key = $16, updated_at = $17, version = version + 1
		WHERE id = $1 AND version = $2
	`
	err := common.Exec(ctx, r.q, "update order", domain.ErrVersionConflict, query,
		o.ID, o.Version,
		o.EscrowStatus, o.HoldRef, o.Status, o.StatusBeforeDispute,
		o.RevisionsUsed, o.DeliveryDueAt, o.ActualDeliveredAt, o.AcceptedAt,
		o.CompletedAt, o.CancelledAt, o.CancelReason, o.OverdueAt,
		o.PendingLedgerOp, o.PendingLedgerKey, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	return common.Get[entity.Order](ctx, r.q, "order", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, filter domain.OrderFilter) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (client_id = $1 OR freelancer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return common.Select[entity.Order](ctx, r.q, "orders", query, userID, string(filter.Status), limitOrAll(filter.Limit), filter.Offset)
}

func (r *OrderRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND overdue_at IS NULL AND delivery_due_at < $2
		ORDER BY delivery_due_at
		LIMIT $3
	`
	return common.Select[entity.Order](ctx, r.q, "overdue orders", query, valueobject.OrderStatusInProgress, now, limitOrAll(limit))
}

func (r *OrderRepository) ListPendingLedger(ctx context.Context, limit int) ([]*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE pending_ledger_key IS NOT NULL
		ORDER BY updated_at
		LIMIT $1
	`
	return common.Select[entity.Order](ctx, r.q, "pending ledger orders", query, limitOrAll(limit))
}

const deliveryColumns = `id, order_id, revision, message, status, revision_reason, created_at, reviewed_at`

type DeliveryRepository struct {
	q common.Querier
}

func NewDeliveryRepository(q common.Querier) *DeliveryRepository {
	return &DeliveryRepository{q: q}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *entity.Delivery) error {
	query := `INSERT INTO order_deliveries (` + deliveryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	return common.Exec(ctx, r.q, "create delivery", nil, query,
		d.ID, d.OrderID, d.Revision, d.Message, d.Status, d.RevisionReason, d.CreatedAt, d.ReviewedAt)
}

func (r *DeliveryRepository) Update(ctx context.Context, d *entity.Delivery) error {
	query := `UPDATE order_deliveries SET status = $2, revision_reason = $3, reviewed_at = $4 WHERE id = $1`
	return common.Exec(ctx, r.q, "update delivery", domain.ErrNotFound, query, d.ID, d.Status, d.RevisionReason, d.ReviewedAt)
}

func (r *DeliveryRepository) FindLatest(ctx context.Context, orderID uuid.UUID) (*entity.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM order_deliveries WHERE order_id = $1 ORDER BY revision DESC LIMIT 1`
	return common.Get[entity.Delivery](ctx, r.q, "delivery", query, orderID)
}

func (r *DeliveryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*entity.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM order_deliveries WHERE order_id = $1 ORDER BY revision`
	return common.Select[entity.Delivery](ctx, r.q, "deliveries", query, orderID)
}
