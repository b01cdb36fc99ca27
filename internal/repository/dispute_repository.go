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

const disputeColumns = `id, order_id, category, reason, disputed_amount, status, priority, opened_by, opened_by_user_id,
	auto_resolution_deadline, mediation_deadline, resolution_notes, responded_at, resolved_at, created_at, updated_at`

const activeDisputeStatuses = `('open', 'in_review', 'in_mediation')`

// DisputeRepository хранит споры вместе с доказательствами, перепиской и решением.
type DisputeRepository struct {
	q common.Querier
}

func NewDisputeRepository(q common.Querier) *DisputeRepository {
	return &DisputeRepository{q: q}
}

// Create опирается на частичный уникальный индекс по активным спорам заказа.
func (r *DisputeRepository) Create(ctx context.Context, d *entity.Dispute) error {
	query := `INSERT INTO disputes (` + disputeColumns + `)
		VALUES (:id, :order_id, :category, :reason, :disputed_amount, :status, :priority, :opened_by, :opened_by_user_id,
			:auto_resolution_deadline, :mediation_deadline, :resolution_notes, :responded_at, :resolved_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, d); err != nil {
		if common.IsUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *DisputeRepository) Update(ctx context.Context, d *entity.Dispute) error {
	query := `
		UPDATE disputes
		SET status = $2, mediation_deadline = $3, resolution_notes = $4, responded_at = $5, resolved_at = $6, updated_at = $7
		WHERE id = $1
	`
	return common.Exec(ctx, r.q, "update dispute", domain.ErrNotFound, query,
		d.ID, d.Status, d.MediationDeadline, d.ResolutionNotes, d.RespondedAt, d.ResolvedAt, d.UpdatedAt)
}

func (r *DisputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return common.Get[entity.Dispute](ctx, r.q, "dispute", `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

func (r *DisputeRepository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1 AND status IN ` + activeDisputeStatuses
	return common.Get[entity.Dispute](ctx, r.q, "active dispute", query, orderID)
}

func (r *DisputeRepository) FindLatestByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
	return common.Get[entity.Dispute](ctx, r.q, "dispute", query, orderID)
}

func (r *DisputeRepository) List(ctx context.Context, filter domain.DisputeFilter) ([]*entity.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR priority = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return common.Select[entity.Dispute](ctx, r.q, "disputes", query,
		string(filter.Status), string(filter.Priority), limitOrAll(filter.Limit), filter.Offset)
}

func (r *DisputeRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, filter domain.DisputeFilter) ([]*entity.Dispute, error) {
	query := `
		SELECT ` + prefixed("d.", disputeColumns) + `
		FROM disputes d
		JOIN orders o ON o.id = d.order_id
		WHERE (o.client_id = $1 OR o.freelancer_id = $1) AND ($2 = '' OR d.status = $2)
		ORDER BY d.created_at DESC
		LIMIT $3 OFFSET $4
	`
	return common.Select[entity.Dispute](ctx, r.q, "participant disputes", query,
		userID, string(filter.Status), limitOrAll(filter.Limit), filter.Offset)
}

func (r *DisputeRepository) ListAutoResolutionDue(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status = $1 AND auto_resolution_deadline <= $2
		ORDER BY auto_resolution_deadline
		LIMIT $3
	`
	return common.Select[entity.Dispute](ctx, r.q, "auto resolution disputes", query,
		valueobject.DisputeStatusOpen, now, limitOrAll(limit))
}

func (r *DisputeRepository) ListMediationExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status = $1 AND mediation_deadline <= $2
		ORDER BY mediation_deadline
		LIMIT $3
	`
	return common.Select[entity.Dispute](ctx, r.q, "expired mediations", query,
		valueobject.DisputeStatusInMediation, now, limitOrAll(limit))
}

const evidenceColumns = `id, dispute_id, submitted_by, party, type, title, description, file_ref, mime_type, created_at`

func (r *DisputeRepository) AddEvidence(ctx context.Context, e *entity.Evidence) error {
	query := `INSERT INTO dispute_evidence (` + evidenceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	return common.Exec(ctx, r.q, "add evidence", nil, query,
		e.ID, e.DisputeID, e.SubmittedBy, e.Party, e.Type, e.Title, e.Description, e.FileRef, e.MimeType, e.CreatedAt)
}

func (r *DisputeRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]*entity.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM dispute_evidence WHERE dispute_id = $1 ORDER BY seq`
	return common.Select[entity.Evidence](ctx, r.q, "evidence", query, disputeID)
}

const messageColumns = `id, dispute_id, sender_id, party, body, internal, created_at`

func (r *DisputeRepository) AddMessage(ctx context.Context, m *entity.DisputeMessage) error {
	query := `INSERT INTO dispute_messages (` + messageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	return common.Exec(ctx, r.q, "add dispute message", nil, query,
		m.ID, m.DisputeID, m.SenderID, m.Party, m.Body, m.Internal, m.CreatedAt)
}

func (r *DisputeRepository) ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]*entity.DisputeMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM dispute_messages
		WHERE dispute_id = $1 AND ($2 OR NOT internal)
		ORDER BY seq
	`
	return common.Select[entity.DisputeMessage](ctx, r.q, "dispute messages", query, disputeID, includeInternal)
}

const resolutionColumns = `id, dispute_id, outcome, reasoning, refund_amount, freelancer_payment, platform_fee_waived,
	agreed_by_client, agreed_by_freelancer, proposed_by, executed, executed_at, forced, created_at, updated_at`

// SaveResolution заменяет решение по спору целиком, включая идентификатор.
func (r *DisputeRepository) SaveResolution(ctx context.Context, res *entity.Resolution) error {
	query := `
		INSERT INTO dispute_resolutions (` + resolutionColumns + `)
		VALUES (:id, :dispute_id, :outcome, :reasoning, :refund_amount, :freelancer_payment, :platform_fee_waived,
			:agreed_by_client, :agreed_by_freelancer, :proposed_by, :executed, :executed_at, :forced, :created_at, :updated_at)
		ON CONFLICT (dispute_id) DO UPDATE SET
			id = EXCLUDED.id,
			outcome = EXCLUDED.outcome,
			reasoning = EXCLUDED.reasoning,
			refund_amount = EXCLUDED.refund_amount,
			freelancer_payment = EXCLUDED.freelancer_payment,
			platform_fee_waived = EXCLUDED.platform_fee_waived,
			agreed_by_client = EXCLUDED.agreed_by_client,
			agreed_by_freelancer = EXCLUDED.agreed_by_freelancer,
			proposed_by = EXCLUDED.proposed_by,
			executed = EXCLUDED.executed,
			executed_at = EXCLUDED.executed_at,
			forced = EXCLUDED.forced,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, r.q, query, res)
	return err
}

func (r *DisputeRepository) FindResolution(ctx context.Context, disputeID uuid.UUID) (*entity.Resolution, error) {
	query := `SELECT ` + resolutionColumns + ` FROM dispute_resolutions WHERE dispute_id = $1`
	return common.Get[entity.Resolution](ctx, r.q, "resolution", query, disputeID)
}
