package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

type DisputeRepository interface {
	// Create возвращает ErrAlreadyExists, если по заказу уже есть активный спор.
	Create(ctx context.Context, dispute *entity.Dispute) error
	Update(ctx context.Context, dispute *entity.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error)
	FindLatestByOrder(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error)
	List(ctx context.Context, filter DisputeFilter) ([]*entity.Dispute, error)
	// ListByParticipant возвращает споры по заказам, где пользователь клиент или исполнитель.
	ListByParticipant(ctx context.Context, userID uuid.UUID, filter DisputeFilter) ([]*entity.Dispute, error)

	ListAutoResolutionDue(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error)
	ListMediationExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Dispute, error)

	AddEvidence(ctx context.Context, evidence *entity.Evidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]*entity.Evidence, error)

	AddMessage(ctx context.Context, msg *entity.DisputeMessage) error
	ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]*entity.DisputeMessage, error)

	// SaveResolution заменяет действующее решение по спору.
	SaveResolution(ctx context.Context, resolution *entity.Resolution) error
	FindResolution(ctx context.Context, disputeID uuid.UUID) (*entity.Resolution, error)
}

type DisputeFilter struct {
	Status   valueobject.DisputeStatus
	Priority valueobject.DisputePriority
	Limit    int
	Offset   int
}
