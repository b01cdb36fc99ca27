package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Resolution — предложенное или исполненное распределение средств по спору.
// У спора не больше одного действующего решения.
type Resolution struct {
	ID                 uuid.UUID                     `db:"id" json:"id"`
	DisputeID          uuid.UUID                     `db:"dispute_id" json:"dispute_id"`
	Outcome            valueobject.ResolutionOutcome `db:"outcome" json:"outcome"`
	Reasoning          string                        `db:"reasoning" json:"reasoning"`
	RefundAmount       decimal.Decimal               `db:"refund_amount" json:"refund_amount"`
	FreelancerPayment  decimal.Decimal               `db:"freelancer_payment" json:"freelancer_payment"`
	PlatformFeeWaived  decimal.Decimal               `db:"platform_fee_waived" json:"platform_fee_waived"`
	AgreedByClient     bool                          `db:"agreed_by_client" json:"agreed_by_client"`
	AgreedByFreelancer bool                          `db:"agreed_by_freelancer" json:"agreed_by_freelancer"`
	ProposedBy         valueobject.Party             `db:"proposed_by" json:"proposed_by"`
	Executed           bool                          `db:"executed" json:"executed"`
	ExecutedAt         *time.Time                    `db:"executed_at" json:"executed_at,omitempty"`
	Forced             bool                          `db:"forced" json:"forced"`
	CreatedAt          time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time                     `db:"updated_at" json:"updated_at"`
}

// NewResolution проверяет, что распределение покрывает всю сумму заказа.
func NewResolution(disputeID uuid.UUID, split valueobject.Split, total decimal.Decimal, reasoning string, proposedBy valueobject.Party, now time.Time) (*Resolution, error) {
	if err := split.Validate(total); err != nil {
		return nil, err
	}
	return &Resolution{
		ID:                uuid.New(),
		DisputeID:         disputeID,
		Outcome:           split.Outcome(),
		Reasoning:         reasoning,
		RefundAmount:      split.Refund,
		FreelancerPayment: split.Payment,
		PlatformFeeWaived: split.FeeWaived,
		ProposedBy:        proposedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (r *Resolution) Split() valueobject.Split {
	return valueobject.Split{
		Refund:    r.RefundAmount,
		Payment:   r.FreelancerPayment,
		FeeWaived: r.PlatformFeeWaived,
	}
}

// Agree выставляет флаг согласия стороны. Повторный вызов ничего не меняет.
// Возвращает true, если флаг был выставлен этим вызовом.
func (r *Resolution) Agree(party valueobject.Party, now time.Time) (bool, error) {
	if r.Executed {
		return false, nil
	}
	var flag *bool
	switch party {
	case valueobject.PartyClient:
		flag = &r.AgreedByClient
	case valueobject.PartyFreelancer:
		flag = &r.AgreedByFreelancer
	default:
		return false, apperror.New(apperror.ErrCodeForbidden, "согласиться с решением может только участник заказа")
	}
	if *flag {
		return false, nil
	}
	*flag = true
	r.UpdatedAt = now
	return true, nil
}

func (r *Resolution) FullyAgreed() bool {
	return r.AgreedByClient && r.AgreedByFreelancer
}

func (r *Resolution) MarkExecuted(forced bool, now time.Time) error {
	if r.Executed {
		return apperror.PreconditionMsg("решение уже исполнено")
	}
	r.Executed = true
	r.ExecutedAt = &now
	r.Forced = forced
	r.UpdatedAt = now
	return nil
}
