package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

const disputeEntity = "спор"

type Dispute struct {
	ID                     uuid.UUID                   `db:"id" json:"id"`
	OrderID                uuid.UUID                   `db:"order_id" json:"order_id"`
	Category               valueobject.DisputeCategory `db:"category" json:"category"`
	Reason                 string                      `db:"reason" json:"reason"`
	DisputedAmount         decimal.Decimal             `db:"disputed_amount" json:"disputed_amount"`
	Status                 valueobject.DisputeStatus   `db:"status" json:"status"`
	Priority               valueobject.DisputePriority `db:"priority" json:"priority"`
	OpenedBy               valueobject.Party           `db:"opened_by" json:"opened_by"`
	OpenedByUserID         uuid.UUID                   `db:"opened_by_user_id" json:"opened_by_user_id"`
	AutoResolutionDeadline time.Time                   `db:"auto_resolution_deadline" json:"auto_resolution_deadline"`
	MediationDeadline      *time.Time                  `db:"mediation_deadline" json:"mediation_deadline,omitempty"`
	ResolutionNotes        *string                     `db:"resolution_notes" json:"resolution_notes,omitempty"`
	RespondedAt            *time.Time                  `db:"responded_at" json:"responded_at,omitempty"`
	ResolvedAt             *time.Time                  `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt              time.Time                   `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time                   `db:"updated_at" json:"updated_at"`
}

type NewDisputeParams struct {
	OrderID        uuid.UUID
	OpenedBy       valueobject.Party
	OpenedByUserID uuid.UUID
	Category       valueobject.DisputeCategory
	Reason         string
	DisputedAmount decimal.Decimal
	Priority       valueobject.DisputePriority
}

// NewDispute создаёт спор в статусе open; total — полная сумма заказа.
func NewDispute(p NewDisputeParams, total decimal.Decimal, autoResolutionWindow time.Duration, now time.Time) (*Dispute, error) {
	if p.OpenedBy != valueobject.PartyClient && p.OpenedBy != valueobject.PartyFreelancer {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только участник заказа")
	}
	if !p.Category.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректная категория спора")
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}
	if p.Priority == "" {
		p.Priority = valueobject.DisputePriorityNormal
	}
	if !p.Priority.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный приоритет спора")
	}
	if !p.DisputedAmount.IsPositive() || p.DisputedAmount.GreaterThan(total) {
		return nil, apperror.New(apperror.ErrCodeValidation, "оспариваемая сумма должна быть больше нуля и не больше суммы заказа")
	}
	if !valueobject.Round(p.DisputedAmount).Equal(p.DisputedAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation, "оспариваемая сумма указана с недопустимой точностью")
	}

	return &Dispute{
		ID:                     uuid.New(),
		OrderID:                p.OrderID,
		Category:               p.Category,
		Reason:                 reason,
		DisputedAmount:         p.DisputedAmount,
		Status:                 valueobject.DisputeStatusOpen,
		Priority:               p.Priority,
		OpenedBy:               p.OpenedBy,
		OpenedByUserID:         p.OpenedByUserID,
		AutoResolutionDeadline: now.Add(autoResolutionWindow),
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

func (d *Dispute) IsActive() bool {
	return d.Status.IsActive()
}

func (d *Dispute) requireStatus(expected ...valueobject.DisputeStatus) error {
	if d.Status.In(expected...) {
		return nil
	}
	if d.Status == valueobject.DisputeStatusResolved {
		return apperror.PreconditionMsg("спор уже разрешён")
	}
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return apperror.Precondition(disputeEntity, string(d.Status), names...)
}

// CanRespond проверяет, что ответить на спор может только вторая сторона и только пока он открыт.
func (d *Dispute) CanRespond(responder valueobject.Party) error {
	if err := d.requireStatus(valueobject.DisputeStatusOpen); err != nil {
		return err
	}
	if responder != d.OpenedBy.Opposite() {
		return apperror.New(apperror.ErrCodeForbidden, "ответить на спор может только вторая сторона")
	}
	return nil
}

func (d *Dispute) Respond(now time.Time) {
	d.Status = valueobject.DisputeStatusInReview
	d.RespondedAt = &now
	d.UpdatedAt = now
}

// CanAcceptSubmissions — доказательства и сообщения принимаются только по активному спору.
func (d *Dispute) CanAcceptSubmissions() error {
	return d.requireStatus(valueobject.DisputeStatusOpen, valueobject.DisputeStatusInReview, valueobject.DisputeStatusInMediation)
}

func (d *Dispute) CanPropose() error {
	return d.requireStatus(valueobject.DisputeStatusInReview, valueobject.DisputeStatusInMediation)
}

// StartMediation переводит спор в медиацию и продлевает срок ожидания согласия сторон.
func (d *Dispute) StartMediation(window time.Duration, now time.Time) {
	deadline := now.Add(window)
	d.Status = valueobject.DisputeStatusInMediation
	d.MediationDeadline = &deadline
	d.UpdatedAt = now
}

func (d *Dispute) Resolve(notes string, now time.Time) error {
	if err := d.requireStatus(valueobject.DisputeStatusOpen, valueobject.DisputeStatusInReview, valueobject.DisputeStatusInMediation); err != nil {
		return err
	}
	d.Status = valueobject.DisputeStatusResolved
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if notes != "" {
		d.ResolutionNotes = &notes
	}
	return nil
}

func (d *Dispute) Cancel(now time.Time) error {
	if err := d.requireStatus(valueobject.DisputeStatusOpen, valueobject.DisputeStatusInReview, valueobject.DisputeStatusInMediation); err != nil {
		return err
	}
	d.Status = valueobject.DisputeStatusCancelled
	d.UpdatedAt = now
	return nil
}

// AutoResolutionDue — открытый спор, на который вторая сторона не ответила в срок.
func (d *Dispute) AutoResolutionDue(now time.Time) bool {
	return d.Status == valueobject.DisputeStatusOpen && !now.Before(d.AutoResolutionDeadline)
}

func (d *Dispute) MediationExpired(now time.Time) bool {
	return d.Status == valueobject.DisputeStatusInMediation && d.MediationDeadline != nil && !now.Before(*d.MediationDeadline)
}

// Evidence — доказательство по спору, добавляется только в конец.
type Evidence struct {
	ID          uuid.UUID                `db:"id" json:"id"`
	DisputeID   uuid.UUID                `db:"dispute_id" json:"dispute_id"`
	SubmittedBy uuid.UUID                `db:"submitted_by" json:"submitted_by"`
	Party       valueobject.Party        `db:"party" json:"party"`
	Type        valueobject.EvidenceType `db:"type" json:"type"`
	Title       string                   `db:"title" json:"title"`
	Description *string                  `db:"description" json:"description,omitempty"`
	FileRef     *string                  `db:"file_ref" json:"file_ref,omitempty"`
	MimeType    *string                  `db:"mime_type" json:"mime_type,omitempty"`
	CreatedAt   time.Time                `db:"created_at" json:"created_at"`
}

func NewEvidence(disputeID, submittedBy uuid.UUID, party valueobject.Party, typ valueobject.EvidenceType, title, description string, now time.Time) (*Evidence, error) {
	if !typ.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный тип доказательства")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "заголовок доказательства обязателен")
	}
	e := &Evidence{
		ID:          uuid.New(),
		DisputeID:   disputeID,
		SubmittedBy: submittedBy,
		Party:       party,
		Type:        typ,
		Title:       title,
		CreatedAt:   now,
	}
	if description = strings.TrimSpace(description); description != "" {
		e.Description = &description
	}
	return e, nil
}

type DisputeMessage struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	DisputeID uuid.UUID         `db:"dispute_id" json:"dispute_id"`
	SenderID  *uuid.UUID        `db:"sender_id" json:"sender_id,omitempty"`
	Party     valueobject.Party `db:"party" json:"party"`
	Body      string            `db:"body" json:"body"`
	Internal  bool              `db:"internal" json:"internal"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

func NewDisputeMessage(disputeID uuid.UUID, senderID *uuid.UUID, party valueobject.Party, body string, internal bool, now time.Time) (*DisputeMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст сообщения обязателен")
	}
	if internal && party != valueobject.PartyMediator {
		return nil, apperror.New(apperror.ErrCodeForbidden, "внутренние заметки доступны только медиатору")
	}
	return &DisputeMessage{
		ID:        uuid.New(),
		DisputeID: disputeID,
		SenderID:  senderID,
		Party:     party,
		Body:      body,
		Internal:  internal,
		CreatedAt: now,
	}, nil
}

// SystemMessage — служебное сообщение, отправленное от имени системы.
func SystemMessage(disputeID uuid.UUID, body string, now time.Time) *DisputeMessage {
	return &DisputeMessage{
		ID:        uuid.New(),
		DisputeID: disputeID,
		Party:     valueobject.PartySystem,
		Body:      body,
		CreatedAt: now,
	}
}
