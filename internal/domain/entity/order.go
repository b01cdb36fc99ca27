package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

const orderEntity = "заказ"

// Order — контракт на покупку услуги, средства по которому удерживаются в escrow.
type Order struct {
	ID             uuid.UUID                `db:"id" json:"id"`
	OrderNumber    string                   `db:"order_number" json:"order_number"`
	ClientID       uuid.UUID                `db:"client_id" json:"client_id"`
	FreelancerID   uuid.UUID                `db:"freelancer_id" json:"freelancer_id"`
	ContractType   valueobject.ContractType `db:"contract_type" json:"contract_type"`
	Title          string                   `db:"title" json:"title"`
	Currency       string                   `db:"currency" json:"currency"`
	Amount         decimal.Decimal          `db:"amount" json:"amount"`
	PlatformFee    decimal.Decimal          `db:"platform_fee" json:"platform_fee"`
	ProcessingFee  decimal.Decimal          `db:"processing_fee" json:"processing_fee"`
	ProviderFee    decimal.Decimal          `db:"provider_fee" json:"provider_fee"`
	ProviderPayout decimal.Decimal          `db:"provider_payout" json:"provider_payout"`
	TotalAmount    decimal.Decimal          `db:"total_amount" json:"total_amount"`

	EscrowStatus valueobject.EscrowStatus `db:"escrow_status" json:"escrow_status"`
	HoldRef      *string                  `db:"hold_ref" json:"hold_ref,omitempty"`

	Status              valueobject.OrderStatus  `db:"status" json:"status"`
	StatusBeforeDispute *valueobject.OrderStatus `db:"status_before_dispute" json:"status_before_dispute,omitempty"`
	AllottedRevisions   int                      `db:"allotted_revisions" json:"allotted_revisions"`
	RevisionsUsed       int                      `db:"revisions_used" json:"revisions_used"`
	DeliveryDays        int                      `db:"delivery_days" json:"delivery_days"`

	DeliveryDueAt     *time.Time `db:"delivery_due_at" json:"delivery_due_at,omitempty"`
	ActualDeliveredAt *time.Time `db:"actual_delivered_at" json:"actual_delivered_at,omitempty"`
	AcceptedAt        *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason      *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	OverdueAt         *time.Time `db:"overdue_at" json:"overdue_at,omitempty"`

	// Незавершённая операция у провайдера с неизвестным исходом.
	PendingLedgerOp  *string `db:"pending_ledger_op" json:"pending_ledger_op,omitempty"`
	PendingLedgerKey *string `db:"pending_ledger_key" json:"-"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewOrderParams — параметры создания заказа внешним процессом покупки.
type NewOrderParams struct {
	ClientID          uuid.UUID
	FreelancerID      uuid.UUID
	ContractType      valueobject.ContractType
	Title             string
	Currency          string
	Pricing           valueobject.Pricing
	AllottedRevisions int
	DeliveryDays      int
}

func NewOrder(p NewOrderParams, now time.Time) (*Order, error) {
	if p.ClientID == uuid.Nil || p.FreelancerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "клиент и исполнитель обязательны")
	}
	if p.ClientID == p.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "клиент и исполнитель не могут совпадать")
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название заказа обязательно")
	}
	if p.ContractType == "" {
		p.ContractType = valueobject.ContractTypePackage
	}
	if !p.ContractType.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный тип контракта")
	}
	if p.AllottedRevisions < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "количество правок не может быть отрицательным")
	}
	if p.DeliveryDays <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок выполнения должен быть положительным")
	}
	if err := p.Pricing.Validate(); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = "BRL"
	}

	id := uuid.New()
	o := &Order{
		ID:                id,
		OrderNumber:       fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(id.String()[:6])),
		ClientID:          p.ClientID,
		FreelancerID:      p.FreelancerID,
		ContractType:      p.ContractType,
		Title:             strings.TrimSpace(p.Title),
		Currency:          strings.ToUpper(p.Currency),
		Amount:            p.Pricing.Amount,
		PlatformFee:       p.Pricing.PlatformFee,
		ProcessingFee:     p.Pricing.ProcessingFee,
		ProviderFee:       p.Pricing.ProviderFee,
		ProviderPayout:    p.Pricing.Payout(),
		TotalAmount:       p.Pricing.Total(),
		EscrowStatus:      valueobject.EscrowStatusNone,
		Status:            valueobject.OrderStatusPending,
		AllottedRevisions: p.AllottedRevisions,
		DeliveryDays:      p.DeliveryDays,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.CheckFinancials(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) Pricing() valueobject.Pricing {
	return valueobject.Pricing{
		Amount:        o.Amount,
		PlatformFee:   o.PlatformFee,
		ProcessingFee: o.ProcessingFee,
		ProviderFee:   o.ProviderFee,
	}
}

// CheckFinancials проверяет, что итоги заказа не расходятся с условиями.
func (o *Order) CheckFinancials() error {
	return o.Pricing().CheckTotals(o.TotalAmount, o.ProviderPayout)
}

// PlatformShare — часть удержанных средств, которая остаётся платформе при обычном завершении.
func (o *Order) PlatformShare() decimal.Decimal {
	return o.TotalAmount.Sub(o.ProviderPayout)
}

// PartyOf определяет сторону сделки по пользователю.
func (o *Order) PartyOf(userID uuid.UUID) (valueobject.Party, bool) {
	switch userID {
	case o.ClientID:
		return valueobject.PartyClient, true
	case o.FreelancerID:
		return valueobject.PartyFreelancer, true
	}
	return "", false
}

func (o *Order) UserOf(party valueobject.Party) uuid.UUID {
	if party == valueobject.PartyClient {
		return o.ClientID
	}
	return o.FreelancerID
}

func (o *Order) Participants() []uuid.UUID {
	return []uuid.UUID{o.ClientID, o.FreelancerID}
}

func (o *Order) IsFunded() bool {
	return o.EscrowStatus == valueobject.EscrowStatusHeld
}

func (o *Order) NeedsReconciliation() bool {
	return o.PendingLedgerOp != nil
}

// IsOverdue — заказ в работе, срок сдачи которого прошёл.
func (o *Order) IsOverdue(now time.Time) bool {
	return o.Status == valueobject.OrderStatusInProgress && o.DeliveryDueAt != nil && now.After(*o.DeliveryDueAt)
}

func (o *Order) transition(to valueobject.OrderStatus, now time.Time, expected ...valueobject.OrderStatus) error {
	if !o.Status.In(expected...) || !o.Status.CanTransitionTo(to) {
		names := make([]string, len(expected))
		for i, s := range expected {
			names[i] = string(s)
		}
		return apperror.Precondition(orderEntity, string(o.Status), names...)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) moveEscrow(to valueobject.EscrowStatus) error {
	if !o.EscrowStatus.CanTransitionTo(to) {
		return apperror.Invariant(fmt.Sprintf("escrow не может перейти из %s в %s", o.EscrowStatus, to))
	}
	o.EscrowStatus = to
	return nil
}

// CheckFundable проверяет предусловия оплаты до обращения к провайдеру.
func (o *Order) CheckFundable() error {
	if o.Status != valueobject.OrderStatusPending {
		return apperror.Precondition(orderEntity, string(o.Status), string(valueobject.OrderStatusPending))
	}
	if o.EscrowStatus != valueobject.EscrowStatusNone {
		return apperror.PreconditionMsg("заказ уже оплачен")
	}
	return nil
}

// Fund фиксирует удержание средств: pending → accepted, escrow none → held.
func (o *Order) Fund(holdRef string, now time.Time) error {
	if err := o.CheckFundable(); err != nil {
		return err
	}
	if err := o.moveEscrow(valueobject.EscrowStatusHeld); err != nil {
		return err
	}
	o.HoldRef = &holdRef
	return o.transition(valueobject.OrderStatusAccepted, now, valueobject.OrderStatusPending)
}

// Accept — исполнитель подтверждает начало работы: accepted → in_progress.
func (o *Order) Accept(now time.Time) error {
	if err := o.transition(valueobject.OrderStatusInProgress, now, valueobject.OrderStatusAccepted); err != nil {
		return err
	}
	o.AcceptedAt = &now
	due := now.Add(time.Duration(o.DeliveryDays) * 24 * time.Hour)
	o.DeliveryDueAt = &due
	return nil
}

// SubmitDelivery переводит заказ в submitted и возвращает номер ревизии сдачи.
func (o *Order) SubmitDelivery(now time.Time) (int, error) {
	if err := o.transition(valueobject.OrderStatusSubmitted, now,
		valueobject.OrderStatusInProgress, valueobject.OrderStatusRevisionRequested); err != nil {
		return 0, err
	}
	if o.ActualDeliveredAt == nil {
		o.ActualDeliveredAt = &now
	}
	return o.RevisionsUsed, nil
}

func (o *Order) RequestRevision(now time.Time) error {
	if o.Status == valueobject.OrderStatusSubmitted && o.RevisionsUsed >= o.AllottedRevisions {
		return apperror.PreconditionMsg("лимит правок исчерпан")
	}
	if err := o.transition(valueobject.OrderStatusRevisionRequested, now, valueobject.OrderStatusSubmitted); err != nil {
		return err
	}
	o.RevisionsUsed++
	return nil
}

// CheckDeliveryAcceptable проверяет предусловия приёмки до обращения к провайдеру.
func (o *Order) CheckDeliveryAcceptable() error {
	if o.Status != valueobject.OrderStatusSubmitted {
		return apperror.Precondition(orderEntity, string(o.Status), string(valueobject.OrderStatusSubmitted))
	}
	if !o.IsFunded() {
		return apperror.Invariant("средства по заказу не удерживаются")
	}
	return nil
}

// AcceptDelivery проводит заказ через delivered в completed и освобождает escrow.
func (o *Order) AcceptDelivery(now time.Time) error {
	if err := o.CheckDeliveryAcceptable(); err != nil {
		return err
	}
	if err := o.transition(valueobject.OrderStatusDelivered, now, valueobject.OrderStatusSubmitted); err != nil {
		return err
	}
	if err := o.transition(valueobject.OrderStatusCompleted, now, valueobject.OrderStatusDelivered); err != nil {
		return err
	}
	o.CompletedAt = &now
	return o.moveEscrow(valueobject.EscrowStatusReleased)
}

func (o *Order) CheckCancellable() error {
	if !o.Status.In(valueobject.OrderStatusPending, valueobject.OrderStatusAccepted, valueobject.OrderStatusInProgress) {
		return apperror.Precondition(orderEntity, string(o.Status),
			string(valueobject.OrderStatusPending), string(valueobject.OrderStatusAccepted), string(valueobject.OrderStatusInProgress))
	}
	return nil
}

// Cancel закрывает заказ; удержанные средства к этому моменту должны быть возвращены.
func (o *Order) Cancel(reason string, now time.Time) error {
	from := o.Status
	if err := o.CheckCancellable(); err != nil {
		return err
	}
	if o.IsFunded() {
		if err := o.moveEscrow(valueobject.EscrowStatusRefunded); err != nil {
			return err
		}
	}
	if err := o.transition(valueobject.OrderStatusCancelled, now, from); err != nil {
		return err
	}
	o.CancelledAt = &now
	if reason != "" {
		o.CancelReason = &reason
	}
	return nil
}

// CheckDisputable проверяет, можно ли открыть спор по заказу.
// Заказ в работе допускает спор только после истечения срока сдачи.
func (o *Order) CheckDisputable(now time.Time) error {
	switch o.Status {
	case valueobject.OrderStatusSubmitted, valueobject.OrderStatusDelivered:
	case valueobject.OrderStatusInProgress:
		if !o.IsOverdue(now) {
			return apperror.PreconditionMsg("спор по заказу в работе можно открыть только после срока сдачи")
		}
	default:
		return apperror.Precondition(orderEntity, string(o.Status),
			string(valueobject.OrderStatusInProgress), string(valueobject.OrderStatusSubmitted), string(valueobject.OrderStatusDelivered))
	}
	if !o.IsFunded() {
		return apperror.Invariant("средства по заказу не удерживаются")
	}
	return nil
}

func (o *Order) OpenDispute(now time.Time) error {
	if err := o.CheckDisputable(now); err != nil {
		return err
	}
	prev := o.Status
	if err := o.transition(valueobject.OrderStatusDisputed, now, prev); err != nil {
		return err
	}
	o.StatusBeforeDispute = &prev
	return nil
}

// RestoreAfterDispute возвращает заказ в статус до спора при отзыве спора.
func (o *Order) RestoreAfterDispute(now time.Time) error {
	if o.StatusBeforeDispute == nil {
		return apperror.Invariant("не сохранён статус заказа до спора")
	}
	if err := o.transition(*o.StatusBeforeDispute, now, valueobject.OrderStatusDisputed); err != nil {
		return err
	}
	o.StatusBeforeDispute = nil
	return nil
}

// CheckSettleable проверяет предусловия исполнения решения до обращения к провайдеру.
func (o *Order) CheckSettleable(split valueobject.Split) error {
	if o.Status != valueobject.OrderStatusDisputed {
		return apperror.Precondition(orderEntity, string(o.Status), string(valueobject.OrderStatusDisputed))
	}
	if !o.IsFunded() {
		return apperror.Invariant("средства по заказу не удерживаются")
	}
	return split.Validate(o.TotalAmount)
}

// SettleDispute закрывает заказ по исполненному решению спора.
func (o *Order) SettleDispute(split valueobject.Split, now time.Time) error {
	if err := o.CheckSettleable(split); err != nil {
		return err
	}

	to := valueobject.OrderStatusDisputeResolved
	escrow := valueobject.EscrowStatusReleased
	switch split.Outcome() {
	case valueobject.OutcomeFullPayment:
		to = valueobject.OrderStatusCompleted
	case valueobject.OutcomeFullRefund:
		to = valueobject.OrderStatusRefunded
		escrow = valueobject.EscrowStatusRefunded
	}
	if err := o.moveEscrow(escrow); err != nil {
		return err
	}
	if err := o.transition(to, now, valueobject.OrderStatusDisputed); err != nil {
		return err
	}
	o.CompletedAt = &now
	return nil
}

// FlagOverdue отмечает просрочку; заказ при этом не отменяется.
func (o *Order) FlagOverdue(now time.Time) bool {
	if !o.IsOverdue(now) || o.OverdueAt != nil {
		return false
	}
	o.OverdueAt = &now
	o.UpdatedAt = now
	return true
}

func (o *Order) MarkPendingLedger(op, key string, now time.Time) {
	o.PendingLedgerOp = &op
	o.PendingLedgerKey = &key
	o.UpdatedAt = now
}

func (o *Order) ClearPendingLedger(now time.Time) {
	o.PendingLedgerOp = nil
	o.PendingLedgerKey = nil
	o.UpdatedAt = now
}

func (o *Order) IsOwnedBy(userID uuid.UUID) bool {
	return o.ClientID == userID
}
