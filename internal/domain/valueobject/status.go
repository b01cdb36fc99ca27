package valueobject

import "github.com/ignatzorin/escrow-backend/internal/pkg/apperror"

type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusAccepted          OrderStatus = "accepted"
	OrderStatusInProgress        OrderStatus = "in_progress"
	OrderStatusSubmitted         OrderStatus = "submitted"
	OrderStatusRevisionRequested OrderStatus = "revision_requested"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusDisputeResolved   OrderStatus = "dispute_resolved"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:           {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:          {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress:        {OrderStatusSubmitted, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusSubmitted:         {OrderStatusRevisionRequested, OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusRevisionRequested: {OrderStatusSubmitted},
	OrderStatusDelivered:         {OrderStatusCompleted, OrderStatusDisputed},
	// Из спора заказ либо закрывается решением, либо возвращается в статус до спора.
	OrderStatusDisputed: {
		OrderStatusCompleted, OrderStatusRefunded, OrderStatusDisputeResolved,
		OrderStatusInProgress, OrderStatusSubmitted, OrderStatusDelivered,
	},
	OrderStatusCompleted:       {},
	OrderStatusCancelled:       {},
	OrderStatusRefunded:        {},
	OrderStatusDisputeResolved: {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded, OrderStatusDisputeResolved:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	for _, status := range orderTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// In проверяет, входит ли статус в перечень.
func (s OrderStatus) In(statuses ...OrderStatus) bool {
	for _, status := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func NewOrderStatus(status string) (OrderStatus, error) {
	s := OrderStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

type EscrowStatus string

const (
	EscrowStatusNone     EscrowStatus = "none"
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// CanTransitionTo допускает только none → held → {released | refunded}.
func (s EscrowStatus) CanTransitionTo(newStatus EscrowStatus) bool {
	switch s {
	case EscrowStatusNone:
		return newStatus == EscrowStatusHeld
	case EscrowStatusHeld:
		return newStatus == EscrowStatusReleased || newStatus == EscrowStatusRefunded
	}
	return false
}

type ContractType string

const (
	ContractTypePackage ContractType = "package"
	ContractTypeCustom  ContractType = "custom"
)

func (t ContractType) IsValid() bool {
	return t == ContractTypePackage || t == ContractTypeCustom
}

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusInReview    DisputeStatus = "in_review"
	DisputeStatusInMediation DisputeStatus = "in_mediation"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusCancelled   DisputeStatus = "cancelled"
)

func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInReview || s == DisputeStatusInMediation
}

func (s DisputeStatus) In(statuses ...DisputeStatus) bool {
	for _, status := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type DisputeCategory string

const (
	DisputeCategoryQuality      DisputeCategory = "quality"
	DisputeCategoryNotDelivered DisputeCategory = "not_delivered"
	DisputeCategoryLate         DisputeCategory = "late_delivery"
	DisputeCategoryScope        DisputeCategory = "scope"
	DisputeCategoryPayment      DisputeCategory = "payment"
	DisputeCategoryOther        DisputeCategory = "other"
)

func (c DisputeCategory) IsValid() bool {
	switch c {
	case DisputeCategoryQuality, DisputeCategoryNotDelivered, DisputeCategoryLate,
		DisputeCategoryScope, DisputeCategoryPayment, DisputeCategoryOther:
		return true
	}
	return false
}

type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityNormal DisputePriority = "normal"
	DisputePriorityHigh   DisputePriority = "high"
	DisputePriorityUrgent DisputePriority = "urgent"
)

func (p DisputePriority) IsValid() bool {
	switch p {
	case DisputePriorityLow, DisputePriorityNormal, DisputePriorityHigh, DisputePriorityUrgent:
		return true
	}
	return false
}

// Party — сторона сделки или участник переписки по спору.
type Party string

const (
	PartyClient     Party = "client"
	PartyFreelancer Party = "freelancer"
	PartyMediator   Party = "mediator"
	PartySystem     Party = "system"
)

// Opposite возвращает вторую сторону сделки.
func (p Party) Opposite() Party {
	switch p {
	case PartyClient:
		return PartyFreelancer
	case PartyFreelancer:
		return PartyClient
	}
	return p
}

type DeliveryStatus string

const (
	DeliveryStatusPending           DeliveryStatus = "pending"
	DeliveryStatusAccepted          DeliveryStatus = "accepted"
	DeliveryStatusRevisionRequested DeliveryStatus = "revision_requested"
)

type EvidenceType string

const (
	EvidenceTypeDocument EvidenceType = "document"
	EvidenceTypeImage    EvidenceType = "image"
	EvidenceTypeVideo    EvidenceType = "video"
	EvidenceTypeAudio    EvidenceType = "audio"
	EvidenceTypeLink     EvidenceType = "link"
	EvidenceTypeText     EvidenceType = "text"
)

func (t EvidenceType) IsValid() bool {
	switch t {
	case EvidenceTypeDocument, EvidenceTypeImage, EvidenceTypeVideo, EvidenceTypeAudio, EvidenceTypeLink, EvidenceTypeText:
		return true
	}
	return false
}

type ResolutionOutcome string

const (
	OutcomeFullRefund  ResolutionOutcome = "full_refund"
	OutcomeFullPayment ResolutionOutcome = "full_payment"
	OutcomePartial     ResolutionOutcome = "partial"
)

type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypePayout  TransactionType = "payout"
	TransactionTypeFee     TransactionType = "fee"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeRefund, TransactionTypePayout, TransactionTypeFee:
		return true
	}
	return false
}

const TransactionStatusCompleted = "completed"
