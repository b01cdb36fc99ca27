package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// CreateOrderRequest represents the request to create an escrow order
type CreateOrderRequest struct {
	ClientID          *uuid.UUID      `json:"client_id"`
	FreelancerID      uuid.UUID       `json:"freelancer_id" binding:"required"`
	ContractType      string          `json:"contract_type" binding:"required"`
	Title             string          `json:"title" binding:"required"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	PlatformFee       decimal.Decimal `json:"platform_fee"`
	ProcessingFee     decimal.Decimal `json:"processing_fee"`
	ProviderFee       decimal.Decimal `json:"provider_fee"`
	AllottedRevisions int             `json:"allotted_revisions"`
	DeliveryDays      int             `json:"delivery_days"`
}

// ToInput converts the request into service input
func (r CreateOrderRequest) ToInput() service.CreateOrderInput {
	in := service.CreateOrderInput{
		FreelancerID:      r.FreelancerID,
		ContractType:      valueobject.ContractType(r.ContractType),
		Title:             r.Title,
		Currency:          r.Currency,
		Amount:            r.Amount,
		PlatformFee:       r.PlatformFee,
		ProcessingFee:     r.ProcessingFee,
		ProviderFee:       r.ProviderFee,
		AllottedRevisions: r.AllottedRevisions,
		DeliveryDays:      r.DeliveryDays,
	}
	if r.ClientID != nil {
		in.ClientID = *r.ClientID
	}
	return in
}

// SubmitDeliveryRequest represents a freelancer's delivery
type SubmitDeliveryRequest struct {
	Message string `json:"message" binding:"required"`
}

// ReasonRequest is used by revision and cancel requests
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// OpenDisputeRequest represents the request to open a dispute on an order
type OpenDisputeRequest struct {
	Category       string          `json:"category" binding:"required"`
	Reason         string          `json:"reason" binding:"required"`
	DisputedAmount decimal.Decimal `json:"disputed_amount"`
	Priority       string          `json:"priority"`
}

// ToInput converts the request into service input
func (r OpenDisputeRequest) ToInput() service.OpenDisputeInput {
	return service.OpenDisputeInput{
		Category:       valueobject.DisputeCategory(r.Category),
		Reason:         r.Reason,
		DisputedAmount: r.DisputedAmount,
		Priority:       valueobject.DisputePriority(r.Priority),
	}
}

// RespondDisputeRequest represents the other party's response
type RespondDisputeRequest struct {
	Message          string `json:"message"`
	AcceptResolution bool   `json:"accept_resolution"`
}

// DisputeMessageRequest represents a message in a dispute thread
type DisputeMessageRequest struct {
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

// ProposeResolutionRequest represents a mediator's proposal
type ProposeResolutionRequest struct {
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	FreelancerPayment decimal.Decimal `json:"freelancer_payment"`
	PlatformFeeWaived decimal.Decimal `json:"platform_fee_waived"`
	Reasoning         string          `json:"reasoning"`
}

// ToInput converts the request into service input
func (r ProposeResolutionRequest) ToInput() service.ProposeInput {
	return service.ProposeInput{
		RefundAmount:      r.RefundAmount,
		FreelancerPayment: r.FreelancerPayment,
		PlatformFeeWaived: r.PlatformFeeWaived,
		Reasoning:         r.Reasoning,
	}
}

// ForceResolutionRequest represents an admin's forced execution
type ForceResolutionRequest struct {
	Notes string `json:"notes" binding:"required"`
}
