package dto

import (
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// Validate checks text limits; business rules stay in the domain
func (r CreateOrderRequest) Validate() error {
	return validation.First(
		validation.ValidateOrderTitle(r.Title),
		validation.ValidateCurrency(r.Currency),
		validation.ValidateRange("количество правок", r.AllottedRevisions, 0, validation.MaxRevisions),
		validation.ValidateRange("срок выполнения", r.DeliveryDays, 1, validation.MaxDeliveryDays),
	)
}

// Validate checks the delivery message
func (r SubmitDeliveryRequest) Validate() error {
	return validation.ValidateText("сообщение", r.Message, validation.MaxMessageLength)
}

// Validate allows an empty reason
func (r ReasonRequest) Validate() error {
	return validation.ValidateLength("причина", r.Reason, 0, validation.MaxReasonLength)
}

// Validate checks the dispute reason
func (r OpenDisputeRequest) Validate() error {
	return validation.ValidateText("причина спора", r.Reason, validation.MaxReasonLength)
}

// Validate checks the response message
func (r RespondDisputeRequest) Validate() error {
	return validation.ValidateLength("ответ", r.Message, 0, validation.MaxMessageLength)
}

// Validate checks the message body
func (r DisputeMessageRequest) Validate() error {
	return validation.ValidateText("сообщение", r.Body, validation.MaxMessageLength)
}

// Validate checks the mediator's reasoning
func (r ProposeResolutionRequest) Validate() error {
	return validation.ValidateLength("обоснование", r.Reasoning, 0, validation.MaxNotesLength)
}

// Validate requires notes for a forced execution
func (r ForceResolutionRequest) Validate() error {
	return validation.ValidateText("комментарий", r.Notes, validation.MaxNotesLength)
}
