package dto

import (
	"time"

	"github.com/Additional-Code/orderflow/internal/entity"
)

// RegisterPaymentMethodRequest is the payload for POST /payment-methods.
type RegisterPaymentMethodRequest struct {
	Provider    string `json:"provider" validate:"required,oneof=stripe paypal"`
	ExternalRef string `json:"external_ref" validate:"required,max=255"`
	Label       string `json:"label,omitempty" validate:"max=100"`
}

// PaymentMethodResponse is a stored instrument.
type PaymentMethodResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ExternalRef string    `json:"external_ref"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookAck acknowledges a settled webhook delivery.
type WebhookAck struct {
	Received      bool   `json:"received"`
	EventID       string `json:"event_id,omitempty"`
	CanonicalType string `json:"canonical_type,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NewPaymentMethodResponse renders a stored instrument.
func NewPaymentMethodResponse(method *entity.PaymentMethod) PaymentMethodResponse {
	return PaymentMethodResponse{
		ID:          method.ID,
		Provider:    string(method.Provider),
		ExternalRef: method.ExternalRef,
		Label:       method.Label,
		CreatedAt:   method.CreatedAt,
	}
}
