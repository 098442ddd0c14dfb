package dto

import (
	"time"

	"github.com/Additional-Code/orderflow/internal/entity"
)

// OrderItem is one line of an order on the wire. Prices are minor units.
type OrderItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	Items        []OrderItem `json:"items" validate:"required,min=1,dive"`
	Tax          int64       `json:"tax" validate:"gte=0"`
	ShippingCost int64       `json:"shipping_cost" validate:"gte=0"`
	Total        *int64      `json:"total,omitempty" validate:"omitempty,gte=0"`
	Currency     string      `json:"currency,omitempty" validate:"omitempty,len=3"`
	Provider     string      `json:"payment_provider" validate:"required,oneof=stripe paypal"`
}

// ReasonRequest carries an optional free text reason.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// StatusRequest is the payload for the admin status endpoint.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled refunded"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID               string      `json:"id"`
	Number           string      `json:"number"`
	OwnerID          string      `json:"owner_id"`
	Items            []OrderItem `json:"items"`
	Subtotal         int64       `json:"subtotal"`
	Tax              int64       `json:"tax"`
	ShippingCost     int64       `json:"shipping_cost"`
	Total            int64       `json:"total"`
	Currency         string      `json:"currency"`
	Status           string      `json:"status"`
	PaymentStatus    string      `json:"payment_status"`
	PaymentProvider  string      `json:"payment_provider"`
	PaymentMethodRef string      `json:"payment_method_ref,omitempty"`
	Notes            []Note      `json:"notes,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Note is an order annotation.
type Note struct {
	At     time.Time `json:"at"`
	Author string    `json:"author,omitempty"`
	Text   string    `json:"text"`
}

// AuditEntryResponse is one line of an order's audit trail.
type AuditEntryResponse struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider,omitempty"`
	CanonicalType   string    `json:"canonical_type"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	ActorID         string    `json:"actor_id,omitempty"`
	FromStatus      string    `json:"from_status"`
	ResultingStatus string    `json:"resulting_status"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// PaymentIntentResponse is returned when payment collection starts.
type PaymentIntentResponse struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApprovalURL  string `json:"approval_url,omitempty"`
	Status       string `json:"status,omitempty"`
}

// RefundResponse acknowledges an accepted refund request.
type RefundResponse struct {
	OrderID   string `json:"order_id"`
	RefundRef string `json:"refund_ref"`
	Status    string `json:"status"`
}

// NewOrderResponse renders an order.
func NewOrderResponse(order *entity.Order) OrderResponse {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	var notes []Note
	for _, n := range order.Notes {
		notes = append(notes, Note{At: n.At, Author: n.Author, Text: n.Text})
	}
	return OrderResponse{
		ID:               order.ID,
		Number:           order.Number,
		OwnerID:          order.OwnerID,
		Items:            items,
		Subtotal:         order.Subtotal,
		Tax:              order.Tax,
		ShippingCost:     order.ShippingCost,
		Total:            order.Total,
		Currency:         order.Currency,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentProvider:  string(order.PaymentProvider),
		PaymentMethodRef: order.PaymentMethodRef,
		Notes:            notes,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

// NewAuditEntryResponse renders an audit entry.
func NewAuditEntryResponse(entry entity.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:              entry.ID,
		Provider:        string(entry.Provider),
		CanonicalType:   entry.CanonicalType,
		ProviderEventID: entry.ProviderEventID,
		ActorID:         entry.ActorID,
		FromStatus:      string(entry.FromStatus),
		ResultingStatus: string(entry.ResultingStatus),
		OccurredAt:      entry.OccurredAt,
	}
}
