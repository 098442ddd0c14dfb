package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/Additional-Code/orderflow/internal/entity"
)

// NativeEvent is a provider notification parsed but not yet normalized.
type NativeEvent struct {
	Provider   entity.Provider
	ID         string
	Type       string
	OrderRef   string
	OccurredAt time.Time
	Raw        []byte
}

// IntentRequest asks a provider to start collecting payment for an order.
type IntentRequest struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	Currency    string
	MethodRef   string
}

// Intent is the provider side handle for a payment in progress.
type Intent struct {
	Ref          string
	ClientSecret string
	ApprovalURL  string
	Status       string
}

// RefundRequest asks a provider to return money for a captured payment.
type RefundRequest struct {
	OrderID  string
	Ref      string
	Amount   int64
	Currency string
	Reason   string
}

// RefundResult is the provider acknowledgement of a refund request.
type RefundResult struct {
	Ref    string
	Status string
}

// Provider is the capability set every payment processor implements.
// Instances hold their own credentials and are built once at startup.
type Provider interface {
	Name() entity.Provider
	// VerifySignature authenticates a raw webhook body. It returns nil or a
	// signature_invalid error.
	VerifySignature(ctx context.Context, body []byte, headers http.Header) error
	ParseEvent(body []byte) (NativeEvent, error)
	Taxonomy() map[string]entity.CanonicalType

	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Confirm(ctx context.Context, ref string) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	VoidAuthorization(ctx context.Context, ref string) error
	DetachMethod(ctx context.Context, ref string) error
}
