package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Provider identifies a payment processor.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderPayPal
}

// CanonicalType is the provider-agnostic meaning of a webhook notification.
type CanonicalType string

const (
	EventPaymentSucceeded CanonicalType = "payment_succeeded"
	EventPaymentFailed    CanonicalType = "payment_failed"
	EventRefundCompleted  CanonicalType = "refund_completed"
	EventMethodAttached   CanonicalType = "method_attached"
	EventMethodDetached   CanonicalType = "method_detached"
	EventOrderApproved    CanonicalType = "order_approved"
	EventUnmapped         CanonicalType = "unmapped"
)

// EventOutcome records what the reconciler did with a delivery.
type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeDuplicate EventOutcome = "duplicate"
	OutcomeRejected  EventOutcome = "rejected"
	OutcomeIgnored   EventOutcome = "ignored"
)

// PaymentEvent is a verified, normalized provider notification. Rows are
// written once per delivery and never updated.
type PaymentEvent struct {
	bun.BaseModel `bun:"table:payment_events,alias:pe"`

	ID              string        `bun:"id,pk"`
	Provider        Provider      `bun:"provider,notnull"`
	ProviderEventID string        `bun:"provider_event_id,notnull"`
	NativeType      string        `bun:"native_type,notnull"`
	CanonicalType   CanonicalType `bun:"canonical_type,notnull"`
	OrderRef        string        `bun:"order_ref,nullzero"`
	OccurredAt      time.Time     `bun:"occurred_at,notnull"`
	ReceivedAt      time.Time     `bun:"received_at,notnull"`
	Outcome         EventOutcome  `bun:"outcome,notnull"`
	RawPayload      []byte        `bun:"raw_payload"`
}

// ProcessedEvent is the idempotency ledger entry for an applied delivery.
type ProcessedEvent struct {
	bun.BaseModel `bun:"table:processed_events,alias:pr"`

	Provider        Provider      `bun:"provider,pk"`
	ProviderEventID string        `bun:"provider_event_id,pk"`
	OrderID         string        `bun:"order_id,nullzero"`
	CanonicalType   CanonicalType `bun:"canonical_type,notnull"`
	ResultingStatus OrderStatus   `bun:"resulting_status,nullzero"`
	AppliedAt       time.Time     `bun:"applied_at,notnull"`
}

// AuditEntry is an immutable record of a lifecycle change or a recorded event.
type AuditEntry struct {
	bun.BaseModel `bun:"table:order_audit_log,alias:al"`

	ID              string      `bun:"id,pk"`
	OrderID         string      `bun:"order_id,notnull"`
	Provider        Provider    `bun:"provider,nullzero"`
	CanonicalType   string      `bun:"canonical_type,notnull"`
	ProviderEventID string      `bun:"provider_event_id,nullzero"`
	ActorID         string      `bun:"actor_id,nullzero"`
	FromStatus      OrderStatus `bun:"from_status,notnull"`
	ResultingStatus OrderStatus `bun:"resulting_status,notnull"`
	OccurredAt      time.Time   `bun:"occurred_at,notnull"`
}

// PaymentMethod is a stored provider payment instrument owned by a user.
type PaymentMethod struct {
	bun.BaseModel `bun:"table:payment_methods,alias:pm"`

	ID          string    `bun:"id,pk"`
	OwnerID     string    `bun:"owner_id,notnull"`
	Provider    Provider  `bun:"provider,notnull"`
	ExternalRef string    `bun:"external_ref,notnull"`
	Label       string    `bun:"label,nullzero"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
