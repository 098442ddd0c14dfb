package order

import (
	"context"
	"errors"

	"github.com/Additional-Code/orderflow/internal/entity"
)

var (
	// ErrNotFound is returned when an order or ledger record is missing.
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict is returned when an order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrDuplicateEvent is returned when a ledger key is already taken.
	ErrDuplicateEvent = errors.New("provider event already processed")
	// ErrDuplicateNumber is returned when an order number is already assigned.
	ErrDuplicateNumber = errors.New("order number already exists")
)

// Tx exposes the writes that must commit or roll back together.
type Tx interface {
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	// UpdateOrder persists order only if its stored version still equals
	// expectedVersion. On success order.Version is expectedVersion+1.
	UpdateOrder(ctx context.Context, order *entity.Order, expectedVersion int64) error
	GetProcessedEvent(ctx context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error)
	PutProcessedEvent(ctx context.Context, record *entity.ProcessedEvent) error
	AppendAuditEntry(ctx context.Context, entry *entity.AuditEntry) error
}

// Store is the persistence contract for orders, the idempotency ledger and
// the audit log.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateOrder(ctx context.Context, order *entity.Order) error
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string, limit int) ([]entity.Order, error)
	ListAuditEntries(ctx context.Context, orderID string) ([]entity.AuditEntry, error)

	GetProcessedEvent(ctx context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error)
	RecordPaymentEvent(ctx context.Context, event *entity.PaymentEvent) error
}
