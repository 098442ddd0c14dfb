package paymentmethod

import (
	"context"
	"errors"

	"github.com/Additional-Code/orderflow/internal/entity"
)

var (
	// ErrNotFound is returned when a payment method does not exist.
	ErrNotFound = errors.New("payment method not found")
	// ErrDuplicate is returned when an owner registers the same ref twice.
	ErrDuplicate = errors.New("payment method already registered")
)

// Store persists stored payment methods.
type Store interface {
	Create(ctx context.Context, method *entity.PaymentMethod) error
	Get(ctx context.Context, id string) (*entity.PaymentMethod, error)
	ListByOwner(ctx context.Context, ownerID string) ([]entity.PaymentMethod, error)
	Delete(ctx context.Context, id string) error
}
