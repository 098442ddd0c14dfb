package seeder

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/entity"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
)

// Module provides the demo data seeder.
var Module = fx.Provide(New)

// Seeder performs demo data seeding for local/dev setups.
type Seeder struct {
	store  repo.Store
	logger *zap.Logger
}

// New constructs a Seeder on top of the configured order store.
func New(store repo.Store, logger *zap.Logger) *Seeder {
	return &Seeder{store: store, logger: logger}
}

// Orders seeds example orders for ownerID. Orders that already exist are
// left untouched, so the command can be rerun.
func (s *Seeder) Orders(ctx context.Context, ownerID string) (int, error) {
	now := time.Now().UTC()
	samples := []entity.Order{
		sample("seed-order-1000", "ORD-00000000-SEED1000", ownerID, entity.ProviderStripe, entity.StatusPending, entity.PaymentUnpaid, now),
		sample("seed-order-1001", "ORD-00000000-SEED1001", ownerID, entity.ProviderPayPal, entity.StatusProcessing, entity.PaymentPaid, now),
	}

	created := 0
	for i := range samples {
		order := samples[i]
		err := s.store.CreateOrder(ctx, &order)
		if errors.Is(err, repo.ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	if s.logger != nil {
		s.logger.Info("seeded orders", zap.String("owner_id", ownerID), zap.Int("created", created), zap.Int("samples", len(samples)))
	}
	return created, nil
}

func sample(id, number, ownerID string, provider entity.Provider, status entity.OrderStatus, payment entity.PaymentStatus, at time.Time) entity.Order {
	items := []entity.OrderItem{
		{ProductID: "sku-tee", Quantity: 2, UnitPrice: 2500},
		{ProductID: "sku-mug", Quantity: 1, UnitPrice: 1200},
	}
	var subtotal int64
	for _, item := range items {
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	return entity.Order{
		ID:              id,
		Number:          number,
		OwnerID:         ownerID,
		Items:           items,
		Subtotal:        subtotal,
		Tax:             500,
		ShippingCost:    700,
		Total:           subtotal + 500 + 700,
		Currency:        "usd",
		Status:          status,
		PaymentStatus:   payment,
		PaymentProvider: provider,
		Version:         1,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}
