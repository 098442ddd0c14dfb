package paymentmethod

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/database"
)

// Module provides the payment method store to Fx.
var Module = fx.Provide(NewStore)

// NewStore selects the store implementation for the configured driver.
func NewStore(cfg config.Config, conns *database.Connections) Store {
	if cfg.Database.Driver == database.MemoryDriver {
		return NewMemoryStore()
	}
	return NewRepository(conns)
}
