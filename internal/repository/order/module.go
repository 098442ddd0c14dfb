package order

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/database"
)

// Module provides the order store to Fx.
var Module = fx.Provide(NewStore)

// NewStore selects the store implementation for the configured driver.
func NewStore(cfg config.Config, conns *database.Connections, logger *zap.Logger) Store {
	if cfg.Database.Driver == database.MemoryDriver {
		logger.Warn("using in-memory order store; data is lost on restart")
		return NewMemoryStore()
	}
	return NewRepository(conns)
}
