package stripe

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/payment"
)

// Module contributes the Stripe provider when its credentials are set.
var Module = fx.Provide(
	fx.Annotate(
		Providers,
		fx.ResultTags(`group:"payment.providers,flatten"`),
	),
)

// Providers returns the Stripe provider, or nothing when unconfigured.
func Providers(cfg config.Config) []payment.Provider {
	if !cfg.Payments.Stripe.Configured() {
		return nil
	}
	return []payment.Provider{New(cfg.Payments.Stripe)}
}
