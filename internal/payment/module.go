package payment

import "go.uber.org/fx"

// Module provides the provider Registry to Fx.
var Module = fx.Provide(NewRegistry)
