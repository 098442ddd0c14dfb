package order

import "go.uber.org/fx"

// Module provides the order service and registers order ownership with the
// authorization guard.
var Module = fx.Provide(
	NewService,
	fx.Annotate(
		OwnerRegistration,
		fx.ResultTags(`group:"authz.lookups"`),
	),
)
