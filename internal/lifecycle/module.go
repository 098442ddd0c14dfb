package lifecycle

import "go.uber.org/fx"

// Module provides the state machine and its post-commit observers.
var Module = fx.Module("lifecycle",
	fx.Provide(
		NewMachine,
		NewCacheRefresher,
		NewPublisher,
		fx.Annotate(
			func(c *CacheRefresher) Observer { return c },
			fx.ResultTags(`group:"lifecycle.observers"`),
		),
		fx.Annotate(
			func(p *Publisher) Observer { return p },
			fx.ResultTags(`group:"lifecycle.observers"`),
		),
	),
)
