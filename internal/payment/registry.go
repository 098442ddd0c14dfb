package payment

import (
	"sort"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// Params collects configured providers from the Fx group.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Providers []Provider `group:"payment.providers"`
}

// Registry resolves providers by name.
type Registry struct {
	providers map[entity.Provider]Provider
}

// NewRegistry builds a Registry from the configured providers. Nil entries
// stand for providers whose credentials were not supplied.
func NewRegistry(p Params) *Registry {
	r := NewStaticRegistry(p.Providers...)
	if p.Logger != nil {
		p.Logger.Info("payment providers configured", zap.Strings("providers", r.Names()))
	}
	return r
}

// NewStaticRegistry builds a Registry from an explicit provider list.
func NewStaticRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[entity.Provider]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider or service_unavailable when it is not configured.
func (r *Registry) Get(name entity.Provider) (Provider, error) {
	if !name.Valid() {
		return nil, errorbank.BadRequest("unknown payment provider", errorbank.WithDetail("provider", string(name)))
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, errorbank.ServiceUnavailable("payment provider not configured", errorbank.WithDetail("provider", string(name)))
	}
	return p, nil
}

// Names lists configured providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
