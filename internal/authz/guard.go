package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var guardTracer = otel.Tracer("github.com/Additional-Code/orderflow/authz")

// Resource kinds guarded by ownership.
const (
	KindOrder         = "order"
	KindPaymentMethod = "payment_method"
)

// ErrNoResource is returned by lookups when the resource does not exist.
var ErrNoResource = errors.New("resource not found")

// OwnerLookup resolves the owner user id of a resource.
type OwnerLookup func(ctx context.Context, id string) (string, error)

// Registration binds a lookup to a resource kind through the Fx group.
type Registration struct {
	Kind   string
	Lookup OwnerLookup
}

// Params defines dependencies for constructing Guard.
type Params struct {
	fx.In

	Config        config.Config
	Registrations []Registration `group:"authz.lookups"`
}

// Module provides the Guard to Fx.
var Module = fx.Provide(NewGuard)

// Guard gates operations on resource ownership or the admin role.
type Guard struct {
	mu        sync.RWMutex
	lookups   map[string]OwnerLookup
	adminRole string
}

// NewGuard builds a Guard with the registered lookups.
func NewGuard(p Params) *Guard {
	g := New(p.Config.Auth.AdminRole)
	for _, r := range p.Registrations {
		g.Register(r.Kind, r.Lookup)
	}
	return g
}

// New returns an empty Guard treating adminRole as elevated.
func New(adminRole string) *Guard {
	return &Guard{lookups: make(map[string]OwnerLookup), adminRole: adminRole}
}

// Register adds or replaces the owner lookup for kind.
func (g *Guard) Register(kind string, lookup OwnerLookup) {
	if kind == "" || lookup == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups[kind] = lookup
}

// IsAdmin reports whether id carries the elevated role.
func (g *Guard) IsAdmin(id identity.Identity) bool {
	return g.adminRole != "" && id.Role == g.adminRole
}

// Caller returns the authenticated identity or an unauthorized error.
func (g *Guard) Caller(ctx context.Context) (identity.Identity, error) {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return identity.Identity{}, errorbank.Unauthorized("authentication required")
	}
	return id, nil
}

// RequireAdmin fails unless the caller holds the admin role.
func (g *Guard) RequireAdmin(ctx context.Context) (identity.Identity, error) {
	id, err := g.Caller(ctx)
	if err != nil {
		return id, err
	}
	if !g.IsAdmin(id) {
		return id, errorbank.Forbidden("admin role required")
	}
	return id, nil
}

// Authorize checks that the caller owns the resource kind/id or is an admin.
func (g *Guard) Authorize(ctx context.Context, kind, resourceID string) (identity.Identity, error) {
	ctx, span := guardTracer.Start(ctx, "Guard.Authorize", trace.WithAttributes(
		attribute.String("authz.kind", kind),
		attribute.String("authz.resource_id", resourceID),
	))
	defer span.End()

	id, err := g.Caller(ctx)
	if err != nil {
		return id, err
	}

	g.mu.RLock()
	lookup, ok := g.lookups[kind]
	g.mu.RUnlock()
	if !ok {
		return id, errorbank.Internal(fmt.Sprintf("no owner lookup registered for %s", kind))
	}

	owner, err := lookup(ctx, resourceID)
	if errors.Is(err, ErrNoResource) {
		return id, errorbank.NotFound(kind+" not found", errorbank.WithDetail("id", resourceID))
	}
	if err != nil {
		return id, errorbank.Internal("failed to resolve resource owner", errorbank.WithCause(err))
	}

	if owner != id.UserID && !g.IsAdmin(id) {
		span.SetAttributes(attribute.Bool("authz.denied", true))
		return id, errorbank.Forbidden("not allowed to access this " + kind)
	}
	return id, nil
}
