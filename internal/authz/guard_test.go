package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

func newGuard() *Guard {
	g := New("admin")
	owners := map[string]string{"order-1": "alice"}
	g.Register(KindOrder, func(_ context.Context, id string) (string, error) {
		owner, ok := owners[id]
		if !ok {
			return "", ErrNoResource
		}
		return owner, nil
	})
	g.Register(KindPaymentMethod, func(context.Context, string) (string, error) {
		return "", errors.New("db down")
	})
	return g
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		caller *identity.Identity
		kind   string
		id     string
		want   errorbank.Kind
	}{
		{name: "owner", caller: &identity.Identity{UserID: "alice"}, kind: KindOrder, id: "order-1"},
		{name: "admin", caller: &identity.Identity{UserID: "root", Role: "admin"}, kind: KindOrder, id: "order-1"},
		{name: "other user", caller: &identity.Identity{UserID: "bob"}, kind: KindOrder, id: "order-1", want: errorbank.KindForbidden},
		{name: "anonymous", kind: KindOrder, id: "order-1", want: errorbank.KindUnauthorized},
		{name: "missing resource", caller: &identity.Identity{UserID: "alice"}, kind: KindOrder, id: "order-9", want: errorbank.KindNotFound},
		{name: "lookup failure", caller: &identity.Identity{UserID: "alice"}, kind: KindPaymentMethod, id: "pm-1", want: errorbank.KindInternal},
		{name: "unregistered kind", caller: &identity.Identity{UserID: "alice"}, kind: "invoice", id: "inv-1", want: errorbank.KindInternal},
	}

	g := newGuard()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.caller != nil {
				ctx = identity.WithIdentity(ctx, *tt.caller)
			}
			id, err := g.Authorize(ctx, tt.kind, tt.id)
			if tt.want == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.caller.UserID, id.UserID)
				return
			}
			assert.True(t, errorbank.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	g := newGuard()

	_, err := g.RequireAdmin(identity.WithIdentity(context.Background(), identity.Identity{UserID: "alice", Role: "customer"}))
	assert.True(t, errorbank.Is(err, errorbank.KindForbidden))

	id, err := g.RequireAdmin(identity.WithIdentity(context.Background(), identity.Identity{UserID: "root", Role: "admin"}))
	require.NoError(t, err)
	assert.Equal(t, "root", id.UserID)

	_, err = g.RequireAdmin(context.Background())
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized))
}

func TestEmptyAdminRoleGrantsNothing(t *testing.T) {
	g := New("")
	assert.False(t, g.IsAdmin(identity.Identity{UserID: "x"}))
}
