package paymentmethod

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/orderflow/internal/entity"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	first := &entity.PaymentMethod{ID: "pm-1", OwnerID: "alice", Provider: entity.ProviderStripe, ExternalRef: "pm_card_visa", CreatedAt: now}
	second := &entity.PaymentMethod{ID: "pm-2", OwnerID: "alice", Provider: entity.ProviderPayPal, ExternalRef: "tok_9", CreatedAt: now.Add(time.Second)}
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	dup := *first
	dup.ID = "pm-3"
	assert.ErrorIs(t, store.Create(ctx, &dup), ErrDuplicate)

	list, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pm-1", list[0].ID)

	got, err := store.Get(ctx, "pm-2")
	require.NoError(t, err)
	got.Label = "changed"
	again, err := store.Get(ctx, "pm-2")
	require.NoError(t, err)
	assert.Empty(t, again.Label)

	require.NoError(t, store.Delete(ctx, "pm-1"))
	assert.ErrorIs(t, store.Delete(ctx, "pm-1"), ErrNotFound)
	_, err = store.Get(ctx, "pm-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
