package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/orderflow/internal/entity"
)

func seedOrder(t *testing.T, store *MemoryStore) *entity.Order {
	t.Helper()
	order := &entity.Order{
		ID:            "order-1",
		Number:        "ORD-1",
		OwnerID:       "user-1",
		Status:        entity.StatusPending,
		PaymentStatus: entity.PaymentUnpaid,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))
	return order
}

func TestMemoryStoreRejectsDuplicateNumber(t *testing.T) {
	store := NewMemoryStore()
	order := seedOrder(t, store)

	dup := order.Clone()
	dup.ID = "order-2"
	assert.ErrorIs(t, store.CreateOrder(context.Background(), dup), ErrDuplicateNumber)
}

func TestMemoryStoreUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store)

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		order.Status = entity.StatusProcessing
		return tx.UpdateOrder(ctx, order, 7)
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestMemoryStoreCommitDetectsInterleavedWriter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store)

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		order.Status = entity.StatusCancelled
		require.NoError(t, tx.UpdateOrder(ctx, order, order.Version))

		// A second writer commits while this transaction is still open.
		inner := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			other, err := tx.GetOrder(ctx, "order-1")
			require.NoError(t, err)
			other.Status = entity.StatusProcessing
			return tx.UpdateOrder(ctx, other, other.Version)
		})
		require.NoError(t, inner)
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store)
	failure := errors.New("audit write failed")

	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		order.Status = entity.StatusProcessing
		require.NoError(t, tx.UpdateOrder(ctx, order, order.Version))
		require.NoError(t, tx.PutProcessedEvent(ctx, &entity.ProcessedEvent{
			Provider:        entity.ProviderStripe,
			ProviderEventID: "evt_1",
			AppliedAt:       time.Now(),
		}))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	_, err = store.GetProcessedEvent(ctx, entity.ProviderStripe, "evt_1")
	assert.ErrorIs(t, err, ErrNotFound)
	stored, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)
}

func TestMemoryStoreLedgerIsUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	record := &entity.ProcessedEvent{Provider: entity.ProviderPayPal, ProviderEventID: "WH-1", AppliedAt: time.Now()}

	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.PutProcessedEvent(ctx, record)
	}))
	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.PutProcessedEvent(ctx, record)
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	order.Status = entity.StatusShipped
	order.AppendNote(time.Now(), "user-1", "mutated locally")

	stored, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Empty(t, stored.Notes)
}
