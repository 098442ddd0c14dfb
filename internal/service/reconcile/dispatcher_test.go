package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/payment"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/internal/webhook"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

func newDispatcher(t *testing.T, status entity.OrderStatus) (*Dispatcher, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateOrder(context.Background(), &entity.Order{
		ID:              "order-1",
		Number:          "ORD-20260101-BBBBBBBB",
		OwnerID:         "user-1",
		Total:           5000,
		Currency:        "usd",
		Status:          status,
		PaymentStatus:   entity.PaymentUnpaid,
		PaymentProvider: entity.ProviderPayPal,
		Version:         1,
	}))
	logger := zap.NewNop()
	return NewDispatcher(lifecycle.NewMachine(lifecycle.Params{Store: store, Logger: logger}), logger), store
}

func event(id string, canonical entity.CanonicalType, orderRef string) webhook.Event {
	return webhook.Event{
		NativeEvent: payment.NativeEvent{Provider: entity.ProviderPayPal, ID: id, Type: "native", OrderRef: orderRef},
		Canonical:   canonical,
	}
}

func TestDispatchTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      entity.OrderStatus
		canonical entity.CanonicalType
		status    entity.OrderStatus
		payment   entity.PaymentStatus
	}{
		{"payment succeeded", entity.StatusPending, entity.EventPaymentSucceeded, entity.StatusProcessing, entity.PaymentPaid},
		{"payment failed", entity.StatusPending, entity.EventPaymentFailed, entity.StatusCancelled, entity.PaymentFailed},
		{"refund completed", entity.StatusDelivered, entity.EventRefundCompleted, entity.StatusRefunded, entity.PaymentRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store := newDispatcher(t, tt.from)

			outcome, err := d.Dispatch(context.Background(), event("WH-1", tt.canonical, "order-1"))
			require.NoError(t, err)
			assert.Equal(t, entity.OutcomeApplied, outcome)

			order, err := store.GetOrder(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, order.Status)
			assert.Equal(t, tt.payment, order.PaymentStatus)

			record, err := store.GetProcessedEvent(context.Background(), entity.ProviderPayPal, "WH-1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, record.ResultingStatus)
		})
	}
}

func TestDispatchDuplicate(t *testing.T) {
	d, _ := newDispatcher(t, entity.StatusPending)

	_, err := d.Dispatch(context.Background(), event("WH-1", entity.EventPaymentSucceeded, "order-1"))
	require.NoError(t, err)
	outcome, err := d.Dispatch(context.Background(), event("WH-1", entity.EventPaymentSucceeded, "order-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeDuplicate, outcome)
}

func TestDispatchRecordOnlyLeavesStatus(t *testing.T) {
	d, store := newDispatcher(t, entity.StatusPending)

	outcome, err := d.Dispatch(context.Background(), event("WH-2", entity.EventOrderApproved, "order-1"))
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeApplied, outcome)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, order.Status)

	audit, err := store.ListAuditEntries(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, string(entity.EventOrderApproved), audit[0].CanonicalType)
}

func TestDispatchWithoutOrderRef(t *testing.T) {
	d, store := newDispatcher(t, entity.StatusPending)

	outcome, err := d.Dispatch(context.Background(), event("WH-3", entity.EventMethodAttached, ""))
	require.NoError(t, err)
	assert.Equal(t, entity.OutcomeIgnored, outcome)

	_, err = store.GetProcessedEvent(context.Background(), entity.ProviderPayPal, "WH-3")
	assert.NoError(t, err)
}

func TestDispatchInvalidTransition(t *testing.T) {
	d, store := newDispatcher(t, entity.StatusRefunded)

	_, err := d.Dispatch(context.Background(), event("WH-4", entity.EventPaymentSucceeded, "order-1"))
	require.Error(t, err)
	assert.True(t, errorbank.Is(err, errorbank.KindInvalidTransition))
	assert.False(t, errorbank.From(err).Retryable())

	_, err = store.GetProcessedEvent(context.Background(), entity.ProviderPayPal, "WH-4")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDispatchUnknownOrder(t *testing.T) {
	d, _ := newDispatcher(t, entity.StatusPending)

	_, err := d.Dispatch(context.Background(), event("WH-5", entity.EventPaymentSucceeded, "nope"))
	require.Error(t, err)
	assert.True(t, errorbank.Is(err, errorbank.KindNotFound))
}
