package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/messaging"
)

func TestPublisherWritesKeyedMessage(t *testing.T) {
	var cfg config.Config
	cfg.Messaging.Enabled = true
	cfg.Messaging.Kafka.ConnectTimeout = time.Second
	client := messaging.NewMemoryClient("orders.lifecycle", 1)
	publisher := NewPublisher(nil, client, cfg, zap.NewNop())

	publisher.OrderChanged(context.Background(), Change{
		Order:   &entity.Order{ID: "order-1", Number: "ORD-1", OwnerID: "user-1", PaymentStatus: entity.PaymentPaid},
		From:    entity.StatusPending,
		To:      entity.StatusProcessing,
		Trigger: Trigger(entity.EventPaymentSucceeded),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got messaging.Message
	_ = client.Consume(ctx, func(_ context.Context, msg messaging.Message) error {
		got = msg
		cancel()
		return nil
	})

	assert.Equal(t, "order-1", string(got.Key))
	assert.Equal(t, "payment_succeeded", got.Headers[messaging.HeaderTrigger])
	var body ChangeMessage
	require.NoError(t, json.Unmarshal(got.Value, &body))
	assert.Equal(t, entity.StatusProcessing, body.To)
	assert.Equal(t, entity.StatusPending, body.From)
}

func TestPublisherDisabledIsSilent(t *testing.T) {
	client := messaging.NewMemoryClient("orders.lifecycle", 1)
	publisher := NewPublisher(nil, client, config.Config{}, zap.NewNop())

	require.NoError(t, publisher.Publish(context.Background(), ChangeMessage{OrderID: "order-1"}))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, client.Publish(ctx, nil, []byte("marker"), nil), "buffer should still be empty")
}

func TestPublisherDrainsOnStop(t *testing.T) {
	var cfg config.Config
	cfg.Messaging.Enabled = true
	client := &gatedClient{release: make(chan struct{}), published: make(chan struct{}, 1)}
	lc := fxtest.NewLifecycle(t)
	publisher := NewPublisher(lc, client, cfg, zap.NewNop())
	lc.RequireStart()

	publisher.OrderChanged(context.Background(), Change{Order: &entity.Order{ID: "order-1"}, To: entity.StatusCancelled})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, publisher.Drain(ctx), context.DeadlineExceeded)

	close(client.release)
	lc.RequireStop()
	select {
	case <-client.published:
	default:
		t.Fatal("publish did not finish before stop returned")
	}
}

type gatedClient struct {
	release   chan struct{}
	published chan struct{}
}

func (g *gatedClient) Publish(ctx context.Context, _, _ []byte, _ map[string]string) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.published <- struct{}{}
	return nil
}

func (g *gatedClient) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (g *gatedClient) Topic() string { return "orders.lifecycle" }

func TestCacheRefresherWritesCommittedOrder(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	key := cache.OrderKey("order-1")
	var cfg config.Config
	cfg.Cache.DefaultTTL = time.Minute
	refresher := NewCacheRefresher(store, cfg, zap.NewNop())

	refresher.OrderChanged(ctx, Change{Order: &entity.Order{ID: "order-1", Status: entity.StatusProcessing, Version: 2}})

	stale, err := json.Marshal(entity.Order{ID: "order-1", Status: entity.StatusPending, Version: 1})
	require.NoError(t, err)
	written, err := store.SetVersioned(ctx, key, stale, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, written)

	raw, err := store.Get(ctx, key)
	require.NoError(t, err)
	var cached entity.Order
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.Equal(t, entity.StatusProcessing, cached.Status)
	assert.Equal(t, int64(2), cached.Version)
}
