package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/messaging"
)

func newEngine(client messaging.Client, regs ...HandlerRegistration) *Engine {
	var cfg config.Config
	cfg.Messaging.Enabled = true
	cfg.Messaging.Workers = config.Worker{Enabled: true, Concurrency: 2, PollInterval: 10 * time.Millisecond}
	return NewEngine(Params{Client: client, Logger: zap.NewNop(), Config: cfg, Registrations: regs})
}

func TestEngineRoutesByTopic(t *testing.T) {
	client := messaging.NewMemoryClient("orders.lifecycle", 8)
	var handled atomic.Int32
	engine := newEngine(client, HandlerRegistration{
		Topic: "orders.lifecycle",
		Handler: func(context.Context, messaging.Message) error {
			handled.Add(1)
			return nil
		},
	})

	require.NoError(t, engine.start(context.Background()))
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Publish(context.Background(), nil, []byte("{}"), nil))
	}

	assert.Eventually(t, func() bool { return handled.Load() == 3 }, time.Second, 10*time.Millisecond)
	require.NoError(t, engine.stop(context.Background()))
}

func TestEngineDispatchRecoversPanics(t *testing.T) {
	engine := newEngine(messaging.NewMemoryClient("t", 1), HandlerRegistration{
		Topic:   "t",
		Handler: func(context.Context, messaging.Message) error { panic("boom") },
	})

	err := engine.dispatch(context.Background(), 0, messaging.Message{Topic: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEngineDispatchUnroutedTopic(t *testing.T) {
	engine := newEngine(messaging.NewMemoryClient("t", 1))

	assert.NoError(t, engine.dispatch(context.Background(), 0, messaging.Message{Topic: "other"}))
}

func TestEngineDispatchPropagatesHandlerError(t *testing.T) {
	want := errors.New("store unavailable")
	engine := newEngine(messaging.NewMemoryClient("t", 1), HandlerRegistration{
		Topic:   "t",
		Handler: func(context.Context, messaging.Message) error { return want },
	})

	assert.ErrorIs(t, engine.dispatch(context.Background(), 0, messaging.Message{Topic: "t"}), want)
}

func TestEngineStartSkipsWhenDisabled(t *testing.T) {
	engine := NewEngine(Params{Client: messaging.NewMemoryClient("t", 1), Logger: zap.NewNop()})

	require.NoError(t, engine.start(context.Background()))
	assert.Nil(t, engine.cancel)
}
