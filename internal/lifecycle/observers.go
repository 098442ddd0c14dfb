package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/messaging"
)

// TriggerCreated marks the message published when an order is first stored.
const TriggerCreated Trigger = "order_created"

// ChangeMessage is the bus payload for a committed lifecycle change.
type ChangeMessage struct {
	OrderID         string               `json:"order_id"`
	Number          string               `json:"number"`
	OwnerID         string               `json:"owner_id"`
	From            entity.OrderStatus   `json:"from,omitempty"`
	To              entity.OrderStatus   `json:"to"`
	PaymentStatus   entity.PaymentStatus `json:"payment_status"`
	Trigger         Trigger              `json:"trigger"`
	Provider        entity.Provider      `json:"provider,omitempty"`
	ProviderEventID string               `json:"provider_event_id,omitempty"`
	ActorID         string               `json:"actor_id,omitempty"`
	At              time.Time            `json:"at"`
}

// NewChangeMessage builds the bus payload for change.
func NewChangeMessage(change Change) ChangeMessage {
	msg := ChangeMessage{
		From:    change.From,
		To:      change.To,
		Trigger: change.Trigger,
		ActorID: change.ActorID,
		At:      change.At,
	}
	if change.Order != nil {
		msg.OrderID = change.Order.ID
		msg.Number = change.Order.Number
		msg.OwnerID = change.Order.OwnerID
		msg.PaymentStatus = change.Order.PaymentStatus
	}
	if change.Event != nil {
		msg.Provider = change.Event.Provider
		msg.ProviderEventID = change.Event.ID
		if msg.Trigger == "" {
			msg.Trigger = Trigger(change.Event.Type)
		}
	}
	return msg
}

// CacheRefresher writes the committed order over the cached copy after every
// change. The write is version-guarded, so a reader that loaded the order
// before the commit cannot put the older copy back.
type CacheRefresher struct {
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewCacheRefresher wires a CacheRefresher.
func NewCacheRefresher(store cache.Store, cfg config.Config, logger *zap.Logger) *CacheRefresher {
	return &CacheRefresher{cache: store, ttl: cfg.Cache.DefaultTTL, logger: logger}
}

// OrderChanged implements Observer.
func (c *CacheRefresher) OrderChanged(ctx context.Context, change Change) {
	if c.cache == nil || change.Order == nil {
		return
	}
	key := cache.OrderKey(change.Order.ID)
	payload, err := json.Marshal(change.Order)
	if err == nil {
		_, err = c.cache.SetVersioned(ctx, key, payload, change.Order.Version, c.ttl)
	}
	if err == nil {
		return
	}
	c.logger.Warn("orders cache refresh failed", zap.String("id", change.Order.ID), zap.Error(err))
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Warn("orders cache invalidation failed", zap.String("id", change.Order.ID), zap.Error(err))
	}
}

// Publisher emits lifecycle changes on the message bus.
type Publisher struct {
	client   messaging.Client
	enabled  bool
	timeout  time.Duration
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewPublisher wires a Publisher from messaging configuration. Publishes
// still in flight are awaited when the application stops.
func NewPublisher(lc fx.Lifecycle, client messaging.Client, cfg config.Config, logger *zap.Logger) *Publisher {
	p := &Publisher{
		client:  client,
		enabled: cfg.Messaging.Enabled,
		timeout: cfg.Messaging.Kafka.ConnectTimeout,
		logger:  logger,
	}
	if lc != nil {
		lc.Append(fx.Hook{OnStop: p.Drain})
	}
	return p
}

// OrderChanged implements Observer. Publishing happens in the background so
// a slow broker never holds up the request that committed the change.
func (p *Publisher) OrderChanged(ctx context.Context, change Change) {
	msg := NewChangeMessage(change)
	bg := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		if err := p.Publish(bg, msg); err != nil {
			p.logger.Error("publish lifecycle change", zap.String("order_id", msg.OrderID), zap.Error(err))
		}
	}()
}

// Drain waits for background publishes to finish or ctx to end.
func (p *Publisher) Drain(ctx context.Context) error {
	return waitGroup(ctx, &p.inflight)
}

// Publish writes msg synchronously, keyed by order id.
func (p *Publisher) Publish(ctx context.Context, msg ChangeMessage) error {
	if !p.enabled || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.client.Publish(ctx, []byte(msg.OrderID), payload, map[string]string{
		messaging.HeaderContentType: "application/json",
		messaging.HeaderTrigger:     string(msg.Trigger),
	})
}

// waitGroup blocks until wg is done or ctx ends.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
