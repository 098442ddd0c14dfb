package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/messaging"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/orderflow/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderChangedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Params defines dependencies for the order change handler.
type Params struct {
	fx.In

	Store  repo.Store
	Cache  cache.Store
	Config config.Config
	Logger *zap.Logger
}

// NewOrderChangedHandler consumes committed lifecycle changes and refreshes
// the cached order so reads after a webhook hit a warm entry.
func NewOrderChangedHandler(p Params) worker.HandlerRegistration {
	ttl := p.Config.Cache.DefaultTTL
	logger := p.Logger.Named("worker.orders")

	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.changed", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var change lifecycle.ChangeMessage
		if err := json.Unmarshal(msg.Value, &change); err != nil {
			// Undecodable payloads are dropped; redelivery cannot fix them.
			logger.Error("failed to decode lifecycle change", zap.Int64("offset", msg.Offset), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(
			attribute.String("order.id", change.OrderID),
			attribute.String("order.trigger", string(change.Trigger)),
		)

		logger.Info("order lifecycle change",
			zap.String("order_id", change.OrderID),
			zap.String("number", change.Number),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
			zap.String("trigger", string(change.Trigger)),
			zap.String("provider_event_id", change.ProviderEventID),
			zap.Duration("lag", time.Since(change.At)),
		)

		if p.Cache == nil || change.OrderID == "" {
			return nil
		}
		order, err := p.Store.GetOrder(ctx, change.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
			return err
		}
		payload, err := json.Marshal(order)
		if err != nil {
			return err
		}
		if _, err := p.Cache.SetVersioned(ctx, cache.OrderKey(order.ID), payload, order.Version, ttl); err != nil {
			logger.Warn("orders cache warm failed", zap.String("order_id", order.ID), zap.Error(err))
		}
		return nil
	}

	return worker.HandlerRegistration{
		Topic:   p.Config.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
