package reconcile

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/webhook"
)

var dispatchTracer = otel.Tracer("github.com/Additional-Code/orderflow/service/reconcile")

// Module provides the Dispatcher as the webhook ingress backend.
var Module = fx.Provide(
	NewDispatcher,
	func(d *Dispatcher) webhook.Dispatcher { return d },
)

type handlerFunc func(ctx context.Context, event webhook.Event) (entity.EventOutcome, error)

// Dispatcher routes canonical events to the lifecycle machine.
type Dispatcher struct {
	machine  *lifecycle.Machine
	logger   *zap.Logger
	handlers map[entity.CanonicalType]handlerFunc
}

// NewDispatcher wires a new Dispatcher instance.
func NewDispatcher(machine *lifecycle.Machine, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{machine: machine, logger: logger}
	d.handlers = map[entity.CanonicalType]handlerFunc{
		entity.EventPaymentSucceeded: d.transition,
		entity.EventPaymentFailed:    d.transition,
		entity.EventRefundCompleted:  d.transition,
		entity.EventOrderApproved:    d.recordOnly,
		entity.EventMethodAttached:   d.recordOnly,
		entity.EventMethodDetached:   d.recordOnly,
		entity.EventUnmapped:         d.unmatched,
	}
	return d
}

// Dispatch applies event and reports its outcome. Events already in the
// ledger report duplicate without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, event webhook.Event) (entity.EventOutcome, error) {
	ctx, span := dispatchTracer.Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(
		attribute.String("payment.provider", string(event.Provider)),
		attribute.String("payment.event_id", event.ID),
		attribute.String("payment.canonical_type", string(event.Canonical)),
	))
	defer span.End()

	handler, ok := d.handlers[event.Canonical]
	if !ok {
		handler = d.unmatched
	}
	if event.OrderRef == "" && event.Canonical != entity.EventUnmapped {
		d.logger.Info("event carries no order reference",
			zap.String("provider", string(event.Provider)),
			zap.String("event_id", event.ID),
			zap.String("canonical_type", string(event.Canonical)),
		)
		handler = d.unmatched
	}
	return handler(ctx, event)
}

func (d *Dispatcher) transition(ctx context.Context, event webhook.Event) (entity.EventOutcome, error) {
	trigger, ok := lifecycle.TriggerForEvent(event.Canonical)
	if !ok {
		return d.unmatched(ctx, event)
	}
	result, err := d.machine.Apply(ctx, lifecycle.Request{
		OrderID: event.OrderRef,
		Trigger: trigger,
		Event:   ref(event),
	})
	if err != nil {
		return "", err
	}
	if result.Duplicate {
		return entity.OutcomeDuplicate, nil
	}
	d.logger.Info("order transitioned by provider event",
		zap.String("order_id", event.OrderRef),
		zap.String("event_id", event.ID),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
	)
	return entity.OutcomeApplied, nil
}

func (d *Dispatcher) recordOnly(ctx context.Context, event webhook.Event) (entity.EventOutcome, error) {
	result, err := d.machine.Apply(ctx, lifecycle.Request{
		OrderID: event.OrderRef,
		Event:   ref(event),
	})
	if err != nil {
		return "", err
	}
	if result.Duplicate {
		return entity.OutcomeDuplicate, nil
	}
	return entity.OutcomeApplied, nil
}

func (d *Dispatcher) unmatched(ctx context.Context, event webhook.Event) (entity.EventOutcome, error) {
	duplicate, err := d.machine.RecordUnmatched(ctx, *ref(event))
	if err != nil {
		return "", err
	}
	if duplicate {
		return entity.OutcomeDuplicate, nil
	}
	return entity.OutcomeIgnored, nil
}

func ref(event webhook.Event) *lifecycle.EventRef {
	return &lifecycle.EventRef{Provider: event.Provider, ID: event.ID, Type: event.Canonical}
}
