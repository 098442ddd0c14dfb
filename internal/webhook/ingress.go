package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

const instrumentationName = "github.com/Additional-Code/orderflow/webhook"

var ingressTracer = otel.Tracer(instrumentationName)

// Dispatcher applies a normalized event and reports what happened to it.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) (entity.EventOutcome, error)
}

// Result describes a delivery the provider should not redeliver.
type Result struct {
	EventID   string
	Canonical entity.CanonicalType
	Outcome   entity.EventOutcome
	// Reason explains a rejected delivery.
	Reason string
}

// Params defines dependencies for constructing Ingress.
type Params struct {
	fx.In

	Registry   *payment.Registry
	Dispatcher Dispatcher
	Store      repo.Store
	Config     config.Config
	Logger     *zap.Logger
}

// Module provides the webhook Ingress to Fx.
var Module = fx.Provide(NewIngress)

// Ingress authenticates, normalizes and dispatches provider webhooks.
type Ingress struct {
	registry   *payment.Registry
	dispatcher Dispatcher
	store      repo.Store
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	deliveries metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewIngress wires a new Ingress instance.
func NewIngress(p Params) *Ingress {
	meter := otel.Meter(instrumentationName)
	deliveries, err := meter.Int64Counter("orderflow.webhook.deliveries",
		metric.WithDescription("Webhook deliveries by provider and outcome"))
	if err != nil {
		p.Logger.Warn("create webhook deliveries counter", zap.Error(err))
	}
	latency, err := meter.Float64Histogram("orderflow.webhook.duration",
		metric.WithDescription("Webhook handling time"),
		metric.WithUnit("s"))
	if err != nil {
		p.Logger.Warn("create webhook latency histogram", zap.Error(err))
	}

	return &Ingress{
		registry:   p.Registry,
		dispatcher: p.Dispatcher,
		store:      p.Store,
		timeout:    p.Config.Webhooks.Timeout,
		logger:     p.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		deliveries: deliveries,
		latency:    latency,
	}
}

// Handle processes one delivery. A nil error means the delivery is settled
// and should be acknowledged; errors carry their kind so the caller can tell
// bad signatures and retryable failures apart.
func (i *Ingress) Handle(ctx context.Context, provider entity.Provider, body []byte, headers http.Header) (Result, error) {
	start := time.Now()
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	ctx, span := ingressTracer.Start(ctx, "Ingress.Handle", trace.WithAttributes(
		attribute.String("payment.provider", string(provider)),
	))
	defer span.End()

	result, err := i.handle(ctx, provider, body, headers)

	outcome := string(result.Outcome)
	if err != nil {
		outcome = string(errorbank.From(err).Kind())
		if errorbank.From(err).Retryable() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "webhook handling failed")
		}
	}
	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("outcome", outcome),
	)
	if i.deliveries != nil {
		i.deliveries.Add(ctx, 1, attrs)
	}
	if i.latency != nil {
		i.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return result, err
}

func (i *Ingress) handle(ctx context.Context, name entity.Provider, body []byte, headers http.Header) (Result, error) {
	provider, err := i.registry.Get(name)
	if err != nil {
		return Result{}, err
	}
	// Nothing is parsed, stored or dispatched before this succeeds.
	if err := provider.VerifySignature(ctx, body, headers); err != nil {
		i.logger.Warn("webhook signature rejected", zap.String("provider", string(name)), zap.Error(err))
		return Result{}, errorbank.From(err)
	}

	native, err := provider.ParseEvent(body)
	if err != nil {
		return Result{}, err
	}
	event := Normalize(provider.Taxonomy(), native)
	result := Result{EventID: event.ID, Canonical: event.Canonical}

	logger := i.logger.With(
		zap.String("provider", string(name)),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("canonical_type", string(event.Canonical)),
		zap.String("order_ref", event.OrderRef),
	)

	outcome, err := i.dispatcher.Dispatch(ctx, event)
	if err != nil {
		appErr := errorbank.From(err)
		if appErr.Retryable() {
			logger.Error("webhook dispatch failed; provider will retry", zap.Error(err))
			return result, appErr
		}
		logger.Info("webhook rejected", zap.String("reason", appErr.Message()), zap.String("kind", string(appErr.Kind())))
		outcome = entity.OutcomeRejected
		result.Reason = appErr.Message()
	}
	result.Outcome = outcome

	i.record(ctx, logger, event, outcome)
	logger.Debug("webhook settled", zap.String("outcome", string(outcome)))
	return result, nil
}

// record appends the delivery to payment_events. The ledger, not this
// history, guards idempotency, so a failed insert is only logged.
func (i *Ingress) record(ctx context.Context, logger *zap.Logger, event Event, outcome entity.EventOutcome) {
	row := &entity.PaymentEvent{
		ID:              uuid.NewString(),
		Provider:        event.Provider,
		ProviderEventID: event.ID,
		NativeType:      event.Type,
		CanonicalType:   event.Canonical,
		OrderRef:        event.OrderRef,
		OccurredAt:      event.OccurredAt,
		ReceivedAt:      i.now(),
		Outcome:         outcome,
		RawPayload:      event.Raw,
	}
	if err := i.store.RecordPaymentEvent(ctx, row); err != nil {
		logger.Warn("record payment event failed", zap.Error(err))
	}
}
