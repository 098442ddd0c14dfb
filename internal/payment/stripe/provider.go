package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var stripeTracer = otel.Tracer("github.com/Additional-Code/orderflow/payment/stripe")

// MetadataOrderID is the metadata key linking Stripe objects to orders.
const MetadataOrderID = "order_id"

var taxonomy = map[string]entity.CanonicalType{
	"payment_intent.succeeded":      entity.EventPaymentSucceeded,
	"payment_intent.payment_failed": entity.EventPaymentFailed,
	"charge.refunded":               entity.EventRefundCompleted,
	"payment_method.attached":       entity.EventMethodAttached,
	"payment_method.detached":       entity.EventMethodDetached,
}

// Provider talks to Stripe.
type Provider struct {
	key           string
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Option customises a Provider.
type Option func(*Provider)

// WithBackends routes API calls through custom backends.
func WithBackends(backends *stripego.Backends) Option {
	return func(p *Provider) {
		p.api = client.New(p.key, backends)
	}
}

// WithClock overrides the time source used for signature tolerance.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New builds a Stripe provider from its configuration.
func New(cfg config.Stripe, opts ...Option) *Provider {
	p := &Provider{
		key:           cfg.SecretKey,
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.SignatureMaxAge,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() entity.Provider { return entity.ProviderStripe }

func (p *Provider) Taxonomy() map[string]entity.CanonicalType { return taxonomy }

// VerifySignature implements payment.Provider.
func (p *Provider) VerifySignature(_ context.Context, body []byte, headers http.Header) error {
	return verifySignature(body, headers.Get(SignatureHeader), p.webhookSecret, p.tolerance, p.now())
}

// ParseEvent decodes a Stripe event envelope.
func (p *Provider) ParseEvent(body []byte) (payment.NativeEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return payment.NativeEvent{}, errorbank.BadRequest("malformed stripe event", errorbank.WithCause(err))
	}
	if event.ID == "" || event.Type == "" {
		return payment.NativeEvent{}, errorbank.BadRequest("stripe event is missing id or type")
	}

	native := payment.NativeEvent{
		Provider:   entity.ProviderStripe,
		ID:         event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Raw:        body,
	}
	if event.Data != nil {
		native.OrderRef = orderRef(event.Data.Object)
	}
	return native, nil
}

func orderRef(object map[string]interface{}) string {
	metadata, ok := object["metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	ref, _ := metadata[MetadataOrderID].(string)
	return ref
}

// CreateIntent creates a PaymentIntent tagged with the order id.
func (p *Provider) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	ctx, span := p.start(ctx, "Stripe.CreateIntent", attribute.String("order.id", req.OrderID))
	defer span.End()

	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(req.Amount),
		Currency: stripego.String(req.Currency),
	}
	if req.MethodRef != "" {
		params.PaymentMethod = stripego.String(req.MethodRef)
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	params.SetIdempotencyKey("intent-" + req.OrderID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return payment.Intent{}, fail(span, "create payment intent", err)
	}
	return payment.Intent{Ref: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// Confirm confirms a PaymentIntent.
func (p *Provider) Confirm(ctx context.Context, ref string) error {
	ctx, span := p.start(ctx, "Stripe.Confirm", attribute.String("payment.ref", ref))
	defer span.End()

	params := &stripego.PaymentIntentConfirmParams{}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Confirm(ref, params); err != nil {
		return fail(span, "confirm payment intent", err)
	}
	return nil
}

// Refund refunds a captured PaymentIntent.
func (p *Provider) Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	ctx, span := p.start(ctx, "Stripe.Refund", attribute.String("order.id", req.OrderID))
	defer span.End()

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.Ref),
		Reason:        stripego.String(string(stripego.RefundReasonRequestedByCustomer)),
	}
	if req.Amount > 0 {
		params.Amount = stripego.Int64(req.Amount)
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.SetIdempotencyKey("refund-" + req.OrderID)

	refund, err := p.api.Refunds.New(params)
	if err != nil {
		return payment.RefundResult{}, fail(span, "create refund", err)
	}
	return payment.RefundResult{Ref: refund.ID, Status: string(refund.Status)}, nil
}

// VoidAuthorization cancels an uncaptured PaymentIntent.
func (p *Provider) VoidAuthorization(ctx context.Context, ref string) error {
	ctx, span := p.start(ctx, "Stripe.VoidAuthorization", attribute.String("payment.ref", ref))
	defer span.End()

	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := p.api.PaymentIntents.Cancel(ref, params); err != nil {
		return fail(span, "cancel payment intent", err)
	}
	return nil
}

// DetachMethod detaches a stored PaymentMethod from its customer.
func (p *Provider) DetachMethod(ctx context.Context, ref string) error {
	ctx, span := p.start(ctx, "Stripe.DetachMethod", attribute.String("payment.ref", ref))
	defer span.End()

	params := &stripego.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := p.api.PaymentMethods.Detach(ref, params); err != nil {
		return fail(span, "detach payment method", err)
	}
	return nil
}

func (p *Provider) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return stripeTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fail classifies a Stripe API error. Card and request errors are the
// caller's problem; everything else is worth retrying.
func fail(span trace.Span, action string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, action+" failed")

	if stripeErr, ok := err.(*stripego.Error); ok {
		switch stripeErr.Type {
		case stripego.ErrorTypeCard, stripego.ErrorTypeInvalidRequest:
			return errorbank.BadRequest(stripeErr.Msg,
				errorbank.WithCause(err),
				errorbank.WithDetail("provider", "stripe"),
				errorbank.WithDetail("code", string(stripeErr.Code)),
			)
		}
	}
	return errorbank.ServiceUnavailable("stripe "+action+" failed", errorbank.WithCause(err))
}
