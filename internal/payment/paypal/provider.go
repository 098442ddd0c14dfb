package paypal

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var paypalTracer = otel.Tracer("github.com/Additional-Code/orderflow/payment/paypal")

var taxonomy = map[string]entity.CanonicalType{
	"PAYMENT.CAPTURE.COMPLETED":   entity.EventPaymentSucceeded,
	"PAYMENT.CAPTURE.DENIED":      entity.EventPaymentFailed,
	"PAYMENT.CAPTURE.DECLINED":    entity.EventPaymentFailed,
	"PAYMENT.CAPTURE.REFUNDED":    entity.EventRefundCompleted,
	"CHECKOUT.ORDER.APPROVED":     entity.EventOrderApproved,
	"VAULT.PAYMENT-TOKEN.CREATED": entity.EventMethodAttached,
	"VAULT.PAYMENT-TOKEN.DELETED": entity.EventMethodDetached,
}

// Provider talks to the PayPal REST API.
type Provider struct {
	baseURL  string
	client   *http.Client
	verifier *verifier
}

// Option customises a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the OAuth2 authenticated API client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithCertFetcher replaces the certificate downloader.
func WithCertFetcher(fetch CertFetcher) Option {
	return func(p *Provider) {
		p.verifier.fetch = fetch
	}
}

// WithRoots pins the trust anchors for certificate chains. Nil means the
// system pool.
func WithRoots(roots *x509.CertPool) Option {
	return func(p *Provider) {
		p.verifier.roots = roots
	}
}

// WithClock overrides the time source used for certificate validity.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.verifier.now = now
	}
}

// New builds a PayPal provider from its configuration.
func New(cfg config.PayPal, opts ...Option) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	apiClient := creds.Client(context.Background())
	apiClient.Timeout = 15 * time.Second

	p := &Provider{
		baseURL:  baseURL,
		client:   apiClient,
		verifier: newVerifier(cfg.WebhookID, cfg.CertHosts, cfg.CertCacheTTL, HTTPCertFetcher(&http.Client{Timeout: 5 * time.Second})),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() entity.Provider { return entity.ProviderPayPal }

func (p *Provider) Taxonomy() map[string]entity.CanonicalType { return taxonomy }

// VerifySignature implements payment.Provider.
func (p *Provider) VerifySignature(ctx context.Context, body []byte, headers http.Header) error {
	ctx, span := paypalTracer.Start(ctx, "PayPal.VerifySignature")
	defer span.End()

	err := p.verifier.verify(ctx, body, headers)
	if err != nil {
		span.SetStatus(codes.Error, "verification failed")
	}
	return err
}

type webhookEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		CustomID      string `json:"custom_id"`
		PurchaseUnits []struct {
			CustomID string `json:"custom_id"`
		} `json:"purchase_units"`
	} `json:"resource"`
}

// ParseEvent decodes a PayPal webhook event. The order reference is the
// custom_id set on the purchase unit at creation.
func (p *Provider) ParseEvent(body []byte) (payment.NativeEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return payment.NativeEvent{}, errorbank.BadRequest("malformed paypal event", errorbank.WithCause(err))
	}
	if event.ID == "" || event.EventType == "" {
		return payment.NativeEvent{}, errorbank.BadRequest("paypal event is missing id or event_type")
	}

	ref := event.Resource.CustomID
	if ref == "" && len(event.Resource.PurchaseUnits) > 0 {
		ref = event.Resource.PurchaseUnits[0].CustomID
	}
	return payment.NativeEvent{
		Provider:   entity.ProviderPayPal,
		ID:         event.ID,
		Type:       event.EventType,
		OrderRef:   ref,
		OccurredAt: event.CreateTime.UTC(),
		Raw:        body,
	}, nil
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID string `json:"id"`
			} `json:"captures"`
			Authorizations []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"authorizations"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateIntent creates a checkout order carrying the order id as custom_id.
func (p *Provider) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	ctx, span := paypalTracer.Start(ctx, "PayPal.CreateIntent", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"custom_id":    req.OrderID,
			"invoice_id":   req.OrderNumber,
			"amount":       formatAmount(req.Amount, req.Currency),
		}},
	}
	var out orderResponse
	if err := p.do(ctx, span, http.MethodPost, "/v2/checkout/orders", "intent-"+req.OrderID, body, &out); err != nil {
		return payment.Intent{}, err
	}

	intent := payment.Intent{Ref: out.ID, Status: out.Status}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			intent.ApprovalURL = l.Href
		}
	}
	return intent, nil
}

// Confirm captures an approved checkout order.
func (p *Provider) Confirm(ctx context.Context, ref string) error {
	ctx, span := paypalTracer.Start(ctx, "PayPal.Confirm", trace.WithAttributes(attribute.String("payment.ref", ref)))
	defer span.End()

	return p.do(ctx, span, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(ref)+"/capture", "capture-"+ref, struct{}{}, nil)
}

// Refund refunds the first capture of a checkout order.
func (p *Provider) Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	ctx, span := paypalTracer.Start(ctx, "PayPal.Refund", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()

	order, err := p.order(ctx, span, req.Ref)
	if err != nil {
		return payment.RefundResult{}, err
	}
	captureID := ""
	for _, unit := range order.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			captureID = unit.Payments.Captures[0].ID
			break
		}
	}
	if captureID == "" {
		return payment.RefundResult{}, errorbank.Conflict("paypal order has no capture to refund", errorbank.WithDetail("ref", req.Ref))
	}

	body := map[string]any{"custom_id": req.OrderID}
	if req.Amount > 0 {
		body["amount"] = formatAmount(req.Amount, req.Currency)
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := p.do(ctx, span, http.MethodPost, path, "refund-"+req.OrderID, body, &out); err != nil {
		return payment.RefundResult{}, err
	}
	return payment.RefundResult{Ref: out.ID, Status: out.Status}, nil
}

// VoidAuthorization voids any open authorization on a checkout order.
// Orders created with intent CAPTURE hold none, so this is a no-op for them.
func (p *Provider) VoidAuthorization(ctx context.Context, ref string) error {
	ctx, span := paypalTracer.Start(ctx, "PayPal.VoidAuthorization", trace.WithAttributes(attribute.String("payment.ref", ref)))
	defer span.End()

	order, err := p.order(ctx, span, ref)
	if err != nil {
		return err
	}
	for _, unit := range order.PurchaseUnits {
		for _, auth := range unit.Payments.Authorizations {
			if auth.Status != "CREATED" && auth.Status != "PENDING" {
				continue
			}
			path := "/v2/payments/authorizations/" + url.PathEscape(auth.ID) + "/void"
			if err := p.do(ctx, span, http.MethodPost, path, "void-"+auth.ID, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// DetachMethod deletes a vaulted payment token.
func (p *Provider) DetachMethod(ctx context.Context, ref string) error {
	ctx, span := paypalTracer.Start(ctx, "PayPal.DetachMethod", trace.WithAttributes(attribute.String("payment.ref", ref)))
	defer span.End()

	return p.do(ctx, span, http.MethodDelete, "/v3/vault/payment-tokens/"+url.PathEscape(ref), "", nil, nil)
}

func (p *Provider) order(ctx context.Context, span trace.Span, ref string) (orderResponse, error) {
	var out orderResponse
	err := p.do(ctx, span, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(ref), "", nil, &out)
	return out, err
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

func (p *Provider) do(ctx context.Context, span trace.Span, method, path, requestID string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errorbank.Internal("encode paypal request", errorbank.WithCause(err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return errorbank.Internal("build paypal request", errorbank.WithCause(err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "paypal request failed")
		return errorbank.ServiceUnavailable("paypal request failed", errorbank.WithCause(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errorbank.ServiceUnavailable("read paypal response", errorbank.WithCause(err))
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		cause := fmt.Errorf("paypal %s %s: %d %s", method, path, resp.StatusCode, apiErr.Name)
		span.RecordError(cause)
		span.SetStatus(codes.Error, "paypal returned an error")

		opts := []errorbank.Option{
			errorbank.WithCause(cause),
			errorbank.WithDetail("provider", "paypal"),
		}
		if apiErr.Name != "" {
			opts = append(opts, errorbank.WithDetail("code", apiErr.Name))
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusUnauthorized {
			return errorbank.ServiceUnavailable("paypal is unavailable", opts...)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = "paypal rejected the request"
		}
		return errorbank.BadRequest(msg, opts...)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errorbank.ServiceUnavailable("decode paypal response", errorbank.WithCause(err))
	}
	return nil
}

// formatAmount renders minor units as PayPal's decimal string. Only
// two-decimal currencies are supported.
func formatAmount(minor int64, currency string) amount {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return amount{
		CurrencyCode: strings.ToUpper(currency),
		Value:        fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100),
	}
}
