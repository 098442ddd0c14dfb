// Package paymenttest provides an in-process payment provider for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// SignatureHeader must equal Secret for a delivery to verify.
const (
	SignatureHeader = "X-Test-Signature"
	Secret          = "test-secret"
)

// Body is the JSON shape ParseEvent understands.
type Body struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	OrderRef string `json:"order_ref,omitempty"`
}

// Marshal renders a delivery body.
func Marshal(id, typ, orderRef string) []byte {
	raw, _ := json.Marshal(Body{ID: id, Type: typ, OrderRef: orderRef})
	return raw
}

// Headers returns headers that pass verification.
func Headers() http.Header {
	h := http.Header{}
	h.Set(SignatureHeader, Secret)
	return h
}

// Call is one recorded command invocation.
type Call struct {
	Method string
	Ref    string
	Amount int64
}

// Provider is a scripted payment.Provider that records commands.
type Provider struct {
	name entity.Provider

	mu    sync.Mutex
	calls []Call

	// VerifyErr, when set, replaces the signature check result.
	VerifyErr error
	// CommandErr is returned by every command.
	CommandErr error
	// IntentRef is returned by CreateIntent.
	IntentRef string
}

var _ payment.Provider = (*Provider)(nil)

// New returns a fake registered under name.
func New(name entity.Provider) *Provider {
	return &Provider{name: name, IntentRef: "pi_test"}
}

// Calls returns a copy of the recorded commands.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Provider) record(call Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.CommandErr
}

func (p *Provider) Name() entity.Provider { return p.name }

func (p *Provider) VerifySignature(_ context.Context, _ []byte, headers http.Header) error {
	if p.VerifyErr != nil {
		return p.VerifyErr
	}
	if headers.Get(SignatureHeader) != Secret {
		return errorbank.SignatureInvalid("signature mismatch")
	}
	return nil
}

func (p *Provider) ParseEvent(body []byte) (payment.NativeEvent, error) {
	var b Body
	if err := json.Unmarshal(body, &b); err != nil || b.ID == "" || b.Type == "" {
		return payment.NativeEvent{}, errorbank.BadRequest("malformed event payload")
	}
	return payment.NativeEvent{
		Provider:   p.name,
		ID:         b.ID,
		Type:       b.Type,
		OrderRef:   b.OrderRef,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Raw:        body,
	}, nil
}

func (p *Provider) Taxonomy() map[string]entity.CanonicalType {
	return map[string]entity.CanonicalType{
		"charge.succeeded":  entity.EventPaymentSucceeded,
		"charge.failed":     entity.EventPaymentFailed,
		"charge.refunded":   entity.EventRefundCompleted,
		"checkout.approved": entity.EventOrderApproved,
		"method.attached":   entity.EventMethodAttached,
		"method.detached":   entity.EventMethodDetached,
	}
}

func (p *Provider) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	if err := p.record(Call{Method: "CreateIntent", Ref: req.OrderID, Amount: req.Amount}); err != nil {
		return payment.Intent{}, err
	}
	return payment.Intent{Ref: p.IntentRef, ClientSecret: p.IntentRef + "_secret", Status: "requires_confirmation"}, nil
}

func (p *Provider) Confirm(_ context.Context, ref string) error {
	return p.record(Call{Method: "Confirm", Ref: ref})
}

func (p *Provider) Refund(_ context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	if err := p.record(Call{Method: "Refund", Ref: req.Ref, Amount: req.Amount}); err != nil {
		return payment.RefundResult{}, err
	}
	return payment.RefundResult{Ref: "re_" + req.Ref, Status: "pending"}, nil
}

func (p *Provider) VoidAuthorization(_ context.Context, ref string) error {
	return p.record(Call{Method: "VoidAuthorization", Ref: ref})
}

func (p *Provider) DetachMethod(_ context.Context, ref string) error {
	return p.record(Call{Method: "DetachMethod", Ref: ref})
}
