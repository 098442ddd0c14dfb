package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/dto"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/internal/payment/paymenttest"
	"github.com/Additional-Code/orderflow/internal/presentation/http/response"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/internal/service/reconcile"
	"github.com/Additional-Code/orderflow/internal/webhook"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

func newServer(t *testing.T, dispatcher webhook.Dispatcher) (*echo.Echo, *repo.MemoryStore) {
	t.Helper()
	logger := zap.NewNop()
	store := repo.NewMemoryStore()
	require.NoError(t, store.CreateOrder(context.Background(), &entity.Order{
		ID:              "order-1",
		Number:          "ORD-20260101-CCCCCCCC",
		OwnerID:         "alice",
		Total:           11300,
		Currency:        "usd",
		Status:          entity.StatusPending,
		PaymentStatus:   entity.PaymentUnpaid,
		PaymentProvider: entity.ProviderStripe,
		Version:         1,
	}))
	if dispatcher == nil {
		dispatcher = reconcile.NewDispatcher(lifecycle.NewMachine(lifecycle.Params{Store: store, Logger: logger}), logger)
	}

	var cfg config.Config
	cfg.Webhooks = config.Webhooks{Timeout: time.Second, MaxBodyBytes: 512}
	ingress := webhook.NewIngress(webhook.Params{
		Registry:   payment.NewStaticRegistry(paymenttest.New(entity.ProviderStripe)),
		Dispatcher: dispatcher,
		Store:      store,
		Config:     cfg,
		Logger:     logger,
	})

	e := echo.New()
	e.HTTPErrorHandler = response.ErrorHandler(logger)
	Register(e, NewHandler(ingress, cfg))
	return e, store
}

func post(e *echo.Echo, provider string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(string(body)))
	for k, v := range headers {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func ack(t *testing.T, rec *httptest.ResponseRecorder) dto.WebhookAck {
	t.Helper()
	var env struct {
		Data dto.WebhookAck `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func TestReceiveAppliesAndDeduplicates(t *testing.T) {
	e, store := newServer(t, nil)
	body := paymenttest.Marshal("evt_1", "charge.succeeded", "order-1")

	rec := post(e, "stripe", body, paymenttest.Headers())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", ack(t, rec).Outcome)

	rec = post(e, "stripe", body, paymenttest.Headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", ack(t, rec).Outcome)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, order.Status)
}

func TestReceiveStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		body     []byte
		headers  http.Header
		want     int
	}{
		{"bad signature", "stripe", paymenttest.Marshal("evt_2", "charge.succeeded", "order-1"), http.Header{}, http.StatusBadRequest},
		{"unconfigured provider", "paypal", paymenttest.Marshal("WH-1", "PAYMENT.CAPTURE.COMPLETED", "order-1"), paymenttest.Headers(), http.StatusServiceUnavailable},
		{"unknown provider", "square", []byte(`{}`), paymenttest.Headers(), http.StatusNotFound},
		{"body too large", "stripe", []byte(`{"id":"evt_3","type":"charge.succeeded","pad":"` + strings.Repeat("x", 600) + `"}`), paymenttest.Headers(), http.StatusRequestEntityTooLarge},
		{"terminal rejection", "stripe", paymenttest.Marshal("evt_4", "charge.refunded", "order-1"), paymenttest.Headers(), http.StatusOK},
		{"unknown order", "stripe", paymenttest.Marshal("evt_5", "charge.succeeded", "order-404"), paymenttest.Headers(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newServer(t, nil)
			rec := post(e, tt.provider, tt.body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

type conflictDispatcher struct{}

func (conflictDispatcher) Dispatch(context.Context, webhook.Event) (entity.EventOutcome, error) {
	return "", errorbank.Conflict("order was modified concurrently")
}

func TestReceiveRetryableFailureIs500(t *testing.T) {
	e, _ := newServer(t, conflictDispatcher{})

	rec := post(e, "stripe", paymenttest.Marshal("evt_6", "charge.succeeded", "order-1"), paymenttest.Headers())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
