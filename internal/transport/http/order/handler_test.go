package order

import (
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

	"github.com/Additional-Code/orderflow/internal/authz"
	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/internal/payment/paymenttest"
	"github.com/Additional-Code/orderflow/internal/presentation/http/response"
	"github.com/Additional-Code/orderflow/internal/presentation/http/validate"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	service "github.com/Additional-Code/orderflow/internal/service/order"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type api struct {
	e   *echo.Echo
	jwt *identity.JWT
}

func newAPI(t *testing.T) api {
	t.Helper()
	logger := zap.NewNop()
	var cfg config.Config
	cfg.Auth = config.Auth{JWTSecret: "handler-test-secret", AdminRole: "admin", TokenTTL: time.Hour}
	cfg.Payments.Currency = "usd"

	store := repo.NewMemoryStore()
	guard := authz.New("admin")
	reg := service.OwnerRegistration(store)
	guard.Register(reg.Kind, reg.Lookup)
	svc := service.NewService(service.Params{
		Store:    store,
		Machine:  lifecycle.NewMachine(lifecycle.Params{Store: store, Logger: logger}),
		Payments: payment.NewStaticRegistry(paymenttest.New(entity.ProviderStripe)),
		Guard:    guard,
		Cache:    cache.NewMemoryStore(),
		Config:   cfg,
		Logger:   logger,
	})

	jwt := identity.NewJWT(cfg)
	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = response.ErrorHandler(logger)
	Register(e, NewHandler(svc), jwt)
	return api{e: e, jwt: jwt}
}

func (a api) token(t *testing.T, user, role string) string {
	t.Helper()
	token, err := a.jwt.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (a api) do(t *testing.T, method, path, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

const createBody = `{"items":[{"product_id":"sku-1","quantity":1,"unit_price":10000}],"tax":800,"shipping_cost":500,"total":11300,"payment_provider":"stripe"}`

func (a api) createOrder(t *testing.T, token string) map[string]any {
	t.Helper()
	code, env := a.do(t, http.MethodPost, "/orders", token, createBody)
	require.Equal(t, http.StatusCreated, code)
	var order map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &order))
	return order
}

func TestCreateOrder(t *testing.T) {
	a := newAPI(t)
	alice := a.token(t, "alice", "customer")

	order := a.createOrder(t, alice)
	assert.Equal(t, float64(11300), order["total"])
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "unpaid", order["payment_status"])
	assert.Equal(t, "alice", order["owner_id"])
}

func TestCreateOrderErrors(t *testing.T) {
	a := newAPI(t)
	alice := a.token(t, "alice", "customer")

	code, env := a.do(t, http.MethodPost, "/orders", "", createBody)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", env.Error.Kind)

	code, env = a.do(t, http.MethodPost, "/orders", alice, strings.Replace(createBody, `"total":11300`, `"total":11200`, 1))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", env.Error.Kind)

	code, env = a.do(t, http.MethodPost, "/orders", alice, `{"items":[],"payment_provider":"cash"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Details, "items")
	assert.Contains(t, env.Error.Details, "payment_provider")
}

func TestOrderOwnershipAndLifecycle(t *testing.T) {
	a := newAPI(t)
	alice := a.token(t, "alice", "customer")
	bob := a.token(t, "bob", "customer")
	admin := a.token(t, "ops", "admin")
	id := a.createOrder(t, alice)["id"].(string)

	code, env := a.do(t, http.MethodGet, "/orders/"+id, bob, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Error.Kind)

	code, _ = a.do(t, http.MethodGet, "/orders/missing", alice, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(t, http.MethodPost, "/orders/"+id+"/refund", alice, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Error.Kind)

	code, _ = a.do(t, http.MethodPatch, "/orders/"+id+"/status", alice, `{"status":"processing"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(t, http.MethodPatch, "/orders/"+id+"/status", admin, `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, code)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "processing", updated["status"])

	code, env = a.do(t, http.MethodPost, "/orders/"+id+"/cancel", alice, `{"reason":"too slow"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "cancelled", updated["status"])

	code, env = a.do(t, http.MethodGet, "/orders/"+id+"/audit", alice, "")
	require.Equal(t, http.StatusOK, code)
	var trail []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &trail))
	require.Len(t, trail, 2)
	assert.Equal(t, "ops", trail[0]["actor_id"])
	assert.Equal(t, "manual_cancel", trail[1]["canonical_type"])
}

func TestListOrders(t *testing.T) {
	a := newAPI(t)
	alice := a.token(t, "alice", "customer")
	admin := a.token(t, "ops", "admin")
	a.createOrder(t, alice)

	code, env := a.do(t, http.MethodGet, "/orders", alice, "")
	require.Equal(t, http.StatusOK, code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	assert.Len(t, orders, 1)

	code, env = a.do(t, http.MethodGet, "/orders?owner_id=alice", admin, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	assert.Len(t, orders, 1)

	code, _ = a.do(t, http.MethodGet, "/orders?limit=abc", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPaymentIntentEndpoints(t *testing.T) {
	a := newAPI(t)
	alice := a.token(t, "alice", "customer")
	id := a.createOrder(t, alice)["id"].(string)

	code, _ := a.do(t, http.MethodPost, "/orders/"+id+"/payment-intent/confirm", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := a.do(t, http.MethodPost, "/orders/"+id+"/payment-intent", alice, "")
	require.Equal(t, http.StatusCreated, code)
	var intent map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, "pi_test", intent["ref"])

	code, _ = a.do(t, http.MethodPost, "/orders/"+id+"/payment-intent/confirm", alice, "")
	assert.Equal(t, http.StatusAccepted, code)
}
