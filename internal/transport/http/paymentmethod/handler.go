package paymentmethod

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/dto"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/internal/presentation/http/response"
	service "github.com/Additional-Code/orderflow/internal/service/paymentmethod"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/orderflow/transport/http/paymentmethod")

// Module wires HTTP payment method handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler exposes stored payment methods over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a payment method Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes behind bearer authentication.
func Register(e *echo.Echo, h *Handler, verifier identity.Verifier) {
	g := e.Group("/payment-methods", identity.Middleware(verifier))
	g.POST("", h.register)
	g.GET("", h.list)
	g.DELETE("/:id", h.remove)
}

func (h *Handler) register(c echo.Context) error {
	b := response.New(c)

	var payload dto.RegisterPaymentMethodRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(&payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "paymentMethods.register")
	defer span.End()

	method, err := h.svc.Register(ctx, service.RegisterInput{
		Provider:    entity.Provider(payload.Provider),
		ExternalRef: payload.ExternalRef,
		Label:       payload.Label,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.NewPaymentMethodResponse(method)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "paymentMethods.list")
	defer span.End()

	methods, err := h.svc.List(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.PaymentMethodResponse, 0, len(methods))
	for i := range methods {
		out = append(out, dto.NewPaymentMethodResponse(&methods[i]))
	}
	return b.WithData(out).Build()
}

func (h *Handler) remove(c echo.Context) error {
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "paymentMethods.remove", trace.WithAttributes(attribute.String("payment_method.id", id)))
	defer span.End()

	if err := h.svc.Remove(ctx, id); err != nil {
		return response.New(c).WithError(err).Build()
	}
	return c.NoContent(http.StatusNoContent)
}
