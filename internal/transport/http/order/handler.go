package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderflow/internal/dto"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/internal/presentation/http/response"
	service "github.com/Additional-Code/orderflow/internal/service/order"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/orderflow/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes behind bearer authentication.
func Register(e *echo.Echo, h *Handler, verifier identity.Verifier) {
	g := e.Group("/orders", identity.Middleware(verifier))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.GET("/:id/audit", h.audit)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/refund", h.refund)
	g.POST("/:id/payment-intent", h.createIntent)
	g.POST("/:id/payment-intent/confirm", h.confirm)
	g.PATCH("/:id/status", h.setStatus)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(&payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	defer span.End()

	items := make([]entity.OrderItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, entity.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	order, err := h.svc.Create(ctx, service.CreateInput{
		Items:        items,
		Tax:          payload.Tax,
		ShippingCost: payload.ShippingCost,
		Total:        payload.Total,
		Currency:     payload.Currency,
		Provider:     entity.Provider(payload.Provider),
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	return b.WithStatus(http.StatusCreated).WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return b.WithError(errorbank.BadRequest("invalid limit")).Build()
		}
		limit = n
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	orders, err := h.svc.List(ctx, c.QueryParam("owner_id"), limit)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, dto.NewOrderResponse(&orders[i]))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) audit(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.audit", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	entries, err := h.svc.Audit(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.NewAuditEntryResponse(entry))
	}
	return b.WithData(out).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload dto.ReasonRequest
	if err := bindOptional(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.Cancel(ctx, id, payload.Reason)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) refund(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload dto.ReasonRequest
	if err := bindOptional(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.refund", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	accepted, err := h.svc.RequestRefund(ctx, id, payload.Reason)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusAccepted).WithData(dto.RefundResponse{
		OrderID:   id,
		RefundRef: accepted.Refund.Ref,
		Status:    accepted.Refund.Status,
	}).Build()
}

func (h *Handler) createIntent(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.createIntent", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	intent, err := h.svc.CreatePaymentIntent(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.PaymentIntentResponse{
		Ref:          intent.Ref,
		ClientSecret: intent.ClientSecret,
		ApprovalURL:  intent.ApprovalURL,
		Status:       intent.Status,
	}).Build()
}

func (h *Handler) confirm(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.confirm", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.ConfirmPayment(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusAccepted).WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) setStatus(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	var payload dto.StatusRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(&payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.setStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.target_status", payload.Status),
	))
	defer span.End()

	order, err := h.svc.AdminSetStatus(ctx, id, entity.OrderStatus(payload.Status))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

// bindOptional binds a body that clients may omit entirely.
func bindOptional(c echo.Context, payload any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(payload); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	return c.Validate(payload)
}
