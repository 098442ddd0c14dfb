package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/dto"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/presentation/http/response"
	"github.com/Additional-Code/orderflow/internal/webhook"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/orderflow/transport/http/webhook")

// Module wires the provider webhook endpoints.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler receives provider notifications. Authentication is the provider
// signature, so these routes sit outside the bearer middleware.
type Handler struct {
	ingress *webhook.Ingress
	maxBody int64
}

// NewHandler constructs a webhook Handler.
func NewHandler(ingress *webhook.Ingress, cfg config.Config) *Handler {
	return &Handler{ingress: ingress, maxBody: cfg.Webhooks.MaxBodyBytes}
}

// Register routes provider webhooks.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/webhooks/:provider", h.receive)
}

func (h *Handler) receive(c echo.Context) error {
	b := response.New(c)
	provider := entity.Provider(c.Param("provider"))
	if !provider.Valid() {
		return b.WithError(errorbank.NotFound("unknown webhook provider")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "webhooks.receive", trace.WithAttributes(
		attribute.String("payment.provider", string(provider)),
	))
	defer span.End()

	// Signatures cover the exact bytes, so the body is read raw.
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return b.WithStatus(http.StatusRequestEntityTooLarge).
				WithError(errorbank.BadRequest("webhook body too large")).Build()
		}
		return b.WithError(errorbank.BadRequest("unreadable webhook body", errorbank.WithCause(err))).Build()
	}

	result, err := h.ingress.Handle(ctx, provider, body, c.Request().Header)
	if err != nil {
		return b.WithStatus(statusFor(err)).WithError(err).Build()
	}
	return b.WithData(dto.WebhookAck{
		Received:      true,
		EventID:       result.EventID,
		CanonicalType: string(result.Canonical),
		Outcome:       string(result.Outcome),
		Reason:        result.Reason,
	}).Build()
}

// statusFor tells the provider whether to redeliver: 503 and 500 invite a
// retry, 4xx does not.
func statusFor(err error) int {
	appErr := errorbank.From(err)
	switch {
	case appErr.Kind() == errorbank.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case appErr.Retryable():
		return http.StatusInternalServerError
	default:
		return appErr.StatusCode()
	}
}
