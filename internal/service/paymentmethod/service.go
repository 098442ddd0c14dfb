package paymentmethod

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/authz"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/payment"
	repo "github.com/Additional-Code/orderflow/internal/repository/paymentmethod"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/orderflow/service/paymentmethod")

// Module provides the payment method service and its ownership lookup.
var Module = fx.Provide(
	NewService,
	fx.Annotate(
		OwnerRegistration,
		fx.ResultTags(`group:"authz.lookups"`),
	),
)

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store    repo.Store
	Payments *payment.Registry
	Guard    *authz.Guard
	Logger   *zap.Logger
}

// Service manages stored payment instruments.
type Service struct {
	store    repo.Store
	payments *payment.Registry
	guard    *authz.Guard
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    p.Store,
		payments: p.Payments,
		guard:    p.Guard,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OwnerRegistration exposes payment method ownership to the guard.
func OwnerRegistration(store repo.Store) authz.Registration {
	return authz.Registration{
		Kind: authz.KindPaymentMethod,
		Lookup: func(ctx context.Context, id string) (string, error) {
			method, err := store.Get(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return "", authz.ErrNoResource
			}
			if err != nil {
				return "", err
			}
			return method.OwnerID, nil
		},
	}
}

// RegisterInput describes a provider instrument to remember for the caller.
type RegisterInput struct {
	Provider    entity.Provider
	ExternalRef string
	Label       string
}

// Register stores a payment method owned by the caller.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.PaymentMethod, error) {
	caller, err := s.guard.Caller(ctx)
	if err != nil {
		return nil, err
	}
	if !in.Provider.Valid() {
		return nil, errorbank.BadRequest("unknown payment provider", errorbank.WithDetail("provider", string(in.Provider)))
	}
	ref := strings.TrimSpace(in.ExternalRef)
	if ref == "" {
		return nil, errorbank.BadRequest("external_ref is required")
	}

	ctx, span := serviceTracer.Start(ctx, "PaymentMethodService.Register", trace.WithAttributes(
		attribute.String("payment.provider", string(in.Provider)),
	))
	defer span.End()

	method := &entity.PaymentMethod{
		ID:          uuid.NewString(),
		OwnerID:     caller.UserID,
		Provider:    in.Provider,
		ExternalRef: ref,
		Label:       strings.TrimSpace(in.Label),
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, method); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, errorbank.Conflict("payment method already registered")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to store payment method", errorbank.WithCause(err))
	}
	return method, nil
}

// List returns the caller's payment methods.
func (s *Service) List(ctx context.Context) ([]entity.PaymentMethod, error) {
	caller, err := s.guard.Caller(ctx)
	if err != nil {
		return nil, err
	}
	methods, err := s.store.ListByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, errorbank.Internal("failed to list payment methods", errorbank.WithCause(err))
	}
	return methods, nil
}

// Remove detaches the instrument at its provider and deletes it. Nothing is
// deleted when the provider call fails.
func (s *Service) Remove(ctx context.Context, id string) error {
	caller, err := s.guard.Authorize(ctx, authz.KindPaymentMethod, id)
	if err != nil {
		return err
	}
	ctx, span := serviceTracer.Start(ctx, "PaymentMethodService.Remove", trace.WithAttributes(
		attribute.String("payment_method.id", id),
	))
	defer span.End()

	method, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return errorbank.NotFound("payment method not found")
	}
	if err != nil {
		return errorbank.Internal("failed to load payment method", errorbank.WithCause(err))
	}

	provider, err := s.payments.Get(method.Provider)
	if err != nil {
		return err
	}
	if err := provider.DetachMethod(ctx, method.ExternalRef); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider detach failed")
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return errorbank.Internal("failed to delete payment method", errorbank.WithCause(err))
	}
	s.logger.Info("payment method removed",
		zap.String("payment_method_id", id),
		zap.String("actor_id", caller.UserID),
		zap.String("provider", string(method.Provider)),
	)
	return nil
}
