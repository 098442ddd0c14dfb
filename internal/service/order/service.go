package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/authz"
	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/payment"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/orderflow/service/order")

const (
	defaultListLimit = 50
	maxListLimit     = 200
	numberAttempts   = 3
)

// Service encapsulates the client facing order operations.
type Service struct {
	store     repo.Store
	machine   *lifecycle.Machine
	payments  *payment.Registry
	guard     *authz.Guard
	publisher lifecycle.Observer
	cache     cache.Store
	cacheTTL  time.Duration
	currency  string
	logger    *zap.Logger
	now       func() time.Time
	// voids tracks provider calls still running after a cancel returned.
	voids sync.WaitGroup
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     repo.Store
	Machine   *lifecycle.Machine
	Payments  *payment.Registry
	Guard     *authz.Guard
	Publisher *lifecycle.Publisher
	Cache     cache.Store
	Config    config.Config
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	s := &Service{
		store:    p.Store,
		machine:  p.Machine,
		payments: p.Payments,
		guard:    p.Guard,
		cache:    p.Cache,
		cacheTTL: p.Config.Cache.DefaultTTL,
		currency: p.Config.Payments.Currency,
		logger:   p.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if p.Publisher != nil {
		s.publisher = p.Publisher
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: s.Drain})
	}
	return s
}

// Drain waits for post-commit provider calls to finish or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.voids.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// OwnerRegistration exposes order ownership to the authorization guard.
func OwnerRegistration(store repo.Store) authz.Registration {
	return authz.Registration{
		Kind: authz.KindOrder,
		Lookup: func(ctx context.Context, id string) (string, error) {
			order, err := store.GetOrder(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return "", authz.ErrNoResource
			}
			if err != nil {
				return "", err
			}
			return order.OwnerID, nil
		},
	}
}

// CreateInput carries a new order as submitted by a client.
type CreateInput struct {
	Items        []entity.OrderItem
	Tax          int64
	ShippingCost int64
	// Total is optional; when present it must equal the computed total.
	Total    *int64
	Currency string
	Provider entity.Provider
}

// Create validates and stores a new pending order owned by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Order, error) {
	caller, err := s.guard.Caller(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(
		attribute.String("order.owner_id", caller.UserID),
	))
	defer span.End()

	subtotal, err := validateCreate(in)
	if err != nil {
		return nil, err
	}
	total, ok := addAmounts(subtotal, in.Tax, in.ShippingCost)
	if !ok {
		return nil, errorbank.BadRequest("order total is too large")
	}
	if in.Total != nil && *in.Total != total {
		return nil, errorbank.BadRequest("total does not match items, tax and shipping",
			errorbank.WithDetail("expected", total),
			errorbank.WithDetail("received", *in.Total))
	}

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	order := &entity.Order{
		ID:              uuid.NewString(),
		OwnerID:         caller.UserID,
		Items:           append([]entity.OrderItem(nil), in.Items...),
		Subtotal:        subtotal,
		Tax:             in.Tax,
		ShippingCost:    in.ShippingCost,
		Total:           total,
		Currency:        currency,
		Status:          entity.StatusPending,
		PaymentStatus:   entity.PaymentUnpaid,
		PaymentProvider: in.Provider,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 0; ; attempt++ {
		order.Number = newOrderNumber(now)
		err = s.store.CreateOrder(ctx, order)
		if !errors.Is(err, repo.ErrDuplicateNumber) || attempt+1 >= numberAttempts {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.Number))

	s.storeInCache(ctx, order)
	if s.publisher != nil {
		s.publisher.OrderChanged(ctx, lifecycle.Change{
			Order:   order.Clone(),
			To:      order.Status,
			Trigger: lifecycle.TriggerCreated,
			ActorID: caller.UserID,
			At:      now,
		})
	}
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("number", order.Number),
		zap.Int64("total", order.Total),
	)
	return order, nil
}

func validateCreate(in CreateInput) (int64, error) {
	if len(in.Items) == 0 {
		return 0, errorbank.BadRequest("order must contain at least one item")
	}
	if !in.Provider.Valid() {
		return 0, errorbank.BadRequest("unknown payment provider", errorbank.WithDetail("provider", string(in.Provider)))
	}
	if in.Tax < 0 || in.ShippingCost < 0 {
		return 0, errorbank.BadRequest("tax and shipping cost must not be negative")
	}
	var subtotal int64
	for i, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return 0, errorbank.BadRequest("item product_id is required", errorbank.WithDetail("index", i))
		}
		if item.Quantity <= 0 {
			return 0, errorbank.BadRequest("item quantity must be positive", errorbank.WithDetail("index", i))
		}
		if item.UnitPrice < 0 {
			return 0, errorbank.BadRequest("item unit_price must not be negative", errorbank.WithDetail("index", i))
		}
		if item.UnitPrice > 0 && int64(item.Quantity) > (math.MaxInt64-subtotal)/item.UnitPrice {
			return 0, errorbank.BadRequest("order subtotal is too large", errorbank.WithDetail("index", i))
		}
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	return subtotal, nil
}

// addAmounts sums non-negative amounts, reporting false on overflow.
func addAmounts(amounts ...int64) (int64, bool) {
	var sum int64
	for _, amount := range amounts {
		if amount > math.MaxInt64-sum {
			return 0, false
		}
		sum += amount
	}
	return sum, true
}

func newOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}

// Get returns an order the caller owns, consulting the cache when available.
func (s *Service) Get(ctx context.Context, id string) (*entity.Order, error) {
	if _, err := s.guard.Authorize(ctx, authz.KindOrder, id); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.String("id", id), zap.Error(err))
	}

	order, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.storeInCache(ctx, order)
	return order, nil
}

// List returns the caller's orders. Admins may list another owner's.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]entity.Order, error) {
	caller, err := s.guard.Caller(ctx)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = caller.UserID
	}
	if ownerID != caller.UserID && !s.guard.IsAdmin(caller) {
		return nil, errorbank.Forbidden("not allowed to list another user's orders")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	ctx, span := serviceTracer.Start(ctx, "OrderService.List", trace.WithAttributes(attribute.String("order.owner_id", ownerID)))
	defer span.End()

	orders, err := s.store.ListOrdersByOwner(ctx, ownerID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// Audit returns the order's audit trail, oldest first.
func (s *Service) Audit(ctx context.Context, id string) ([]entity.AuditEntry, error) {
	if _, err := s.guard.Authorize(ctx, authz.KindOrder, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, id)
	if err != nil {
		return nil, errorbank.Internal("failed to load audit trail", errorbank.WithCause(err))
	}
	return entries, nil
}

// Cancel applies manual_cancel. An unpaid order with an open payment intent
// has its authorization voided after the commit.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*entity.Order, error) {
	caller, err := s.guard.Authorize(ctx, authz.KindOrder, id)
	if err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	req := lifecycle.Request{OrderID: id, Trigger: lifecycle.TriggerManualCancel, ActorID: caller.UserID}
	if reason = strings.TrimSpace(reason); reason != "" {
		req.Note = "cancelled: " + reason
	}
	result, err := s.machine.Apply(ctx, req)
	if err != nil {
		return nil, err
	}

	order := result.Order
	if order.PaymentStatus == entity.PaymentUnpaid && order.PaymentMethodRef != "" {
		s.voidAuthorization(ctx, order)
	}
	return order, nil
}

func (s *Service) voidAuthorization(ctx context.Context, order *entity.Order) {
	provider, err := s.payments.Get(order.PaymentProvider)
	if err != nil {
		s.logger.Warn("skip authorization void", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	bg := context.WithoutCancel(ctx)
	ref := order.PaymentMethodRef
	s.voids.Add(1)
	go func() {
		defer s.voids.Done()
		if err := provider.VoidAuthorization(bg, ref); err != nil {
			s.logger.Error("void authorization after cancel",
				zap.String("order_id", order.ID),
				zap.String("ref", ref),
				zap.Error(err),
			)
		}
	}()
}

// RefundRequest is the accepted refund command. The order itself changes
// when the provider reports refund_completed.
type RefundRequest struct {
	Order  *entity.Order
	Refund payment.RefundResult
}

// RequestRefund asks the order's provider to refund the captured payment.
func (s *Service) RequestRefund(ctx context.Context, id, reason string) (RefundRequest, error) {
	caller, err := s.guard.Authorize(ctx, authz.KindOrder, id)
	if err != nil {
		return RefundRequest{}, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.RequestRefund", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id)
	if err != nil {
		return RefundRequest{}, err
	}
	if _, err := lifecycle.Next(order.Status, lifecycle.TriggerRefundCompleted); err != nil {
		return RefundRequest{}, err
	}
	if order.PaymentStatus != entity.PaymentPaid || order.PaymentMethodRef == "" {
		return RefundRequest{}, errorbank.InvalidTransition("order has no captured payment to refund",
			errorbank.WithDetail("payment_status", string(order.PaymentStatus)))
	}
	provider, err := s.payments.Get(order.PaymentProvider)
	if err != nil {
		return RefundRequest{}, err
	}

	refund, err := provider.Refund(ctx, payment.RefundRequest{
		OrderID:  order.ID,
		Ref:      order.PaymentMethodRef,
		Amount:   order.Total,
		Currency: order.Currency,
		Reason:   reason,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider refund failed")
		return RefundRequest{}, err
	}

	note := "refund requested: " + refund.Ref
	if reason = strings.TrimSpace(reason); reason != "" {
		note += " (" + reason + ")"
	}
	result, err := s.machine.Apply(ctx, lifecycle.Request{OrderID: id, ActorID: caller.UserID, Note: note})
	if err != nil {
		// The provider accepted the refund; only the note is missing.
		s.logger.Warn("record refund note failed", zap.String("order_id", id), zap.Error(err))
		return RefundRequest{Order: order, Refund: refund}, nil
	}
	return RefundRequest{Order: result.Order, Refund: refund}, nil
}

// CreatePaymentIntent starts payment collection and stores the provider ref.
func (s *Service) CreatePaymentIntent(ctx context.Context, id string) (payment.Intent, error) {
	caller, err := s.guard.Authorize(ctx, authz.KindOrder, id)
	if err != nil {
		return payment.Intent{}, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.CreatePaymentIntent", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id)
	if err != nil {
		return payment.Intent{}, err
	}
	if order.PaymentStatus != entity.PaymentUnpaid {
		return payment.Intent{}, errorbank.InvalidTransition("order is not awaiting payment",
			errorbank.WithDetail("payment_status", string(order.PaymentStatus)))
	}
	if _, err := lifecycle.Next(order.Status, lifecycle.TriggerPaymentSucceeded); err != nil {
		return payment.Intent{}, err
	}
	provider, err := s.payments.Get(order.PaymentProvider)
	if err != nil {
		return payment.Intent{}, err
	}

	intent, err := provider.CreateIntent(ctx, payment.IntentRequest{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Amount:      order.Total,
		Currency:    order.Currency,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider intent failed")
		return payment.Intent{}, err
	}

	if _, err := s.machine.Apply(ctx, lifecycle.Request{
		OrderID: id,
		ActorID: caller.UserID,
		Mutate: func(o *entity.Order) {
			o.PaymentMethodRef = intent.Ref
		},
	}); err != nil {
		return payment.Intent{}, err
	}
	return intent, nil
}

// ConfirmPayment confirms the stored intent. The status moves when the
// provider reports the outcome.
func (s *Service) ConfirmPayment(ctx context.Context, id string) (*entity.Order, error) {
	if _, err := s.guard.Authorize(ctx, authz.KindOrder, id); err != nil {
		return nil, err
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.ConfirmPayment", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethodRef == "" {
		return nil, errorbank.BadRequest("order has no payment intent to confirm")
	}
	if order.PaymentStatus != entity.PaymentUnpaid {
		return nil, errorbank.InvalidTransition("order is not awaiting payment",
			errorbank.WithDetail("payment_status", string(order.PaymentStatus)))
	}
	provider, err := s.payments.Get(order.PaymentProvider)
	if err != nil {
		return nil, err
	}
	if err := provider.Confirm(ctx, order.PaymentMethodRef); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider confirm failed")
		return nil, err
	}
	return order, nil
}

// AdminSetStatus moves an order to target through the transition table.
func (s *Service) AdminSetStatus(ctx context.Context, id string, target entity.OrderStatus) (*entity.Order, error) {
	admin, err := s.guard.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, errorbank.BadRequest("unknown order status", errorbank.WithDetail("status", string(target)))
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.AdminSetStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.target_status", string(target)),
	))
	defer span.End()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	trigger, err := lifecycle.TriggerFor(order.Status, target)
	if err != nil {
		return nil, err
	}
	result, err := s.machine.Apply(ctx, lifecycle.Request{OrderID: id, Trigger: trigger, ActorID: admin.UserID})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status set by admin",
		zap.String("order_id", id),
		zap.String("admin_id", admin.UserID),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
	)
	return result.Order, nil
}

func (s *Service) load(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("order not found", errorbank.WithDetail("id", id))
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func (s *Service) getFromCache(ctx context.Context, id string) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, cache.OrderKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) {
	if s.cache == nil || order == nil {
		return
	}
	bytes, err := json.Marshal(order)
	if err == nil {
		_, err = s.cache.SetVersioned(ctx, cache.OrderKey(order.ID), bytes, order.Version, s.cacheTTL)
	}
	if err != nil {
		s.logger.Warn("orders cache write failed", zap.String("id", order.ID), zap.Error(err))
	}
}

