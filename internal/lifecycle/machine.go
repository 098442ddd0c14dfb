package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/entity"
	repo "github.com/Additional-Code/orderflow/internal/repository/order"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

const instrumentationName = "github.com/Additional-Code/orderflow/lifecycle"

var machineTracer = otel.Tracer(instrumentationName)

// EventRef identifies the provider delivery that caused a change. It is the
// idempotency ledger key.
type EventRef struct {
	Provider entity.Provider
	ID       string
	Type     entity.CanonicalType
}

// Request describes one atomic change to an order.
type Request struct {
	OrderID string
	// Trigger is empty for record-only events that touch the ledger and the
	// audit log but leave the status alone.
	Trigger Trigger
	ActorID string
	Event   *EventRef
	Note    string
	// Mutate runs after the transition is computed and before the write.
	Mutate func(*entity.Order)
}

// Result reports what Apply committed.
type Result struct {
	Order     *entity.Order
	From      entity.OrderStatus
	To        entity.OrderStatus
	Duplicate bool
}

// Change is delivered to observers after a commit.
type Change struct {
	Order   *entity.Order
	From    entity.OrderStatus
	To      entity.OrderStatus
	Trigger Trigger
	ActorID string
	Event   *EventRef
	At      time.Time
}

// Observer reacts to committed lifecycle changes. Observers run after the
// transaction and cannot fail the request.
type Observer interface {
	OrderChanged(ctx context.Context, change Change)
}

// Params defines dependencies for constructing Machine.
type Params struct {
	fx.In

	Store     repo.Store
	Logger    *zap.Logger
	Observers []Observer `group:"lifecycle.observers"`
}

// Machine applies triggers to orders under the per-order version check and
// the idempotency ledger.
type Machine struct {
	store       repo.Store
	logger      *zap.Logger
	observers   []Observer
	now         func() time.Time
	transitions metric.Int64Counter
}

// NewMachine wires a new Machine instance.
func NewMachine(p Params) *Machine {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transitions, err := otel.Meter(instrumentationName).Int64Counter(
		"orderflow.lifecycle.transitions",
		metric.WithDescription("Lifecycle applications by trigger and outcome"),
	)
	if err != nil {
		logger.Warn("create transitions counter", zap.Error(err))
	}
	return &Machine{
		store:       p.Store,
		logger:      logger,
		observers:   p.Observers,
		now:         func() time.Time { return time.Now().UTC() },
		transitions: transitions,
	}
}

// Apply runs req in one transaction: ledger check, transition, version
// checked write, ledger insert and audit entry. A delivery already in the
// ledger returns a duplicate result without touching anything.
func (m *Machine) Apply(ctx context.Context, req Request) (Result, error) {
	ctx, span := machineTracer.Start(ctx, "Machine.Apply", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("lifecycle.trigger", string(req.Trigger)),
	))
	defer span.End()

	var result Result
	at := m.now()
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		result = Result{}
		if req.Event != nil {
			if seen, err := alreadyApplied(ctx, tx, req.Event); err != nil || seen {
				result.Duplicate = seen
				return err
			}
		}

		order, err := tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		result.From = order.Status
		result.To = order.Status

		changed := false
		if req.Trigger != "" {
			to, err := Next(order.Status, req.Trigger)
			if err != nil {
				return err
			}
			order.Status = to
			if effect, ok := PaymentEffect(req.Trigger); ok {
				order.PaymentStatus = effect
			}
			result.To = to
			changed = true
		}
		if req.Note != "" {
			order.AppendNote(at, req.ActorID, req.Note)
			changed = true
		}
		if req.Mutate != nil {
			req.Mutate(order)
			changed = true
		}
		if changed {
			if err := tx.UpdateOrder(ctx, order, order.Version); err != nil {
				return err
			}
		}

		if req.Event != nil {
			if err := tx.PutProcessedEvent(ctx, &entity.ProcessedEvent{
				Provider:        req.Event.Provider,
				ProviderEventID: req.Event.ID,
				OrderID:         order.ID,
				CanonicalType:   req.Event.Type,
				ResultingStatus: order.Status,
				AppliedAt:       at,
			}); err != nil {
				return err
			}
		}

		if req.Trigger != "" || req.Event != nil {
			if err := tx.AppendAuditEntry(ctx, auditEntry(order.ID, req, result, at)); err != nil {
				return err
			}
		}

		result.Order = order
		return nil
	})

	if errors.Is(err, repo.ErrVersionConflict) && req.Event != nil {
		// The winner of the race may have been this same delivery.
		if _, lookupErr := m.store.GetProcessedEvent(ctx, req.Event.Provider, req.Event.ID); lookupErr == nil {
			err = repo.ErrDuplicateEvent
		}
	}
	if errors.Is(err, repo.ErrDuplicateEvent) {
		result = Result{Duplicate: true}
		err = nil
	}
	if err != nil {
		appErr := m.translate(err)
		m.record(ctx, req.Trigger, string(appErr.Kind()))
		if appErr.Kind() == errorbank.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lifecycle apply failed")
		}
		return Result{}, appErr
	}
	if result.Duplicate {
		m.record(ctx, req.Trigger, "duplicate")
		span.SetAttributes(attribute.Bool("lifecycle.duplicate", true))
		return result, nil
	}

	m.record(ctx, req.Trigger, "applied")
	m.notify(ctx, Change{
		Order:   result.Order.Clone(),
		From:    result.From,
		To:      result.To,
		Trigger: req.Trigger,
		ActorID: req.ActorID,
		Event:   req.Event,
		At:      at,
	})
	return result, nil
}

// RecordUnmatched writes a ledger entry for a delivery that has no order to
// act on, so redeliveries short-circuit.
func (m *Machine) RecordUnmatched(ctx context.Context, event EventRef) (bool, error) {
	ctx, span := machineTracer.Start(ctx, "Machine.RecordUnmatched", trace.WithAttributes(
		attribute.String("payment.provider", string(event.Provider)),
		attribute.String("payment.event_id", event.ID),
	))
	defer span.End()

	duplicate := false
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		seen, err := alreadyApplied(ctx, tx, &event)
		if err != nil || seen {
			duplicate = seen
			return err
		}
		return tx.PutProcessedEvent(ctx, &entity.ProcessedEvent{
			Provider:        event.Provider,
			ProviderEventID: event.ID,
			CanonicalType:   event.Type,
			AppliedAt:       m.now(),
		})
	})
	if errors.Is(err, repo.ErrDuplicateEvent) {
		return true, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger write failed")
		return false, m.translate(err)
	}
	return duplicate, nil
}

func alreadyApplied(ctx context.Context, tx repo.Tx, event *EventRef) (bool, error) {
	_, err := tx.GetProcessedEvent(ctx, event.Provider, event.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func auditEntry(orderID string, req Request, result Result, at time.Time) *entity.AuditEntry {
	entry := &entity.AuditEntry{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		CanonicalType:   string(req.Trigger),
		ActorID:         req.ActorID,
		FromStatus:      result.From,
		ResultingStatus: result.To,
		OccurredAt:      at,
	}
	if req.Event != nil {
		entry.Provider = req.Event.Provider
		entry.ProviderEventID = req.Event.ID
		entry.CanonicalType = string(req.Event.Type)
	}
	return entry
}

func (m *Machine) translate(err error) *errorbank.AppError {
	var appErr *errorbank.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repo.ErrNotFound):
		return errorbank.NotFound("order not found")
	case errors.Is(err, repo.ErrVersionConflict):
		return errorbank.Conflict("order was modified concurrently", errorbank.WithCause(err))
	default:
		m.logger.Error("lifecycle transaction failed", zap.Error(err))
		return errorbank.Internal("failed to apply order change", errorbank.WithCause(err))
	}
}

func (m *Machine) record(ctx context.Context, trigger Trigger, outcome string) {
	if m.transitions == nil {
		return
	}
	name := string(trigger)
	if name == "" {
		name = "record"
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", name),
		attribute.String("outcome", outcome),
	))
}

func (m *Machine) notify(ctx context.Context, change Change) {
	for _, observer := range m.observers {
		if observer == nil {
			continue
		}
		observer.OrderChanged(ctx, change)
	}
}
