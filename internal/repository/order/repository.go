package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderflow/internal/database"
	"github.com/Additional-Code/orderflow/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/orderflow/repository/order")

// Repository encapsulates read/write access for orders backed by bun.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// RunInTx executes fn inside a single database transaction on the writer.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.RunInTx")
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &bunTx{tx: tx})
	})
	if err != nil && !isExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
	}
	return err
}

// CreateOrder persists a new order using the write connection.
func (r *Repository) CreateOrder(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CreateOrder", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(order).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetOrder fetches an order by primary key using the read replica when available.
func (r *Repository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	return selectOrder(ctx, r.reader, id, span)
}

// ListOrdersByOwner returns the newest orders placed by ownerID.
func (r *Repository) ListOrdersByOwner(ctx context.Context, ownerID string, limit int) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListOrdersByOwner", trace.WithAttributes(attribute.String("order.owner_id", ownerID)))
	defer span.End()

	var orders []entity.Order
	q := r.reader.NewSelect().Model(&orders).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// ListAuditEntries returns an order's audit trail in commit order.
func (r *Repository) ListAuditEntries(ctx context.Context, orderID string) ([]entity.AuditEntry, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListAuditEntries", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var entries []entity.AuditEntry
	err := r.reader.NewSelect().Model(&entries).Where("order_id = ?", orderID).Order("occurred_at ASC", "id ASC").Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return entries, nil
}

// GetProcessedEvent reads a ledger entry outside of any transaction.
func (r *Repository) GetProcessedEvent(ctx context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error) {
	return selectProcessed(ctx, r.writer, provider, eventID)
}

// RecordPaymentEvent appends a verified delivery to the event history.
func (r *Repository) RecordPaymentEvent(ctx context.Context, event *entity.PaymentEvent) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.RecordPaymentEvent", trace.WithAttributes(
		attribute.String("payment.provider", string(event.Provider)),
		attribute.String("payment.event_id", event.ProviderEventID),
	))
	defer span.End()

	_, err := r.writer.NewInsert().Model(event).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

type bunTx struct {
	tx bun.Tx
}

func (t *bunTx) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	return selectOrder(ctx, t.tx, id, nil)
}

func (t *bunTx) UpdateOrder(ctx context.Context, order *entity.Order, expectedVersion int64) error {
	order.Version = expectedVersion + 1
	order.UpdatedAt = time.Now().UTC()

	res, err := t.tx.NewUpdate().
		Model(order).
		Column("status", "payment_status", "payment_method_ref", "notes", "version", "updated_at").
		Where("id = ?", order.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		order.Version = expectedVersion
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		order.Version = expectedVersion
		return err
	}
	if n == 0 {
		order.Version = expectedVersion
		return ErrVersionConflict
	}
	return nil
}

func (t *bunTx) GetProcessedEvent(ctx context.Context, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error) {
	return selectProcessed(ctx, t.tx, provider, eventID)
}

func (t *bunTx) PutProcessedEvent(ctx context.Context, record *entity.ProcessedEvent) error {
	_, err := t.tx.NewInsert().Model(record).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (t *bunTx) AppendAuditEntry(ctx context.Context, entry *entity.AuditEntry) error {
	_, err := t.tx.NewInsert().Model(entry).Exec(ctx)
	return err
}

func selectOrder(ctx context.Context, db bun.IDB, id string, span trace.Span) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		if span != nil {
			span.SetStatus(codes.Error, "not found")
		}
		return nil, ErrNotFound
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "select failed")
		}
		return nil, err
	}
	return order, nil
}

func selectProcessed(ctx context.Context, db bun.IDB, provider entity.Provider, eventID string) (*entity.ProcessedEvent, error) {
	record := new(entity.ProcessedEvent)
	err := db.NewSelect().Model(record).
		Where("provider = ?", provider).
		Where("provider_event_id = ?", eventID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func isExpected(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrNotFound)
}
