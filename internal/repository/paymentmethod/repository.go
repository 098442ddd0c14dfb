package paymentmethod

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/orderflow/internal/database"
	"github.com/Additional-Code/orderflow/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/orderflow/repository/paymentmethod")

// Repository is the bun backed Store.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

func (r *Repository) Create(ctx context.Context, method *entity.PaymentMethod) error {
	ctx, span := repoTracer.Start(ctx, "PaymentMethodRepository.Create", trace.WithAttributes(
		attribute.String("payment_method.owner_id", method.OwnerID),
	))
	defer span.End()

	_, err := r.writer.NewInsert().Model(method).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*entity.PaymentMethod, error) {
	ctx, span := repoTracer.Start(ctx, "PaymentMethodRepository.Get", trace.WithAttributes(attribute.String("payment_method.id", id)))
	defer span.End()

	method := new(entity.PaymentMethod)
	err := r.reader.NewSelect().Model(method).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return method, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]entity.PaymentMethod, error) {
	ctx, span := repoTracer.Start(ctx, "PaymentMethodRepository.ListByOwner")
	defer span.End()

	var methods []entity.PaymentMethod
	err := r.reader.NewSelect().Model(&methods).Where("owner_id = ?", ownerID).Order("created_at ASC").Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return methods, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := repoTracer.Start(ctx, "PaymentMethodRepository.Delete", trace.WithAttributes(attribute.String("payment_method.id", id)))
	defer span.End()

	res, err := r.writer.NewDelete().Model((*entity.PaymentMethod)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
