package order

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/database"
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/internal/migration"
)

func newSQLiteRepository(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	conns := &database.Connections{Writer: db, Reader: db}
	var cfg config.Config
	cfg.Database.Driver = "sqlite"
	migrator, err := migration.New(cfg, conns, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up(context.Background()))

	return NewRepository(conns)
}

func sqlOrder(id, number string) *entity.Order {
	return &entity.Order{
		ID:              id,
		Number:          number,
		OwnerID:         "user-1",
		Items:           []entity.OrderItem{{ProductID: "sku-1", Quantity: 2, UnitPrice: 500}},
		Subtotal:        1000,
		Total:           1000,
		Currency:        "usd",
		Status:          entity.StatusPending,
		PaymentStatus:   entity.PaymentUnpaid,
		PaymentProvider: entity.ProviderStripe,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	require.NoError(t, repo.CreateOrder(ctx, sqlOrder("order-1", "ORD-20260101-AAAAAAAA")))

	got, err := repo.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260101-AAAAAAAA", got.Number)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(500), got.Items[0].UnitPrice)

	assert.ErrorIs(t, repo.CreateOrder(ctx, sqlOrder("order-2", "ORD-20260101-AAAAAAAA")), ErrDuplicateNumber)

	_, err = repo.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	orders, err := repo.ListOrdersByOwner(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRepositoryTransactionCommitsTogether(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	require.NoError(t, repo.CreateOrder(ctx, sqlOrder("order-1", "ORD-20260101-BBBBBBBB")))
	now := time.Now().UTC()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		if err != nil {
			return err
		}
		from := order.Status
		order.Status = entity.StatusProcessing
		order.PaymentStatus = entity.PaymentPaid
		if err := tx.UpdateOrder(ctx, order, 1); err != nil {
			return err
		}
		if err := tx.PutProcessedEvent(ctx, &entity.ProcessedEvent{
			Provider:        entity.ProviderStripe,
			ProviderEventID: "evt_1",
			OrderID:         order.ID,
			CanonicalType:   entity.EventPaymentSucceeded,
			ResultingStatus: order.Status,
			AppliedAt:       now,
		}); err != nil {
			return err
		}
		return tx.AppendAuditEntry(ctx, &entity.AuditEntry{
			ID:              "audit-1",
			OrderID:         order.ID,
			Provider:        entity.ProviderStripe,
			CanonicalType:   string(entity.EventPaymentSucceeded),
			ProviderEventID: "evt_1",
			FromStatus:      from,
			ResultingStatus: order.Status,
			OccurredAt:      now,
		})
	})
	require.NoError(t, err)

	stored, err := repo.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	record, err := repo.GetProcessedEvent(ctx, entity.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", record.OrderID)

	entries, err := repo.ListAuditEntries(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRepositoryRollsBackOnDuplicateEvent(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	require.NoError(t, repo.CreateOrder(ctx, sqlOrder("order-1", "ORD-20260101-CCCCCCCC")))

	ledger := func(ctx context.Context, tx Tx) error {
		return tx.PutProcessedEvent(ctx, &entity.ProcessedEvent{
			Provider:        entity.ProviderPayPal,
			ProviderEventID: "WH-1",
			CanonicalType:   entity.EventUnmapped,
			AppliedAt:       time.Now().UTC(),
		})
	}
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error { return ledger(ctx, tx) }))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		if err != nil {
			return err
		}
		order.Status = entity.StatusCancelled
		if err := tx.UpdateOrder(ctx, order, order.Version); err != nil {
			return err
		}
		return ledger(ctx, tx)
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	stored, err := repo.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestRepositoryUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)
	require.NoError(t, repo.CreateOrder(ctx, sqlOrder("order-1", "ORD-20260101-DDDDDDDD")))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.GetOrder(ctx, "order-1")
		if err != nil {
			return err
		}
		order.Status = entity.StatusShipped
		return tx.UpdateOrder(ctx, order, 5)
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestRepositoryRecordsPaymentEvents(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepository(t)

	require.NoError(t, repo.RecordPaymentEvent(ctx, &entity.PaymentEvent{
		ID:              "pe-1",
		Provider:        entity.ProviderStripe,
		ProviderEventID: "evt_9",
		NativeType:      "charge.refunded",
		CanonicalType:   entity.EventRefundCompleted,
		OrderRef:        "order-404",
		OccurredAt:      time.Now().UTC(),
		ReceivedAt:      time.Now().UTC(),
		Outcome:         entity.OutcomeRejected,
		RawPayload:      []byte(`{"id":"evt_9"}`),
	}))
}
