package mysql

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

const defaultLocalIntegrationDSN = "flashorder:flashorder@tcp(localhost:3306)/flashorder"

func openMySQLStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("FLASHORDER_MYSQL_TEST_DSN"))
	if dsn == "" {
		dsn = defaultLocalIntegrationDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("mysql is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.AutoMigrate(ctx))
	for _, table := range []string{"outbox_messages", "orders", "products"} {
		require.NoError(t, store.DB().Exec("DELETE FROM "+table).Error)
	}
	return store
}

func TestStore_OpenInvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "::not a dsn::")
	require.Error(t, err)
}

func TestStore_NilGuards(t *testing.T) {
	var store *Store
	require.Error(t, store.Ping(context.Background()))
	require.Error(t, store.AutoMigrate(context.Background()))
	require.NoError(t, store.Close())
}

func TestOrderRepository_MySQLLifecycle(t *testing.T) {
	store := openMySQLStoreForIntegrationTest(t)
	ctx := context.Background()

	products := NewProductRepository(store)
	orders := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)

	product := domain.Product{ID: 1, Name: "Demo product A", Price: decimal.RequireFromString("19.99"), Stock: 10}
	require.NoError(t, products.Upsert(ctx, product))

	newOrder := func(qty int64) domain.Order {
		return domain.NewPendingOrder(uuid.NewString(), 3, product, qty, uuid.NewString(), time.Now().UTC())
	}

	created, err := orders.Create(ctx, newOrder(4))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	dup := newOrder(1)
	dup.PublicID = created.PublicID
	_, err = orders.Create(ctx, dup)
	require.True(t, errors.Is(err, domain.ErrOrderConflict), "got %v", err)

	completed, err := orders.Complete(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, completed.Status)

	stored, err := products.Get(ctx, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 6, stored.Stock)

	drift, err := orders.Create(ctx, newOrder(7))
	require.NoError(t, err)
	_, err = orders.Complete(ctx, drift.ID)
	require.ErrorIs(t, err, domain.ErrStockDrift)

	failed, err := orders.Fail(ctx, drift.ID, "stock drift")
	require.NoError(t, err)
	require.Equal(t, "stock drift", failed.FailureReason)

	_, err = orders.Fail(ctx, drift.ID, "again")
	require.ErrorIs(t, err, domain.ErrOrderNotPending)

	byPublic, err := orders.GetByPublicID(ctx, drift.PublicID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, byPublic.Status)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.PendingCount)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	require.NoError(t, outbox.MarkSent(ctx, pending[0].ID))
	require.ErrorIs(t, outbox.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
}
