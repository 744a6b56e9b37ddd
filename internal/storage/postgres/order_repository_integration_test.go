package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

func seedProductForIntegrationTest(t *testing.T, store *Store, stock int64) domain.Product {
	t.Helper()

	product := domain.Product{ID: 1, Name: "Demo product A", Price: decimal.RequireFromString("19.99"), Stock: stock}
	if err := NewProductRepository(store).Upsert(context.Background(), product); err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	return product
}

func newPendingOrderForIntegrationTest(product domain.Product, qty int64) domain.Order {
	return domain.NewPendingOrder(uuid.NewString(), 7, product, qty, uuid.NewString(), time.Now().UTC().Truncate(time.Microsecond))
}

func TestOrderRepository_PostgresCreateAndGet(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOrderRepository(store)
	product := seedProductForIntegrationTest(t, store, 100)
	ctx := context.Background()

	created, err := repo.Create(ctx, newPendingOrderForIntegrationTest(product, 3))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected generated order id")
	}

	loaded, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if loaded.PublicID != created.PublicID || loaded.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected loaded order: %+v", loaded)
	}
	if !loaded.TotalPrice.Equal(decimal.RequireFromString("59.97")) {
		t.Fatalf("unexpected total price: %s", loaded.TotalPrice)
	}

	byPublic, err := repo.GetByPublicID(ctx, created.PublicID)
	if err != nil || byPublic.ID != created.ID {
		t.Fatalf("get by public id: order=%+v err=%v", byPublic, err)
	}
	if _, err := repo.GetByPublicID(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for malformed id, got %v", err)
	}

	dup := newPendingOrderForIntegrationTest(product, 1)
	dup.PublicID = created.PublicID
	if _, err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}

	stats, err := NewOutboxRepository(store).Stats(ctx)
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected one accepted event, got %d", stats.PendingCount)
	}
}

func TestOrderRepository_PostgresCompleteAndFail(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOrderRepository(store)
	products := NewProductRepository(store)
	product := seedProductForIntegrationTest(t, store, 10)
	ctx := context.Background()

	toComplete, err := repo.Create(ctx, newPendingOrderForIntegrationTest(product, 4))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	completed, err := repo.Complete(ctx, toComplete.ID)
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	stored, err := products.Get(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Stock != 6 {
		t.Fatalf("expected stock 6, got %d", stored.Stock)
	}
	if _, err := repo.Complete(ctx, toComplete.ID); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending on repeated complete, got %v", err)
	}

	drift, err := repo.Create(ctx, newPendingOrderForIntegrationTest(product, 7))
	if err != nil {
		t.Fatalf("create drift order: %v", err)
	}
	if _, err := repo.Complete(ctx, drift.ID); !errors.Is(err, domain.ErrStockDrift) {
		t.Fatalf("expected ErrStockDrift, got %v", err)
	}
	if stored, _ = products.Get(ctx, product.ID); stored.Stock != 6 {
		t.Fatalf("drift must not touch stock, got %d", stored.Stock)
	}

	failed, err := repo.Fail(ctx, drift.ID, "stock drift")
	if err != nil {
		t.Fatalf("fail order: %v", err)
	}
	if failed.Status != domain.OrderStatusFailed || failed.FailureReason != "stock drift" {
		t.Fatalf("unexpected failed order: %+v", failed)
	}
	if _, err := repo.Fail(ctx, drift.ID, "again"); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending on repeated fail, got %v", err)
	}
	if _, err := repo.Complete(ctx, 9999); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	pending, err := NewOutboxRepository(store).PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("expected accepted x2, completed, failed events, got %d", len(pending))
	}
}

func TestProductRepository_PostgresUpsertAndList(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewProductRepository(store)
	ctx := context.Background()

	if err := repo.Upsert(ctx, domain.Product{ID: 2, Name: "B", Price: decimal.RequireFromString("29.99"), Stock: 500}); err != nil {
		t.Fatalf("upsert B: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Product{ID: 1, Name: "A", Price: decimal.RequireFromString("19.99"), Stock: 1000}); err != nil {
		t.Fatalf("upsert A: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Product{ID: 1, Name: "A2", Price: decimal.RequireFromString("19.99"), Stock: 900}); err != nil {
		t.Fatalf("re-upsert A: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Product{ID: 3, Stock: -1}); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[0].Name != "A2" || list[0].Stock != 900 {
		t.Fatalf("unexpected product list: %+v", list)
	}
	if _, err := repo.Get(ctx, 42); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
