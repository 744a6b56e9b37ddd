package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

func TestLedger_ReserveReleaseConsume(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	if seeded, err := ledger.Seed(ctx, 1, 100); err != nil || !seeded {
		t.Fatalf("expected first seed to succeed, got seeded=%v err=%v", seeded, err)
	}
	if seeded, _ := ledger.Seed(ctx, 1, 1); seeded {
		t.Fatal("second seed must not overwrite counter")
	}

	if err := ledger.Reserve(ctx, 1, 10, "d-1"); err != nil {
		t.Fatalf("reserve d-1: %v", err)
	}
	if err := ledger.Reserve(ctx, 1, 20, "d-2"); err != nil {
		t.Fatalf("reserve d-2: %v", err)
	}

	if released, err := ledger.Release(ctx, 1, "d-1"); err != nil || !released {
		t.Fatalf("expected release, got released=%v err=%v", released, err)
	}
	if released, _ := ledger.Release(ctx, 1, "d-1"); released {
		t.Fatal("second release must report nothing to release")
	}
	if consumed, err := ledger.Consume(ctx, 1, "d-2"); err != nil || !consumed {
		t.Fatalf("expected consume, got consumed=%v err=%v", consumed, err)
	}

	snapshot, _ := ledger.Snapshot(ctx, 1)
	if snapshot.Available != 80 || len(snapshot.Pending) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestLedger_InsufficientStock(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	_, _ = ledger.Seed(ctx, 1, 5)
	if err := ledger.Reserve(ctx, 1, 6, "d-1"); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	snapshot, _ := ledger.Snapshot(ctx, 1)
	if snapshot.Available != 5 || len(snapshot.Pending) != 0 {
		t.Fatalf("rejected reservation must not mutate ledger: %+v", snapshot)
	}
}

func TestLedger_NoOversell(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()
	_, _ = ledger.Seed(ctx, 1, 50)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = ledger.Reserve(ctx, 1, 1, fmt.Sprintf("d-%d", i))
		}(i)
	}
	wg.Wait()

	snapshot, _ := ledger.Snapshot(ctx, 1)
	if snapshot.Available != 0 || snapshot.PendingTotal() != 50 {
		t.Fatalf("unexpected snapshot after contention: available=%d pending=%d", snapshot.Available, snapshot.PendingTotal())
	}
}

func TestLedger_InjectedErrors(t *testing.T) {
	ledger := NewLedger()
	ctx := context.Background()

	ledger.ReserveErr = domain.ErrLedgerUnavailable
	if err := ledger.Reserve(ctx, 1, 1, "d-1"); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if ledger.ReserveCalls != 1 {
		t.Fatalf("expected 1 reserve call, got %d", ledger.ReserveCalls)
	}
}
