package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	stored1, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderAccepted,
		Payload:       []byte(`{"order_public_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue msg without id: %v", err)
	}
	if stored1.ID == "" {
		t.Fatal("expected generated id for outbox message")
	}

	stored2, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "outbox-fixed-id",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-2",
		EventType:     domain.EventOrderFailed,
		Payload:       []byte(`{"order_public_id":"order-2"}`),
	})
	if err != nil {
		t.Fatalf("enqueue msg with id: %v", err)
	}
	if stored2.ID != "outbox-fixed-id" {
		t.Fatalf("expected fixed id, got %q", stored2.ID)
	}

	pending, err := repo.PullPending(ctx, 0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats before marks: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats before marks: %+v", stats)
	}

	if err := repo.MarkSent(ctx, stored1.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, stored2.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err = repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after marks: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}

	if err := repo.MarkSent(ctx, "missing-id"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for missing id, got %v", err)
	}
	if err := repo.MarkSent(ctx, stored2.ID); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("failed event must not flip to sent, got %v", err)
	}
	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: stored2.ID, AggregateType: domain.AggregateOrder, EventType: domain.EventOrderFailed, Payload: []byte(`{}`)}); err == nil {
		t.Fatal("expected duplicate outbox id to fail")
	}
}

func TestOutboxRepository_PostgresOrdersByCreation(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, eventType := range []string{domain.EventOrderCompleted, domain.EventOrderAccepted} {
		_, err := repo.Enqueue(ctx, domain.OutboxMessage{
			ID:            eventType,
			AggregateType: domain.AggregateOrder,
			AggregateID:   "order-1",
			EventType:     eventType,
			Payload:       []byte(`{}`),
			CreatedAt:     base.Add(-time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", eventType, err)
		}
	}

	pending, err := repo.PullPending(ctx, 1)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != domain.EventOrderAccepted {
		t.Fatalf("expected the earliest event first, got %+v", pending)
	}
}
