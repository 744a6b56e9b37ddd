package domain

import "context"

// StockLedger: быстрый счётчик остатка с резервами по deduction_id.
type StockLedger interface {
	// Seed инициализирует счётчик, только если его ещё нет; true: инициализировал этот вызов.
	Seed(ctx context.Context, productID, stock int64) (bool, error)
	// Reserve атомарно уменьшает счётчик и записывает резерв или возвращает ErrInsufficientStock.
	Reserve(ctx context.Context, productID, quantity int64, deductionID string) error
	// Release возвращает резерв в счётчик; false: резерва уже нет.
	Release(ctx context.Context, productID int64, deductionID string) (bool, error)
	// Consume удаляет резерв без возврата остатка (после фиксации в БД).
	Consume(ctx context.Context, productID int64, deductionID string) (bool, error)
	// Snapshot возвращает счётчик и незакрытые резервы товара.
	Snapshot(ctx context.Context, productID int64) (LedgerSnapshot, error)
	// Reset перезаписывает счётчик и сбрасывает резервы (операторская синхронизация).
	Reset(ctx context.Context, productID, stock int64) error
}

// TaskQueue ставит задачи исполнения заказа.
type TaskQueue interface {
	Enqueue(ctx context.Context, task FulfillmentTask) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
