package domain

import "context"

// ProductRepository описывает доступ к товарам в хранилище.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// List возвращает все товары, упорядоченные по ID.
	List(ctx context.Context) ([]Product, error)
	// Upsert создаёт или перезаписывает товар (демо-наполнение и тесты).
	Upsert(ctx context.Context, product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый pending-заказ вместе с событием order.accepted и возвращает его с ID.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по ID или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// GetByPublicID возвращает заказ по внешнему идентификатору.
	GetByPublicID(ctx context.Context, publicID string) (Order, error)
	// Complete в одной транзакции блокирует заказ и товар, списывает остаток
	// и переводит заказ в completed. Ошибки: ErrOrderNotFound, ErrOrderNotPending,
	// ErrProductNotFound, ErrStockDrift.
	Complete(ctx context.Context, id int64) (Order, error)
	// Fail переводит pending-заказ в failed с причиной; иначе ErrOrderNotPending.
	Fail(ctx context.Context, id int64, reason string) (Order, error)
}
