package domain

import "errors"

var (
	// Ошибка некорректного количества товара в заказе (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductRequired = errors.New("product_id is required")
	// Ошибка отрицательной цены товара.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отрицательного остатка товара.
	ErrStockNegative = errors.New("stock must be non-negative")
	// Ошибка отсутствующего идентификатора списания.
	ErrDeductionIDRequired = errors.New("deduction_id is required")
	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderConflict сигнализирует о дубликате заказа (public_id или deduction_id).
	ErrOrderConflict = errors.New("order already exists")
	// ErrOrderNotPending: заказ уже в терминальном статусе, переход запрещён.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrInsufficientStock: быстрый резерв отклонён: на счётчике не хватает остатка.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockDrift: durable-остаток меньше количества заказа, счётчик разошёлся с БД.
	ErrStockDrift = errors.New("durable stock is lower than reserved quantity")
	// ErrLedgerUnavailable: временная ошибка хранилища резервов.
	ErrLedgerUnavailable = errors.New("stock ledger unavailable")
	// ErrOrderPersist: заказ не удалось сохранить при приёме.
	ErrOrderPersist = errors.New("failed to persist order")
	// ErrQueueUnavailable: задачу на исполнение не удалось поставить в очередь.
	ErrQueueUnavailable = errors.New("fulfillment queue unavailable")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsInsufficientStock проверяет, является ли ошибка отказом по остатку.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsNotPending проверяет, что заказ уже ушёл из pending.
func IsNotPending(err error) bool {
	return errors.Is(err, ErrOrderNotPending)
}

// IsValidation сообщает, относится ли ошибка к валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrQuantityInvalid) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrProductRequired)
}
