package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: остаток зарезервирован на счётчике, заказ ждёт фиксации в БД.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted: остаток списан в БД, резерв поглощён.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed: фиксация не удалась, резерв возвращён.
	OrderStatusFailed OrderStatus = "failed"
)

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// CanTransitionTo проверяет допустимость перехода: только pending -> completed|failed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusPending {
		return false
	}
	return next == OrderStatusCompleted || next == OrderStatusFailed
}

// Order агрегирует состояние заказа.
type Order struct {
	// ID: суррогатный ключ в хранилище, на него ссылаются задачи исполнения.
	ID int64
	// PublicID: внешний идентификатор, генерируется при приёме и не меняется.
	PublicID  string
	UserID    int64
	ProductID int64
	Quantity  int64
	// TotalPrice считается при приёме: цена товара * количество.
	TotalPrice decimal.Decimal
	Status     OrderStatus
	// DeductionID связывает заказ с записью в PendingDeductionSet.
	DeductionID   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPendingOrder собирает заказ в статусе pending по уже прочитанному товару.
func NewPendingOrder(publicID string, userID int64, product Product, quantity int64, deductionID string, now time.Time) Order {
	return Order{
		PublicID:    publicID,
		UserID:      userID,
		ProductID:   product.ID,
		Quantity:    quantity,
		TotalPrice:  product.Price.Mul(decimal.NewFromInt(quantity)),
		Status:      OrderStatusPending,
		DeductionID: deductionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrUserRequired)
	}
	if o.ProductID <= 0 {
		errs = append(errs, ErrProductRequired)
	}
	if o.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if o.TotalPrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if o.DeductionID == "" {
		errs = append(errs, ErrDeductionIDRequired)
	}

	return errs
}

// Complete переводит заказ в completed.
func (o *Order) Complete(now time.Time) error {
	if !o.Status.CanTransitionTo(OrderStatusCompleted) {
		return ErrOrderNotPending
	}
	o.Status = OrderStatusCompleted
	o.UpdatedAt = now
	return nil
}

// Fail переводит заказ в failed с причиной.
func (o *Order) Fail(reason string, now time.Time) error {
	if !o.Status.CanTransitionTo(OrderStatusFailed) {
		return ErrOrderNotPending
	}
	o.Status = OrderStatusFailed
	o.FailureReason = reason
	o.UpdatedAt = now
	return nil
}
