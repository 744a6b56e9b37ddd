package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product: товар каталога; Stock в БД является источником истины по остатку.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет неотрицательность цены и остатка.
func (p Product) Validate() error {
	if p.ID <= 0 {
		return ErrProductRequired
	}
	if p.Price.IsNegative() {
		return ErrPriceNegative
	}
	if p.Stock < 0 {
		return ErrStockNegative
	}
	return nil
}

// DemoProducts возвращает демо-каталог для локального запуска и нагрузочных тестов.
func DemoProducts() []Product {
	return []Product{
		{ID: 1, Name: "Demo product A", Price: decimal.RequireFromString("19.99"), Stock: 1000},
		{ID: 2, Name: "Demo product B", Price: decimal.RequireFromString("29.99"), Stock: 500},
	}
}
