package domain

// LedgerSnapshot: состояние быстрого счётчика товара и его незакрытых резервов.
type LedgerSnapshot struct {
	ProductID int64
	// Seeded=false, если счётчик ещё не инициализировался из БД.
	Seeded    bool
	Available int64
	Pending   map[string]int64
}

// PendingTotal возвращает сумму зарезервированных, но не закрытых количеств.
func (s LedgerSnapshot) PendingTotal() int64 {
	var total int64
	for _, qty := range s.Pending {
		total += qty
	}
	return total
}
