package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

type productLedger struct {
	seeded    bool
	available int64
	pending   map[string]int64
}

// Ledger: in-memory реализация StockLedger для разработки и тестов.
// Поля *Err позволяют смоделировать недоступность хранилища резервов.
type Ledger struct {
	mu       sync.Mutex
	products map[int64]*productLedger

	SeedErr    error
	ReserveErr error
	ReleaseErr error
	ConsumeErr error

	ReserveCalls int
	ReleaseCalls int
	ConsumeCalls int
}

// NewLedger возвращает пустой ledger.
func NewLedger() *Ledger {
	return &Ledger{products: make(map[int64]*productLedger)}
}

func (l *Ledger) product(productID int64) *productLedger {
	p, ok := l.products[productID]
	if !ok {
		p = &productLedger{pending: make(map[string]int64)}
		l.products[productID] = p
	}
	return p
}

func (l *Ledger) Seed(_ context.Context, productID, stock int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SeedErr != nil {
		return false, l.SeedErr
	}
	if stock < 0 {
		return false, domain.ErrStockNegative
	}

	p := l.product(productID)
	if p.seeded {
		return false, nil
	}
	p.seeded = true
	p.available = stock
	return true, nil
}

func (l *Ledger) Reserve(_ context.Context, productID, quantity int64, deductionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ReserveCalls++
	if l.ReserveErr != nil {
		return l.ReserveErr
	}
	if quantity <= 0 {
		return domain.ErrQuantityInvalid
	}
	if deductionID == "" {
		return domain.ErrDeductionIDRequired
	}

	p := l.product(productID)
	if p.available < quantity {
		return domain.ErrInsufficientStock
	}
	p.available -= quantity
	p.pending[deductionID] += quantity
	return nil
}

func (l *Ledger) Release(_ context.Context, productID int64, deductionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ReleaseCalls++
	if l.ReleaseErr != nil {
		return false, l.ReleaseErr
	}

	p := l.product(productID)
	qty, ok := p.pending[deductionID]
	if !ok {
		return false, nil
	}
	p.available += qty
	delete(p.pending, deductionID)
	return true, nil
}

func (l *Ledger) Consume(_ context.Context, productID int64, deductionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ConsumeCalls++
	if l.ConsumeErr != nil {
		return false, l.ConsumeErr
	}

	p := l.product(productID)
	if _, ok := p.pending[deductionID]; !ok {
		return false, nil
	}
	delete(p.pending, deductionID)
	return true, nil
}

func (l *Ledger) Snapshot(_ context.Context, productID int64) (domain.LedgerSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.product(productID)
	pending := make(map[string]int64, len(p.pending))
	for id, qty := range p.pending {
		pending[id] = qty
	}
	return domain.LedgerSnapshot{
		ProductID: productID,
		Seeded:    p.seeded,
		Available: p.available,
		Pending:   pending,
	}, nil
}

func (l *Ledger) Reset(_ context.Context, productID, stock int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if stock < 0 {
		return domain.ErrStockNegative
	}
	l.products[productID] = &productLedger{
		seeded:    true,
		available: stock,
		pending:   make(map[string]int64),
	}
	return nil
}

var _ domain.StockLedger = (*Ledger)(nil)
