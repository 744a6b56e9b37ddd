package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// Store: общее in-memory состояние товаров, заказов и outbox.
// Списание остатка, смена статуса и запись события выполняются под одним мьютексом.
type Store struct {
	mu sync.Mutex

	products    map[int64]domain.Product
	orders      map[int64]domain.Order
	byPublicID  map[string]int64
	byDeduction map[string]int64
	outbox      map[string]*outboxRecord
	nextOrderID int64

	// Ошибки для моделирования сбоев хранилища в тестах.
	CreateErr   error
	CompleteErr error
	FailErr     error
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products:    make(map[int64]domain.Product),
		orders:      make(map[int64]domain.Order),
		byPublicID:  make(map[string]int64),
		byDeduction: make(map[string]int64),
		outbox:      make(map[string]*outboxRecord),
	}
}

// DeleteProduct удаляет товар; используется в тестах сценария "товар пропал".
func (s *Store) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// SetFailures задаёт ошибки, которые вернут Create, Complete и Fail.
func (s *Store) SetFailures(create, complete, fail error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateErr = create
	s.CompleteErr = complete
	s.FailErr = fail
}
