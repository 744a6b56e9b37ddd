package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет новый заказ и событие order.accepted.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return domain.Order{}, s.CreateErr
	}
	if _, exists := s.byPublicID[order.PublicID]; exists {
		return domain.Order{}, domain.ErrOrderConflict
	}
	if _, exists := s.byDeduction[order.DeductionID]; exists {
		return domain.Order{}, domain.ErrOrderConflict
	}

	event, err := domain.NewOrderEvent(domain.EventOrderAccepted, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("build accepted event: %w", err)
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	s.orders[order.ID] = order
	s.byPublicID[order.PublicID] = order.ID
	s.byDeduction[order.DeductionID] = order.ID
	s.appendOutboxLocked(event)

	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id int64) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r *orderRepositoryInMemory) GetByPublicID(_ context.Context, publicID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.byPublicID[publicID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.store.orders[id], nil
}

// Complete списывает остаток товара и завершает заказ под общей блокировкой.
func (r *orderRepositoryInMemory) Complete(_ context.Context, id int64) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CompleteErr != nil {
		return domain.Order{}, s.CompleteErr
	}

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.ErrOrderNotPending
	}

	product, ok := s.products[order.ProductID]
	if !ok {
		return domain.Order{}, domain.ErrProductNotFound
	}
	if product.Stock < order.Quantity {
		return domain.Order{}, fmt.Errorf("%w: stock=%d quantity=%d", domain.ErrStockDrift, product.Stock, order.Quantity)
	}

	now := time.Now().UTC()
	if err := order.Complete(now); err != nil {
		return domain.Order{}, err
	}
	event, err := domain.NewOrderEvent(domain.EventOrderCompleted, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("build completed event: %w", err)
	}

	product.Stock -= order.Quantity
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.orders[order.ID] = order
	s.appendOutboxLocked(event)

	return order, nil
}

// Fail переводит pending-заказ в failed.
func (r *orderRepositoryInMemory) Fail(_ context.Context, id int64, reason string) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailErr != nil {
		return domain.Order{}, s.FailErr
	}

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err := order.Fail(reason, time.Now().UTC()); err != nil {
		return domain.Order{}, err
	}
	event, err := domain.NewOrderEvent(domain.EventOrderFailed, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("build failed event: %w", err)
	}

	s.orders[order.ID] = order
	s.appendOutboxLocked(event)

	return order, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
