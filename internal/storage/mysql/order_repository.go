package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт gorm-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	model := toOrderModel(order)
	model.ID = 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrOrderConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID = model.ID
		return insertOrderEvent(tx, domain.EventOrderAccepted, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return findOrder(r.db.WithContext(ctx), "id = ?", id)
}

func (r *orderRepository) GetByPublicID(ctx context.Context, publicID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return findOrder(r.db.WithContext(ctx), "public_id = ?", publicID)
}

func (r *orderRepository) Complete(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := findOrder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return domain.ErrOrderNotPending
		}

		var product productModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, "id = ?", order.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}
		if product.Stock < order.Quantity {
			return fmt.Errorf("%w: product %d stock %d, order quantity %d",
				domain.ErrStockDrift, order.ProductID, product.Stock, order.Quantity)
		}

		now := time.Now().UTC()
		if err := tx.Model(&productModel{}).Where("id = ?", product.ID).Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", order.Quantity),
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("decrement product stock: %w", err)
		}

		if err := order.Complete(now); err != nil {
			return err
		}
		if err := tx.Model(&orderModel{}).Where("id = ?", order.ID).Updates(map[string]any{
			"status":     string(order.Status),
			"updated_at": order.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		result = order
		return insertOrderEvent(tx, domain.EventOrderCompleted, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (r *orderRepository) Fail(ctx context.Context, id int64, reason string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var result domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := findOrder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
		if err != nil {
			return err
		}
		if err := order.Fail(reason, time.Now().UTC()); err != nil {
			return err
		}

		if err := tx.Model(&orderModel{}).Where("id = ?", order.ID).Updates(map[string]any{
			"status":         string(order.Status),
			"failure_reason": order.FailureReason,
			"updated_at":     order.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		result = order
		return insertOrderEvent(tx, domain.EventOrderFailed, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func findOrder(db *gorm.DB, query string, arg any) (domain.Order, error) {
	var model orderModel
	if err := db.First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return model.toDomain(), nil
}

func insertOrderEvent(tx *gorm.DB, eventType string, order domain.Order) error {
	msg, err := domain.NewOrderEvent(eventType, order)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	model := toOutboxModel(msg, time.Now().UTC())
	if err := tx.Create(&model).Error; err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
