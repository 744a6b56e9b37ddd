package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

const orderColumns = `
	id, public_id, user_id, product_id, quantity, total_price,
	status, deduction_id, failure_reason, created_at, updated_at
`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		reason sql.NullString
	)
	if err := row.Scan(
		&order.ID, &order.PublicID, &order.UserID, &order.ProductID, &order.Quantity,
		&order.TotalPrice, &status, &order.DeductionID, &reason, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.FailureReason = reason.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := inTx(ctx, r.db, "create order", func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				public_id, user_id, product_id, quantity, total_price,
				status, deduction_id, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`,
			order.PublicID, order.UserID, order.ProductID, order.Quantity, order.TotalPrice,
			string(order.Status), order.DeductionID, order.CreatedAt, order.UpdatedAt,
		).Scan(&order.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return insertOrderEvent(ctx, tx, domain.EventOrderAccepted, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetByPublicID(ctx context.Context, publicID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Невалидный UUID сравниваем как текст, чтобы получить not found вместо ошибки приведения.
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE public_id::text = $1`, publicID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order by public id: %w", err)
	}
	return order, nil
}

// Complete списывает остаток и завершает заказ под блокировками строк заказа и товара.
// Остаток меньше количества в заказе означает расхождение с ledger: ErrStockDrift.
func (r *orderRepository) Complete(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := inTx(ctx, r.db, "complete order", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return domain.ErrOrderNotPending
		}

		var stock int64
		err = tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, order.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}
		if stock < order.Quantity {
			return fmt.Errorf("%w: product %d stock %d, order quantity %d",
				domain.ErrStockDrift, order.ProductID, stock, order.Quantity)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1
		`, order.ProductID, order.Quantity, now); err != nil {
			return fmt.Errorf("decrement product stock: %w", err)
		}

		if err := order.Complete(now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, order.ID, string(order.Status), order.UpdatedAt); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return insertOrderEvent(ctx, tx, domain.EventOrderCompleted, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Fail(ctx context.Context, id int64, reason string) (domain.Order, error) {
	var order domain.Order
	err := inTx(ctx, r.db, "fail order", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := order.Fail(reason, time.Now().UTC()); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, failure_reason = $3, updated_at = $4 WHERE id = $1
		`, order.ID, string(order.Status), order.FailureReason, order.UpdatedAt); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return insertOrderEvent(ctx, tx, domain.EventOrderFailed, order)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (domain.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

func insertOrderEvent(ctx context.Context, tx *sql.Tx, eventType string, order domain.Order) error {
	msg, err := domain.NewOrderEvent(eventType, order)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err := insertOutbox(ctx, tx, msg); err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
