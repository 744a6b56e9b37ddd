// Package submission принимает заказы: быстрый резерв на счётчике,
// запись pending-заказа и постановка задачи исполнения.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/metrics"
	"github.com/vladislavdragonenkov/flashorder/internal/tracing"
)

const (
	compensationTimeout = 5 * time.Second

	enqueueFailureReason = "enqueue failure"
)

// SubmitRequest: входные данные приёма заказа.
type SubmitRequest struct {
	UserID    int64
	ProductID int64
	Quantity  int64
}

// SubmitResult: ответ на принятый заказ.
type SubmitResult struct {
	OrderPublicID string
	Status        domain.OrderStatus
}

// Service реализует приём заказа.
type Service struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	ledger   domain.StockLedger
	queue    domain.TaskQueue

	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис приёма заказов.
func NewService(
	products domain.ProductRepository,
	orders domain.OrderRepository,
	ledger domain.StockLedger,
	queue domain.TaskQueue,
	options ...Option,
) *Service {
	s := &Service{
		products: products,
		orders:   orders,
		ledger:   ledger,
		queue:    queue,
		logger:   log.WithField("component", "order-submission"),
		tracer:   tracing.Tracer(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Submit резервирует остаток, сохраняет pending-заказ и ставит задачу исполнения.
// Ошибки: ErrQuantityInvalid, ErrUserRequired, ErrProductNotFound, ErrInsufficientStock,
// ErrLedgerUnavailable, ErrOrderPersist, ErrQueueUnavailable.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	started := time.Now()
	defer func() { s.metrics.RecordSubmitDuration(time.Since(started)) }()

	ctx, span := s.tracer.Start(ctx, "submission.Submit", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.Int64("product.id", req.ProductID),
		attribute.Int64("order.quantity", req.Quantity),
	))
	defer span.End()

	result, err := s.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SubmitResult{}, err
	}
	span.SetAttributes(attribute.String("order.public_id", result.OrderPublicID))
	return result, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.Quantity <= 0 {
		return SubmitResult{}, domain.ErrQuantityInvalid
	}
	if req.UserID <= 0 {
		return SubmitResult{}, domain.ErrUserRequired
	}
	if req.ProductID <= 0 {
		return SubmitResult{}, domain.ErrProductRequired
	}

	logger := s.logger.WithFields(log.Fields{
		"user_id":    req.UserID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})

	// Товар читается один раз: и для инициализации счётчика, и для цены заказа.
	product, err := s.products.Get(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return SubmitResult{}, err
		}
		return SubmitResult{}, fmt.Errorf("load product %d: %w", req.ProductID, err)
	}

	if seeded, err := s.ledger.Seed(ctx, product.ID, product.Stock); err != nil {
		logger.WithError(err).Warn("failed to seed stock counter")
		return SubmitResult{}, fmt.Errorf("seed stock counter: %w", err)
	} else if seeded {
		logger.WithField("stock", product.Stock).Info("stock counter seeded from durable stock")
	}

	deductionID := s.newID()
	publicID := s.newID()
	logger = logger.WithFields(log.Fields{
		"deduction_id":    deductionID,
		"order_public_id": publicID,
	})

	if err := s.ledger.Reserve(ctx, product.ID, req.Quantity, deductionID); err != nil {
		if domain.IsInsufficientStock(err) {
			s.metrics.RecordReservation("insufficient")
			logger.Debug("reservation rejected: insufficient stock")
			return SubmitResult{}, err
		}
		s.metrics.RecordReservation("error")
		logger.WithError(err).Warn("reservation failed")
		return SubmitResult{}, fmt.Errorf("reserve stock: %w", err)
	}
	s.metrics.RecordReservation("ok")

	order, err := s.orders.Create(ctx, domain.NewPendingOrder(publicID, req.UserID, product, req.Quantity, deductionID, s.now()))
	if err != nil {
		logger.WithError(err).Error("failed to persist order, releasing reservation")
		s.release(ctx, logger, product.ID, deductionID, "persist")
		return SubmitResult{}, fmt.Errorf("%w: %w", domain.ErrOrderPersist, err)
	}
	logger = logger.WithField("order_id", order.ID)

	task := domain.FulfillmentTask{OrderID: order.ID, Attempt: 1, EnqueuedAt: s.now()}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		logger.WithError(err).Error("failed to enqueue fulfillment task, failing order")
		s.failOrder(ctx, logger, order.ID)
		s.release(ctx, logger, product.ID, deductionID, "enqueue")
		return SubmitResult{}, fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}

	logger.Info("order accepted")
	return SubmitResult{OrderPublicID: order.PublicID, Status: order.Status}, nil
}

// Lookup возвращает заказ по внешнему идентификатору.
func (s *Service) Lookup(ctx context.Context, publicID string) (domain.Order, error) {
	if publicID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.orders.GetByPublicID(ctx, publicID)
}

func (s *Service) failOrder(ctx context.Context, logger *log.Entry, orderID int64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := s.orders.Fail(cctx, orderID, enqueueFailureReason); err != nil {
		logger.WithError(err).Error("failed to mark order as failed after enqueue failure")
	}
}

func (s *Service) release(ctx context.Context, logger *log.Entry, productID int64, deductionID, trigger string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	released, err := s.ledger.Release(cctx, productID, deductionID)
	if err != nil {
		logger.WithError(err).Error("failed to release reservation")
		return
	}
	s.metrics.RecordCompensation(trigger, released)
}
