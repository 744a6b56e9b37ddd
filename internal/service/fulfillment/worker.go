// Package fulfillment исполняет принятые заказы: фиксирует списание в БД
// или откатывает быстрый резерв, если фиксация не удалась.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/metrics"
	"github.com/vladislavdragonenkov/flashorder/internal/tracing"
)

const (
	defaultBookkeepingTimeout = 10 * time.Second

	finallyFailedPrefix = "task finally failed: "
)

// Worker выполняет одну попытку исполнения задачи.
type Worker struct {
	orders  domain.OrderRepository
	ledger  domain.StockLedger
	policy  RetryPolicy
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	tracer  trace.Tracer

	bookkeepingTimeout time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics подключает метрики исполнения.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithRetryPolicy задаёт политику повторов; пустые поля заменяются значениями по умолчанию.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(w *Worker) {
		w.policy = policy.normalized()
	}
}

// WithBookkeepingTimeout ограничивает время на Fail/Release после неудачной попытки.
func WithBookkeepingTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.bookkeepingTimeout = timeout
		}
	}
}

// NewWorker создаёт воркер исполнения.
func NewWorker(orders domain.OrderRepository, ledger domain.StockLedger, options ...Option) *Worker {
	w := &Worker{
		orders:             orders,
		ledger:             ledger,
		policy:             DefaultRetryPolicy(),
		logger:             log.WithField("component", "fulfillment-worker"),
		tracer:             tracing.Tracer(),
		bookkeepingTimeout: defaultBookkeepingTimeout,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Policy возвращает действующую политику повторов.
func (w *Worker) Policy() RetryPolicy {
	return w.policy
}

// Handle выполняет попытку: pending-заказ фиксируется в БД, при ошибке
// переводится в failed, а резерв возвращается в счётчик. Ошибки не пробрасываются,
// результат всегда выражен через Outcome.
func (w *Worker) Handle(ctx context.Context, task domain.FulfillmentTask) Result {
	started := time.Now()
	w.metrics.AttemptStarted()
	defer func() {
		w.metrics.AttemptFinished()
		w.metrics.RecordAttemptDuration(time.Since(started))
	}()

	ctx, span := w.tracer.Start(ctx, "fulfillment.Handle", trace.WithAttributes(
		attribute.Int64("order.id", task.OrderID),
		attribute.Int("task.attempt", task.Attempt),
	))
	defer span.End()

	result := w.handle(ctx, task)

	span.SetAttributes(attribute.String("fulfillment.outcome", string(result.Outcome)))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if result.Outcome == OutcomeFailedRetryable || result.Outcome == OutcomeFailedTerminal {
		span.SetStatus(codes.Error, result.Reason)
	}
	w.metrics.RecordOutcome(string(result.Outcome))
	return result
}

func (w *Worker) handle(ctx context.Context, task domain.FulfillmentTask) Result {
	logger := w.logger.WithFields(log.Fields{
		"order_id": task.OrderID,
		"attempt":  task.Attempt,
	})

	order, err := w.orders.Get(ctx, task.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Warn("fulfillment task references unknown order, skipping")
		return Result{Outcome: OutcomeSkipped, Reason: "order not found"}
	}
	if err != nil {
		// Без заказа неизвестен deduction_id, компенсировать нечего.
		logger.WithError(err).Warn("failed to load order for fulfillment")
		return w.failure(logger, task, fmt.Sprintf("load order: %v", err), err)
	}

	logger = logger.WithFields(log.Fields{
		"product_id":   order.ProductID,
		"deduction_id": order.DeductionID,
	})

	if order.Status != domain.OrderStatusPending {
		w.settle(ctx, logger, order)
		logger.WithField("status", order.Status).Debug("order is not pending, skipping")
		return Result{Outcome: OutcomeSkipped, Reason: "order is " + string(order.Status)}
	}

	completed, err := w.orders.Complete(ctx, order.ID)
	if err == nil {
		w.consume(ctx, logger, completed)
		logger.Info("order fulfilled")
		return Result{Outcome: OutcomeCommitted}
	}

	if errors.Is(err, domain.ErrOrderNotPending) {
		logger.Info("order left pending during commit, skipping")
		return Result{Outcome: OutcomeSkipped, Reason: "order is no longer pending"}
	}
	if errors.Is(err, domain.ErrStockDrift) {
		w.metrics.RecordStockDrift()
		logger.WithError(err).WithField("alert", "stock_drift").Error("durable stock is lower than reserved quantity")
	} else {
		logger.WithError(err).Warn("fulfillment commit failed")
	}

	return w.compensate(ctx, logger, task, order, fmt.Sprintf("commit failed: %v", err), err)
}

// compensate переводит заказ в failed и возвращает резерв. Контекст попытки
// к этому моменту может быть отменён по таймауту, поэтому учёт идёт на отвязанном контексте.
func (w *Worker) compensate(ctx context.Context, logger *log.Entry, task domain.FulfillmentTask, order domain.Order, reason string, cause error) Result {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.bookkeepingTimeout)
	defer cancel()

	if _, err := w.orders.Fail(bctx, order.ID, reason); err != nil {
		if errors.Is(err, domain.ErrOrderNotPending) {
			logger.Info("order was finalized concurrently, compensation skipped")
			return Result{Outcome: OutcomeSkipped, Reason: "order is no longer pending"}
		}
		// Заказ остался pending вместе с резервом: следующая попытка повторит фиксацию.
		logger.WithError(err).Error("failed to mark order as failed, keeping reservation for retry")
		return Result{Outcome: OutcomeFailedRetryable, Reason: reason, Err: errors.Join(cause, err)}
	}

	released, err := w.ledger.Release(bctx, order.ProductID, order.DeductionID)
	if err != nil {
		logger.WithError(err).Error("failed to release reservation after failed commit")
	} else {
		w.metrics.RecordCompensation("commit", released)
		if !released {
			logger.Warn("no pending deduction to release")
		}
	}

	return w.failure(logger, task, reason, cause)
}

func (w *Worker) failure(logger *log.Entry, task domain.FulfillmentTask, reason string, cause error) Result {
	if task.Attempt < w.policy.MaxAttempts {
		return Result{Outcome: OutcomeFailedRetryable, Reason: reason, Err: cause}
	}
	logger.WithError(cause).WithField("critical", true).Error("fulfillment failed on final attempt")
	return Result{Outcome: OutcomeFailedTerminal, Reason: reason, Err: cause}
}

// settle досводит резерв для уже завершённого заказа: повторная доставка
// после сбоя Release/Consume не оставляет запись в PendingDeductionSet.
func (w *Worker) settle(ctx context.Context, logger *log.Entry, order domain.Order) {
	switch order.Status {
	case domain.OrderStatusCompleted:
		w.consume(ctx, logger, order)
	case domain.OrderStatusFailed:
		released, err := w.ledger.Release(ctx, order.ProductID, order.DeductionID)
		if err != nil {
			logger.WithError(err).Warn("failed to release reservation of failed order")
			return
		}
		if released {
			w.metrics.RecordCompensation("settle", true)
		}
	}
}

func (w *Worker) consume(ctx context.Context, logger *log.Entry, order domain.Order) {
	if _, err := w.ledger.Consume(context.WithoutCancel(ctx), order.ProductID, order.DeductionID); err != nil {
		w.metrics.RecordConsumeError()
		logger.WithError(err).Error("failed to consume pending deduction after commit")
	}
}

// HandleExhausted вызывается, когда попытки закончились без фиксации:
// pending-заказ принудительно переводится в failed, резерв возвращается.
func (w *Worker) HandleExhausted(ctx context.Context, task domain.FulfillmentTask, cause error) error {
	w.metrics.RecordExhausted()

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.bookkeepingTimeout)
	defer cancel()

	logger := w.logger.WithFields(log.Fields{
		"order_id": task.OrderID,
		"attempt":  task.Attempt,
	})
	if cause == nil {
		cause = errors.New("attempts exhausted")
	}

	order, err := w.orders.Get(bctx, task.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Warn("exhausted task references unknown order")
		return nil
	}
	if err != nil {
		logger.WithError(err).Error("failed to load order in exhausted handler")
		return fmt.Errorf("load order %d: %w", task.OrderID, err)
	}

	logger = logger.WithFields(log.Fields{
		"product_id":   order.ProductID,
		"deduction_id": order.DeductionID,
	})

	if order.Status == domain.OrderStatusPending {
		failed, err := w.orders.Fail(bctx, order.ID, finallyFailedPrefix+cause.Error())
		switch {
		case err == nil:
			order = failed
		case errors.Is(err, domain.ErrOrderNotPending):
			if order, err = w.orders.Get(bctx, task.OrderID); err != nil {
				return fmt.Errorf("reload order %d: %w", task.OrderID, err)
			}
		default:
			logger.WithError(err).Error("failed to force order to failed after exhausting attempts")
			return fmt.Errorf("fail order %d: %w", task.OrderID, err)
		}
	}

	if order.Status == domain.OrderStatusCompleted {
		w.consume(bctx, logger, order)
		return nil
	}

	released, err := w.ledger.Release(bctx, order.ProductID, order.DeductionID)
	if err != nil {
		logger.WithError(err).Error("failed to release reservation in exhausted handler")
		return fmt.Errorf("release reservation: %w", err)
	}
	w.metrics.RecordCompensation("exhausted", released)

	logger.WithError(cause).WithField("released", released).Error("fulfillment task finally failed")
	return nil
}
