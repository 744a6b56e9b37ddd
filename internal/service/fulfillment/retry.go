package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// RetryPolicy задаёт число попыток, задержки между ними и таймаут одной попытки.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff[i]: задержка перед попыткой i+2; последний элемент повторяется.
	Backoff []time.Duration
	Timeout time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки, 5/10/15s, 60s на попытку.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
		Timeout:     60 * time.Second,
	}
}

// Validate проверяет согласованность политики.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if p.Timeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	for i, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("backoff[%d] must be non-negative", i)
		}
	}
	return nil
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	return p
}

// Delay возвращает задержку перед следующей попыткой после попытки attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Decision говорит транспорту очереди, что делать с задачей после попытки.
type Decision struct {
	Result Result
	// Retry: поставить задачу Task.NextAttempt через Delay.
	Retry bool
	Delay time.Duration
	// Exhausted: попытки закончились, обработчик исчерпания уже отработал.
	Exhausted bool
	// Aborted: попытка не начиналась (остановка), задачу нужно доставить заново как есть.
	Aborted bool
}

// Processor связывает Worker с политикой повторов; транспорт отвечает только за расписание.
type Processor struct {
	worker *Worker
	logger *log.Entry
}

// NewProcessor создаёт Processor поверх воркера.
func NewProcessor(worker *Worker, logger *log.Entry) *Processor {
	if logger == nil {
		logger = log.WithField("component", "fulfillment-processor")
	}
	return &Processor{worker: worker, logger: logger}
}

// Policy возвращает политику повторов воркера.
func (p *Processor) Policy() RetryPolicy {
	return p.worker.policy
}

// Process выполняет попытку под таймаутом политики и принимает решение о повторе.
// Отмена ctx до начала попытки даёт Decision{Aborted: true}; после начала попытка
// доводится до конца.
func (p *Processor) Process(ctx context.Context, task domain.FulfillmentTask) Decision {
	if ctx.Err() != nil {
		return Decision{Aborted: true}
	}
	if task.Attempt <= 0 {
		task.Attempt = 1
	}

	// Начатая попытка не прерывается остановкой или ребалансом транспорта:
	// её ограничивает только таймаут политики.
	policy := p.worker.policy
	detached := context.WithoutCancel(ctx)
	attemptCtx, cancel := context.WithTimeout(detached, policy.Timeout)
	result := p.worker.Handle(attemptCtx, task)
	cancel()

	decision := Decision{Result: result}
	if result.Outcome == OutcomeCommitted || result.Outcome == OutcomeSkipped {
		return decision
	}

	if result.Outcome == OutcomeFailedRetryable && task.Attempt < policy.MaxAttempts {
		decision.Retry = true
		decision.Delay = policy.Delay(task.Attempt)
		p.worker.metrics.RecordRetry()
		p.logger.WithFields(log.Fields{
			"order_id": task.OrderID,
			"attempt":  task.Attempt,
			"delay":    decision.Delay,
			"reason":   result.Reason,
		}).Warn("fulfillment attempt failed, scheduling retry")
		return decision
	}

	decision.Exhausted = true
	cause := result.Err
	if cause == nil {
		cause = errors.New(result.Reason)
	}
	if err := p.worker.HandleExhausted(detached, task, cause); err != nil {
		p.logger.WithError(err).WithField("order_id", task.OrderID).Error("exhausted handler failed")
	}
	return decision
}
