package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/metrics"
)

// Config задаёт расписание и лимиты доставки событий.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// MaxRetryDelay ограничивает рост паузы между попытками.
	MaxRetryDelay time.Duration
}

// DefaultConfig возвращает параметры доставки по умолчанию.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		BatchSize:      100,
		MaxAttempts:    3,
		RetryBaseDelay: 50 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	return c
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

// WithDeadLetters задаёт publisher для событий, исчерпавших попытки.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.deadLetters = publisher
	}
}

// WithMetrics подключает метрики доставки.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// BatchResult: итог одного цикла опроса.
type BatchResult struct {
	Pulled       int
	Sent         int
	DeadLettered int
}

// Worker публикует события жизненного цикла заказов из outbox.
// Событие помечается sent только после успешной публикации, поэтому доставка at-least-once.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	metrics     *metrics.OutboxMetrics
	cfg         Config
	now         func() time.Time
}

// NewWorker создаёт воркер доставки событий.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithField("component", "outbox-worker"),
		cfg:       cfg.normalized(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repository or publisher is missing")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result := w.ProcessOnce(ctx)
		next := w.cfg.PollInterval
		if result.Pulled == w.cfg.BatchSize && result.Sent+result.DeadLettered == result.Pulled {
			// Полный батч разобран без ошибок: backlog, вероятно, не пуст.
			next = 0
		}
		timer.Reset(next)
	}
}

// ProcessOnce публикует один батч pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending order events")
		return result
	}
	result.Pulled = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			return result
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":       event.ID,
			"event_type":      event.EventType,
			"order_public_id": event.AggregateID,
		})

		attempts, err := w.deliver(ctx, event)
		if err == nil {
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark order event as sent")
				continue
			}
			result.Sent++
			continue
		}
		if ctx.Err() != nil {
			// Остановка: событие остаётся pending до следующего запуска.
			return result
		}

		entry.WithError(err).WithField("attempts", attempts).Error("order event publish failed")
		if w.deadLetter(ctx, entry, event, attempts, err) {
			result.DeadLettered++
		}
		if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark order event as failed")
		}
	}

	return result
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			w.metrics.RecordPublish("sent")
			return attempt, nil
		}
		w.metrics.RecordPublish("error")

		if attempt == w.cfg.MaxAttempts {
			break
		}
		if delay := w.retryDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return w.cfg.MaxAttempts, fmt.Errorf("publish %s: %w", event.EventType, lastErr)
}

// retryDelay удваивает базовую паузу с каждой попыткой, не выходя за MaxRetryDelay.
func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.cfg.RetryBaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		if delay >= w.cfg.MaxRetryDelay/2 {
			return w.cfg.MaxRetryDelay
		}
		delay *= 2
	}
	return min(delay, w.cfg.MaxRetryDelay)
}

func (w *Worker) deadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, attempts int, cause error) bool {
	if w.deadLetters == nil {
		return false
	}

	letter, err := event.DeadLetter(attempts, cause, w.now())
	if err == nil {
		err = w.deadLetters.Publish(ctx, letter)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to publish order event to DLQ")
		w.metrics.RecordPublish("dlq_failed")
		return false
	}
	w.metrics.RecordDeadLetter()
	return true
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}
