// Package memory: in-process очередь задач исполнения для локального запуска и тестов.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/service/fulfillment"
)

const defaultWorkers = 4

// TaskProcessor выполняет попытку и возвращает решение о повторе.
type TaskProcessor interface {
	Process(ctx context.Context, task domain.FulfillmentTask) fulfillment.Decision
}

// Stats: счётчики очереди.
type Stats struct {
	Enqueued  uint64
	Processed uint64
	Retried   uint64
	Exhausted uint64
	Backlog   int
	Delayed   int
}

// Queue хранит backlog задач, раздаёт их воркерам и планирует повторы через time.AfterFunc.
type Queue struct {
	mu      sync.Mutex
	backlog []domain.FulfillmentTask
	timers  map[*time.Timer]struct{}
	notify  chan struct{}
	closed  atomic.Bool

	processor TaskProcessor
	workers   int
	logger    *log.Entry

	enqueued  atomic.Uint64
	processed atomic.Uint64
	retried   atomic.Uint64
	exhausted atomic.Uint64
}

// Option настраивает Queue.
type Option func(*Queue)

// WithWorkers задаёт число воркеров.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithLogger задаёт logger очереди.
func WithLogger(logger *log.Entry) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New создаёт очередь поверх processor.
func New(processor TaskProcessor, options ...Option) *Queue {
	q := &Queue{
		timers:    make(map[*time.Timer]struct{}),
		notify:    make(chan struct{}, 1),
		processor: processor,
		workers:   defaultWorkers,
		logger:    log.WithField("component", "memory-task-queue"),
	}
	for _, option := range options {
		option(q)
	}
	return q
}

// Enqueue добавляет задачу в backlog.
func (q *Queue) Enqueue(_ context.Context, task domain.FulfillmentTask) error {
	if q.closed.Load() {
		return domain.ErrQueueUnavailable
	}
	if task.Attempt <= 0 {
		task.Attempt = 1
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	q.enqueued.Add(1)
	q.push(task)
	return nil
}

func (q *Queue) push(task domain.FulfillmentTask) {
	q.mu.Lock()
	q.backlog = append(q.backlog, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (domain.FulfillmentTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 {
		return domain.FulfillmentTask{}, false
	}
	task := q.backlog[0]
	q.backlog = q.backlog[1:]
	// Будим следующего воркера, если в backlog что-то осталось.
	if len(q.backlog) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return task, true
}

// Run запускает воркеры и блокируется до отмены ctx. После остановки
// приём закрывается, отложенные повторы отменяются.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.WithField("workers", q.workers).Info("memory task queue started")

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}

	<-ctx.Done()
	q.closed.Store(true)
	wg.Wait()

	q.mu.Lock()
	for timer := range q.timers {
		timer.Stop()
	}
	dropped := len(q.backlog) + len(q.timers)
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.WithField("dropped", dropped).Warn("memory task queue stopped with unprocessed tasks")
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if task, ok := q.pop(); ok {
			q.handle(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}

func (q *Queue) handle(ctx context.Context, task domain.FulfillmentTask) {
	decision := q.processor.Process(ctx, task)
	switch {
	case decision.Aborted:
		q.push(task)
	case decision.Retry:
		q.retried.Add(1)
		q.schedule(task.NextAttempt(time.Now().UTC()), decision.Delay)
	case decision.Exhausted:
		q.exhausted.Add(1)
		q.processed.Add(1)
	default:
		q.processed.Add(1)
	}
}

func (q *Queue) schedule(task domain.FulfillmentTask, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		if q.closed.Load() {
			return
		}
		q.push(task)
	})
	q.timers[timer] = struct{}{}
}

// Stats возвращает текущие счётчики очереди.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	backlog, delayed := len(q.backlog), len(q.timers)
	q.mu.Unlock()

	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Retried:   q.retried.Load(),
		Exhausted: q.exhausted.Load(),
		Backlog:   backlog,
		Delayed:   delayed,
	}
}

var _ domain.TaskQueue = (*Queue)(nil)
