package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// TaskQueue публикует задачи исполнения в Kafka. Ключ сообщения: ID заказа,
// поэтому все попытки одного заказа попадают в одну партицию.
type TaskQueue struct {
	producer *Producer
	topic    string
}

// NewTaskQueue создаёт очередь задач поверх producer.
func NewTaskQueue(producer *Producer) *TaskQueue {
	return &TaskQueue{producer: producer, topic: TopicFulfillmentTasks}
}

// Enqueue ставит первую попытку задачи. Ошибка брокера оборачивается в ErrQueueUnavailable.
func (q *TaskQueue) Enqueue(ctx context.Context, task domain.FulfillmentTask) error {
	if task.Attempt <= 0 {
		task.Attempt = 1
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if err := q.producer.PublishEvent(ctx, q.topic, taskKey(task), task, retryHeaders(task, time.Time{})...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// scheduleRetry публикует следующую попытку в retry topic с отметкой x-not-before.
func scheduleRetry(ctx context.Context, producer *Producer, next domain.FulfillmentTask, delay time.Duration) error {
	at := next.EnqueuedAt.Add(delay)
	return producer.PublishEvent(ctx, TopicFulfillmentRetry, taskKey(next), next, retryHeaders(next, at)...)
}

func taskKey(task domain.FulfillmentTask) string {
	return strconv.FormatInt(task.OrderID, 10)
}

func retryHeaders(task domain.FulfillmentTask, notBefore time.Time) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(task.Attempt - 1))},
	}
	if !notBefore.IsZero() {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(HeaderNotBefore),
			Value: []byte(notBefore.UTC().Format(time.RFC3339Nano)),
		})
	}
	return headers
}

var _ domain.TaskQueue = (*TaskQueue)(nil)
