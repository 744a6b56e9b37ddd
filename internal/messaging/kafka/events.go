package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// Topics для Kafka
const (
	TopicFulfillmentTasks = "flashorder.fulfillment.tasks"
	TopicFulfillmentRetry = "flashorder.fulfillment.retry"
	TopicOrderEvents      = "flashorder.order.events"
	TopicDeadLetterQueue  = "flashorder.dlq" // Dead Letter Queue для исчерпанных задач и событий
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderNotBefore     = "x-not-before"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// OrderEventEnvelope: формат события заказа в TopicOrderEvents.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter: сообщение, отправленное в DLQ.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseTask разбирает задачу исполнения из сообщения.
// Номер попытки берётся из тела, а при его отсутствии из x-retry-count.
func ParseTask(message *sarama.ConsumerMessage) (domain.FulfillmentTask, error) {
	var task domain.FulfillmentTask
	if err := json.Unmarshal(message.Value, &task); err != nil {
		return domain.FulfillmentTask{}, fmt.Errorf("failed to unmarshal fulfillment task: %w", err)
	}
	if task.OrderID <= 0 {
		return domain.FulfillmentTask{}, fmt.Errorf("fulfillment task has invalid order id %d", task.OrderID)
	}
	if task.Attempt <= 0 {
		task.Attempt = retryCount(message) + 1
	}
	return task, nil
}

// ParseDeadLetter разбирает сообщение из DLQ.
func ParseDeadLetter(message *sarama.ConsumerMessage) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return letter, nil
}

// ParseOrderEvent парсит событие заказа из сообщения.
func ParseOrderEvent(message *sarama.ConsumerMessage) (OrderEventEnvelope, error) {
	var event OrderEventEnvelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return OrderEventEnvelope{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return event, nil
}

func header(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// retryCount извлекает retry count из headers сообщения.
func retryCount(message *sarama.ConsumerMessage) int {
	value, ok := header(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(value)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// notBefore возвращает момент, раньше которого повтор обрабатывать нельзя.
func notBefore(message *sarama.ConsumerMessage) time.Time {
	value, ok := header(message, HeaderNotBefore)
	if !ok {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return at
}
