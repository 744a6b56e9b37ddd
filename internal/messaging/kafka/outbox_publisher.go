package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// EventPublisher отправляет события заказов из outbox в Kafka.
// Ключ сообщения: публичный ID заказа, поэтому события одного заказа идут в одну партицию.
type EventPublisher struct {
	producer   *Producer
	topic      string
	deadLetter bool
	now        func() time.Time
}

// NewEventPublisher создаёт publisher для TopicOrderEvents.
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, topic: TopicOrderEvents, now: time.Now}
}

// NewEventDeadLetterPublisher создаёт publisher для событий, не доставленных в TopicOrderEvents.
// Сообщения уходят в TopicDeadLetterQueue с заголовками исходного топика и причины отказа.
func NewEventDeadLetterPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, topic: TopicDeadLetterQueue, deadLetter: true, now: time.Now}
}

// Topic возвращает топик назначения.
func (p *EventPublisher) Topic() string {
	return p.topic
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka event publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := OrderEventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now().UTC(),
	}
	return p.producer.PublishEvent(ctx, p.topic, key, envelope, p.headers(event)...)
}

func (p *EventPublisher) headers(event domain.OutboxMessage) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{{Key: []byte(HeaderEventType), Value: []byte(event.EventType)}}
	if !p.deadLetter {
		return headers
	}

	headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(TopicOrderEvents)})
	var letter domain.OutboxDeadLetter
	if err := json.Unmarshal(event.Payload, &letter); err != nil {
		return headers
	}
	if letter.PublishError != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(letter.PublishError)})
	}
	if !letter.FailedAt.IsZero() {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(HeaderFailedAt),
			Value: []byte(letter.FailedAt.UTC().Format(time.RFC3339Nano)),
		})
	}
	return headers
}

var _ domain.OutboxPublisher = (*EventPublisher)(nil)
