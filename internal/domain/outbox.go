package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла заказа.
const (
	EventOrderAccepted  = "order.accepted"
	EventOrderCompleted = "order.completed"
	EventOrderFailed    = "order.failed"

	AggregateOrder = "order"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderEventPayload: тело события заказа в outbox.
type OrderEventPayload struct {
	OrderPublicID string      `json:"order_public_id"`
	UserID        int64       `json:"user_id"`
	ProductID     int64       `json:"product_id"`
	Quantity      int64       `json:"quantity"`
	TotalPrice    string      `json:"total_price"`
	Status        OrderStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// NewOrderEvent строит outbox-сообщение по текущему состоянию заказа.
func NewOrderEvent(eventType string, order Order) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEventPayload{
		OrderPublicID: order.PublicID,
		UserID:        order.UserID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
		TotalPrice:    order.TotalPrice.StringFixed(2),
		Status:        order.Status,
		FailureReason: order.FailureReason,
		OccurredAt:    order.UpdatedAt.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, err
	}

	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   order.PublicID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     order.UpdatedAt,
	}, nil
}

// OutboxDeadLetter: тело сообщения DLQ для события, которое не удалось опубликовать.
// cmd/dlq-replay восстанавливает из него исходное событие.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

// DeadLetter упаковывает сообщение и причину отказа в OutboxMessage для DLQ.
func (m OutboxMessage) DeadLetter(attempts int, cause error, failedAt time.Time) (OutboxMessage, error) {
	letter := OutboxDeadLetter{
		OutboxID:      m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       json.RawMessage(m.Payload),
		Attempts:      attempts,
		FailedAt:      failedAt.UTC(),
	}
	if cause != nil {
		letter.PublishError = cause.Error()
	}
	if len(letter.Payload) == 0 || !json.Valid(letter.Payload) {
		letter.Payload = json.RawMessage("null")
	}

	payload, err := json.Marshal(letter)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       payload,
		CreatedAt:     failedAt,
	}, nil
}
