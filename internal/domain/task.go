package domain

import "time"

// FulfillmentTask: задача асинхронной фиксации заказа.
type FulfillmentTask struct {
	OrderID int64 `json:"order_id"`
	// Attempt: номер попытки, начиная с 1.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NextAttempt возвращает копию задачи для следующей попытки.
func (t FulfillmentTask) NextAttempt(now time.Time) FulfillmentTask {
	next := t
	next.Attempt++
	next.EnqueuedAt = now
	return next
}
