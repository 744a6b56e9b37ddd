package fulfillment

// Outcome: итог одной попытки исполнения заказа.
type Outcome string

const (
	// OutcomeCommitted: остаток списан в БД, заказ completed, резерв поглощён.
	OutcomeCommitted Outcome = "committed"
	// OutcomeSkipped: заказа нет или он уже не pending; это успешное завершение задачи.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailedRetryable: попытка не удалась, задачу можно повторить.
	OutcomeFailedRetryable Outcome = "failed_retryable"
	// OutcomeFailedTerminal: попытка не удалась и была последней.
	OutcomeFailedTerminal Outcome = "failed_terminal"
)

// Result описывает результат Handle.
type Result struct {
	Outcome Outcome
	// Reason: текст, записанный в failure_reason (или причина пропуска).
	Reason string
	Err    error
}

// Done сообщает, что задачу больше не нужно повторять.
func (r Result) Done() bool {
	return r.Outcome == OutcomeCommitted || r.Outcome == OutcomeSkipped || r.Outcome == OutcomeFailedTerminal
}
