package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	"github.com/vladislavdragonenkov/flashorder/internal/service/fulfillment"
)

// errAborted: попытка прервана остановкой сессии; сообщение не маркируется.
var errAborted = errors.New("fulfillment attempt aborted")

// TaskProcessor выполняет попытку и возвращает решение о повторе.
type TaskProcessor interface {
	Process(ctx context.Context, task domain.FulfillmentTask) fulfillment.Decision
}

// Consumer читает задачи исполнения из основного и retry topic.
// Повторы переотправляются в retry topic, исчерпанные задачи уходят в DLQ.
type Consumer struct {
	consumer  sarama.ConsumerGroup
	topics    []string
	processor TaskProcessor
	producer  *Producer // Producer для retry topic и DLQ
	logger    *log.Entry
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewConsumer создает consumer group для задач исполнения.
func NewConsumer(brokers []string, groupID string, processor TaskProcessor, producer *Producer) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	// Задачи, поставленные до первого подключения группы, тоже должны быть исполнены.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, processor, producer), nil
}

func newConsumer(group sarama.ConsumerGroup, processor TaskProcessor, producer *Producer) *Consumer {
	return &Consumer{
		consumer:  group,
		topics:    []string{TopicFulfillmentTasks, TopicFulfillmentRetry},
		processor: processor,
		producer:  producer,
		logger:    log.WithField("component", "kafka-task-consumer"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает consumer и блокируется до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition. Если сообщение не удалось
// довести до конечного состояния, claim завершается: сессия перезапустится
// и сообщение будет прочитано заново с последнего закоммиченного offset.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			err := c.handleMessage(session.Context(), message)
			if errors.Is(err, errAborted) {
				return nil
			}
			if err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message handling failed, restarting claim")
				return err
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage доводит сообщение до одного из исходов: обработано,
// переотправлено в retry topic или отправлено в DLQ.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	task, err := ParseTask(message)
	if err != nil {
		c.logger.WithError(err).WithField("offset", message.Offset).Warn("malformed fulfillment task, sending to DLQ")
		return c.sendToDLQ(ctx, message, err.Error(), retryCount(message))
	}

	// Ожидание держит всю партицию retry topic: задача с задержкой 15s
	// задерживает стоящие за ней задачи с меньшей задержкой.
	if !c.waitUntil(ctx, notBefore(message)) {
		return errAborted
	}

	logger := c.logger.WithFields(log.Fields{
		"order_id": task.OrderID,
		"attempt":  task.Attempt,
	})

	decision := c.processor.Process(ctx, task)
	switch {
	case decision.Aborted:
		return errAborted

	case decision.Retry:
		next := task.NextAttempt(c.now())
		if err := scheduleRetry(ctx, c.producer, next, decision.Delay); err != nil {
			if ctx.Err() != nil {
				return errAborted
			}
			return fmt.Errorf("schedule retry for order %d: %w", task.OrderID, err)
		}
		logger.WithField("delay", decision.Delay).Info("fulfillment retry scheduled")
		return nil

	case decision.Exhausted:
		cause := decision.Result.Reason
		if decision.Result.Err != nil {
			cause = decision.Result.Err.Error()
		}
		if err := c.sendToDLQ(ctx, message, cause, task.Attempt); err != nil {
			return err
		}
		logger.Warn("fulfillment task sent to DLQ after max attempts")
		return nil
	}

	return nil
}

// waitUntil ждёт наступления at; false: ctx отменён раньше.
func (c *Consumer) waitUntil(ctx context.Context, at time.Time) bool {
	if at.IsZero() {
		return ctx.Err() == nil
	}
	wait := at.Sub(c.now())
	if wait <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause string, retries int) error {
	if c.producer == nil {
		return fmt.Errorf("dlq producer is not configured")
	}

	failedAt := c.now()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause,
		FailedAt:          failedAt,
		RetryCount:        retries,
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(cause)},
		{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339Nano))},
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retries))},
	}

	if err := c.producer.PublishEvent(ctx, TopicDeadLetterQueue, string(message.Key), letter, headers...); err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	return nil
}
