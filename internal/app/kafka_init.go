package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashorder/internal/health"
	"github.com/vladislavdragonenkov/flashorder/internal/messaging/kafka"
	memqueue "github.com/vladislavdragonenkov/flashorder/internal/queue/memory"
	"github.com/vladislavdragonenkov/flashorder/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/flashorder/internal/service/outbox"
)

// taskTransport связывает очередь задач, исполнителя и публикацию событий.
// checker может быть nil, если у транспорта нет своей проверки.
type taskTransport struct {
	queue   domain.TaskQueue
	events  domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	checker healthcheck.Checker
	run     func(ctx context.Context) error
	close   func()
}

// memoryBacklogLimit: при большем backlog in-process очереди сервис помечается degraded.
const memoryBacklogLimit = 10_000

// initTaskTransport выбирает очередь задач: in-process или Kafka.
func initTaskTransport(cfg Config, processor *fulfillment.Processor, logger *log.Entry) (*taskTransport, error) {
	switch cfg.QueueDriver {
	case "", QueueDriverMemory:
		queue := memqueue.New(processor,
			memqueue.WithWorkers(cfg.QueueWorkers),
			memqueue.WithLogger(log.WithField("component", "memory-queue")),
		)
		logger.WithField("workers", cfg.QueueWorkers).Info("using in-process task queue")
		backlog := healthcheck.NewBacklogChecker("task-queue", func() int { return queue.Stats().Backlog }, memoryBacklogLimit)
		return &taskTransport{
			queue:   queue,
			events:  outbox.NewLogPublisher(log.WithField("component", "outbox-log-publisher")),
			checker: backlog,
			run:     queue.Run,
			close:   func() {},
		}, nil

	case QueueDriverKafka:
		producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.ServiceName, logger)
		if err != nil {
			return nil, err
		}
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, processor, producer)
		if err != nil {
			closeKafka(producer, logger)
			return nil, fmt.Errorf("create kafka consumer: %w", err)
		}
		return &taskTransport{
			queue:  kafka.NewTaskQueue(producer),
			events: kafka.NewEventPublisher(producer),
			dlq:    kafka.NewEventDeadLetterPublisher(producer),
			run:    consumer.Run,
			close:  func() { closeKafka(producer, logger) },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.QueueDriver)
	}
}

// initKafkaProducer создаёт Kafka producer для задач, повторов и событий.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Error("failed to create kafka producer")
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
