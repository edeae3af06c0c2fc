// Package redpanda provides Redpanda/Kafka queue integration.
//
// It handles message publishing and consumption for job processing.
// The package provides reliable message delivery with exactly-once
// semantics and supports horizontal scaling of workers.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/resumecore/ingestion-core/internal/adapter/observability"
	"github.com/resumecore/ingestion-core/internal/domain"
)

const (
	// TopicJobs is the Kafka topic carrying queued processing jobs.
	TopicJobs = "ingestion-jobs"
	// TopicDLQ is the dead-letter topic for jobs that exhausted redelivery.
	TopicDLQ = "ingestion-jobs-dlq"

	headerJobID             = "job_id"
	headerDeliveryCount     = "delivery_count"
	headerVisibilityTimeout = "visibility_timeout_ms"
	headerNackReason        = "nack_reason"
)

// Producer wraps a Kafka producer and implements the enqueue half of
// domain.Queue with exactly-once semantics.
type Producer struct {
	client *kgo.Client
	topic  string
	// Channel-based approach for concurrent processing
	transactionChan chan struct{}
}

// NewProducer constructs a Producer publishing to TopicJobs.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTopic(brokers, "ingestion-core-producer", TopicJobs)
}

// NewProducerWithTransactionalID constructs a Producer with a custom transactional ID.
// This is useful for testing to avoid conflicts between multiple producers.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	return NewProducerWithTopic(brokers, transactionalID, TopicJobs)
}

// NewProducerWithTopic constructs a Producer with a custom transactional ID and topic.
// This method allows tests to use unique topics for isolation.
func NewProducerWithTopic(brokers []string, transactionalID, topic string) (*Producer, error) {
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("transactional_id", transactionalID), slog.String("topic", topic))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		// Enable transactional producer for EOS semantics
		kgo.TransactionalID(transactionalID),
		// Enable retries for reliability
		kgo.RequestRetries(10),
		// Producer batch configuration
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create redpanda client", slog.Any("error", err))
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	partitions := int32(8) // Multiple partitions for parallel processing
	replicationFactor := int16(1)

	if err := createOptimizedTopicForParallelProcessing(ctx, client, topic, partitions, replicationFactor); err != nil {
		slog.Warn("failed to create optimized topic, falling back to standard topic creation",
			slog.String("topic", topic),
			slog.Any("error", err))
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("failed to create topic, it may already exist",
				slog.String("topic", topic),
				slog.Any("error", err))
		}
	}
	if err := createTopicIfNotExists(ctx, client, TopicDLQ, 1, 1); err != nil {
		slog.Warn("failed to create DLQ topic, it may already exist", slog.String("topic", TopicDLQ), slog.Any("error", err))
	}

	slog.Info("redpanda producer created successfully")
	return &Producer{
		client:          client,
		topic:           topic,
		transactionChan: make(chan struct{}, 1), // Buffered channel for serializing transactions
	}, nil
}

// EnqueueDLQ publishes a job past its redelivery budget to the dead-letter topic.
func (p *Producer) EnqueueDLQ(ctx domain.Context, jobID string, dlqData []byte) error {
	record := &kgo.Record{
		Key:   []byte(jobID),
		Value: dlqData,
		Topic: TopicDLQ,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: []byte(jobID)},
		},
	}

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	default:
		return fmt.Errorf("transaction channel is busy")
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	produceResult := p.client.ProduceSync(ctx, record)
	if err := produceResult.FirstErr(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction after produce error", slog.String("job_id", jobID), slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce DLQ message: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("DLQ message produced successfully", slog.String("job_id", jobID))
	return nil
}

// Enqueue publishes a job message with exactly-once semantics. The
// visibilityTimeout is recorded as a header for observability; the actual
// redelivery guarantee comes from the consumer group's offset-commit model
// (see Consumer.Receive/Ack/Nack): an uncommitted record is redelivered to
// another group member once the holder's session lapses or it is explicitly
// Nacked.
func (p *Producer) Enqueue(ctx domain.Context, msg domain.JobMessage, visibilityTimeout time.Duration) error {
	if msg.JobID == "" {
		return fmt.Errorf("enqueue: job id required")
	}

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("marshal payload: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: []byte(msg.JobID)},
			{Key: headerVisibilityTimeout, Value: []byte(strconv.FormatInt(visibilityTimeout.Milliseconds(), 10))},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())

	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	observability.EnqueueJob("process")
	slog.Info("redpanda enqueue successful", slog.String("topic", p.topic), slog.String("job_id", msg.JobID))
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	if p.transactionChan != nil {
		select {
		case <-p.transactionChan:
		default:
			close(p.transactionChan)
		}
	}
	return nil
}
