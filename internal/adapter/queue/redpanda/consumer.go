package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// maxDeliveryCount bounds in-topic redelivery before a job is routed to the
// dead-letter topic by Nack.
const maxDeliveryCount = 5

// Consumer wraps a Kafka consumer-group client and implements the
// receive/ack half of domain.Queue. Visibility is modeled on Kafka's native
// offset-commit semantics: a record stays "invisible" to the rest of the
// group only in the sense that it was already delivered to this member;
// Ack marks its offset for commit, Nack republishes it (bumping a
// delivery-count header) or routes it to the DLQ topic once the budget is
// exhausted.
type Consumer struct {
	client  *kgo.Client
	topic   string
	groupID string

	poller *AdaptivePoller
	dlq    *Producer

	mu       sync.Mutex
	inFlight map[string]*kgo.Record
}

// NewConsumer constructs a Consumer bound to TopicJobs.
func NewConsumer(brokers []string, groupID string) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, TopicJobs)
}

// NewConsumerWithTopic constructs a Consumer bound to a specific topic.
// This method allows tests to use unique topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID, topic string) (*Consumer, error) {
	slog.Info("creating redpanda consumer", slog.Any("brokers", brokers), slog.String("group_id", groupID), slog.String("topic", topic))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	ctx := context.Background()
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	defer tempClient.Close()

	if err := createOptimizedTopicForParallelProcessing(ctx, tempClient, topic, 8, 1); err != nil {
		slog.Warn("failed to create optimized topic, falling back to standard topic creation",
			slog.String("topic", topic), slog.Any("error", err))
		if err := createTopicIfNotExists(ctx, tempClient, topic, 1, 1); err != nil {
			slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
		}
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.RequestTimeoutOverhead(5 * time.Second),
		kgo.RetryTimeout(30 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),

		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(2 * time.Second),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxPartitionBytes(2 * 1024 * 1024),

		// Offsets are committed explicitly from Ack/Nack, never on a timer:
		// an uncommitted record is redelivered to the group on rebalance.
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	slog.Info("redpanda consumer created successfully", slog.String("group_id", groupID), slog.String("topic", topic))
	return &Consumer{
		client:   client,
		topic:    topic,
		groupID:  groupID,
		poller:   NewAdaptivePoller(100 * time.Millisecond),
		inFlight: make(map[string]*kgo.Record),
	}, nil
}

// WithDLQProducer attaches the producer used to publish exhausted jobs to
// the dead-letter topic. When nil, Nack simply drops the job past budget.
func (c *Consumer) WithDLQProducer(p *Producer) *Consumer {
	c.dlq = p
	return c
}

func receiptFor(r *kgo.Record) string {
	return fmt.Sprintf("%s/%d/%d", r.Topic, r.Partition, r.Offset)
}

func deliveryCountOf(r *kgo.Record) int {
	for _, h := range r.Headers {
		if h.Key == headerDeliveryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 1
}

// Receive blocks until a record is available, ctx is cancelled, or an
// unrecoverable fetch error occurs. It never auto-commits: the caller must
// Ack or Nack the returned receipt.
func (c *Consumer) Receive(ctx domain.Context) (domain.JobMessage, string, int, error) {
	for {
		select {
		case <-ctx.Done():
			return domain.JobMessage{}, "", 0, ctx.Err()
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		fetches := c.client.PollRecords(pollCtx, 1)
		cancel()

		if errs := fetches.Errors(); len(errs) > 0 {
			c.poller.RecordFailure()
			for _, fe := range errs {
				slog.Error("redpanda fetch error", slog.String("topic", fe.Topic), slog.Int("partition", int(fe.Partition)), slog.Any("error", fe.Err))
			}
			time.Sleep(c.poller.GetNextInterval())
			continue
		}

		var rec *kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if rec == nil {
				rec = r
			}
		})
		if rec == nil {
			c.poller.RecordSuccess()
			select {
			case <-ctx.Done():
				return domain.JobMessage{}, "", 0, ctx.Err()
			case <-time.After(c.poller.GetNextInterval()):
			}
			continue
		}
		c.poller.RecordSuccess()

		var msg domain.JobMessage
		if err := json.Unmarshal(rec.Value, &msg); err != nil {
			slog.Error("failed to unmarshal job message, acking to drop poison record",
				slog.String("topic", rec.Topic), slog.Int64("offset", rec.Offset), slog.Any("error", err))
			c.client.MarkCommitRecords(rec)
			continue
		}

		receipt := receiptFor(rec)
		c.mu.Lock()
		c.inFlight[receipt] = rec
		c.mu.Unlock()

		return msg, receipt, deliveryCountOf(rec), nil
	}
}

// Heartbeat is a deliberate no-op: franz-go's group-management goroutine
// sends consumer-group heartbeats on its own schedule, independent of
// PollRecords calls, so there is nothing additional to extend here. It
// exists to satisfy domain.Queue for callers that poll it defensively
// around long-running pipeline stages.
func (c *Consumer) Heartbeat(_ domain.Context, receipt string) error {
	c.mu.Lock()
	_, ok := c.inFlight[receipt]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("heartbeat: unknown receipt %q", receipt)
	}
	return nil
}

// Ack commits the record's offset, making it invisible to future Receive
// calls from this group.
func (c *Consumer) Ack(_ domain.Context, receipt string) error {
	c.mu.Lock()
	rec, ok := c.inFlight[receipt]
	delete(c.inFlight, receipt)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("ack: unknown receipt %q", receipt)
	}
	c.client.MarkCommitRecords(rec)
	return nil
}

// Nack commits the record's offset (it has already been delivered at least
// once and Kafka cannot rewind a single record in isolation) and either
// republishes it to the same topic with a bumped delivery-count header, or,
// once maxDeliveryCount is exceeded, routes it to the dead-letter topic.
func (c *Consumer) Nack(ctx domain.Context, receipt string, reason string) error {
	c.mu.Lock()
	rec, ok := c.inFlight[receipt]
	delete(c.inFlight, receipt)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("nack: unknown receipt %q", receipt)
	}
	if err := c.client.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("nack: commit: %w", err)
	}

	next := deliveryCountOf(rec) + 1
	if next > maxDeliveryCount {
		slog.Warn("job exhausted redelivery budget, routing to DLQ",
			slog.String("receipt", receipt), slog.String("reason", reason))
		if c.dlq == nil {
			return nil
		}
		return c.dlq.EnqueueDLQ(ctx, string(rec.Key), rec.Value)
	}

	redelivered := &kgo.Record{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: rec.Key},
			{Key: headerDeliveryCount, Value: []byte(strconv.Itoa(next))},
			{Key: headerNackReason, Value: []byte(reason)},
		},
	}
	return c.client.ProduceSync(ctx, redelivered).FirstErr()
}

// Close releases the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
