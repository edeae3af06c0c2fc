package redpanda

import (
	"time"

	"github.com/resumecore/ingestion-core/internal/domain"
)

// Queue composes a Producer and Consumer into a single value satisfying
// domain.Queue, so the same brokers/group can both submit and process jobs
// without every caller needing to track two separate client handles.
type Queue struct {
	*Producer
	*Consumer
}

// NewQueue dials a Producer bound to TopicJobs and a Consumer in groupID
// reading the same topic, and returns them as one domain.Queue.
func NewQueue(brokers []string, groupID string) (*Queue, error) {
	p, err := NewProducer(brokers)
	if err != nil {
		return nil, err
	}
	c, err := NewConsumer(brokers, groupID)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	c.dlq = p
	return &Queue{Producer: p, Consumer: c}, nil
}

// Close releases both the producer and consumer clients.
func (q *Queue) Close() error {
	cErr := q.Consumer.Close()
	pErr := q.Producer.Close()
	if cErr != nil {
		return cErr
	}
	return pErr
}

// Enqueue disambiguates the embedded Producer's method now that Queue also
// embeds a Consumer (which does not implement Enqueue, so there is no real
// collision, but the explicit forward documents intent).
func (q *Queue) Enqueue(ctx domain.Context, msg domain.JobMessage, visibilityTimeout time.Duration) error {
	return q.Producer.Enqueue(ctx, msg, visibilityTimeout)
}

var _ domain.Queue = (*Queue)(nil)
