// Package audit publishes a best-effort event log of lock state
// transitions to Kafka/Redpanda via franz-go, mirroring the construction
// idiom of the teacher's kafka.Consumer (kgo.NewClient with a seed-broker
// list, a dedicated lifecycle context, graceful Close) but as a producer:
// this system has no consumer side, only an outbound audit trail that
// operators can tail independently of the lock RPC path.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/coherentd/lockd/internal/protocol"
)

// EventKind names the lock-service event being recorded.
type EventKind string

const (
	EventAcquireGranted EventKind = "acquire_granted"
	EventAcquireQueued  EventKind = "acquire_queued"
	EventRevoke         EventKind = "revoke"
	EventRetry          EventKind = "retry"
	EventRelease        EventKind = "release"
	EventStateTransfer  EventKind = "state_transfer"
)

// Event is one audit record. It is marshaled as JSON and produced to
// AuditTopic with the lock ID as the partition key, so records for a
// given lock always land in the same partition and preserve order.
type Event struct {
	Kind      EventKind         `json:"kind"`
	LockID    protocol.LockID   `json:"lock_id"`
	Client    protocol.ClientID `json:"client,omitempty"`
	XID       protocol.XID      `json:"xid,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Publisher is an optional, off-by-default sink for Event records. A nil
// *Publisher is valid and Publish on it is a no-op, so call sites never
// need a feature-flag branch of their own.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Publisher against the given brokers/topic. Construction
// only dials; it does not block waiting for the cluster to be reachable,
// matching the teacher's fire-and-forget consumer setup.
func New(brokers []string, topic string, logger zerolog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1024*1024),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "audit").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Publish records an event asynchronously. It never blocks the caller on
// broker acknowledgement and never returns an error: a dropped audit
// record is never allowed to affect lock-service correctness or latency.
func (p *Publisher) Publish(evt Event) {
	if p == nil {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error().Err(err).Msg("encoding audit event")
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatUint(uint64(evt.LockID), 10)),
		Value: payload,
	}

	p.wg.Add(1)
	p.client.Produce(p.ctx, record, func(_ *kgo.Record, err error) {
		defer p.wg.Done()
		if err != nil {
			p.logger.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("audit record delivery failed")
		}
	})
}

// Close flushes pending records (bounded by ctx) and shuts the client down.
func (p *Publisher) Close(ctx context.Context) {
	if p == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	p.cancel()
	p.client.Close()
}
