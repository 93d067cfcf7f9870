// Package nats implements the replication Bus contract on NATS JetStream.
// All collections share one stream; each collection publishes to its own
// subject underneath it. Subscriptions use ephemeral ordered consumers
// starting at new messages, which matches the protocol's contract: the
// stream is a live feed, not a replayable log.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/codetrek/replikit/internal/storage"
	"github.com/codetrek/replikit/pkg/replication"
)

const (
	// StreamName is the JetStream stream carrying every collection topic.
	StreamName = "REPLICATION"

	subjectPrefix    = "replication."
	subscriberBuffer = 64
)

// Bus carries one collection's change topic over JetStream.
type Bus struct {
	js      jetstream.JetStream
	subject string
	log     *zap.Logger
}

// New creates a bus for the given collection, ensuring the shared stream
// exists.
func New(ctx context.Context, nc *nats.Conn, collection string, log *zap.Logger) (*Bus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	// Streams are normally managed out of band; ensuring it here keeps
	// development setups working.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("nats: ensure stream %s: %w", StreamName, err)
	}

	return newBus(js, collection, log), nil
}

func newBus(js jetstream.JetStream, collection string, log *zap.Logger) *Bus {
	return &Bus{
		js:      js,
		subject: subjectPrefix + collection,
		log:     log,
	}
}

// Publish sends one change batch to the collection subject.
func (b *Bus) Publish(ctx context.Context, batch replication.ChangeBatch[*storage.Document]) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("nats: encode batch: %w", err)
	}
	if _, err := b.js.Publish(ctx, b.subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", b.subject, err)
	}
	return nil
}

// Subscribe opens an ordered consumer on the collection subject,
// delivering messages published from now on.
func (b *Bus) Subscribe(ctx context.Context) (replication.Subscription[*storage.Document], error) {
	cons, err := b.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{b.subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats: ordered consumer on %s: %w", b.subject, err)
	}

	sub := &subscription{
		ch:  make(chan replication.ChangeBatch[*storage.Document], subscriberBuffer),
		log: b.log,
	}

	cc, err := cons.Consume(sub.handle,
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			sub.terminate(err)
		}))
	if err != nil {
		return nil, fmt.Errorf("nats: consume %s: %w", b.subject, err)
	}
	sub.mu.Lock()
	sub.stop = cc.Stop
	alreadyDead := sub.closed
	sub.mu.Unlock()
	if alreadyDead {
		// The error handler fired before we saw the consume context.
		cc.Stop()
	}

	return sub, nil
}

type subscription struct {
	stop func()
	log  *zap.Logger

	mu     sync.Mutex
	ch     chan replication.ChangeBatch[*storage.Document]
	err    error
	closed bool
}

func (s *subscription) handle(msg jetstream.Msg) {
	var batch replication.ChangeBatch[*storage.Document]
	if err := json.Unmarshal(msg.Data(), &batch); err != nil {
		s.log.Error("dropping undecodable change batch", zap.Error(err))
		_ = msg.Ack()
		return
	}

	s.mu.Lock()
	if !s.closed {
		select {
		case s.ch <- batch:
		default:
			// Consumer is not keeping up; it reconciles through pull.
			s.log.Warn("subscriber buffer full, dropping change batch",
				zap.String("subject", msg.Subject()))
		}
	}
	s.mu.Unlock()

	_ = msg.Ack()
}

func (s *subscription) Batches() <-chan replication.ChangeBatch[*storage.Document] {
	return s.ch
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.terminate(nil)
	return nil
}

func (s *subscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	if s.stop != nil {
		s.stop()
	}
	close(s.ch)
}
