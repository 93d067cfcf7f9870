// Package memory implements the replication Bus contract as an in-process
// fan-out hub. It backs the memory bus mode and the test suites, and can
// forcibly break subscriptions to exercise the streamer's self-healing.
package memory

import (
	"context"
	"sync"

	"github.com/codetrek/replikit/internal/storage"
	"github.com/codetrek/replikit/pkg/replication"
)

const subscriberBuffer = 64

// Hub carries one collection's change topic.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty topic hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Publish fans the batch out to every live subscriber. A subscriber whose
// buffer is full misses the batch; it reconciles through pull.
func (h *Hub) Publish(ctx context.Context, batch replication.ChangeBatch[*storage.Document]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.deliver(batch)
	}
	return nil
}

// Subscribe attaches a new subscriber to the topic.
func (h *Hub) Subscribe(ctx context.Context) (replication.Subscription[*storage.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		hub: h,
		ch:  make(chan replication.ChangeBatch[*storage.Document], subscriberBuffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// Drop forcibly terminates every live subscription with the given error,
// simulating a broker failure. A nil error simulates a clean broker-side
// completion.
func (h *Hub) Drop(err error) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(err)
	}
}

// Subscription is one attachment to a hub topic.
type Subscription struct {
	hub *Hub

	mu     sync.Mutex
	ch     chan replication.ChangeBatch[*storage.Document]
	err    error
	closed bool
}

func (s *Subscription) Batches() <-chan replication.ChangeBatch[*storage.Document] {
	return s.ch
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() error {
	s.terminate(nil)
	return nil
}

func (s *Subscription) deliver(batch replication.ChangeBatch[*storage.Document]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- batch:
	default:
		// Subscriber is not keeping up; the stream is a latency
		// optimization, pull is the source of truth.
	}
}

func (s *Subscription) terminate(err error) {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
