package replication

import "context"

// Bus is the change event bus contract. One Bus carries the change topic
// of one replicated collection, delivering published batches to all live
// subscribers at least once.
type Bus[D Document] interface {
	// Publish sends a change batch to every current subscriber of the
	// collection's topic.
	Publish(ctx context.Context, batch ChangeBatch[D]) error

	// Subscribe opens a subscription to the collection's topic. Delivery
	// order is guaranteed only within the lifetime of the returned
	// subscription.
	Subscribe(ctx context.Context) (Subscription[D], error)
}

// Subscription is one live attachment to a collection topic.
type Subscription[D Document] interface {
	// Batches returns the channel batches arrive on. The channel closes
	// when the subscription ends, normally or otherwise.
	Batches() <-chan ChangeBatch[D]

	// Err reports why Batches closed: nil for a clean close, otherwise
	// the transport error that broke the subscription.
	Err() error

	// Close detaches from the topic and releases resources.
	Close() error
}
