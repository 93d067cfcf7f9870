package replication

import (
	"time"

	"go.uber.org/zap"
)

// DefaultRetryInterval is how long the live change streamer waits before
// re-attempting a failed subscription.
const DefaultRetryInterval = 5000 * time.Millisecond

// Engine replicates one document collection: it reconciles pushes,
// serves checkpoint-ordered pulls, and streams live changes. Engines are
// cheap and safe for concurrent use; every request runs independently.
type Engine[D Document] struct {
	store         Store[D]
	bus           Bus[D]
	log           *zap.Logger
	retryInterval time.Duration
}

// Option configures an Engine.
type Option[D Document] func(*Engine[D])

// WithLogger sets the engine logger. Defaults to zap.NewNop().
func WithLogger[D Document](log *zap.Logger) Option[D] {
	return func(e *Engine[D]) { e.log = log }
}

// WithRetryInterval overrides the streamer's resubscribe backoff.
func WithRetryInterval[D Document](d time.Duration) Option[D] {
	return func(e *Engine[D]) { e.retryInterval = d }
}

// New builds an Engine over a storage backend and a change event bus.
func New[D Document](store Store[D], bus Bus[D], opts ...Option[D]) *Engine[D] {
	e := &Engine[D]{
		store:         store,
		bus:           bus,
		log:           zap.NewNop(),
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
