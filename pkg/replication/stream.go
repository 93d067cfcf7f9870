package replication

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Stream returns an effectively infinite sequence of change batches for
// the collection. The returned channel stays open across transient bus
// failures: a failed or broken subscription is retried after the engine's
// retry interval, a cleanly completed one is reopened immediately. The
// only terminal exit is cancellation of ctx, which closes the channel.
//
// In-order delivery holds only within a single unbroken subscription.
// Consumers must tolerate re-subscription gaps and reconcile through a
// subsequent pull; the stream is a latency optimization, not a gapless
// log.
func (e *Engine[D]) Stream(ctx context.Context) <-chan ChangeBatch[D] {
	out := make(chan ChangeBatch[D])

	go func() {
		defer close(out)
		for ctx.Err() == nil {
			sub, err := e.bus.Subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.log.Error("subscribe to change stream failed",
					zap.Duration("retry_in", e.retryInterval),
					zap.Error(err))
				if !e.waitRetry(ctx) {
					return
				}
				continue
			}

			if !e.forward(ctx, sub, out) {
				sub.Close()
				return
			}

			err = sub.Err()
			sub.Close()
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				e.log.Warn("change stream broke, resubscribing",
					zap.Duration("retry_in", e.retryInterval),
					zap.Error(err))
				if !e.waitRetry(ctx) {
					return
				}
			default:
				// Clean completion is a soft reset, not a failure.
				e.log.Info("change stream completed, resubscribing")
			}
		}
	}()

	return out
}

// forward copies batches from sub to out until the subscription ends.
// It returns false when ctx was cancelled.
func (e *Engine[D]) forward(ctx context.Context, sub Subscription[D], out chan<- ChangeBatch[D]) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case batch, ok := <-sub.Batches():
			if !ok {
				return true
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (e *Engine[D]) waitRetry(ctx context.Context) bool {
	t := time.NewTimer(e.retryInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
