package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamBatch(id string) ChangeBatch[*heroDoc] {
	d := hero(id, "name-"+id, t0)
	return ChangeBatch[*heroDoc]{Documents: []*heroDoc{d}, Checkpoint: checkpointOf(d)}
}

func recvBatch(t *testing.T, ch <-chan ChangeBatch[*heroDoc]) ChangeBatch[*heroDoc] {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return ChangeBatch[*heroDoc]{}
	}
}

func TestStream_ForwardsBatchesInOrder(t *testing.T) {
	sub := newFakeSub(nil)
	bus := &fakeBus{subs: []subscribeResult{{sub: sub}}}
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := e.Stream(ctx)

	sub.ch <- streamBatch("a")
	sub.ch <- streamBatch("b")

	assert.Equal(t, "a", recvBatch(t, out).Documents[0].ID)
	assert.Equal(t, "b", recvBatch(t, out).Documents[0].ID)
}

func TestStream_ResubscribesAfterCleanClose(t *testing.T) {
	first := newFakeSub(nil)
	second := newFakeSub(nil)
	bus := &fakeBus{subs: []subscribeResult{{sub: first}, {sub: second}}}
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := e.Stream(ctx)

	first.ch <- streamBatch("a")
	assert.Equal(t, "a", recvBatch(t, out).Documents[0].ID)

	// A clean completion is a soft reset: the engine reopens immediately,
	// without waiting out the (here deliberately huge) retry interval.
	first.end()
	second.ch <- streamBatch("b")
	assert.Equal(t, "b", recvBatch(t, out).Documents[0].ID)
}

func TestStream_RecoversFromBrokenSubscription(t *testing.T) {
	broken := newFakeSub(errors.New("connection reset"))
	healthy := newFakeSub(nil)
	bus := &fakeBus{subs: []subscribeResult{{sub: broken}, {sub: healthy}}}
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := e.Stream(ctx)

	broken.end()
	healthy.ch <- streamBatch("after-reconnect")

	// The consumer keeps reading the same channel across the reconnect.
	assert.Equal(t, "after-reconnect", recvBatch(t, out).Documents[0].ID)
}

func TestStream_RetriesFailedSubscribe(t *testing.T) {
	healthy := newFakeSub(nil)
	bus := &fakeBus{subs: []subscribeResult{
		{err: errors.New("broker unavailable")},
		{err: errors.New("broker unavailable")},
		{sub: healthy},
	}}
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := e.Stream(ctx)

	healthy.ch <- streamBatch("eventually")
	assert.Equal(t, "eventually", recvBatch(t, out).Documents[0].ID)
}

func TestStream_CancellationIsTerminal(t *testing.T) {
	sub := newFakeSub(nil)
	bus := &fakeBus{subs: []subscribeResult{{sub: sub}}}
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	out := e.Stream(ctx)

	sub.ch <- streamBatch("a")
	recvBatch(t, out)

	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok, "stream must close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestStream_CancellationDuringBackoff(t *testing.T) {
	bus := &fakeBus{subs: []subscribeResult{{err: errors.New("down")}}}
	wait := make(chan struct{})
	bus.subWait = wait
	e := New[*heroDoc](newFakeStore(), bus, WithRetryInterval[*heroDoc](time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	out := e.Stream(ctx)

	<-wait // first subscribe attempt failed, engine is now backing off
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not exit backoff on cancellation")
	}
}
