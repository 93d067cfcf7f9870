package replication

import (
	"context"
	"sync"
	"time"
)

// heroDoc is a typed replicated document used throughout the engine
// tests, in the shape of the classic hero example schema.
type heroDoc struct {
	ID        string
	Name      string
	Color     string
	UpdatedAt time.Time
	Deleted   bool
}

func (d *heroDoc) GetID() string           { return d.ID }
func (d *heroDoc) GetUpdatedAt() time.Time { return d.UpdatedAt }
func (d *heroDoc) IsDeleted() bool         { return d.Deleted }

func hero(id, name string, at time.Time) *heroDoc {
	return &heroDoc{ID: id, Name: name, Color: "red", UpdatedAt: at}
}

// fakeStore is an in-memory Store with the same staging and commit
// semantics the real backends implement.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*heroDoc

	snapshotErr error
	commitErr   error
	beginErr    error
}

func newFakeStore(docs ...*heroDoc) *fakeStore {
	s := &fakeStore{docs: make(map[string]*heroDoc)}
	for _, d := range docs {
		cp := *d
		s.docs[d.ID] = &cp
	}
	return s
}

func (s *fakeStore) Snapshot(ctx context.Context) ([]*heroDoc, error) {
	if s.snapshotErr != nil {
		return nil, s.snapshotErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*heroDoc, 0, len(s.docs))
	for _, d := range s.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*heroDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// Equal ignores UpdatedAt, per the adapter contract.
func (s *fakeStore) Equal(a, b *heroDoc) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Color == b.Color && a.Deleted == b.Deleted
}

func (s *fakeStore) Begin(ctx context.Context) (Tx[*heroDoc], error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s}, nil
}

type fakeTx struct {
	store  *fakeStore
	staged []func()
}

func (t *fakeTx) Create(doc *heroDoc) {
	cp := *doc
	t.staged = append(t.staged, func() { t.store.docs[cp.ID] = &cp })
}

func (t *fakeTx) Update(current, doc *heroDoc) {
	cp := *doc
	t.staged = append(t.staged, func() { t.store.docs[cp.ID] = &cp })
}

func (t *fakeTx) Delete(current, doc *heroDoc) {
	cp := *doc
	cp.Deleted = true
	t.staged = append(t.staged, func() { t.store.docs[cp.ID] = &cp })
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, apply := range t.staged {
		apply()
	}
	return nil
}

// fakeBus records published batches and hands out scripted subscriptions.
type fakeBus struct {
	mu         sync.Mutex
	published  []ChangeBatch[*heroDoc]
	publishErr func(batch ChangeBatch[*heroDoc]) error

	subs    []subscribeResult
	subIdx  int
	subWait chan struct{} // closed each time Subscribe is called, if set
}

type subscribeResult struct {
	sub *fakeSub
	err error
}

func (b *fakeBus) Publish(ctx context.Context, batch ChangeBatch[*heroDoc]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		if err := b.publishErr(batch); err != nil {
			return err
		}
	}
	b.published = append(b.published, batch)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context) (Subscription[*heroDoc], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subWait != nil {
		close(b.subWait)
		b.subWait = nil
	}
	if b.subIdx >= len(b.subs) {
		return nil, context.Canceled
	}
	res := b.subs[b.subIdx]
	b.subIdx++
	if res.err != nil {
		return nil, res.err
	}
	return res.sub, nil
}

func (b *fakeBus) publishedBatches() []ChangeBatch[*heroDoc] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ChangeBatch[*heroDoc](nil), b.published...)
}

type fakeSub struct {
	ch     chan ChangeBatch[*heroDoc]
	err    error
	closed bool
	mu     sync.Mutex
}

func newFakeSub(err error) *fakeSub {
	return &fakeSub{ch: make(chan ChangeBatch[*heroDoc], 8), err: err}
}

func (s *fakeSub) Batches() <-chan ChangeBatch[*heroDoc] { return s.ch }

func (s *fakeSub) Err() error { return s.err }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// end terminates the subscription from the broker side.
func (s *fakeSub) end() { close(s.ch) }
