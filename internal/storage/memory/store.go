// Package memory implements the replication Store contract with an
// in-process map. It backs the memory storage mode and the test suites;
// commit semantics mirror the mongo backend, including optimistic
// concurrency on the document version counter.
package memory

import (
	"context"
	"sync"

	"github.com/codetrek/replikit/internal/storage"
	"github.com/codetrek/replikit/pkg/replication"
)

// Store holds one collection's documents.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*storage.Document
}

// New creates an empty in-memory collection store.
func New() *Store {
	return &Store{docs: make(map[string]*storage.Document)}
}

// Snapshot returns deep copies of every document, soft-deleted included.
func (s *Store) Snapshot(ctx context.Context) ([]*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Clone())
	}
	return out, nil
}

// Get returns a copy of the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, replication.ErrNotFound
	}
	return d.Clone(), nil
}

// Equal delegates to the content-hash comparison.
func (s *Store) Equal(a, b *storage.Document) bool {
	return storage.Equal(a, b)
}

// Begin opens a staging transaction.
func (s *Store) Begin(ctx context.Context) (replication.Tx[*storage.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s}, nil
}

type stagedOp struct {
	create  bool
	current *storage.Document // observed master state for CAS, nil for create
	doc     *storage.Document
}

type tx struct {
	store *Store
	ops   []stagedOp
}

func (t *tx) Create(doc *storage.Document) {
	t.ops = append(t.ops, stagedOp{create: true, doc: doc.Clone()})
}

func (t *tx) Update(current, doc *storage.Document) {
	t.ops = append(t.ops, stagedOp{current: current, doc: doc.Clone()})
}

func (t *tx) Delete(current, doc *storage.Document) {
	tomb := doc.Clone()
	tomb.Deleted = true
	t.ops = append(t.ops, stagedOp{current: current, doc: tomb})
}

// Commit validates every staged operation against the live map before
// applying any of them, so a conflicting batch leaves the store untouched.
func (t *tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// Same-id double submission within one batch is allowed: later staged
	// writes overwrite earlier ones, so validation tracks the ids already
	// claimed by this batch.
	claimed := make(map[string]bool)
	for _, op := range t.ops {
		if claimed[op.doc.ID] {
			if op.create {
				// A second insert of the same id in one batch is a
				// genuine collision, matching the mongo backend.
				return replication.ErrCommitConflict
			}
			continue
		}
		existing, exists := t.store.docs[op.doc.ID]
		switch {
		case op.create && exists:
			return replication.ErrCommitConflict
		case !op.create && !exists:
			return replication.ErrCommitConflict
		case !op.create && existing.Version != op.current.Version:
			return replication.ErrCommitConflict
		}
		claimed[op.doc.ID] = true
	}

	for _, op := range t.ops {
		next := op.doc.Clone()
		if op.create {
			next.Version = 1
		} else {
			next.Version = t.store.docs[next.ID].Version + 1
		}
		t.store.docs[next.ID] = next
	}
	t.ops = nil
	return nil
}
