package replication

import "context"

// Store is the storage adapter contract the engine consumes. One Store
// serves one replicated collection. Implementations own physical storage;
// the engine only orchestrates reads, conflict checks, and staged writes.
type Store[D Document] interface {
	// Snapshot returns a read-consistent view of every document in the
	// collection, soft-deleted ones included. The engine filters and
	// sorts the result itself; backends must not apply limits or order.
	Snapshot(ctx context.Context) ([]D, error)

	// Get returns the document with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (D, error)

	// Equal reports content equality between two documents, ignoring the
	// updatedAt field. Used to tell a true conflict from a client
	// re-submitting state the master already has.
	Equal(a, b D) bool

	// Begin opens a staging transaction for one push batch.
	Begin(ctx context.Context) (Tx[D], error)
}

// Tx stages the mutations of one push batch and commits them atomically.
// Update and Delete carry the master state the engine observed so the
// backend can compare-and-swap against it at commit time.
//
// A Tx is used by a single goroutine and is discarded after Commit.
type Tx[D Document] interface {
	// Create stages an insert of doc.
	Create(doc D)

	// Update stages a replacement of current with doc.
	Update(current, doc D)

	// Delete stages the soft-delete transition from current to doc.
	// doc must carry the deleted marker; the backend keeps the record.
	Delete(current, doc D)

	// Commit atomically persists all staged mutations. It returns
	// ErrCommitConflict if the backend detects a write-write race on any
	// staged document, in which case nothing was applied.
	Commit(ctx context.Context) error
}
