// Package replication implements the server side of an offline-first
// document replication protocol: checkpoint-ordered incremental pull,
// conflict-checked push, and a self-healing live change stream.
//
// The engine is generic over the replicated document type and is wired to a
// concrete storage backend and event bus through the Store and Bus
// contracts. It holds no cross-request state; all consistency is delegated
// to the backend's commit atomicity.
package replication

import "time"

// Document is the minimal contract every replicated document must satisfy.
//
// Implementations are expected to be pointer types; the comparable
// constraint lets the engine distinguish an absent document (the zero
// value) from a present one in push rows.
type Document interface {
	comparable

	// GetID returns the globally unique document identifier. Immutable
	// after creation.
	GetID() string

	// GetUpdatedAt returns the last-write timestamp. It must advance on
	// every mutation, including the soft-delete transition.
	GetUpdatedAt() time.Time

	// IsDeleted reports whether the document carries the soft-delete
	// marker. The transition is monotonic: false to true, never back.
	IsDeleted() bool
}

// Checkpoint marks a position in a collection's change history: the
// (id, updatedAt) pair of the most recently returned document. Clients
// persist it and echo it back verbatim as the exclusive lower bound for
// the next pull. The zero value means "from the beginning".
type Checkpoint struct {
	LastDocumentID string    `json:"lastDocumentId"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
}

// IsZero reports whether the checkpoint is unset.
func (c Checkpoint) IsZero() bool {
	return c.LastDocumentID == "" && c.LastUpdatedAt.IsZero()
}

// Covers reports whether d is at or before the checkpoint c, comparing
// (updatedAt, id) pairs lexicographically. A pull must only return
// documents the checkpoint does not cover.
func Covers[D Document](c Checkpoint, d D) bool {
	if d.GetUpdatedAt().Before(c.LastUpdatedAt) {
		return true
	}
	if d.GetUpdatedAt().After(c.LastUpdatedAt) {
		return false
	}
	return d.GetID() <= c.LastDocumentID
}

// checkpointOf returns the checkpoint positioned at d.
func checkpointOf[D Document](d D) Checkpoint {
	return Checkpoint{LastDocumentID: d.GetID(), LastUpdatedAt: d.GetUpdatedAt()}
}

// PushRow is a single client-submitted mutation: the document as the
// client wants it to become, plus the master state the client last
// observed. A zero AssumedMasterState marks a pure insert.
type PushRow[D Document] struct {
	AssumedMasterState D `json:"assumedMasterState"`
	NewDocumentState   D `json:"newDocumentState"`
}

// ChangeBatch is an ordered set of documents that changed together in one
// commit, together with the checkpoint subscribers can advance to after
// applying it.
type ChangeBatch[D Document] struct {
	Documents  []D        `json:"documents"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

// PullResult is one page of a checkpoint-ordered incremental pull.
type PullResult[D Document] struct {
	Documents  []D        `json:"documents"`
	Checkpoint Checkpoint `json:"checkpoint"`
}
