package replication

import "errors"

var (
	// ErrNotFound is returned by Store.Get when no document has the
	// requested id.
	ErrNotFound = errors.New("document not found")

	// ErrCommitConflict is returned by Tx.Commit when the backend detects
	// a write-write race on a staged document. The whole push failed with
	// no partial application; the client may retry.
	ErrCommitConflict = errors.New("commit conflict")
)
