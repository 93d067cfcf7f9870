package api

import (
	"github.com/codetrek/replikit/pkg/replication"
)

// Document is the user-facing wire shape of a replicated document: a flat
// JSON object.
//
//	"id" holds the document UUID.
//	"updatedAt" holds the last-write timestamp, RFC 3339.
//	"isDeleted" holds the soft-delete marker.
//
// Every other field is document data.
type Document map[string]interface{}

// PushRow is one client-submitted mutation. A null assumedMasterState
// marks a pure insert.
type PushRow struct {
	AssumedMasterState Document `json:"assumedMasterState"`
	NewDocumentState   Document `json:"newDocumentState"`
}

// PushRequest is the body of POST .../push.
type PushRequest struct {
	Rows []PushRow `json:"rows"`
}

// PushResponse reports the rows that could not be applied, as the current
// master state of each conflicting document.
type PushResponse struct {
	Conflicts []Document `json:"conflicts"`
}

// PullResponse is one page of changed documents plus the checkpoint to
// resume from. The same shape is used for batches on the live stream.
type PullResponse struct {
	Documents  []Document             `json:"documents"`
	Checkpoint replication.Checkpoint `json:"checkpoint"`
}
