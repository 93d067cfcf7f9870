// Package storage provides the concrete schemaless document used by the
// replication server, plus the storage backends implementing the engine's
// Store contract (see the memory and mongo subpackages).
package storage

import (
	"time"

	"github.com/google/uuid"
)

// Document is a schemaless replicated document. User fields live in Data;
// the remaining fields are replication metadata.
type Document struct {
	// ID is the unique document identifier, a UUID string.
	ID string `json:"id" bson:"_id"`

	// Collection is the name of the collection the document belongs to.
	Collection string `json:"collection" bson:"collection"`

	// UpdatedAt is the last-write timestamp, also the pull cursor field.
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`

	// Deleted marks the document as soft-deleted. Records are never
	// physically removed.
	Deleted bool `json:"isDeleted" bson:"deleted"`

	// Version is the optimistic concurrency control counter maintained by
	// the backend. Not part of the replicated content.
	Version int64 `json:"-" bson:"version"`

	// Data holds the user-visible fields of the document.
	Data map[string]interface{} `json:"data" bson:"data"`
}

// NewDocument creates a document with initialized metadata. An empty id
// gets a fresh UUID.
func NewDocument(id, collection string, data map[string]interface{}) *Document {
	if id == "" {
		id = uuid.New().String()
	}
	return &Document{
		ID:         id,
		Collection: collection,
		UpdatedAt:  time.Now().UTC(),
		Data:       data,
	}
}

func (d *Document) GetID() string           { return d.ID }
func (d *Document) GetUpdatedAt() time.Time { return d.UpdatedAt }
func (d *Document) IsDeleted() bool         { return d.Deleted }

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Data = cloneData(d.Data)
	return &cp
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneData(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
