package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codetrek/replikit/internal/storage"
)

// Reserved wire fields; everything else in a wire document is user data.
const (
	fieldID        = "id"
	fieldUpdatedAt = "updatedAt"
	fieldIsDeleted = "isDeleted"
)

func flattenDocument(doc *storage.Document) Document {
	if doc == nil {
		return nil
	}
	flat := make(Document, len(doc.Data)+3)
	for k, v := range doc.Data {
		flat[k] = v
	}
	flat[fieldID] = doc.ID
	flat[fieldUpdatedAt] = doc.UpdatedAt.UTC().Format(time.RFC3339Nano)
	flat[fieldIsDeleted] = doc.Deleted
	return flat
}

func flattenDocuments(docs []*storage.Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = flattenDocument(d)
	}
	return out
}

// parseDocument converts a wire document into its stored form, validating
// the reserved fields.
func parseDocument(collection string, wire Document) (*storage.Document, error) {
	if wire == nil {
		return nil, errors.New("document cannot be null")
	}

	id, ok := wire[fieldID].(string)
	if !ok || id == "" {
		return nil, errors.New("document field 'id' must be a non-empty string")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("document field 'id' must be a UUID: %w", err)
	}

	rawUpdated, ok := wire[fieldUpdatedAt].(string)
	if !ok {
		return nil, errors.New("document field 'updatedAt' must be an RFC 3339 string")
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, rawUpdated)
	if err != nil {
		return nil, fmt.Errorf("document field 'updatedAt': %w", err)
	}

	deleted := false
	if raw, present := wire[fieldIsDeleted]; present {
		if deleted, ok = raw.(bool); !ok {
			return nil, errors.New("document field 'isDeleted' must be a boolean")
		}
	}

	data := make(map[string]interface{}, len(wire))
	for k, v := range wire {
		switch k {
		case fieldID, fieldUpdatedAt, fieldIsDeleted:
		default:
			data[k] = v
		}
	}

	return &storage.Document{
		ID:         id,
		Collection: collection,
		UpdatedAt:  updatedAt.UTC(),
		Deleted:    deleted,
		Data:       data,
	}, nil
}
