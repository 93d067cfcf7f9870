package storage

import (
	"encoding/json"

	"github.com/zeebo/blake3"
)

// ContentHash returns a 128-bit BLAKE3 digest of the document's replicated
// content: id, deleted marker, and user data. UpdatedAt and the backend's
// version counter are excluded, so a client re-submitting state the master
// already holds hashes identically even when the timestamps differ.
func ContentHash(d *Document) [16]byte {
	payload := struct {
		ID      string                 `json:"id"`
		Deleted bool                   `json:"deleted"`
		Data    map[string]interface{} `json:"data"`
	}{
		ID:      d.ID,
		Deleted: d.Deleted,
		Data:    d.Data,
	}

	// encoding/json writes map keys in sorted order, so the encoding is
	// canonical for the JSON-shaped values Data can hold.
	raw, err := json.Marshal(payload)
	if err != nil {
		// Data always originates from decoded JSON; this cannot happen
		// for documents that entered through the API.
		panic("storage: unencodable document content: " + err.Error())
	}

	sum := blake3.Sum256(raw)
	var hash [16]byte
	copy(hash[:], sum[:16])
	return hash
}

// Equal reports content equality between two documents, ignoring
// UpdatedAt and Version. This is the conflict-detection comparison of the
// replication protocol.
func Equal(a, b *Document) bool {
	if a == nil || b == nil {
		return a == b
	}
	return ContentHash(a) == ContentHash(b)
}
