package replication

import (
	"context"
	"fmt"
	"sort"
)

// Pull returns the next page of changed documents strictly after the
// given checkpoint, ordered ascending by (updatedAt, id). Soft-deleted
// documents are included; a deletion is a first-class change.
//
// The returned checkpoint points at the last document of the page, or
// echoes `after` unchanged when the page is empty. Chaining checkpoints
// across repeated pulls visits every document exactly once, provided
// updatedAt never goes backwards and ties are broken by id.
func (e *Engine[D]) Pull(ctx context.Context, after Checkpoint, limit int) (*PullResult[D], error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pull: limit must be positive, got %d", limit)
	}

	docs, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: snapshot: %w", err)
	}

	changed := docs[:0:0]
	for _, d := range docs {
		if !Covers(after, d) {
			changed = append(changed, d)
		}
	}

	sort.Slice(changed, func(i, j int) bool {
		ti, tj := changed[i].GetUpdatedAt(), changed[j].GetUpdatedAt()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return changed[i].GetID() < changed[j].GetID()
	})

	if len(changed) > limit {
		changed = changed[:limit]
	}

	next := after
	if len(changed) > 0 {
		next = checkpointOf(changed[len(changed)-1])
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &PullResult[D]{Documents: changed, Checkpoint: next}, nil
}
