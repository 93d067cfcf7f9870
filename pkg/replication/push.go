package replication

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Push applies a batch of client-submitted rows against the master store
// and returns the current master state of every row that could not be
// applied because the client's assumed baseline diverged. An empty result
// means full success.
//
// Rows are evaluated independently, in submission order, each against the
// master state as it existed before the batch. All accepted rows commit in
// one atomic transaction; a commit-time write race fails the whole push
// with ErrCommitConflict and no partial application. Two rows targeting
// the same id are both checked against the pre-batch master and the later
// staged write wins at commit.
//
// After a successful commit, one change event is published per staged
// document. Publishing is best-effort: a failure is logged and isolated
// per document, never failing the already-committed push.
func (e *Engine[D]) Push(ctx context.Context, rows []PushRow[D]) ([]D, error) {
	var zero D

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: begin: %w", err)
	}

	var conflicts []D
	var staged []D

	for _, row := range rows {
		doc := row.NewDocumentState
		if doc == zero {
			return nil, errors.New("push: row has no new document state")
		}

		if row.AssumedMasterState == zero {
			// Pure insert: the client never saw a predecessor.
			tx.Create(doc)
			staged = append(staged, doc)
			continue
		}

		master, err := e.store.Get(ctx, row.AssumedMasterState.GetID())
		switch {
		case errors.Is(err, ErrNotFound):
			// The assumed predecessor no longer exists; treat as insert.
			tx.Create(doc)
			staged = append(staged, doc)
		case err != nil:
			return nil, fmt.Errorf("push: fetch %s: %w", row.AssumedMasterState.GetID(), err)
		case !e.store.Equal(master, row.AssumedMasterState):
			// The client's baseline diverged from reality. Report the
			// current master and leave it untouched.
			conflicts = append(conflicts, master)
		case doc.IsDeleted():
			tx.Delete(master, doc)
			staged = append(staged, doc)
		default:
			tx.Update(master, doc)
			staged = append(staged, doc)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("push: commit: %w", err)
	}

	e.publishChanges(ctx, staged)

	if conflicts == nil {
		conflicts = []D{}
	}
	return conflicts, nil
}

// publishChanges emits one single-document change batch per committed
// document. Events fire only after the commit succeeded, so subscribers
// never observe changes that might still roll back.
func (e *Engine[D]) publishChanges(ctx context.Context, docs []D) {
	for _, doc := range docs {
		batch := ChangeBatch[D]{
			Documents:  []D{doc},
			Checkpoint: checkpointOf(doc),
		}
		if err := e.bus.Publish(ctx, batch); err != nil {
			e.log.Error("failed to publish document change event",
				zap.String("document_id", doc.GetID()),
				zap.Error(err))
		}
	}
}
