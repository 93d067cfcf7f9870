// Package mongo implements the replication Store contract on MongoDB.
// One Mongo collection per replicated collection; commits run inside a
// session transaction with a compare-and-swap on the per-document version
// counter, so a lost race surfaces as a commit conflict instead of a
// silent overwrite.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/codetrek/replikit/internal/storage"
	"github.com/codetrek/replikit/pkg/replication"
)

// Store serves one replicated collection from a Mongo collection.
type Store struct {
	coll *mongo.Collection
	log  *zap.Logger
}

// New binds a store to db.<collection>.
func New(db *mongo.Database, collection string, log *zap.Logger) *Store {
	return &Store{coll: db.Collection(collection), log: log}
}

// EnsureIndexes creates the compound index backing checkpoint-ordered
// pulls.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create replication index: %w", err)
	}
	return nil
}

// Snapshot returns every document in the collection, tombstones included.
func (s *Store) Snapshot(ctx context.Context) ([]*storage.Document, error) {
	cursor, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo: snapshot find: %w", err)
	}
	var docs []*storage.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: snapshot decode: %w", err)
	}
	return docs, nil
}

// Get returns the document with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*storage.Document, error) {
	var doc storage.Document
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, replication.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get %s: %w", id, err)
	}
	return &doc, nil
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
	current *storage.Document
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

// Commit applies every staged mutation inside one session transaction.
// Requires a replica set, as Mongo transactions do.
func (t *tx) Commit(ctx context.Context) error {
	if len(t.ops) == 0 {
		return nil
	}

	session, err := t.store.coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		// Versions written earlier in this same batch: a later stage for
		// the same id CASes against them, not the pre-batch state, so the
		// last staged write wins.
		written := make(map[string]int64)
		for _, op := range t.ops {
			if err := t.apply(sc, op, written); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, replication.ErrCommitConflict) {
			return replication.ErrCommitConflict
		}
		return fmt.Errorf("mongo: commit: %w", err)
	}
	t.ops = nil
	return nil
}

func (t *tx) apply(sc mongo.SessionContext, op stagedOp, written map[string]int64) error {
	next := op.doc
	if op.create {
		next.Version = 1
		if _, err := t.store.coll.InsertOne(sc, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return replication.ErrCommitConflict
			}
			return err
		}
		written[next.ID] = next.Version
		return nil
	}

	base := op.current.Version
	if v, ok := written[next.ID]; ok {
		base = v
	}
	next.Version = base + 1
	res, err := t.store.coll.ReplaceOne(sc,
		bson.M{"_id": next.ID, "version": base},
		next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Someone moved the document past the version we observed.
		return replication.ErrCommitConflict
	}
	written[next.ID] = next.Version
	return nil
}
