// Package memory is an in-process document store used for development and
// tests. It evaluates conditions and pipelines with the store package's
// interpreter.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chillspot/chillspot-api/internal/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Option configures a Database.
type Option func(*Database)

// WithUniqueIndex rejects writes that would give two documents of
// collection the same values for fields.
func WithUniqueIndex(collection string, fields ...string) Option {
	return func(db *Database) {
		db.unique[collection] = append(db.unique[collection], fields)
	}
}

// WithClock overrides the clock used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(db *Database) { db.now = now }
}

// Database holds named collections behind one lock.
type Database struct {
	mu          sync.RWMutex
	collections map[string][]store.Document
	unique      map[string][][]string
	now         func() time.Time
}

// New creates an empty database.
func New(opts ...Option) *Database {
	db := &Database{
		collections: make(map[string][]store.Document),
		unique:      make(map[string][][]string),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Collection returns a handle on the named collection.
func (db *Database) Collection(name string) store.Collection {
	return &collection{db: db, name: name}
}

func (db *Database) Ping(context.Context) error  { return nil }
func (db *Database) Close(context.Context) error { return nil }

// Documents returns a copy of every document in the named collection.
func (db *Database) Documents(_ context.Context, name string) ([]store.Document, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.snapshot(name), nil
}

func (db *Database) snapshot(name string) []store.Document {
	docs := db.collections[name]
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		out[i] = store.Clone(d)
	}
	return out
}

// violatesUnique reports whether candidate clashes with another document
// on a unique index. skip is the index of the document being replaced.
func (db *Database) violatesUnique(name string, candidate store.Document, skip int) bool {
	for i, d := range db.collections[name] {
		if i == skip {
			continue
		}
		if store.Equal(d["_id"], candidate["_id"]) {
			return true
		}
		for _, fields := range db.unique[name] {
			if sameValues(d, candidate, fields) {
				return true
			}
		}
	}
	return false
}

func sameValues(a, b store.Document, fields []string) bool {
	for _, f := range fields {
		av, aok := store.ValueAt(a, f)
		bv, bok := store.ValueAt(b, f)
		if !aok || !bok || !store.Equal(av, bv) {
			return false
		}
	}
	return true
}

type collection struct {
	db   *Database
	name string
}

func (c *collection) Name() string { return c.name }

func (c *collection) FindOne(ctx context.Context, cond store.Condition, opts store.FindOptions) (store.Document, error) {
	opts.Limit = 1
	docs, err := c.Find(ctx, cond, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (c *collection) Find(ctx context.Context, cond store.Condition, opts store.FindOptions) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return store.Query(c.db.collections[c.name], cond, opts), nil
}

func (c *collection) Count(ctx context.Context, cond store.Condition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return int64(len(store.Filter(c.db.collections[c.name], cond))), nil
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := store.Clone(doc)
	if _, ok := cp["_id"]; !ok {
		cp["_id"] = bson.NewObjectID()
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.violatesUnique(c.name, cp, -1) {
		return store.ErrDuplicateKey
	}
	c.db.collections[c.name] = append(c.db.collections[c.name], cp)
	return nil
}

func (c *collection) UpdateOne(ctx context.Context, cond store.Condition, update *store.Update, opts store.UpdateOptions) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	docs := c.db.collections[c.name]
	idx := firstMatch(docs, cond)
	if idx < 0 {
		return nil, nil
	}
	original := docs[idx]
	updated := store.Clone(original)
	update.Apply(updated, c.db.now())
	if c.db.violatesUnique(c.name, updated, idx) {
		return nil, store.ErrDuplicateKey
	}
	docs[idx] = updated

	result := updated
	if opts.ReturnOriginal {
		result = original
	}
	if opts.Projection != nil {
		return opts.Projection.Apply(result), nil
	}
	return store.Clone(result), nil
}

func (c *collection) DeleteOne(ctx context.Context, cond store.Condition) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	docs := c.db.collections[c.name]
	idx := firstMatch(docs, cond)
	if idx < 0 {
		return nil, nil
	}
	removed := docs[idx]
	c.db.collections[c.name] = append(docs[:idx:idx], docs[idx+1:]...)
	return removed, nil
}

func (c *collection) DeleteMany(ctx context.Context, cond store.Condition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if cond == nil {
		cond = store.All()
	}
	docs := c.db.collections[c.name]
	kept := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		if !cond.Matches(d) {
			kept = append(kept, d)
		}
	}
	c.db.collections[c.name] = kept
	return int64(len(docs) - len(kept)), nil
}

func (c *collection) Aggregate(ctx context.Context, pipeline store.Pipeline) ([]store.Document, error) {
	docs, err := c.db.Documents(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return store.Evaluate(ctx, docs, pipeline, c.db)
}

func firstMatch(docs []store.Document, cond store.Condition) int {
	for i, d := range docs {
		if cond == nil || cond.Matches(d) {
			return i
		}
	}
	return -1
}
