package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Repository is the typed access layer over one collection. T must be a
// bson-mappable struct with an `_id` field.
type Repository[T any] struct {
	coll Collection
	now  func() time.Time
}

// NewRepository wraps coll.
func NewRepository[T any](coll Collection) *Repository[T] {
	return &Repository[T]{coll: coll, now: time.Now}
}

// Collection exposes the underlying collection.
func (r *Repository[T]) Collection() Collection { return r.coll }

// FindOne returns the first document matching cond, or nil.
func (r *Repository[T]) FindOne(ctx context.Context, cond Condition, opts FindOptions) (*T, error) {
	doc, err := r.coll.FindOne(ctx, cond, opts)
	if err != nil {
		return nil, fmt.Errorf("%s find one: %w", r.coll.Name(), err)
	}
	return decodeOne[T](doc)
}

// FindByID returns the document with the given hex id, or nil.
func (r *Repository[T]) FindByID(ctx context.Context, id string, opts FindOptions) (*T, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return r.FindOne(ctx, Eq("_id", oid), opts)
}

// Find returns every document matching cond.
func (r *Repository[T]) Find(ctx context.Context, cond Condition, opts FindOptions) ([]T, error) {
	docs, err := r.coll.Find(ctx, cond, opts)
	if err != nil {
		return nil, fmt.Errorf("%s find: %w", r.coll.Name(), err)
	}
	return Decode[T](docs)
}

// Count returns the number of documents matching cond.
func (r *Repository[T]) Count(ctx context.Context, cond Condition) (int64, error) {
	n, err := r.coll.Count(ctx, cond)
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", r.coll.Name(), err)
	}
	return n, nil
}

// Create inserts v, assigning a fresh id and timestamps, and returns the
// stored record.
func (r *Repository[T]) Create(ctx context.Context, v *T) (*T, error) {
	doc, err := ToDocument(v)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", r.coll.Name(), err)
	}
	if id, ok := doc["_id"].(bson.ObjectID); !ok || id.IsZero() {
		doc["_id"] = bson.NewObjectID()
	}
	now := bson.NewDateTimeFromTime(r.now())
	doc["createdAt"] = now
	doc["updatedAt"] = now

	if err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("%s insert: %w", r.coll.Name(), err)
	}
	return decodeOne[T](doc)
}

// UpdateOne applies update to the first document matching cond. It returns
// the updated record, or the original one when opts.ReturnOriginal is set,
// and nil when nothing matched.
func (r *Repository[T]) UpdateOne(ctx context.Context, cond Condition, update *Update, opts UpdateOptions) (*T, error) {
	doc, err := r.coll.UpdateOne(ctx, cond, update, opts)
	if err != nil {
		return nil, fmt.Errorf("%s update: %w", r.coll.Name(), err)
	}
	return decodeOne[T](doc)
}

// DeleteOne removes the first document matching cond and returns it.
func (r *Repository[T]) DeleteOne(ctx context.Context, cond Condition) (*T, error) {
	doc, err := r.coll.DeleteOne(ctx, cond)
	if err != nil {
		return nil, fmt.Errorf("%s delete one: %w", r.coll.Name(), err)
	}
	return decodeOne[T](doc)
}

// DeleteMany removes every document matching cond.
func (r *Repository[T]) DeleteMany(ctx context.Context, cond Condition) (int64, error) {
	n, err := r.coll.DeleteMany(ctx, cond)
	if err != nil {
		return 0, fmt.Errorf("%s delete many: %w", r.coll.Name(), err)
	}
	return n, nil
}

// Aggregate runs pipeline and returns the raw result documents. Use Decode
// to map them onto a result type.
func (r *Repository[T]) Aggregate(ctx context.Context, pipeline Pipeline) ([]Document, error) {
	docs, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s aggregate: %w", r.coll.Name(), err)
	}
	return docs, nil
}

// Decode maps documents onto R.
func Decode[R any](docs []Document) ([]R, error) {
	out := make([]R, 0, len(docs))
	for _, d := range docs {
		var v R
		if err := FromDocument(d, &v); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOne[T any](doc Document) (*T, error) {
	if doc == nil {
		return nil, nil
	}
	var v T
	if err := FromDocument(doc, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &v, nil
}
