package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrInvalidID is returned when an id is not a valid object id.
	ErrInvalidID = errors.New("store: invalid object id")
)

// Collection is the primitive document API each backend provides. Lookups
// that match nothing return a nil document and a nil error.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, cond Condition, opts FindOptions) (Document, error)
	Find(ctx context.Context, cond Condition, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, cond Condition) (int64, error)
	InsertOne(ctx context.Context, doc Document) error
	UpdateOne(ctx context.Context, cond Condition, update *Update, opts UpdateOptions) (Document, error)
	DeleteOne(ctx context.Context, cond Condition) (Document, error)
	DeleteMany(ctx context.Context, cond Condition) (int64, error)
	Aggregate(ctx context.Context, pipeline Pipeline) ([]Document, error)
}

// Database hands out collections by name.
type Database interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Resolver gives the in-process evaluator access to other collections for
// join stages.
type Resolver interface {
	Documents(ctx context.Context, collection string) ([]Document, error)
}

// SortField orders results by one field.
type SortField struct {
	Field string
	Desc  bool
}

// Asc sorts ascending by field.
func Asc(field string) SortField { return SortField{Field: field} }

// Desc sorts descending by field.
func Desc(field string) SortField { return SortField{Field: field, Desc: true} }

// SortBSON compiles sort fields for the database driver.
func SortBSON(fields []SortField) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: dir})
	}
	return out
}

// FindOptions configure read operations.
type FindOptions struct {
	Projection *Projection
	Sort       []SortField
	Skip       int64
	Limit      int64
}

// UpdateOptions configure UpdateOne. By default the updated document is
// returned.
type UpdateOptions struct {
	Projection     *Projection
	ReturnOriginal bool
}

// ParseID converts a hex string into an object id.
func ParseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

// IsInvalidID reports whether err comes from a malformed id.
func IsInvalidID(err error) bool { return errors.Is(err, ErrInvalidID) }

// IsDuplicateKey reports whether err comes from a unique index violation.
func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }
