// Package mongodb implements the document store on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Database wraps a connected client and one logical database.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, cfg *config.MongoConfig) (*Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetTimeout(cfg.Timeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	return New(client, cfg.Database), nil
}

// New uses an existing client.
func New(client *mongo.Client, database string) *Database {
	return &Database{
		client: client,
		db:     client.Database(database),
		now:    time.Now,
	}
}

func (d *Database) Collection(name string) store.Collection {
	return &collection{coll: d.db.Collection(name), now: d.now}
}

func (d *Database) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the API depends on: unique usernames
// and the full text index used by story search.
func (d *Database) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "firstname", Value: 1}, {Key: "lastname", Value: 1}}},
		},
		"stories": {
			{Keys: textKeys(models.StoryTextFields)},
			{Keys: bson.D{{Key: "slug", Value: 1}}},
			{Keys: bson.D{{Key: "tags", Value: 1}}},
		},
		"comments": {
			{Keys: bson.D{{Key: "story", Value: 1}}},
			{Keys: bson.D{{Key: "author", Value: 1}}},
		},
	}

	for name, specs := range indexes {
		if _, err := d.db.Collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

type collection struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (c *collection) Name() string { return c.coll.Name() }

func (c *collection) FindOne(ctx context.Context, cond store.Condition, opts store.FindOptions) (store.Document, error) {
	o := options.FindOne()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection.BSON())
	}
	if len(opts.Sort) > 0 {
		o.SetSort(store.SortBSON(opts.Sort))
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}

	var doc store.Document
	err := c.coll.FindOne(ctx, filter(cond), o).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Canonicalize(doc), nil
}

func (c *collection) Find(ctx context.Context, cond store.Condition, opts store.FindOptions) ([]store.Document, error) {
	o := options.Find()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection.BSON())
	}
	if len(opts.Sort) > 0 {
		o.SetSort(store.SortBSON(opts.Sort))
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}

	cursor, err := c.coll.Find(ctx, filter(cond), o)
	if err != nil {
		return nil, err
	}
	return readAll(ctx, cursor)
}

func (c *collection) Count(ctx context.Context, cond store.Condition) (int64, error) {
	return c.coll.CountDocuments(ctx, filter(cond))
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return translate(err)
}

func (c *collection) UpdateOne(ctx context.Context, cond store.Condition, update *store.Update, opts store.UpdateOptions) (store.Document, error) {
	o := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if opts.ReturnOriginal {
		o.SetReturnDocument(options.Before)
	}
	if opts.Projection != nil {
		o.SetProjection(opts.Projection.BSON())
	}

	var doc store.Document
	err := c.coll.FindOneAndUpdate(ctx, filter(cond), update.BSON(c.now()), o).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	return store.Canonicalize(doc), nil
}

func (c *collection) DeleteOne(ctx context.Context, cond store.Condition) (store.Document, error) {
	var doc store.Document
	err := c.coll.FindOneAndDelete(ctx, filter(cond)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.Canonicalize(doc), nil
}

func (c *collection) DeleteMany(ctx context.Context, cond store.Condition) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter(cond))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *collection) Aggregate(ctx context.Context, pipeline store.Pipeline) ([]store.Document, error) {
	cursor, err := c.coll.Aggregate(ctx, pipeline.BSON())
	if err != nil {
		return nil, err
	}
	return readAll(ctx, cursor)
}

func filter(cond store.Condition) bson.D {
	if cond == nil {
		return bson.D{}
	}
	return cond.BSON()
}

func readAll(ctx context.Context, cursor *mongo.Cursor) ([]store.Document, error) {
	var docs []store.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Document, len(docs))
	for i, doc := range docs {
		out[i] = store.Canonicalize(doc)
	}
	return out, nil
}

func translate(err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
	}
	return err
}

// textKeys builds the keys of a text index over fields.
func textKeys(fields []string) bson.D {
	keys := make(bson.D, len(fields))
	for i, f := range fields {
		keys[i] = bson.E{Key: f, Value: "text"}
	}
	return keys
}
