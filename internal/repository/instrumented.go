package repository

import (
	"context"
	"time"

	"github.com/chillspot/chillspot-api/internal/metrics"
	"github.com/chillspot/chillspot-api/internal/middleware"
	"github.com/chillspot/chillspot-api/internal/store"
)

// instrumented records a metric and a span around every collection call.
type instrumented struct {
	next   store.Collection
	driver string
}

func (c *instrumented) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := middleware.StartSpan(ctx, "store."+op)
	defer span.End()
	middleware.AddSpanAttributes(span, map[string]interface{}{
		"db.system":     c.driver,
		"db.collection": c.next.Name(),
		"db.operation":  op,
	})

	start := time.Now()
	err := fn(ctx)
	metrics.RecordStoreOperation(c.driver, c.next.Name(), op, err, time.Since(start))
	middleware.RecordError(span, err)
	return err
}

func (c *instrumented) Name() string { return c.next.Name() }

func (c *instrumented) FindOne(ctx context.Context, cond store.Condition, opts store.FindOptions) (doc store.Document, err error) {
	err = c.observe(ctx, "find_one", func(ctx context.Context) error {
		doc, err = c.next.FindOne(ctx, cond, opts)
		return err
	})
	return doc, err
}

func (c *instrumented) Find(ctx context.Context, cond store.Condition, opts store.FindOptions) (docs []store.Document, err error) {
	err = c.observe(ctx, "find", func(ctx context.Context) error {
		docs, err = c.next.Find(ctx, cond, opts)
		return err
	})
	return docs, err
}

func (c *instrumented) Count(ctx context.Context, cond store.Condition) (n int64, err error) {
	err = c.observe(ctx, "count", func(ctx context.Context) error {
		n, err = c.next.Count(ctx, cond)
		return err
	})
	return n, err
}

func (c *instrumented) InsertOne(ctx context.Context, doc store.Document) error {
	return c.observe(ctx, "insert_one", func(ctx context.Context) error {
		return c.next.InsertOne(ctx, doc)
	})
}

func (c *instrumented) UpdateOne(ctx context.Context, cond store.Condition, update *store.Update, opts store.UpdateOptions) (doc store.Document, err error) {
	err = c.observe(ctx, "update_one", func(ctx context.Context) error {
		doc, err = c.next.UpdateOne(ctx, cond, update, opts)
		return err
	})
	return doc, err
}

func (c *instrumented) DeleteOne(ctx context.Context, cond store.Condition) (doc store.Document, err error) {
	err = c.observe(ctx, "delete_one", func(ctx context.Context) error {
		doc, err = c.next.DeleteOne(ctx, cond)
		return err
	})
	return doc, err
}

func (c *instrumented) DeleteMany(ctx context.Context, cond store.Condition) (n int64, err error) {
	err = c.observe(ctx, "delete_many", func(ctx context.Context) error {
		n, err = c.next.DeleteMany(ctx, cond)
		return err
	})
	return n, err
}

func (c *instrumented) Aggregate(ctx context.Context, pipeline store.Pipeline) (docs []store.Document, err error) {
	err = c.observe(ctx, "aggregate", func(ctx context.Context) error {
		docs, err = c.next.Aggregate(ctx, pipeline)
		return err
	})
	return docs, err
}
