// Package repository opens the configured document store and exposes one
// typed repository per resource.
package repository

import (
	"context"
	"fmt"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"
	"github.com/chillspot/chillspot-api/internal/store/dynamo"
	"github.com/chillspot/chillspot-api/internal/store/memory"
	"github.com/chillspot/chillspot-api/internal/store/mongodb"

	"github.com/sirupsen/logrus"
)

// Collection names
const (
	UsersCollection    = "users"
	StoriesCollection  = "stories"
	CommentsCollection = "comments"
)

// Repositories bundles the typed repositories over one database.
type Repositories struct {
	DB       store.Database
	Driver   string
	Users    *store.Repository[models.User]
	Stories  *store.Repository[models.Story]
	Comments *store.Repository[models.Comment]
}

// New wraps db. When instrument is set every collection call is timed and
// traced.
func New(db store.Database, driver string, instrument bool) *Repositories {
	coll := func(name string) store.Collection {
		c := db.Collection(name)
		if instrument {
			return &instrumented{next: c, driver: driver}
		}
		return c
	}

	return &Repositories{
		DB:       db,
		Driver:   driver,
		Users:    store.NewRepository[models.User](coll(UsersCollection)),
		Stories:  store.NewRepository[models.Story](coll(StoriesCollection)),
		Comments: store.NewRepository[models.Comment](coll(CommentsCollection)),
	}
}

// NewMemory is an in-process store with the same unique constraints as the
// production databases.
func NewMemory(opts ...memory.Option) *Repositories {
	opts = append([]memory.Option{memory.WithUniqueIndex(UsersCollection, "username")}, opts...)
	return New(memory.New(opts...), config.DriverMemory, false)
}

// Open connects to the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Repositories, error) {
	var db store.Database

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using the in-memory store; data is lost on restart")
		db = memory.New(memory.WithUniqueIndex(UsersCollection, "username"))

	case config.DriverMongo:
		mdb, err := mongodb.Connect(ctx, &cfg.Mongo)
		if err != nil {
			return nil, err
		}
		if cfg.Store.EnsureIndexes {
			if err := mdb.EnsureIndexes(ctx); err != nil {
				_ = mdb.Close(ctx)
				return nil, err
			}
		}
		logger.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")
		db = mdb

	case config.DriverDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		ddb := dynamo.New(client, cfg.DynamoDB.TablePrefix, dynamo.WithUniqueIndex(UsersCollection, "username"))
		if cfg.Store.EnsureIndexes {
			if err := ddb.EnsureTables(ctx, UsersCollection, StoriesCollection, CommentsCollection); err != nil {
				return nil, err
			}
		}
		db = ddb

	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}

	return New(db, cfg.Store.Driver, cfg.Store.MetricsEnabled), nil
}

// Close releases the database connection.
func (r *Repositories) Close(ctx context.Context) error {
	return r.DB.Close(ctx)
}
