package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type person struct {
	ID        bson.ObjectID   `bson:"_id,omitempty"`
	Firstname string          `bson:"firstname"`
	Lastname  string          `bson:"lastname"`
	Username  string          `bson:"username"`
	Hash      string          `bson:"hash"`
	Likes     int             `bson:"likes"`
	Friends   []bson.ObjectID `bson:"friends"`
	CreatedAt time.Time       `bson:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

func newPeople(t *testing.T) *store.Repository[person] {
	t.Helper()
	db := New(WithUniqueIndex("people", "username"))
	return store.NewRepository[person](db.Collection("people"))
}

func TestRepository_CreateAssignsIDAndTimestamps(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t)

	created, err := repo.Create(ctx, &person{Firstname: "Jonny", Lastname: "Appleseed", Username: "Jonny-Appleseed"})
	require.NoError(t, err)

	assert.False(t, created.ID.IsZero())
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	found, err := repo.FindByID(ctx, created.ID.Hex(), store.FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Jonny-Appleseed", found.Username)
}

func TestRepository_UniqueIndex(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t)

	_, err := repo.Create(ctx, &person{Username: "a-b"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &person{Username: "a-b"})
	assert.True(t, store.IsDuplicateKey(err))
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))
}

func TestRepository_MissesReturnNil(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t)

	found, err := repo.FindOne(ctx, store.Eq("username", "nobody"), store.FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repo.FindByID(ctx, bson.NewObjectID().Hex(), store.FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, found)

	updated, err := repo.UpdateOne(ctx, store.Eq("username", "nobody"), store.NewUpdate().Set("likes", 1), store.UpdateOptions{})
	require.NoError(t, err)
	assert.Nil(t, updated)

	deleted, err := repo.DeleteOne(ctx, store.Eq("username", "nobody"))
	require.NoError(t, err)
	assert.Nil(t, deleted)

	_, err = repo.FindByID(ctx, "zzz", store.FindOptions{})
	assert.ErrorIs(t, err, store.ErrInvalidID)
}

func TestRepository_UpdateOneReturnsUpdatedOrOriginal(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := New(WithClock(func() time.Time { return clock }))
	repo := store.NewRepository[person](db.Collection("people"))

	p, err := repo.Create(ctx, &person{Username: "u", Likes: 1})
	require.NoError(t, err)

	updated, err := repo.UpdateOne(ctx, store.Eq("_id", p.ID), store.NewUpdate().Inc("likes", 1), store.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Likes)
	assert.True(t, updated.UpdatedAt.Equal(clock))

	original, err := repo.UpdateOne(ctx, store.Eq("_id", p.ID), store.NewUpdate().Inc("likes", 1), store.UpdateOptions{ReturnOriginal: true})
	require.NoError(t, err)
	assert.Equal(t, 2, original.Likes)

	projected, err := repo.UpdateOne(ctx, store.Eq("_id", p.ID), store.NewUpdate().Set("hash", "x"),
		store.UpdateOptions{Projection: store.Exclude("hash")})
	require.NoError(t, err)
	assert.Empty(t, projected.Hash)
	assert.Equal(t, 3, projected.Likes)
}

func TestRepository_UpdateOneRespectsUniqueIndex(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t)

	_, err := repo.Create(ctx, &person{Username: "taken"})
	require.NoError(t, err)
	p, err := repo.Create(ctx, &person{Username: "free"})
	require.NoError(t, err)

	_, err = repo.UpdateOne(ctx, store.Eq("_id", p.ID), store.NewUpdate().Set("username", "taken"), store.UpdateOptions{})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestRepository_FindCountAndDeleteMany(t *testing.T) {
	ctx := context.Background()
	repo := newPeople(t)

	for _, u := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, &person{Firstname: "Jonny", Lastname: "Appleseed", Username: u})
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx, store.And(store.Eq("firstname", "Jonny"), store.Eq("lastname", "Appleseed")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	found, err := repo.Find(ctx, store.All(), store.FindOptions{Sort: []store.SortField{store.Desc("username")}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "c", found[0].Username)

	removed, err := repo.DeleteMany(ctx, store.In("username", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = repo.Count(ctx, store.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepository_AggregateAcrossCollections(t *testing.T) {
	ctx := context.Background()
	db := New()
	people := store.NewRepository[person](db.Collection("people"))

	alice, err := people.Create(ctx, &person{Username: "alice", Hash: "h"})
	require.NoError(t, err)
	bob, err := people.Create(ctx, &person{Username: "bob", Friends: []bson.ObjectID{alice.ID}})
	require.NoError(t, err)

	docs, err := people.Aggregate(ctx, store.Pipeline{
		store.Match{Cond: store.Eq("_id", bob.ID)},
		store.Lookup{From: "people", LocalField: "friends", ForeignField: "_id", As: "friendDocs"},
		store.Project{Projection: store.Include("username", "friendDocs.username")},
	})
	require.NoError(t, err)

	type row struct {
		Username string `bson:"username"`
		Friends  []struct {
			Username string `bson:"username"`
			Hash     string `bson:"hash"`
		} `bson:"friendDocs"`
	}
	rows, err := store.Decode[row](docs)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Username)
	require.Len(t, rows[0].Friends, 1)
	assert.Equal(t, "alice", rows[0].Friends[0].Username)
	assert.Empty(t, rows[0].Friends[0].Hash)
}

func TestCollection_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("things")

	require.NoError(t, coll.InsertOne(ctx, store.Document{"_id": "1", "tags": []any{"a"}}))
	doc, err := coll.FindOne(ctx, store.Eq("_id", "1"), store.FindOptions{})
	require.NoError(t, err)
	doc["tags"] = []any{"mutated"}

	again, err := coll.FindOne(ctx, store.Eq("_id", "1"), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again["tags"])
}

func TestCollection_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Collection("things").Find(ctx, store.All(), store.FindOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
