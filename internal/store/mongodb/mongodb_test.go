package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestFilter(t *testing.T) {
	assert.Equal(t, bson.D{}, filter(nil))
	assert.Equal(t, bson.D{{Key: "slug", Value: "a"}}, filter(store.Eq("slug", "a")))
}

func TestTextKeys_MatchStorySearchFields(t *testing.T) {
	keys := textKeys(models.StoryTextFields)

	require.Len(t, keys, len(models.StoryTextFields))
	for i, f := range models.StoryTextFields {
		assert.Equal(t, bson.E{Key: f, Value: "text"}, keys[i])
	}
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.False(t, store.IsDuplicateKey(translate(context.Canceled)))
}

// TestIntegration runs against a live server when MONGO_TEST_URI is set.
func TestIntegration(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, &config.MongoConfig{
		URI:         uri,
		Database:    "chillspot_test_" + bson.NewObjectID().Hex(),
		MaxPoolSize: 5,
		Timeout:     10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.db.Drop(ctx)
		_ = db.Close(ctx)
	})
	require.NoError(t, db.EnsureIndexes(ctx))

	users := db.Collection("users")
	author := bson.NewObjectID()
	require.NoError(t, users.InsertOne(ctx, store.Document{"_id": author, "username": "jonny-appleseed", "hash": "x"}))
	err = users.InsertOne(ctx, store.Document{"_id": bson.NewObjectID(), "username": "jonny-appleseed"})
	assert.True(t, store.IsDuplicateKey(err))

	stories := db.Collection("stories")
	for _, title := range []string{"Lagos by night", "Quiet mornings in Accra"} {
		require.NoError(t, stories.InsertOne(ctx, store.Document{
			"_id": bson.NewObjectID(), "title": title, "content": "", "tags": bson.A{"travel"},
			"location": "", "views": int32(0), "author": author,
		}))
	}

	updated, err := stories.UpdateOne(ctx, store.Eq("title", "Lagos by night"), store.NewUpdate().Inc("views", 1), store.UpdateOptions{})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.EqualValues(t, 1, updated["views"])

	miss, err := stories.UpdateOne(ctx, store.Eq("title", "nope"), store.NewUpdate().Inc("views", 1), store.UpdateOptions{})
	require.NoError(t, err)
	assert.Nil(t, miss)

	docs, err := stories.Aggregate(ctx, store.Pipeline{
		store.Match{Cond: store.Text("lagos", models.StoryTextFields...)},
		store.TextScore{Search: "lagos", As: "score", Fields: models.StoryTextFields},
		store.Sort{Fields: []store.SortField{store.Desc("score")}},
		store.Lookup{From: "users", LocalField: "author", ForeignField: "_id", As: "author"},
		store.Unwind{Path: "author"},
		store.Project{Projection: store.Exclude("author.hash")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Lagos by night", docs[0]["title"])
	assert.NotContains(t, docs[0]["author"].(store.Document), "hash")

	n, err := stories.DeleteMany(ctx, store.Eq("tags", "travel"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
