package repository

import (
	"context"
	"io"
	"testing"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"
	"github.com/chillspot/chillspot-api/internal/store/memory"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Store.Driver = config.DriverMemory
	cfg.Store.MetricsEnabled = true

	repos, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, repos.Driver)
	assert.IsType(t, &instrumented{}, repos.Users.Collection())
	assert.Equal(t, UsersCollection, repos.Users.Collection().Name())
	assert.NoError(t, repos.DB.Ping(context.Background()))
	assert.NoError(t, repos.Close(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Driver = "cassandra"
	_, err := Open(context.Background(), cfg, logrus.New())
	assert.Error(t, err)
}

func TestInstrumented_PassesThrough(t *testing.T) {
	ctx := context.Background()
	repos := New(memory.New(memory.WithUniqueIndex(UsersCollection, "username")), config.DriverMemory, true)

	u, err := repos.Users.Create(ctx, models.NewUser("Jonny", "Appleseed", "Jonny-Appleseed", "j@example.com", "h", models.Image{}))
	require.NoError(t, err)

	_, err = repos.Users.Create(ctx, models.NewUser("Jonny", "Appleseed", "Jonny-Appleseed", "k@example.com", "h", models.Image{}))
	assert.True(t, store.IsDuplicateKey(err))

	n, err := repos.Users.Count(ctx, store.Eq("firstname", "Jonny"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	found, err := repos.Users.FindByID(ctx, u.ID.Hex(), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Jonny-Appleseed", found.Username)

	docs, err := repos.Users.Aggregate(ctx, store.Pipeline{store.Match{Cond: store.Eq("_id", u.ID)}})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	deleted, err := repos.Users.DeleteMany(ctx, store.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestNewMemory_UniqueUsername(t *testing.T) {
	ctx := context.Background()
	repos := NewMemory()

	_, err := repos.Users.Create(ctx, &models.User{Username: "a-b"})
	require.NoError(t, err)
	_, err = repos.Users.Create(ctx, &models.User{Username: "a-b"})
	assert.True(t, store.IsDuplicateKey(err))
}
