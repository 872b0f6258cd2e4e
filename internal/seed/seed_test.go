package seed

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestSeeder(t *testing.T) (*Seeder, *repository.Repositories, *auth.Service) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repos := repository.NewMemory()
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService("seed-test-secret", time.Hour, "chillspot-api")
	require.NoError(t, err)
	svc := auth.NewService(repos.Users, hasher, tokens)

	return NewSeeder(repos, svc, []string{"https://cdn.example.com/avatars/default-1.png"}, logger), repos, svc
}

func TestLoadFile(t *testing.T) {
	f, err := LoadFile("testdata/fixtures.yaml")
	require.NoError(t, err)

	assert.Len(t, f.Users, 2)
	assert.Len(t, f.Stories, 2)
	assert.Equal(t, []string{"travel", "night"}, f.Stories[0].Tags)
	assert.Equal(t, "Beautiful!", f.Comments[0].Content)
	assert.Equal(t, Follow{Follower: "bola@example.com", Followee: "ada@example.com"}, f.Follows[0])
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("users:\n  - firstname: Ada\n    nickname: A\n"))
	assert.Error(t, err)
}

func TestLoad_Empty(t *testing.T) {
	f, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Users)
}

func TestSeeder_Apply(t *testing.T) {
	ctx := context.Background()
	s, repos, svc := newTestSeeder(t)

	f, err := LoadFile("testdata/fixtures.yaml")
	require.NoError(t, err)

	res, err := s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Users: 2, Stories: 2, Comments: 1, Follows: 1}, res)

	session, err := svc.Login(ctx, "ada@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, "Ada-Obi", session.User.Username)
	assert.Equal(t, "Night owl", session.User.Bio)
	assert.Len(t, session.User.Stories, 1)
	assert.Len(t, session.User.Followers, 1)

	story, err := repos.Stories.FindOne(ctx, store.Eq("slug", "lagos-by-night"), store.FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, story)
	assert.Equal(t, 1, story.Likes)
	assert.Len(t, story.Comments, 1)
	assert.Equal(t, session.User.ID, story.Author)

	bola, err := repos.Users.FindOne(ctx, store.Eq("email", "bola@example.com"), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, story.ID, bola.Likes[0])
	assert.Equal(t, session.User.ID, bola.Following[0])

	t.Run("second apply creates nothing", func(t *testing.T) {
		res, err := s.Apply(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)

		n, err := repos.Comments.Count(ctx, store.All())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestSeeder_UnknownReferences(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSeeder(t)

	_, err := s.Apply(ctx, &Fixtures{Stories: []Story{{Title: "Orphan", Content: "x", Author: "ghost@example.com"}}})
	assert.ErrorContains(t, err, "ghost@example.com")

	_, err = s.Apply(ctx, &Fixtures{Comments: []Comment{{Story: "Missing", Author: "ghost@example.com", Content: "x"}}})
	assert.ErrorContains(t, err, "Missing")
}

func TestSeeder_SelfFollow(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSeeder(t)

	_, err := s.Apply(ctx, &Fixtures{
		Users:   []User{{Firstname: "Ada", Lastname: "Obi", Email: "ada@example.com", Password: "password"}},
		Follows: []Follow{{Follower: "ada@example.com", Followee: "ada@example.com"}},
	})
	assert.Error(t, err)
}
