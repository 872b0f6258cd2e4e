// Package seed loads demo accounts, stories, comments and follows from a YAML
// file into the document store. Applying the same file twice is a no-op.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/images"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/store"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"
)

// Fixtures is the layout of a seed file. Users are referred to by email
// and stories by title.
type Fixtures struct {
	Users    []User    `yaml:"users"`
	Stories  []Story   `yaml:"stories"`
	Comments []Comment `yaml:"comments"`
	Follows  []Follow  `yaml:"follows"`
}

type User struct {
	Firstname string `yaml:"firstname"`
	Lastname  string `yaml:"lastname"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	Bio       string `yaml:"bio"`
}

type Story struct {
	Title    string   `yaml:"title"`
	Content  string   `yaml:"content"`
	Location string   `yaml:"location"`
	Author   string   `yaml:"author"`
	Tags     []string `yaml:"tags"`
	LikedBy  []string `yaml:"likedBy"`
}

type Comment struct {
	Story   string `yaml:"story"`
	Author  string `yaml:"author"`
	Content string `yaml:"content"`
}

type Follow struct {
	Follower string `yaml:"follower"`
	Followee string `yaml:"followee"`
}

// Result counts what Apply created.
type Result struct {
	Users    int
	Stories  int
	Comments int
	Follows  int
}

// Load decodes fixtures, rejecting unknown keys.
func Load(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixtures
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return &f, nil
}

// LoadFile reads fixtures from path.
func LoadFile(path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// Seeder writes fixtures through the same services the API uses.
type Seeder struct {
	repos   *repository.Repositories
	auth    *auth.Service
	avatars []string
	logger  *logrus.Logger
}

func NewSeeder(repos *repository.Repositories, authService *auth.Service, avatars []string, logger *logrus.Logger) *Seeder {
	return &Seeder{repos: repos, auth: authService, avatars: avatars, logger: logger}
}

// Apply creates whatever in f is not already stored.
func (s *Seeder) Apply(ctx context.Context, f *Fixtures) (Result, error) {
	var res Result

	users := make(map[string]bson.ObjectID, len(f.Users))
	for _, u := range f.Users {
		id, created, err := s.user(ctx, u)
		if err != nil {
			return res, fmt.Errorf("user %s: %w", u.Email, err)
		}
		users[u.Email] = id
		if created {
			res.Users++
		}
	}

	lookup := func(email string) (bson.ObjectID, error) {
		if id, ok := users[email]; ok {
			return id, nil
		}
		found, err := s.repos.Users.FindOne(ctx, store.Eq("email", email), store.FindOptions{Projection: store.Include("_id")})
		if err != nil {
			return bson.NilObjectID, err
		}
		if found == nil {
			return bson.NilObjectID, fmt.Errorf("unknown user %q", email)
		}
		users[email] = found.ID
		return found.ID, nil
	}

	stories := make(map[string]bson.ObjectID, len(f.Stories))
	for _, st := range f.Stories {
		id, created, err := s.story(ctx, st, lookup)
		if err != nil {
			return res, fmt.Errorf("story %q: %w", st.Title, err)
		}
		stories[st.Title] = id
		if created {
			res.Stories++
		}
	}

	for _, c := range f.Comments {
		created, err := s.comment(ctx, c, stories, lookup)
		if err != nil {
			return res, fmt.Errorf("comment on %q: %w", c.Story, err)
		}
		if created {
			res.Comments++
		}
	}

	for _, fl := range f.Follows {
		created, err := s.follow(ctx, fl, lookup)
		if err != nil {
			return res, fmt.Errorf("follow %s -> %s: %w", fl.Follower, fl.Followee, err)
		}
		if created {
			res.Follows++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"users":    res.Users,
		"stories":  res.Stories,
		"comments": res.Comments,
		"follows":  res.Follows,
	}).Info("Fixtures applied")

	return res, nil
}

func (s *Seeder) user(ctx context.Context, u User) (bson.ObjectID, bool, error) {
	existing, err := s.repos.Users.FindOne(ctx, store.Eq("email", u.Email), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return bson.NilObjectID, false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	session, err := s.auth.Signup(ctx, auth.SignupInput{
		Firstname: u.Firstname,
		Lastname:  u.Lastname,
		Email:     u.Email,
		Password:  u.Password,
		Avatar:    images.RandomAvatar(s.avatars),
	})
	if err != nil {
		return bson.NilObjectID, false, err
	}

	if u.Bio != "" {
		if _, err := s.repos.Users.UpdateOne(ctx, store.Eq("_id", session.User.ID), store.NewUpdate().Set("bio", u.Bio),
			store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
			return bson.NilObjectID, false, err
		}
	}
	return session.User.ID, true, nil
}

func (s *Seeder) story(ctx context.Context, st Story, lookup func(string) (bson.ObjectID, error)) (bson.ObjectID, bool, error) {
	slug := models.Slugify(st.Title)
	existing, err := s.repos.Stories.FindOne(ctx, store.Eq("slug", slug), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return bson.NilObjectID, false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	author, err := lookup(st.Author)
	if err != nil {
		return bson.NilObjectID, false, err
	}

	story := models.NewStory(models.CreateStoryRequest{
		Title:    st.Title,
		Content:  st.Content,
		Location: st.Location,
		Tags:     st.Tags,
	}, slug, author)
	story.Likes = len(st.LikedBy)

	created, err := s.repos.Stories.Create(ctx, story)
	if err != nil {
		return bson.NilObjectID, false, err
	}
	if _, err := s.repos.Users.UpdateOne(ctx, store.Eq("_id", author), store.NewUpdate().Push("stories", created.ID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return bson.NilObjectID, false, err
	}

	for _, email := range st.LikedBy {
		liker, err := lookup(email)
		if err != nil {
			return bson.NilObjectID, false, err
		}
		if _, err := s.repos.Users.UpdateOne(ctx, store.Eq("_id", liker), store.NewUpdate().AddToSet("likes", created.ID),
			store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
			return bson.NilObjectID, false, err
		}
	}
	return created.ID, true, nil
}

func (s *Seeder) comment(ctx context.Context, c Comment, stories map[string]bson.ObjectID, lookup func(string) (bson.ObjectID, error)) (bool, error) {
	storyID, ok := stories[c.Story]
	if !ok {
		return false, fmt.Errorf("unknown story %q", c.Story)
	}
	author, err := lookup(c.Author)
	if err != nil {
		return false, err
	}

	n, err := s.repos.Comments.Count(ctx, store.And(
		store.Eq("story", storyID),
		store.Eq("author", author),
		store.Eq("content", c.Content),
	))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	comment, err := s.repos.Comments.Create(ctx, models.NewComment(c.Content, author, storyID))
	if err != nil {
		return false, err
	}
	if _, err := s.repos.Stories.UpdateOne(ctx, store.Eq("_id", storyID), store.NewUpdate().Push("comments", comment.ID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Seeder) follow(ctx context.Context, fl Follow, lookup func(string) (bson.ObjectID, error)) (bool, error) {
	follower, err := lookup(fl.Follower)
	if err != nil {
		return false, err
	}
	followee, err := lookup(fl.Followee)
	if err != nil {
		return false, err
	}
	if follower == followee {
		return false, fmt.Errorf("%s cannot follow themselves", fl.Follower)
	}

	n, err := s.repos.Users.Count(ctx, store.And(store.Eq("_id", follower), store.Eq("following", followee)))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	if _, err := s.repos.Users.UpdateOne(ctx, store.Eq("_id", follower), store.NewUpdate().AddToSet("following", followee),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return false, err
	}
	if _, err := s.repos.Users.UpdateOne(ctx, store.Eq("_id", followee), store.NewUpdate().AddToSet("followers", follower),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return false, err
	}
	return true, nil
}
