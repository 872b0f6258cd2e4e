package routes

import (
	"context"

	"github.com/chillspot/chillspot-api/internal/middleware"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// publicUser hides the password digest from every user we send out.
var publicUser = store.FindOptions{Projection: store.Exclude("hash")}

// withAuthor replaces the author id of each document with the author's
// profile, dropping documents whose author no longer exists.
func withAuthor() store.Pipeline {
	return store.Pipeline{
		store.Lookup{From: repository.UsersCollection, LocalField: "author", ForeignField: "_id", As: "author"},
		store.Unwind{Path: "author"},
		store.Project{Projection: store.Exclude("author.hash")},
	}
}

// storyViews returns the stories matching cond with their authors joined in,
// followed by the tail stages.
func storyViews(ctx context.Context, repos *repository.Repositories, cond store.Condition, tail ...store.Stage) ([]models.StoryView, error) {
	var pipeline store.Pipeline
	if cond != nil {
		pipeline = append(pipeline, store.Match{Cond: cond})
	}
	pipeline = append(pipeline, withAuthor()...)
	pipeline = append(pipeline, tail...)

	docs, err := repos.Stories.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return store.Decode[models.StoryView](docs)
}

// storyView returns one story with its author, or nil.
func storyView(ctx context.Context, repos *repository.Repositories, id bson.ObjectID) (*models.StoryView, error) {
	views, err := storyViews(ctx, repos, store.Eq("_id", id))
	if err != nil || len(views) == 0 {
		return nil, err
	}
	return &views[0], nil
}

// commentViews lists the comments of a story, newest first.
func commentViews(ctx context.Context, repos *repository.Repositories, storyID bson.ObjectID) ([]models.CommentView, error) {
	pipeline := store.Pipeline{
		store.Match{Cond: store.Eq("story", storyID)},
		store.Sort{Fields: []store.SortField{store.Desc("createdAt"), store.Desc("_id")}},
	}
	pipeline = append(pipeline, withAuthor()...)

	docs, err := repos.Comments.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return store.Decode[models.CommentView](docs)
}

func idList(ids []bson.ObjectID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func containsID(ids []bson.ObjectID, id bson.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// callerID is the id of the authenticated user.
func callerID(c *fiber.Ctx) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(middleware.GetUserID(c))
	if err != nil {
		return bson.NilObjectID, apperrors.ErrUnauthenticated
	}
	return id, nil
}

// paramID parses the :id route parameter.
func paramID(c *fiber.Ctx) (bson.ObjectID, error) {
	return store.ParseID(c.Params("id"))
}

// selfOnly rejects requests where :id is not the caller.
func selfOnly(c *fiber.Ctx) (bson.ObjectID, error) {
	id, err := paramID(c)
	if err != nil {
		return bson.NilObjectID, err
	}
	caller, err := callerID(c)
	if err != nil {
		return bson.NilObjectID, err
	}
	if id != caller {
		return bson.NilObjectID, apperrors.ErrForbidden
	}
	return id, nil
}

func missing(what string) error {
	return apperrors.NewAppError(apperrors.CodeMissingParameter, "missing/malformed "+what, nil)
}
