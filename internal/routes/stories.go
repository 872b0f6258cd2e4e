package routes

import (
	"strings"

	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	defaultFeedLimit = 100
	defaultTagsLimit = 10
)

// StoryHandler handles story endpoints
type StoryHandler struct {
	repos  *repository.Repositories
	logger *logrus.Logger
}

// NewStoryHandler creates a new story handler
func NewStoryHandler(repos *repository.Repositories, logger *logrus.Logger) *StoryHandler {
	return &StoryHandler{
		repos:  repos,
		logger: logger,
	}
}

// feedSortField maps the sort query onto a story field. Unknown values sort
// by recency.
func feedSortField(sort string) string {
	switch sort {
	case "popular":
		return "views"
	case "approval":
		return "likes"
	default:
		return "createdAt"
	}
}

// Feed lists stories for the home feed
// @Summary Story feed
// @Description List stories ordered by popularity, recency or approval
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param sort query string false "popular, recent or approval"
// @Param limit query int false "Maximum number of stories" default(100)
// @Success 200 {object} models.Response
// @Failure 401 {object} errors.ErrorResponse
// @Router /stories/feed [get]
func (h *StoryHandler) Feed(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultFeedLimit)
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	stories, err := storyViews(c.UserContext(), h.repos, nil,
		store.Sort{Fields: []store.SortField{store.Desc(feedSortField(c.Query("sort"))), store.Desc("_id")}},
		store.Limit{N: int64(limit)},
	)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resources found", fiber.Map{"stories": stories})
}

// Search runs a full text search over stories
// @Summary Search stories
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param q query string true "Search terms"
// @Success 200 {object} models.Response
// @Failure 412 {object} errors.ErrorResponse
// @Router /stories/search [get]
func (h *StoryHandler) Search(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return missing("request query")
	}

	stories, err := storyViews(c.UserContext(), h.repos, store.Text(q, models.StoryTextFields...),
		store.TextScore{Search: q, As: "score", Fields: models.StoryTextFields},
		store.Sort{Fields: []store.SortField{store.Desc("score")}},
	)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resources found", fiber.Map{"stories": stories})
}

// ByTag lists stories carrying a tag
// @Summary Stories by tag
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param q query string true "Tag"
// @Success 200 {object} models.Response
// @Failure 412 {object} errors.ErrorResponse
// @Router /stories/tag [get]
func (h *StoryHandler) ByTag(c *fiber.Ctx) error {
	tag := strings.TrimSpace(c.Query("q"))
	if tag == "" {
		return missing("request query")
	}

	stories, err := storyViews(c.UserContext(), h.repos, store.Eq("tags", tag),
		store.Sort{Fields: []store.SortField{store.Desc("createdAt"), store.Desc("_id")}},
	)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resources found", fiber.Map{"stories": stories})
}

// TrendingTags counts how many stories use each tag
// @Summary Trending tags
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param limit query int false "Maximum number of tags" default(10)
// @Success 200 {object} models.Response
// @Router /stories/tags [get]
func (h *StoryHandler) TrendingTags(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultTagsLimit)
	if limit <= 0 {
		limit = defaultTagsLimit
	}

	docs, err := h.repos.Stories.Aggregate(c.UserContext(), store.Pipeline{
		store.Unwind{Path: "tags"},
		store.Group{By: "tags", Accumulators: []store.Accumulator{store.Count("count")}},
		store.Sort{Fields: []store.SortField{store.Desc("count"), store.Asc("_id")}},
		store.Limit{N: int64(limit)},
	})
	if err != nil {
		return err
	}

	tags, err := store.Decode[models.TagCount](docs)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resources found", fiber.Map{"tags": tags})
}

// Get returns one story and counts the view
// @Summary Get story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id} [get]
func (h *StoryHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	return h.view(c, store.Eq("_id", id))
}

// GetBySlug returns one story by its slug and counts the view
// @Summary Get story by slug
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param slug query string true "Story slug"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Failure 412 {object} errors.ErrorResponse
// @Router /stories/slug [get]
func (h *StoryHandler) GetBySlug(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Query("slug"))
	if slug == "" {
		return missing("request query")
	}
	return h.view(c, store.Eq("slug", slug))
}

func (h *StoryHandler) view(c *fiber.Ctx, cond store.Condition) error {
	ctx := c.UserContext()

	viewed, err := h.repos.Stories.UpdateOne(ctx, cond, store.NewUpdate().Inc("views", 1),
		store.UpdateOptions{Projection: store.Include("_id")})
	if err != nil {
		return err
	}
	if viewed == nil {
		return apperrors.ErrNotFound
	}

	story, err := storyView(ctx, h.repos, viewed.ID)
	if err != nil {
		return err
	}
	if story == nil {
		return apperrors.ErrNotFound
	}

	return respond(c, fiber.StatusOK, "resource found", fiber.Map{"story": story})
}

// Comments lists the comments of a story
// @Summary Story comments
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Router /stories/{id}/comments [get]
func (h *StoryHandler) Comments(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	comments, err := commentViews(c.UserContext(), h.repos, id)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resources found", fiber.Map{"comments": comments})
}

// Create publishes a story for the caller
// @Summary Create story
// @Tags Stories
// @Accept json
// @Produce json
// @Security Bearer
// @Param Idempotency-Key header string false "Idempotency key (UUID)"
// @Param request body models.CreateStoryRequest true "Story"
// @Success 201 {object} models.Response
// @Failure 412 {object} errors.ErrorResponse
// @Router /stories [post]
func (h *StoryHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	authorID, err := callerID(c)
	if err != nil {
		return err
	}

	var req models.CreateStoryRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		return missing("field(s) in request body")
	}

	author, err := h.repos.Users.FindOne(ctx, store.Eq("_id", authorID), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return err
	}
	if author == nil {
		return apperrors.ErrUnauthenticated
	}

	slug := models.Slugify(req.Title)
	taken, err := h.repos.Stories.Count(ctx, store.Eq("slug", slug))
	if err != nil {
		return err
	}

	story := models.NewStory(req, slug, authorID)
	if taken > 0 {
		hex := story.ID.Hex()
		story.Slug = slug + "-" + hex[len(hex)-6:]
	}

	created, err := h.repos.Stories.Create(ctx, story)
	if err != nil {
		return err
	}

	if _, err := h.repos.Users.UpdateOne(ctx, store.Eq("_id", authorID), store.NewUpdate().Push("stories", created.ID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"story_id": created.ID.Hex(),
		"user_id":  authorID.Hex(),
		"slug":     created.Slug,
	}).Info("Story created")

	return respond(c, fiber.StatusCreated, "resource created.", fiber.Map{"story": created})
}

// Like toggles the caller's like on a story
// @Summary Like or unlike story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id}/like [patch]
func (h *StoryHandler) Like(c *fiber.Ctx) error {
	return h.react(c, func(user *models.User, story bson.ObjectID) (liked bool) {
		return !containsID(user.Likes, story)
	})
}

// Unlike removes the caller's like from a story
// @Summary Unlike story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id}/unlike [patch]
func (h *StoryHandler) Unlike(c *fiber.Ctx) error {
	return h.react(c, func(*models.User, bson.ObjectID) bool { return false })
}

// react sets the caller's like on a story to the value chosen by want and
// adjusts the story's like counter when it changes.
func (h *StoryHandler) react(c *fiber.Ctx, want func(user *models.User, story bson.ObjectID) bool) error {
	ctx := c.UserContext()

	userID, storyID, err := h.ids(c)
	if err != nil {
		return err
	}

	user, err := h.repos.Users.FindOne(ctx, store.Eq("_id", userID), publicUser)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrUnauthenticated
	}

	if like := want(user, storyID); like != containsID(user.Likes, storyID) {
		// The user's likes list is the source of truth. The story counter only
		// moves when the guarded write to that list matched.
		delta := 1
		cond := store.And(store.Eq("_id", userID), store.Ne("likes", storyID))
		update := store.NewUpdate().AddToSet("likes", storyID)
		if !like {
			delta = -1
			cond = store.And(store.Eq("_id", userID), store.Eq("likes", storyID))
			update = store.NewUpdate().Pull("likes", storyID)
		}

		updated, err := h.repos.Users.UpdateOne(ctx, cond, update, store.UpdateOptions{Projection: publicUser.Projection})
		if err != nil {
			return err
		}
		if updated != nil {
			user = updated
			if _, err := h.repos.Stories.UpdateOne(ctx, store.Eq("_id", storyID), store.NewUpdate().Inc("likes", delta),
				store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
				return err
			}
		} else if user, err = h.repos.Users.FindOne(ctx, store.Eq("_id", userID), publicUser); err != nil {
			return err
		}
	}

	story, err := storyView(ctx, h.repos, storyID)
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resource updated.", fiber.Map{"story": story, "user": user})
}

// Save adds a story to the caller's collection
// @Summary Save story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id}/save [patch]
func (h *StoryHandler) Save(c *fiber.Ctx) error {
	return h.updateCaller(c, func(u *store.Update, story bson.ObjectID, _ *models.User) {
		u.AddToSet("collections", story)
	})
}

// Unsave removes a story from the caller's collection
// @Summary Unsave story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id}/unsave [patch]
func (h *StoryHandler) Unsave(c *fiber.Ctx) error {
	return h.updateCaller(c, func(u *store.Update, story bson.ObjectID, _ *models.User) {
		u.Pull("collections", story)
	})
}

// Archive toggles a story in the caller's archive
// @Summary Archive or unarchive story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id}/archive [patch]
func (h *StoryHandler) Archive(c *fiber.Ctx) error {
	return h.updateCaller(c, func(u *store.Update, story bson.ObjectID, user *models.User) {
		if containsID(user.Archive, story) {
			u.Pull("archive", story)
		} else {
			u.AddToSet("archive", story)
		}
	})
}

func (h *StoryHandler) updateCaller(c *fiber.Ctx, build func(u *store.Update, story bson.ObjectID, user *models.User)) error {
	ctx := c.UserContext()

	userID, storyID, err := h.ids(c)
	if err != nil {
		return err
	}

	user, err := h.repos.Users.FindOne(ctx, store.Eq("_id", userID), publicUser)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrUnauthenticated
	}

	update := store.NewUpdate()
	build(update, storyID, user)

	user, err = h.repos.Users.UpdateOne(ctx, store.Eq("_id", userID), update, store.UpdateOptions{Projection: publicUser.Projection})
	if err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resource updated.", fiber.Map{"user": user})
}

// ids returns the caller and an existing story from :id.
func (h *StoryHandler) ids(c *fiber.Ctx) (bson.ObjectID, bson.ObjectID, error) {
	userID, err := callerID(c)
	if err != nil {
		return userID, bson.NilObjectID, err
	}
	storyID, err := paramID(c)
	if err != nil {
		return userID, storyID, err
	}

	n, err := h.repos.Stories.Count(c.UserContext(), store.Eq("_id", storyID))
	if err != nil {
		return userID, storyID, err
	}
	if n == 0 {
		return userID, storyID, apperrors.ErrNotFound
	}
	return userID, storyID, nil
}

// Delete removes a story, its comments and the author's reference to it
// @Summary Delete story
// @Tags Stories
// @Produce json
// @Security Bearer
// @Param id path string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /stories/{id} [delete]
func (h *StoryHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	userID, err := callerID(c)
	if err != nil {
		return err
	}
	storyID, err := paramID(c)
	if err != nil {
		return err
	}

	story, err := h.repos.Stories.FindOne(ctx, store.Eq("_id", storyID), store.FindOptions{Projection: store.Include("author")})
	if err != nil {
		return err
	}
	if story == nil {
		return apperrors.ErrNotFound
	}
	if story.Author != userID {
		return apperrors.ErrForbidden
	}

	deleted, err := h.repos.Stories.DeleteOne(ctx, store.Eq("_id", storyID))
	if err != nil {
		return err
	}
	if deleted == nil {
		return apperrors.ErrNotFound
	}

	removed, err := h.repos.Comments.DeleteMany(ctx, store.Eq("story", storyID))
	if err != nil {
		return err
	}
	if _, err := h.repos.Users.UpdateOne(ctx, store.Eq("_id", userID), store.NewUpdate().Pull("stories", storyID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"story_id": storyID.Hex(),
		"user_id":  userID.Hex(),
		"comments": removed,
	}).Info("Story deleted")

	return respond(c, fiber.StatusOK, "resource deleted", fiber.Map{"story": deleted})
}
