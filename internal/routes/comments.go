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

// CommentHandler handles comment endpoints
type CommentHandler struct {
	repos  *repository.Repositories
	logger *logrus.Logger
}

// NewCommentHandler creates a new comment handler
func NewCommentHandler(repos *repository.Repositories, logger *logrus.Logger) *CommentHandler {
	return &CommentHandler{
		repos:  repos,
		logger: logger,
	}
}

// List returns the comments of a story
// @Summary Comments for story
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param storyId query string true "Story ID"
// @Success 200 {object} models.Response
// @Failure 412 {object} errors.ErrorResponse
// @Router /comments [get]
func (h *CommentHandler) List(c *fiber.Ctx) error {
	storyID, err := h.storyQuery(c)
	if err != nil {
		return err
	}
	return h.respondWithComments(c, fiber.StatusOK, "resources found", storyID)
}

// Get returns one comment
// @Summary Get comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /comments/{id} [get]
func (h *CommentHandler) Get(c *fiber.Ctx) error {
	comment, err := h.comment(c)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resource found", fiber.Map{"comment": comment})
}

// Create adds a comment to a story
// @Summary Create comment
// @Tags Comments
// @Accept json
// @Produce json
// @Security Bearer
// @Param Idempotency-Key header string false "Idempotency key (UUID)"
// @Param storyId query string true "Story ID"
// @Param request body models.CommentRequest true "Comment"
// @Success 201 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Failure 412 {object} errors.ErrorResponse
// @Router /comments [post]
func (h *CommentHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	authorID, err := callerID(c)
	if err != nil {
		return err
	}
	storyID, err := h.storyQuery(c)
	if err != nil {
		return err
	}
	content, err := commentContent(c)
	if err != nil {
		return err
	}

	story, err := h.repos.Stories.FindOne(ctx, store.Eq("_id", storyID), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return err
	}
	if story == nil {
		return apperrors.ErrNotFound
	}

	comment, err := h.repos.Comments.Create(ctx, models.NewComment(content, authorID, storyID))
	if err != nil {
		return err
	}
	if _, err := h.repos.Stories.UpdateOne(ctx, store.Eq("_id", storyID), store.NewUpdate().Push("comments", comment.ID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"comment_id": comment.ID.Hex(),
		"story_id":   storyID.Hex(),
	}).Debug("Comment created")

	return h.respondWithComments(c, fiber.StatusCreated, "resource created.", storyID)
}

// Edit replaces the text of the caller's comment
// @Summary Edit comment
// @Tags Comments
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Param request body models.CommentRequest true "Comment"
// @Success 200 {object} models.Response
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /comments/{id} [patch]
func (h *CommentHandler) Edit(c *fiber.Ctx) error {
	comment, err := h.owned(c)
	if err != nil {
		return err
	}
	content, err := commentContent(c)
	if err != nil {
		return err
	}

	if _, err := h.repos.Comments.UpdateOne(c.UserContext(), store.Eq("_id", comment.ID), store.NewUpdate().Set("content", content),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	return h.respondWithComments(c, fiber.StatusOK, "resource updated.", comment.Story)
}

// Like toggles the caller's like on a comment
// @Summary Like or unlike comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /comments/{id}/like [patch]
func (h *CommentHandler) Like(c *fiber.Ctx) error {
	return h.react(c, "likes", "likedBy", func(cm *models.Comment) []bson.ObjectID { return cm.LikedBy }, true)
}

// Unlike removes the caller's like from a comment
// @Summary Unlike comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Router /comments/{id}/unlike [patch]
func (h *CommentHandler) Unlike(c *fiber.Ctx) error {
	return h.react(c, "likes", "likedBy", func(cm *models.Comment) []bson.ObjectID { return cm.LikedBy }, false)
}

// Dislike toggles the caller's dislike on a comment
// @Summary Dislike comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Router /comments/{id}/dislike [patch]
func (h *CommentHandler) Dislike(c *fiber.Ctx) error {
	return h.react(c, "dislikes", "dislikedBy", func(cm *models.Comment) []bson.ObjectID { return cm.DislikedBy }, true)
}

// UndoDislike removes the caller's dislike from a comment
// @Summary Undo dislike
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Router /comments/{id}/undo-dislike [patch]
func (h *CommentHandler) UndoDislike(c *fiber.Ctx) error {
	return h.react(c, "dislikes", "dislikedBy", func(cm *models.Comment) []bson.ObjectID { return cm.DislikedBy }, false)
}

// react adds or removes the caller in the comment's reaction list. With
// toggle set a second call undoes the first; otherwise it only removes.
func (h *CommentHandler) react(c *fiber.Ctx, counter, list string, pick func(*models.Comment) []bson.ObjectID, toggle bool) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	comment, err := h.comment(c)
	if err != nil {
		return err
	}

	// The membership test is part of the filter so concurrent reactions
	// cannot move the counter twice.
	var cond store.Condition
	var update *store.Update
	switch {
	case containsID(pick(comment), userID):
		cond = store.And(store.Eq("_id", comment.ID), store.Eq(list, userID))
		update = store.NewUpdate().Inc(counter, -1).Pull(list, userID)
	case toggle:
		cond = store.And(store.Eq("_id", comment.ID), store.Ne(list, userID))
		update = store.NewUpdate().Inc(counter, 1).AddToSet(list, userID)
	}

	if update != nil {
		if _, err := h.repos.Comments.UpdateOne(c.UserContext(), cond, update,
			store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
			return err
		}
	}

	return h.respondWithComments(c, fiber.StatusOK, "resource updated.", comment.Story)
}

// Delete removes the caller's comment
// @Summary Delete comment
// @Tags Comments
// @Produce json
// @Security Bearer
// @Param id path string true "Comment ID"
// @Success 200 {object} models.Response
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /comments/{id} [delete]
func (h *CommentHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	comment, err := h.owned(c)
	if err != nil {
		return err
	}

	if _, err := h.repos.Comments.DeleteOne(ctx, store.Eq("_id", comment.ID)); err != nil {
		return err
	}
	if _, err := h.repos.Stories.UpdateOne(ctx, store.Eq("_id", comment.Story), store.NewUpdate().Pull("comments", comment.ID),
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	return h.respondWithComments(c, fiber.StatusOK, "resource deleted.", comment.Story)
}

func (h *CommentHandler) comment(c *fiber.Ctx) (*models.Comment, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	comment, err := h.repos.Comments.FindOne(c.UserContext(), store.Eq("_id", id), store.FindOptions{})
	if err != nil {
		return nil, err
	}
	if comment == nil {
		return nil, apperrors.ErrNotFound
	}
	return comment, nil
}

// owned loads :id and checks that the caller wrote it.
func (h *CommentHandler) owned(c *fiber.Ctx) (*models.Comment, error) {
	userID, err := callerID(c)
	if err != nil {
		return nil, err
	}
	comment, err := h.comment(c)
	if err != nil {
		return nil, err
	}
	if comment.Author != userID {
		return nil, apperrors.ErrForbidden
	}
	return comment, nil
}

func (h *CommentHandler) storyQuery(c *fiber.Ctx) (bson.ObjectID, error) {
	raw := strings.TrimSpace(c.Query("storyId"))
	if raw == "" {
		return bson.NilObjectID, missing("query parameter")
	}
	return store.ParseID(raw)
}

func (h *CommentHandler) respondWithComments(c *fiber.Ctx, status int, message string, storyID bson.ObjectID) error {
	comments, err := commentViews(c.UserContext(), h.repos, storyID)
	if err != nil {
		return err
	}
	return respond(c, status, message, fiber.Map{"comments": comments})
}

func commentContent(c *fiber.Ctx) (string, error) {
	var req models.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return "", errInvalidBody
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", missing("field(s) in request body")
	}
	return content, nil
}
