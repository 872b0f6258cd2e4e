package routes

import (
	"encoding/json"
	"strings"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/images"
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// profileFields are the only keys a profile update may carry.
var profileFields = map[string]bool{
	"firstname": true,
	"lastname":  true,
	"email":     true,
	"username":  true,
	"avatar":    true,
	"bio":       true,
}

// UserHandler handles user endpoints
type UserHandler struct {
	repos   *repository.Repositories
	auth    *auth.Service
	images  images.Store
	avatars []string
	logger  *logrus.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(repos *repository.Repositories, authService *auth.Service, imageStore images.Store, avatars []string, logger *logrus.Logger) *UserHandler {
	return &UserHandler{
		repos:   repos,
		auth:    authService,
		images:  imageStore,
		avatars: avatars,
		logger:  logger,
	}
}

func (h *UserHandler) find(c *fiber.Ctx, id bson.ObjectID) (*models.User, error) {
	user, err := h.repos.Users.FindOne(c.UserContext(), store.Eq("_id", id), publicUser)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

// Me returns the caller's profile
// @Summary Current user
// @Tags Users
// @Produce json
// @Security Bearer
// @Success 200 {object} models.Response
// @Failure 401 {object} errors.ErrorResponse
// @Router /users/me [get]
func (h *UserHandler) Me(c *fiber.Ctx) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	user, err := h.find(c, id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{"user": user})
}

// Get returns a user's profile
// @Summary Get user
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	user, err := h.find(c, id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{"user": user})
}

// Search looks a user up by username
// @Summary Find user by username
// @Tags Users
// @Produce json
// @Security Bearer
// @Param q query string true "Username"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Failure 412 {object} errors.ErrorResponse
// @Router /users/search [get]
func (h *UserHandler) Search(c *fiber.Ctx) error {
	username := strings.TrimSpace(c.Query("q"))
	if username == "" {
		return missing("request query")
	}

	user, err := h.repos.Users.FindOne(c.UserContext(), store.Eq("username", username), publicUser)
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrNotFound
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{"user": user})
}

// Followers lists the users following :id with their stories
// @Summary Followers
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/followers [get]
func (h *UserHandler) Followers(c *fiber.Ctx) error {
	return h.relations(c, "followers", func(u *models.User) []bson.ObjectID { return u.Followers })
}

// Following lists the users :id follows with their stories
// @Summary Following
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/following [get]
func (h *UserHandler) Following(c *fiber.Ctx) error {
	return h.relations(c, "following", func(u *models.User) []bson.ObjectID { return u.Following })
}

func (h *UserHandler) relations(c *fiber.Ctx, key string, pick func(*models.User) []bson.ObjectID) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	user, err := h.find(c, id)
	if err != nil {
		return err
	}

	docs, err := h.repos.Users.Aggregate(c.UserContext(), store.Pipeline{
		store.Match{Cond: store.In("_id", idList(pick(user))...)},
		store.Sort{Fields: []store.SortField{store.Asc("username")}},
		store.Lookup{From: repository.StoriesCollection, LocalField: "_id", ForeignField: "author", As: "stories"},
		store.Project{Projection: store.Include("firstname", "lastname", "username", "bio", "avatar", "stories")},
	})
	if err != nil {
		return err
	}

	people, err := store.Decode[models.Follower](docs)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{key: people})
}

// LikedStories lists the stories :id liked
// @Summary Liked stories
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/liked-stories [get]
func (h *UserHandler) LikedStories(c *fiber.Ctx) error {
	return h.storyList(c, "likes", false, func(u *models.User) []bson.ObjectID { return u.Likes })
}

// Collection lists the stories :id saved
// @Summary Saved stories
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/collection [get]
func (h *UserHandler) Collection(c *fiber.Ctx) error {
	return h.storyList(c, "collections", false, func(u *models.User) []bson.ObjectID { return u.Collections })
}

// Archive lists the caller's archived stories
// @Summary Archived stories
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 403 {object} errors.ErrorResponse
// @Router /users/{id}/archive [get]
func (h *UserHandler) Archive(c *fiber.Ctx) error {
	return h.storyList(c, "archive", true, func(u *models.User) []bson.ObjectID { return u.Archive })
}

func (h *UserHandler) storyList(c *fiber.Ctx, key string, self bool, pick func(*models.User) []bson.ObjectID) error {
	id, err := paramID(c)
	if self {
		id, err = selfOnly(c)
	}
	if err != nil {
		return err
	}
	user, err := h.find(c, id)
	if err != nil {
		return err
	}

	stories, err := storyViews(c.UserContext(), h.repos, store.In("_id", idList(pick(user))...))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{key: stories})
}

// Stories lists the stories written by :id
// @Summary Stories by user
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Router /users/{id}/stories [get]
func (h *UserHandler) Stories(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	stories, err := h.repos.Stories.Find(c.UserContext(), store.Eq("author", id),
		store.FindOptions{Sort: []store.SortField{store.Desc("createdAt"), store.Desc("_id")}})
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "resources found.", fiber.Map{"stories": stories})
}

// Follow makes the caller follow :id
// @Summary Follow user
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/follow [patch]
func (h *UserHandler) Follow(c *fiber.Ctx) error {
	return h.follow(c, true)
}

// Unfollow makes the caller stop following :id
// @Summary Unfollow user
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{id}/unfollow [patch]
func (h *UserHandler) Unfollow(c *fiber.Ctx) error {
	return h.follow(c, false)
}

func (h *UserHandler) follow(c *fiber.Ctx, follow bool) error {
	ctx := c.UserContext()

	initiator, err := callerID(c)
	if err != nil {
		return err
	}
	recipient, err := paramID(c)
	if err != nil {
		return err
	}
	if initiator == recipient {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "users cannot follow themselves", nil)
	}
	if _, err := h.find(c, recipient); err != nil {
		return err
	}

	following, followers := store.NewUpdate(), store.NewUpdate()
	if follow {
		following.AddToSet("following", recipient)
		followers.AddToSet("followers", initiator)
	} else {
		following.Pull("following", recipient)
		followers.Pull("followers", initiator)
	}

	user, err := h.repos.Users.UpdateOne(ctx, store.Eq("_id", initiator), following, store.UpdateOptions{Projection: publicUser.Projection})
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrUnauthenticated
	}
	if _, err := h.repos.Users.UpdateOne(ctx, store.Eq("_id", recipient), followers,
		store.UpdateOptions{Projection: store.Include("_id")}); err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resource updated.", fiber.Map{"user": user})
}

// UpdateProfile changes the caller's profile fields
// @Summary Update profile
// @Tags Users
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Param request body models.UpdateProfileRequest true "Fields to change"
// @Success 200 {object} models.Response
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /users/{id} [patch]
func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := selfOnly(c)
	if err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return errInvalidBody
	}
	for field := range raw {
		if !profileFields[field] {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid property in request body", nil)
		}
	}

	var req models.UpdateProfileRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return errInvalidBody
	}

	update := store.NewUpdate()
	for field, value := range map[string]*string{
		"firstname": req.Firstname,
		"lastname":  req.Lastname,
		"bio":       req.Bio,
	} {
		if value != nil {
			update.Set(field, *value)
		}
	}
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" {
			return missing("username")
		}
		update.Set("username", username)
	}
	if req.Avatar != nil {
		update.Set("avatar", *req.Avatar)
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email == "" {
			return missing("email")
		}
		owner, err := h.repos.Users.FindOne(ctx, store.Eq("email", email), store.FindOptions{Projection: store.Include("_id")})
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != id {
			return apperrors.ErrConflict
		}
		update.Set("email", email)
	}
	if update.Empty() {
		return missing("field(s) in request body")
	}

	user, err := h.repos.Users.UpdateOne(ctx, store.Eq("_id", id), update, store.UpdateOptions{Projection: publicUser.Projection})
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrNotFound
	}

	return respond(c, fiber.StatusOK, "resource updated.", fiber.Map{"user": user})
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Tags Users
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Param request body models.ChangePasswordRequest true "Old and new password"
// @Success 200 {object} models.Response
// @Failure 401 {object} errors.ErrorResponse
// @Failure 412 {object} errors.ErrorResponse
// @Router /users/{id}/password [patch]
func (h *UserHandler) ChangePassword(c *fiber.Ctx) error {
	id, err := selfOnly(c)
	if err != nil {
		return err
	}

	var req models.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	if err := h.auth.ChangePassword(c.UserContext(), id.Hex(), req.OldPassword, req.Password); err != nil {
		return err
	}

	h.logger.WithField("user_id", id.Hex()).Info("Password changed")
	return respond(c, fiber.StatusOK, "resource updated.", fiber.Map{})
}

// Delete removes the caller's account with its stories and comments
// @Summary Delete account
// @Tags Users
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Param request body models.DeleteAccountRequest true "Current password"
// @Success 200 {object} models.Response
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := selfOnly(c)
	if err != nil {
		return err
	}

	var req models.DeleteAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	user, err := h.auth.Authenticate(ctx, id.Hex(), req.Password)
	if err != nil {
		return err
	}

	stories, err := h.repos.Stories.Find(ctx, store.Eq("author", id), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return err
	}
	storyIDs := make([]bson.ObjectID, len(stories))
	for i, s := range stories {
		storyIDs[i] = s.ID
	}

	if _, err := h.repos.Comments.DeleteMany(ctx, store.Eq("author", id)); err != nil {
		return err
	}
	if len(storyIDs) > 0 {
		if _, err := h.repos.Comments.DeleteMany(ctx, store.In("story", idList(storyIDs)...)); err != nil {
			return err
		}
	}
	if _, err := h.repos.Stories.DeleteMany(ctx, store.Eq("author", id)); err != nil {
		return err
	}
	if _, err := h.repos.Users.DeleteOne(ctx, store.Eq("_id", id)); err != nil {
		return err
	}

	h.dropAvatar(c, user)
	h.logger.WithFields(logrus.Fields{
		"user_id": id.Hex(),
		"stories": len(storyIDs),
	}).Info("Account deleted")

	return respond(c, fiber.StatusOK, "resource deleted.", fiber.Map{})
}

// DeleteAvatar swaps the caller's picture for a default one
// @Summary Reset avatar
// @Tags Users
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} models.Response
// @Failure 403 {object} errors.ErrorResponse
// @Router /users/{id}/avatar [delete]
func (h *UserHandler) DeleteAvatar(c *fiber.Ctx) error {
	id, err := selfOnly(c)
	if err != nil {
		return err
	}

	previous, err := h.find(c, id)
	if err != nil {
		return err
	}

	user, err := h.repos.Users.UpdateOne(c.UserContext(), store.Eq("_id", id),
		store.NewUpdate().Set("avatar", images.RandomAvatar(h.avatars)),
		store.UpdateOptions{Projection: publicUser.Projection})
	if err != nil {
		return err
	}
	if user == nil {
		return apperrors.ErrNotFound
	}

	h.dropAvatar(c, previous)
	return respond(c, fiber.StatusOK, "resource deleted.", fiber.Map{"user": user})
}

// dropAvatar removes an uploaded avatar from the bucket. Default avatars
// carry no key and are left alone.
func (h *UserHandler) dropAvatar(c *fiber.Ctx, user *models.User) {
	if user == nil || user.Avatar.Key == "" {
		return
	}
	if err := h.images.Delete(c.UserContext(), user.Avatar.Key); err != nil {
		h.logger.WithError(err).WithField("key", user.Avatar.Key).Warn("Failed to delete previous avatar")
	}
}
