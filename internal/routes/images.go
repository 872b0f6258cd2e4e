package routes

import (
	"strings"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/images"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ImageHandler handles image upload endpoints
type ImageHandler struct {
	store  images.Store
	config *config.ImagesConfig
	logger *logrus.Logger
}

// NewImageHandler creates a new image handler
func NewImageHandler(store images.Store, cfg *config.ImagesConfig, logger *logrus.Logger) *ImageHandler {
	return &ImageHandler{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Upload stores the multipart file field in the image bucket
// @Summary Upload image
// @Tags Images
// @Accept multipart/form-data
// @Produce json
// @Security Bearer
// @Param file formData file true "Image"
// @Success 201 {object} models.Response
// @Failure 400 {object} errors.ErrorResponse
// @Router /images [post]
func (h *ImageHandler) Upload(c *fiber.Ctx) error {
	owner, err := callerID(c)
	if err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil || file == nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "missing/malformed form data.", err)
	}
	if h.config.MaxSize > 0 && file.Size > h.config.MaxSize {
		return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "file exceeds %d bytes", h.config.MaxSize)
	}

	contentType := file.Header.Get(fiber.HeaderContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "only image uploads are accepted", nil)
	}

	body, err := file.Open()
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "missing/malformed form data.", err)
	}
	defer body.Close()

	img, err := h.store.Upload(c.UserContext(), owner.Hex(), file.Filename, contentType, body)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"key":  img.Key,
		"size": file.Size,
	}).Info("Image uploaded")

	return respond(c, fiber.StatusCreated, "resource created.", img)
}

// Delete removes one of the caller's uploaded images
// @Summary Delete image
// @Tags Images
// @Produce json
// @Security Bearer
// @Param key query string true "Object key"
// @Success 200 {object} models.Response
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 412 {object} errors.ErrorResponse
// @Router /images [delete]
func (h *ImageHandler) Delete(c *fiber.Ctx) error {
	owner, err := callerID(c)
	if err != nil {
		return err
	}

	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return missing("query parameter.")
	}
	if !strings.HasPrefix(key, images.KeyPrefix) || strings.Contains(key, "..") {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid object key", nil)
	}
	if !images.Owns(owner.Hex(), key) {
		return apperrors.ErrForbidden
	}

	if err := h.store.Delete(c.UserContext(), key); err != nil {
		return err
	}

	return respond(c, fiber.StatusOK, "resource deleted.", fiber.Map{"key": key})
}
