package routes

import (
	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
)

var (
	errInvalidID   = apperrors.NewAppError(apperrors.CodeBadRequest, "malformed resource id", nil)
	errInvalidBody = apperrors.NewAppError(apperrors.CodeBadRequest, "invalid request body", nil)
	errNotFound    = apperrors.NewAppError(apperrors.CodeNotFound, "the requested resource doesn't exist", nil)
)

// ErrorHandler renders every error returned by a handler as an ErrorResponse.
func ErrorHandler(c *fiber.Ctx, err error) error {
	appErr := toAppError(err)
	return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(traceID(c)))
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}

	switch {
	case store.IsInvalidID(err):
		return apperrors.NewAppError(errInvalidID.Code, errInvalidID.Message, err)
	case store.IsDuplicateKey(err):
		return apperrors.NewAppError(apperrors.CodeConflict, apperrors.ErrConflict.Message, err)
	}

	if e, ok := err.(*fiber.Error); ok {
		return apperrors.NewAppError(codeForStatus(e.Code), e.Message, err)
	}

	return apperrors.NewAppError(apperrors.CodeInternalError, "something went wrong", err)
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		return apperrors.CodeBadRequest
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return apperrors.CodeNotFound
	case fiber.StatusUnauthorized:
		return apperrors.CodeUnauthenticated
	case fiber.StatusForbidden:
		return apperrors.CodeForbidden
	case fiber.StatusTooManyRequests:
		return apperrors.CodeRateLimited
	default:
		return apperrors.CodeInternalError
	}
}

// traceID prefers the active span and falls back to the request id.
func traceID(c *fiber.Ctx) string {
	if sc := trace.SpanContextFromContext(c.UserContext()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}

// notFoundHandler answers every unmatched route.
func notFoundHandler(c *fiber.Ctx) error {
	return errNotFound
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(models.Response{
		OK:      true,
		Status:  status,
		Message: message,
		Data:    data,
	})
}
