package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Idempotent(t *testing.T) {
	require.NoError(t, Init())
	require.NoError(t, Init())
}

func TestRecordAuthEvent(t *testing.T) {
	before := testutil.ToFloat64(authEventsTotal.WithLabelValues("login", "failure"))
	RecordAuthEvent("login", errors.New("bad password"))
	RecordAuthEvent("login", nil)

	assert.Equal(t, before+1, testutil.ToFloat64(authEventsTotal.WithLabelValues("login", "failure")))
}

func TestHTTPMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	app := fiber.New()
	app.Use(HTTPMetricsMiddleware())
	app.Get("/stories/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	counter := httpRequestsTotal.WithLabelValues(fiber.MethodGet, "/stories/:id", "204")
	before := testutil.ToFloat64(counter)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/stories/abc", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
