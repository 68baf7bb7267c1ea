package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestIDApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(RequestIDFrom(c))
	})
	return app
}

func TestRequestIDEchoesClientValue(t *testing.T) {
	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "trace-42")

	resp, err := requestIDApp().Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "trace-42", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "trace-42", string(body))
}

func TestRequestIDReplacesMissingOrOversized(t *testing.T) {
	for name, value := range map[string]string{
		"missing":   "",
		"oversized": strings.Repeat("x", 129),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/", nil)
			if value != "" {
				req.Header.Set("X-Request-ID", value)
			}
			resp, err := requestIDApp().Test(req, -1)
			require.NoError(t, err)

			got := resp.Header.Get("X-Request-ID")
			assert.Len(t, got, 36)
			assert.NotEqual(t, value, got)
		})
	}
}
