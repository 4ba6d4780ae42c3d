package middleware

import (
	"crypto/subtle"
	"os"

	"github.com/gofiber/fiber/v2"
)

const apiKeyHeader = "X-API-KEY"

// APIKeyAuth guards the admin group. The expected key is read once at
// startup; an empty API_KEY locks the group entirely.
func APIKeyAuth() fiber.Handler {
	expected := os.Getenv("API_KEY")

	return func(c *fiber.Ctx) error {
		got := c.Get(apiKeyHeader)
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": false, "error": "unauthorized"})
		}
		return c.Next()
	}
}
