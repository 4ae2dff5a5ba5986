package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AccessVerifier resolves an access token to a user id.
type AccessVerifier interface {
	VerifyAccess(token string) (string, error)
}

// JWTAuth returns a middleware that validates bearer access tokens and stores
// the subject in Locals("user_id").
func JWTAuth(tokens AccessVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		uid, err := tokens.VerifyAccess(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", uid)
		return c.Next()
	}
}
