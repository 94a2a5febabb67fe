package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const accountIDKey = "account_id"

// Authenticator resolves a bearer session token to an account id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// JWTAuth rejects requests without a valid session token and stores the
// token subject for downstream handlers.
func JWTAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		accountID, err := auth.Authenticate(token)
		if err != nil || accountID == "" {
			return fiber.NewError(http.StatusUnauthorized, "invalid or expired token")
		}
		c.Locals(accountIDKey, accountID)
		return c.Next()
	}
}

// AccountID returns the subject stored by JWTAuth, or "" on public routes.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(accountIDKey).(string)
	return id
}
