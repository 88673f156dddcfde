package middleware

import (
	"log"
	"os"

	"agentdeck/internal/services"
	"agentdeck/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// extractToken pulls a bearer token from the Authorization header or the
// token query parameter (WebSocket upgrades cannot set headers).
func extractToken(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		if token, err := auth.ExtractToken(authHeader); err == nil {
			return token
		}
	}
	return c.Query("token")
}

// RequireAuth verifies a local JWT and rejects requests without one.
func RequireAuth(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtAuth == nil {
			// Auth endpoints are registered only when JWT is configured,
			// so this is reachable only through a wiring mistake.
			if os.Getenv("ENVIRONMENT") == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment")
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Authentication is not configured",
			})
		}

		token := extractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)
		return c.Next()
	}
}

// OptionalAuth verifies a token when one is present and otherwise lets the
// request through as guest (empty user_id). Invalid tokens are still
// rejected: a client that sends a token means to be authenticated.
func OptionalAuth(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" || jwtAuth == nil {
			c.Locals("user_id", "")
			return c.Next()
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)
		return c.Next()
	}
}

// ScopeSync moves the workspace into the requesting user's scope when an
// authenticated request arrives for a different scope. Guest requests
// never downgrade an account scope; only logout does that.
func ScopeSync(workspace *services.WorkspaceService, chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if userID == "" || userID == workspace.UserID() {
			return c.Next()
		}

		if err := workspace.OnAuthChange(c.UserContext(), userID); err != nil {
			log.Printf("⚠️ [AUTH] Scope switch to user %s failed: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load account workspace",
			})
		}
		if chat != nil {
			chat.InvalidateAll()
		}
		return c.Next()
	}
}
