package handlers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
	"agentdeck/pkg/auth"
)

// LocalAuthHandler handles local JWT authentication endpoints
type LocalAuthHandler struct {
	jwtAuth   *auth.LocalJWTAuth
	users     *services.UserService
	workspace *services.WorkspaceService
	chat      *services.ChatService
	redis     *services.RedisService // nil when Redis is not configured
}

// NewLocalAuthHandler creates a new local auth handler
func NewLocalAuthHandler(jwtAuth *auth.LocalJWTAuth, users *services.UserService, workspace *services.WorkspaceService, chat *services.ChatService, redis *services.RedisService) *LocalAuthHandler {
	return &LocalAuthHandler{
		jwtAuth:   jwtAuth,
		users:     users,
		workspace: workspace,
		chat:      chat,
		redis:     redis,
	}
}

// RegisterRequest is the request body for registration
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshTokenRequest is the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is the response for successful authentication
type AuthResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
	ExpiresIn    int         `json:"expires_in"` // seconds
}

// Register creates a new user account
// POST /api/auth/register
func (h *LocalAuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Valid email address is required",
		})
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	passwordHash, err := h.jwtAuth.HashPassword(req.Password)
	if err != nil {
		log.Printf("❌ Failed to hash password: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create account",
		})
	}

	user, err := h.users.CreateUser(c.UserContext(), req.Email, passwordHash)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "User with this email already exists",
			})
		}
		log.Printf("❌ Failed to create user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create account",
		})
	}

	accessToken, refreshToken, err := h.jwtAuth.GenerateTokens(user.ID, user.Email, user.Role)
	if err != nil {
		log.Printf("❌ Failed to generate tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate authentication tokens",
		})
	}

	h.setRefreshCookie(c, refreshToken)
	h.switchScope(c.UserContext(), user.ID)

	log.Printf("✅ User registered: %s (%s)", user.Email, user.ID)

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         *user,
		ExpiresIn:    int(h.jwtAuth.AccessTokenExpiry.Seconds()),
	})
}

// Login authenticates a user
// POST /api/auth/login
func (h *LocalAuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	// Per-account throttle on top of the per-IP limiter, shared across
	// replicas when Redis is available.
	if h.redis != nil {
		_, exceeded, err := h.redis.CheckRateLimit(c.UserContext(), "login:"+req.Email, 10, time.Minute)
		if err == nil && exceeded {
			log.Printf("🚫 [RATE-LIMIT] Login attempts exceeded for %s", req.Email)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many login attempts, try again later",
			})
		}
	}

	user, err := h.users.GetUserByEmail(c.UserContext(), req.Email)
	if err != nil || user == nil {
		// Constant-time-ish response to prevent email enumeration
		time.Sleep(200 * time.Millisecond)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	valid, err := h.jwtAuth.VerifyPassword(user.PasswordHash, req.Password)
	if err != nil || !valid {
		log.Printf("⚠️ Failed login attempt for user: %s", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	accessToken, refreshToken, err := h.jwtAuth.GenerateTokens(user.ID, user.Email, user.Role)
	if err != nil {
		log.Printf("❌ Failed to generate tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate authentication tokens",
		})
	}

	h.setRefreshCookie(c, refreshToken)
	h.switchScope(c.UserContext(), user.ID)

	log.Printf("✅ User logged in: %s (%s)", user.Email, user.ID)

	return c.JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         *user,
		ExpiresIn:    int(h.jwtAuth.AccessTokenExpiry.Seconds()),
	})
}

// RefreshToken generates a new access token from a refresh token
// POST /api/auth/refresh
func (h *LocalAuthHandler) RefreshToken(c *fiber.Ctx) error {
	refreshToken := h.refreshTokenFrom(c)
	if refreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Refresh token is required",
		})
	}

	claims, err := h.jwtAuth.VerifyRefreshToken(refreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired refresh token",
		})
	}

	if h.redis != nil && claims.TokenID != "" {
		revoked, err := h.redis.IsTokenRevoked(c.UserContext(), claims.TokenID)
		if err != nil {
			log.Printf("⚠️ Failed to check token revocation: %v", err)
		} else if revoked {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Refresh token has been revoked",
			})
		}
	}

	user, err := h.users.GetUserByID(c.UserContext(), claims.UserID)
	if err != nil || user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	// The refresh token stays valid until it expires or is revoked; only a
	// fresh access token is issued here.
	newAccessToken, _, err := h.jwtAuth.GenerateTokens(user.ID, user.Email, user.Role)
	if err != nil {
		log.Printf("❌ Failed to generate new access token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to refresh token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": newAccessToken,
		"expires_in":   int(h.jwtAuth.AccessTokenExpiry.Seconds()),
	})
}

// Logout revokes the refresh token and drops the workspace back to guest scope
// POST /api/auth/logout
func (h *LocalAuthHandler) Logout(c *fiber.Ctx) error {
	if refreshToken := h.refreshTokenFrom(c); refreshToken != "" && h.redis != nil {
		if claims, err := h.jwtAuth.VerifyRefreshToken(refreshToken); err == nil && claims.TokenID != "" {
			ttl := time.Until(claims.ExpiresAt.Time)
			if ttl > 0 {
				if err := h.redis.RevokeToken(c.UserContext(), claims.TokenID, ttl); err != nil {
					log.Printf("⚠️ Failed to revoke refresh token: %v", err)
				}
			}
		}
	}

	h.expireRefreshCookie(c)
	h.switchScope(c.UserContext(), "")

	if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
		log.Printf("✅ User logged out: %s", userID)
	}

	return c.JSON(fiber.Map{
		"message": "Logged out successfully",
	})
}

// refreshTokenFrom reads the refresh token from the httpOnly cookie, falling
// back to the request body for clients that do not use cookies.
func (h *LocalAuthHandler) refreshTokenFrom(c *fiber.Ctx) string {
	if token := c.Cookies("refresh_token"); token != "" {
		return token
	}
	var req RefreshTokenRequest
	if err := c.BodyParser(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *LocalAuthHandler) setRefreshCookie(c *fiber.Ctx, refreshToken string) {
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    refreshToken,
		Expires:  time.Now().Add(h.jwtAuth.RefreshTokenExpiry),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: "Strict",
		Path:     "/api/auth",
	})
}

func (h *LocalAuthHandler) expireRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: "Strict",
		Path:     "/api/auth",
	})
}

// switchScope points the workspace at the account that just authenticated
// (or back at the guest scope on logout) and drops cached chat state tied to
// the previous scope.
func (h *LocalAuthHandler) switchScope(ctx context.Context, userID string) {
	if err := h.workspace.OnAuthChange(ctx, userID); err != nil {
		log.Printf("⚠️ Failed to switch workspace scope: %v", err)
		return
	}
	if h.chat != nil {
		h.chat.InvalidateAll()
	}
}
