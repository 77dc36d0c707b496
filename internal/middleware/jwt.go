package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mentorlink/mentorlink-api/internal/utils"
)

// Credential failures during the channel-open handshake or a REST call.
var (
	ErrMissingCredential = errors.New("credential missing")
	ErrInvalidCredential = errors.New("credential invalid or expired")
)

// JWTProtected returns a middleware that validates JWT bearer tokens on the
// REST surface and binds the subject to the request.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		userID, role, err := ParseIdentity(secret, strings.TrimSpace(authorization[len(bearer):]))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", userID)
		if role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

// WebsocketProtected validates the handshake credential for the chat channel.
// Browsers cannot set headers on websocket dials, so the token travels as a
// `token` query parameter; an Authorization header is honored as a fallback.
// Rejection happens here, before the upgrade, so no event handler ever runs
// on an unauthenticated channel.
func WebsocketProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := strings.TrimSpace(c.Query("token"))
		if tokenString == "" {
			authorization := c.Get("Authorization")
			const bearer = "Bearer "
			if strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
				tokenString = strings.TrimSpace(authorization[len(bearer):])
			}
		}
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, ErrMissingCredential.Error())
		}

		userID, role, err := ParseIdentity(secret, tokenString)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, ErrInvalidCredential.Error())
		}

		c.Locals("user_id", userID)
		if role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

// ParseIdentity verifies an HMAC-signed token and extracts the user identity
// and role claims.
func ParseIdentity(secret, tokenString string) (string, string, error) {
	if tokenString == "" {
		return "", "", ErrMissingCredential
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidCredential
	}

	userID := extractUserIDFromClaims(claims)
	if userID == "" {
		return "", "", ErrInvalidCredential
	}

	return userID, extractUserRoleFromClaims(claims), nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if str, ok := value.(string); ok {
				if trimmed := strings.TrimSpace(str); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return ""
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	candidates := []string{"role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	default:
		return ""
	}
	return ""
}
