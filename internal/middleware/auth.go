// Package middleware provides authentication, logging, metrics and rate limiting middleware.
package middleware

import (
	"strings"

	"roadcrew/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Token issuer and audience accepted by AuthRequired.
const (
	TokenIssuer   = "roadcrew-auth"
	TokenAudience = "roadcrew-client"
)

// AuthRequired returns a middleware that validates HMAC JWTs and stores the
// subject claim as the user ref in c.Locals("userID").
//
// WebSocket upgrades cannot set headers from browsers, so on /api/ws paths the
// token may also come from the "token" query parameter.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" && strings.HasPrefix(c.Path(), "/api/ws") {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := ParseUserToken(tokenString, secret)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}

		c.Locals("userID", userID)
		c.SetUserContext(WithUserID(c.UserContext(), userID))

		return c.Next()
	}
}

// ParseUserToken validates the token and returns its subject.
func ParseUserToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithAudience(TokenAudience))
	if err != nil || !token.Valid {
		return "", models.NewUnauthorizedError("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", models.NewUnauthorizedError("Invalid subject claim")
	}
	return sub, nil
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// UserID returns the authenticated user ref stored by AuthRequired.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals("userID").(string)
	return uid
}
