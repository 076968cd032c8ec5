package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "pulsechat-backend/pkg/errors"
	"pulsechat-backend/pkg/jwt"
	"pulsechat-backend/pkg/response"
)

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// If valid, it sets user_id (uuid.UUID) and username in the Gin context.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AbortWithError(c, apperrors.UnauthorizedError("Authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.AbortWithError(c, apperrors.UnauthorizedError("Invalid authorization header format"))
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrExpired) {
				response.AbortWithError(c, apperrors.ExpiredTokenError())
				return
			}
			response.AbortWithError(c, apperrors.InvalidTokenError("Invalid token"))
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// UserID returns the authenticated user set by AuthMiddleware
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
