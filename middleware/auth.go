package middleware

import (
	"strings"

	"lms-payment-service/common/auth"
	apperrors "lms-payment-service/common/errors"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	UserKey  = "userID"
	EmailKey = "email"
	RoleKey  = "role"
)

const (
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
)

// AuthMiddleware requires a valid Bearer access token and stores the caller's
// id, email and role on the context.
func AuthMiddleware(verifier *auth.TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			apperrors.Respond(c, nil, apperrors.Unauthorized("Missing token"))
			return
		}

		claims, err := verifier.ParseAndValidateToken(strings.TrimSpace(token), "")
		if err != nil {
			logger.Debug("rejected access token", zap.Error(err), zap.String("path", c.Request.URL.Path))
			apperrors.Respond(c, nil, apperrors.Unauthorized("Invalid token"))
			return
		}

		c.Set(UserKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole lets the request through only for one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !lo.Contains(roles, GetRole(c)) {
			apperrors.Respond(c, nil, apperrors.Forbidden("Access denied"))
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserKey)
}

func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}
