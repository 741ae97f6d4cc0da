package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	contextUserID = "auth.user_id"
	contextRole   = "auth.role"
)

// Middleware rejects requests without a valid bearer token and stores the caller in the context.
// Websocket clients may pass the token as the access_token query parameter.
func Middleware(verifier *Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := verifier.Verify(raw)
		if err != nil {
			logger.Debug("Rejected access token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(contextUserID, claims.UserID)
		c.Set(contextRole, claims.Role)
		c.Next()
	}
}

// RequireRole allows only callers holding one of roles
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := Caller(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !slices.Contains(roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated user id and role
func Caller(c *gin.Context) (uuid.UUID, Role, bool) {
	id, ok := c.Get(contextUserID)
	if !ok {
		return uuid.Nil, "", false
	}
	role, _ := c.Get(contextRole)
	userID, _ := id.(uuid.UUID)
	r, _ := role.(Role)
	return userID, r, userID != uuid.Nil
}

// SetCaller stores a caller in the context, for handler tests
func SetCaller(c *gin.Context, userID uuid.UUID, role Role) {
	c.Set(contextUserID, userID)
	c.Set(contextRole, role)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return c.Query("access_token")
}
