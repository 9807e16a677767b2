package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"device-relay-backend/internal/auth"
)

const (
	adminIDKey = "admin_id"
	claimsKey  = "claims"
)

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate rejects requests without a valid admin token and stores the
// admin id on the context.
func Authenticate(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}
		claims, err := tokens.VerifyToken(token)
		if err != nil || claims.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(adminIDKey, claims.SubjectID())
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// AdminID returns the authenticated admin id, or "" outside Authenticate.
func AdminID(c *gin.Context) string {
	return c.GetString(adminIDKey)
}
