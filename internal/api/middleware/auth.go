package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"imjang/api/internal/auth"
)

const (
	// ContextKeyUserID holds the key for the caller's user id (Crockford string) in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyRole holds the key for the caller's role claim in Gin context.
	ContextKeyRole = "role"
)

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			errMsg := fmt.Sprintf("Invalid or expired token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

// AgentMiddleware admits only tokens carrying the agent role.
// The agent profile itself is re-checked by the services. Assumes AuthMiddleware runs first.
func AgentMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextKeyRole)
		if r, ok := role.(auth.Role); !ok || r != auth.RoleAgent {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Agent privileges required"})
			return
		}
		c.Next()
	}
}
