package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crewsync/backend/internal/auth"
	"github.com/crewsync/backend/pkg/response"
)

const (
	// ContextAgentID is the key for agent ID in gin context.
	ContextAgentID = "agent_id"
	// ContextAgentRole is the key for agent role in gin context.
	ContextAgentRole = "agent_role"
	// ContextAgentEmail is the key for agent email in gin context.
	ContextAgentEmail = "agent_email"
)

// JWT returns a middleware that validates JWT and sets agent claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextAgentID, claims.AgentID)
		c.Set(ContextAgentRole, claims.Role)
		c.Set(ContextAgentEmail, claims.Email)
		c.Next()
	}
}
