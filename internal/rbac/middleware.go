package rbac

import (
	"net/http"

	"virtualcare-platform/internal/auth"
	"virtualcare-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole admits console users holding one of allowed. Admins always pass.
// Must run after auth.RequireAccessToken.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(role, allowed...) {
			logger.FromGin(c).Warn("console role denied", "role", role, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Allows reports whether role may perform an action limited to allowed.
func Allows(role string, allowed ...string) bool {
	if IsAdmin(role) {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
