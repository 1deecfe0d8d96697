package auth

import (
	"net/http"
	"strings"
	"time"

	"virtualcare-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAccessToken guards console routes. A valid bearer access token puts the
// caller's Identity in the request context and tags the request logger with
// user_id and role. Role checks are left to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("console token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		l := logger.FromGin(c).With("user_id", claims.UserID, "role", claims.Role)
		c.Set("logger", l)

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.DisplayName, claims.Role)
		c.Request = c.Request.WithContext(logger.With(ctx, l))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
