package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"placement/internal/identity"
	"placement/internal/service"
)

const (
	principalKey   = "principal"
	accessTokenKey = "access_token"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string, ip string, userAgent string) (service.Principal, error)
}

// Auth resolves the bearer token to a live credential session.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		principal, err := auth.Authenticate(c.Request.Context(), tokenStr, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			if errors.Is(err, identity.ErrNotSignedIn) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		c.Set(accessTokenKey, tokenStr)
		c.Set(principalKey, principal)
		c.Next()
	}
}

// CurrentPrincipal returns the principal set by Auth.
func CurrentPrincipal(c *gin.Context) (service.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	p, ok := v.(service.Principal)
	return p, ok
}
