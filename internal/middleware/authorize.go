package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"placement/internal/core"
	"placement/internal/models"
)

const accountKey = "current_account"

type AccountLookup interface {
	GetByID(ctx context.Context, id string) (models.Account, error)
}

// RequireRoles lets the request through only when the caller's own account is
// admitted and has one of roles.
func RequireRoles(accounts AccountLookup, roles ...models.Role) gin.HandlerFunc {
	roleSet := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		account, err := accounts.GetByID(c.Request.Context(), principal.CredentialID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if core.Admit(account) != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if _, ok := roleSet[account.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(accountKey, account)
		c.Next()
	}
}
