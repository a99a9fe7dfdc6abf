package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pengadaan/api/internal/models"
)

func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		if _, ok := roleSet[identity.Role]; !ok {
			abort(c, http.StatusForbidden, "forbidden", "role not permitted")
			return
		}

		c.Next()
	}
}
