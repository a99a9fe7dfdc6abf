package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pengadaan/api/internal/service"
)

const identityKey = "current_identity"

type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (service.Identity, error)
}

// Auth resolves the bearer token into an identity. Inactive accounts pass;
// handlers decide what they may do.
func Auth(authenticator TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abort(c, http.StatusUnauthorized, "missing_token", "bearer token required")
			return
		}
		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		identity, err := authenticator.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrExpiredCredential):
				abort(c, http.StatusUnauthorized, "expired_credential", "credential expired")
			case errors.Is(err, service.ErrStoreUnavailable):
				abort(c, http.StatusServiceUnavailable, "store_unavailable", "try again later")
			default:
				abort(c, http.StatusUnauthorized, "invalid_credential", "credential is not valid")
			}
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (service.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	identity, ok := v.(service.Identity)
	return identity, ok
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
