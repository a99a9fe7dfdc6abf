package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// NonceStore claims a key for ttl. Claim returns false if the key was
// already claimed; Release frees it again.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Idempotency drops replays of a state-changing request that carries an
// Idempotency-Key already seen for the same caller. Requests without the
// header pass through. A key whose request failed with a retryable status is
// released so the caller can resend it.
func Idempotency(store NonceStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" || store == nil {
			c.Next()
			return
		}
		if len(key) > 128 {
			abort(c, http.StatusBadRequest, "validation_error", "Idempotency-Key is too long")
			return
		}

		owner := "anonymous"
		if identity, ok := CurrentIdentity(c); ok {
			owner = identity.UserID
		}

		nonceKey := "idem:" + owner + ":" + c.FullPath() + ":" + key
		claimed, err := store.Claim(c.Request.Context(), nonceKey, ttl)
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}
		if !claimed {
			abort(c, http.StatusConflict, "replayed_request", "request with this Idempotency-Key was already submitted")
			return
		}

		c.Next()

		if retryableStatus(c.Writer.Status()) {
			if err := store.Release(context.WithoutCancel(c.Request.Context()), nonceKey); err != nil {
				_ = c.Error(err)
			}
		}
	}
}

// retryableStatus reports whether the request left no state behind that a
// resend could duplicate.
func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusBadRequest ||
		status == http.StatusTooManyRequests
}
