package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pengadaan/api/internal/middleware"
	"pengadaan/api/internal/service"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrExpiredCredential, http.StatusUnauthorized, "expired_credential"},
	{service.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{service.ErrDuplicatePendingRequest, http.StatusConflict, "duplicate_pending_request"},
	{service.ErrUserConflict, http.StatusConflict, "user_conflict"},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

func (h HandlerSet) writeError(c *gin.Context, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.target) {
			if e.status >= http.StatusInternalServerError {
				h.log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
			}
			c.JSON(e.status, errorResponse{Error: e.code, Message: err.Error()})
			return
		}
	}

	h.log.Error().Err(err).Str("route", c.FullPath()).Msg("unexpected error")
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "unexpected server error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "validation_error", Message: err.Error()})
}

// mustIdentity returns the caller set by the auth middleware. Routes using it
// are always mounted behind middleware.Auth.
func mustIdentity(c *gin.Context) (service.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
	}
	return identity, ok
}
