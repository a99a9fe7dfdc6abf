package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pengadaan/api/internal/models"
	"pengadaan/api/internal/service"
)

type permissionRequest struct {
	PengadaanID    string `json:"pengadaanId"`
	PermissionType string `json:"permissionType"`
	Reason         string `json:"reason"`
}

type respondRequest struct {
	Decision string `json:"decision"`
	Response string `json:"response"`
}

type bulkRespondRequest struct {
	PermissionIDs []string `json:"permissionIds"`
	Decision      string   `json:"decision"`
	Response      string   `json:"response"`
}

type permissionListResponse struct {
	Permissions []models.Permission `json:"permissions"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

type accessResponse struct {
	PengadaanID string              `json:"pengadaanId"`
	Action      string              `json:"action"`
	Allowed     bool                `json:"allowed"`
	Basis       service.AccessBasis `json:"basis"`
}

func (h HandlerSet) RequestPermission(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	permission, err := h.permissions.RequestPermission(c.Request.Context(), identity, service.RequestInput{
		PengadaanID:    req.PengadaanID,
		PermissionType: req.PermissionType,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, permission)
}

func (h HandlerSet) ListPermissions(c *gin.Context) {
	h.listPermissions(c, false)
}

func (h HandlerSet) AdminListPermissions(c *gin.Context) {
	h.listPermissions(c, true)
}

func (h HandlerSet) listPermissions(c *gin.Context, admin bool) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, err)
		return
	}

	input := service.ListInput{
		PengadaanID:    c.Query("pengadaanId"),
		Status:         c.Query("status"),
		PermissionType: c.Query("permissionType"),
		Limit:          limit,
		Offset:         offset,
	}
	if admin {
		input.UserID = c.Query("userId")
	}

	permissions, err := h.permissions.List(c.Request.Context(), identity, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, permissionListResponse{Permissions: permissions, Limit: limit, Offset: offset})
}

func (h HandlerSet) GetPermission(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	permission, err := h.permissions.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, permission)
}

func (h HandlerSet) RevokePermission(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	if err := h.permissions.Revoke(c.Request.Context(), identity, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) CheckAccess(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	pengadaanID := c.Query("pengadaanId")
	if pengadaanID == "" {
		badRequest(c, fmt.Errorf("pengadaanId is required"))
		return
	}
	action, err := models.ParsePermissionType(c.Query("action"))
	if err != nil {
		badRequest(c, err)
		return
	}

	decision, err := h.guard.Authorize(c.Request.Context(), identity.UserID, identity.Role, pengadaanID, action)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accessResponse{
		PengadaanID: pengadaanID,
		Action:      string(action),
		Allowed:     decision.Allowed,
		Basis:       decision.Basis,
	})
}

func (h HandlerSet) RespondPermission(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	permission, err := h.permissions.Respond(c.Request.Context(), identity, c.Param("id"), service.RespondInput{
		Decision: req.Decision,
		Response: req.Response,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, permission)
}

func (h HandlerSet) BulkRespond(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	var req bulkRespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.permissions.BulkRespond(c.Request.Context(), identity, req.PermissionIDs, service.RespondInput{
		Decision: req.Decision,
		Response: req.Response,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HandlerSet) PermissionStats(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	stats, err := h.permissions.Stats(c.Request.Context(), identity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
