package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pengadaan/api/internal/config"
	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
	"pengadaan/api/internal/security"
	"pengadaan/api/internal/service"
)

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	users  *repository.MemoryUserStore
	owners *repository.MemoryOwnerStore
}

func newTestAPI(t *testing.T, probes map[string]Probe) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret: "handler-test-secret",
			JWTAccessTTL:    15 * time.Minute,
			JWTRefreshTTL:   time.Hour,
			MaxSessions:     5,
		},
		Workflow: config.WorkflowConfig{
			GrantTTL:     72 * time.Hour,
			PendingTTL:   720 * time.Hour,
			MaxBulkSize:  50,
			RequestRate:  100,
			RequestBurst: 100,
		},
	}

	api := &testAPI{
		t:      t,
		users:  repository.NewMemoryUserStore(),
		owners: repository.NewMemoryOwnerStore(),
	}
	api.owners.SetOwner("PGD-007", "usr_owner")

	h := NewHandlerSetWithStores(zerolog.Nop(), cfg, Stores{
		Users:       api.users,
		Sessions:    repository.NewMemorySessionStore(),
		Permissions: repository.NewMemoryPermissionStore(),
		Owners:      api.owners,
		Probes:      probes,
	})

	api.engine = gin.New()
	h.Register(api.engine.Group("/api"))
	return api
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(rec *httptest.ResponseRecorder, out any) {
	a.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		a.t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (a *testAPI) seedAdmin() string {
	a.t.Helper()
	hash, err := security.HashPassword("admin-pass-1")
	if err != nil {
		a.t.Fatalf("HashPassword() error: %v", err)
	}
	if err := a.users.Create(context.Background(), models.User{
		ID:           "usr_admin",
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         models.UserRoleAdmin,
		Status:       models.UserStatusActive,
	}); err != nil {
		a.t.Fatalf("users.Create() error: %v", err)
	}
	return a.login("admin", "admin-pass-1")
}

func (a *testAPI) login(identifier, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"identifier": identifier, "password": password})
	if rec.Code != http.StatusOK {
		a.t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	a.decode(rec, &resp)
	return resp.AccessToken
}

func (a *testAPI) registerUser(username string) (string, string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "user-pass-1",
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	var resp authResponse
	a.decode(rec, &resp)
	return resp.AccessToken, resp.User.ID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestPermissionWorkflowOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.seedAdmin()
	userToken, userID := api.registerUser("siti")

	body := map[string]string{"pengadaanId": "PGD-007", "permissionType": "edit_form", "reason": "typo fix"}
	rec := api.do(http.MethodPost, "/api/v1/permissions", userToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request permission: %d %s", rec.Code, rec.Body.String())
	}
	var created models.Permission
	api.decode(rec, &created)
	if created.UserID != userID || created.Status != models.PermissionPending {
		t.Fatalf("unexpected permission %+v", created)
	}

	rec = api.do(http.MethodPost, "/api/v1/permissions", userToken, body)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "duplicate_pending_request" {
		t.Fatalf("expected duplicate conflict, got %d %s", rec.Code, rec.Body.String())
	}

	rec = api.do(http.MethodGet, "/api/v1/access/check?pengadaanId=PGD-007&action=edit_form", userToken, nil)
	var access accessResponse
	api.decode(rec, &access)
	if access.Allowed {
		t.Fatalf("pending request must not grant access")
	}

	rec = api.do(http.MethodPost, "/api/v1/admin/permissions/"+created.ID+"/respond", adminToken, map[string]string{"decision": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: %d %s", rec.Code, rec.Body.String())
	}
	var approved models.Permission
	api.decode(rec, &approved)
	if approved.Status != models.PermissionApproved || approved.ExpiresAt == nil {
		t.Fatalf("unexpected approved permission %+v", approved)
	}

	rec = api.do(http.MethodPost, "/api/v1/admin/permissions/"+created.ID+"/respond", adminToken, map[string]string{"decision": "rejected", "response": "late"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "already_resolved" {
		t.Fatalf("expected already_resolved, got %d %s", rec.Code, rec.Body.String())
	}

	rec = api.do(http.MethodGet, "/api/v1/access/check?pengadaanId=PGD-007&action=edit_form", userToken, nil)
	api.decode(rec, &access)
	if !access.Allowed || access.Basis != service.BasisGrant {
		t.Fatalf("expected grant access, got %+v", access)
	}

	rec = api.do(http.MethodGet, "/api/v1/admin/permissions/stats", adminToken, nil)
	var stats models.PermissionStats
	api.decode(rec, &stats)
	if stats.Total != 1 || stats.Approved != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = api.do(http.MethodGet, "/api/v1/permissions", userToken, nil)
	var list permissionListResponse
	api.decode(rec, &list)
	if len(list.Permissions) != 1 || list.Permissions[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.seedAdmin()
	userToken, _ := api.registerUser("budi")

	cases := []struct {
		name         string
		method, path string
		token        string
		body         any
		status       int
		code         string
	}{
		{"missing token", http.MethodGet, "/api/v1/permissions", "", nil, http.StatusUnauthorized, "missing_token"},
		{"bad token", http.MethodGet, "/api/v1/permissions", "garbage", nil, http.StatusUnauthorized, "invalid_credential"},
		{"empty reason", http.MethodPost, "/api/v1/permissions", userToken,
			map[string]string{"pengadaanId": "PGD-007", "permissionType": "delete_form", "reason": ""}, http.StatusBadRequest, "validation_error"},
		{"unknown resource", http.MethodPost, "/api/v1/permissions", userToken,
			map[string]string{"pengadaanId": "PGD-404", "permissionType": "delete_form", "reason": "x"}, http.StatusNotFound, "not_found"},
		{"non-admin stats", http.MethodGet, "/api/v1/admin/permissions/stats", userToken, nil, http.StatusForbidden, "forbidden"},
		{"unknown permission", http.MethodPost, "/api/v1/admin/permissions/prm_missing/respond", adminToken,
			map[string]string{"decision": "approved"}, http.StatusNotFound, "not_found"},
		{"bulk reject without note", http.MethodPost, "/api/v1/admin/permissions/bulk-respond", adminToken,
			map[string]any{"permissionIds": []string{"a"}, "decision": "rejected"}, http.StatusBadRequest, "validation_error"},
		{"bad action", http.MethodGet, "/api/v1/access/check?pengadaanId=PGD-007&action=rename", userToken, nil, http.StatusBadRequest, "validation_error"},
		{"bad limit", http.MethodGet, "/api/v1/permissions?limit=-3", userToken, nil, http.StatusBadRequest, "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, got)
			}
		})
	}
}

func TestBulkRespondOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.seedAdmin()

	var ids []string
	for _, name := range []string{"andi", "citra", "dodi"} {
		token, _ := api.registerUser(name)
		rec := api.do(http.MethodPost, "/api/v1/permissions", token, map[string]string{
			"pengadaanId": "PGD-007", "permissionType": "delete_form", "reason": "duplicate entry",
		})
		var p models.Permission
		api.decode(rec, &p)
		ids = append(ids, p.ID)
	}

	rec := api.do(http.MethodPost, "/api/v1/admin/permissions/"+ids[0]+"/respond", adminToken,
		map[string]string{"decision": "rejected", "response": "keep it"})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: %d %s", rec.Code, rec.Body.String())
	}

	rec = api.do(http.MethodPost, "/api/v1/admin/permissions/bulk-respond", adminToken, map[string]any{
		"permissionIds": ids,
		"decision":      "approved",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk respond: %d %s", rec.Code, rec.Body.String())
	}
	var result service.BulkResult
	api.decode(rec, &result)
	if result.Processed != 2 || result.Failed != 1 {
		t.Fatalf("unexpected bulk result %+v", result)
	}
}

func TestInactiveUserCannotRequest(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.seedAdmin()
	userToken, userID := api.registerUser("eka")

	rec := api.do(http.MethodPatch, "/api/v1/admin/users/"+userID+"/status", adminToken, map[string]string{"status": "inactive"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set status: %d %s", rec.Code, rec.Body.String())
	}

	rec = api.do(http.MethodGet, "/api/v1/auth/me", userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inactive users still authenticate, got %d", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/v1/permissions", userToken, map[string]string{
		"pengadaanId": "PGD-007", "permissionType": "edit_form", "reason": "typo fix",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutEndsSession(t *testing.T) {
	api := newTestAPI(t, nil)
	token, _ := api.registerUser("fina")

	if rec := api.do(http.MethodPost, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	healthy := newTestAPI(t, map[string]Probe{
		"database": func(context.Context) error { return nil },
	})
	rec := healthy.do(http.MethodGet, "/api/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := newTestAPI(t, map[string]Probe{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec = degraded.do(http.MethodGet, "/api/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp healthResponse
	degraded.decode(rec, &resp)
	if resp.Dependencies["cache"] != "error" || resp.Dependencies["database"] != "ok" {
		t.Fatalf("unexpected dependencies %+v", resp.Dependencies)
	}
}
