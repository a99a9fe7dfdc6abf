package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pengadaan/api/internal/config"
	"pengadaan/api/internal/handlers"
	"pengadaan/api/internal/repository"
)

func TestEngineServesMetricsAndRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{
		Environment: "test",
		Security:    config.SecurityConfig{JWTAccessSecret: "s", JWTAccessTTL: time.Minute, JWTRefreshTTL: time.Hour},
		Workflow:    config.WorkflowConfig{GrantTTL: time.Hour, MaxBulkSize: 10, RequestRate: 1, RequestBurst: 1},
	}
	h := handlers.NewHandlerSetWithStores(zerolog.Nop(), cfg, handlers.Stores{
		Users:       repository.NewMemoryUserStore(),
		Sessions:    repository.NewMemorySessionStore(),
		Permissions: repository.NewMemoryPermissionStore(),
		Owners:      repository.NewMemoryOwnerStore(),
	})
	engine := NewEngine(cfg, zerolog.Nop(), h)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("health: %d, request id %q", rec.Code, rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `pengadaan_http_requests_total{method="GET",route="/api/healthz",status="200"}`) {
		t.Fatalf("expected health request to be counted")
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/permissions/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestMetricsEngineExposesSweepCounter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewMetricsEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pengadaan_permission_expired_by_sweep_total") {
		t.Fatal("expected sweep counter in worker metrics")
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("worker metrics listener must not serve api routes, got %d", rec.Code)
	}
}
