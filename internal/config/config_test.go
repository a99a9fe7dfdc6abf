package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("PENGADAAN_SECURITY_JWTACCESSSECRET", "test-secret")
	t.Setenv("PENGADAAN_WORKFLOW_GRANTTTL", "24h")
	t.Setenv("PENGADAAN_WORKFLOW_BLOCKWHILEGRANTED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Security.JWTAccessSecret != "test-secret" {
		t.Fatalf("expected secret from env, got %q", cfg.Security.JWTAccessSecret)
	}
	if cfg.Workflow.GrantTTL != 24*time.Hour {
		t.Fatalf("expected grant ttl override, got %s", cfg.Workflow.GrantTTL)
	}
	if !cfg.Workflow.BlockWhileGranted {
		t.Fatal("expected BlockWhileGranted from env")
	}
	if cfg.Workflow.PendingTTL != 720*time.Hour {
		t.Fatalf("unexpected pending ttl default %s", cfg.Workflow.PendingTTL)
	}
	if cfg.Workflow.MaxBulkSize != 200 {
		t.Fatalf("unexpected bulk default %d", cfg.Workflow.MaxBulkSize)
	}
	if cfg.HTTP.Port != 8080 || cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if cfg.Housekeeping.Stream != "permissions:housekeeping" || cfg.Housekeeping.ClaimInterval != 30*time.Second {
		t.Fatalf("unexpected housekeeping defaults %+v", cfg.Housekeeping)
	}
	if cfg.Housekeeping.MetricsAddr != ":9091" {
		t.Fatalf("unexpected worker metrics address %q", cfg.Housekeeping.MetricsAddr)
	}
	if !cfg.Postgres.AutoMigrate {
		t.Fatal("expected migrations on by default")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("PENGADAAN_SECURITY_JWTACCESSSECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without access secret")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := AppConfig{
		Workflow: WorkflowConfig{PendingTTL: -time.Second},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"jwtaccesssecret", "TTLs", "grantttl", "pendingttl", "maxbulksize"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateAcceptsZeroPendingTTL(t *testing.T) {
	cfg := AppConfig{
		Security: SecurityConfig{JWTAccessSecret: "s", JWTAccessTTL: time.Minute, JWTRefreshTTL: time.Hour},
		Workflow: WorkflowConfig{GrantTTL: time.Hour, MaxBulkSize: 1},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}
