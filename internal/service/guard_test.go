package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pengadaan/api/internal/models"
)

func TestAccessGuardAuthorize(t *testing.T) {
	f := newWorkflowFixture(t, testWorkflowConfig())
	f.owners.SetOwner("PGD-100", "U2")
	guard := NewAccessGuard(f.owners, f.svc)
	ctx := context.Background()

	p := f.request(t, userU1, "PGD-100", models.PermissionEditForm)

	cases := []struct {
		name   string
		userID string
		role   models.UserRole
		action models.PermissionType
		want   Decision
	}{
		{"admin", "A1", models.UserRoleAdmin, models.PermissionDeleteForm, Decision{Allowed: true, Basis: BasisAdmin}},
		{"owner", "U2", models.UserRoleUser, models.PermissionDeleteForm, Decision{Allowed: true, Basis: BasisOwner}},
		{"pending only", "U1", models.UserRoleUser, models.PermissionEditForm, Decision{Allowed: false, Basis: BasisNone}},
	}
	for _, tc := range cases {
		got, err := guard.Authorize(ctx, tc.userID, tc.role, "PGD-100", tc.action)
		if err != nil {
			t.Fatalf("%s: Authorize() error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}

	if _, err := f.svc.Respond(ctx, adminA1, p.ID, RespondInput{Decision: "approved"}); err != nil {
		t.Fatalf("Respond() error: %v", err)
	}

	got, err := guard.Authorize(ctx, "U1", models.UserRoleUser, "PGD-100", models.PermissionEditForm)
	if err != nil || got != (Decision{Allowed: true, Basis: BasisGrant}) {
		t.Fatalf("expected grant, got %+v err=%v", got, err)
	}
	got, _ = guard.Authorize(ctx, "U1", models.UserRoleUser, "PGD-100", models.PermissionDeleteForm)
	if got.Allowed {
		t.Fatalf("edit grant must not allow delete")
	}

	f.clock.Advance(73 * time.Hour)
	got, _ = guard.Authorize(ctx, "U1", models.UserRoleUser, "PGD-100", models.PermissionEditForm)
	if got.Allowed {
		t.Fatalf("expired grant must not allow edit")
	}
}

func TestAccessGuardUnknownResource(t *testing.T) {
	f := newWorkflowFixture(t, testWorkflowConfig())
	guard := NewAccessGuard(f.owners, f.svc)

	got, err := guard.Authorize(context.Background(), "U1", models.UserRoleUser, "PGD-404", models.PermissionEditForm)
	if !errors.Is(err, ErrNotFound) || got.Allowed {
		t.Fatalf("expected ErrNotFound and deny, got %+v err=%v", got, err)
	}
}
