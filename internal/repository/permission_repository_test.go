package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"

	"pengadaan/api/internal/models"
)

var permissionColumnNames = []string{
	"id", "user_id", "admin_id", "pengadaan_id", "permission_type", "status", "reason", "admin_response",
	"requested_at", "responded_at", "expires_at", "created_at", "updated_at",
}

var repoEpoch = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}

func permissionRows(perms ...models.Permission) *pgxmock.Rows {
	rows := pgxmock.NewRows(permissionColumnNames)
	for _, p := range perms {
		rows.AddRow(p.ID, p.UserID, p.AdminID, p.PengadaanID, p.PermissionType, p.Status, p.Reason, p.AdminResponse,
			p.RequestedAt, p.RespondedAt, p.ExpiresAt, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func approvedPermission(id string) models.Permission {
	admin := "A1"
	respondedAt := repoEpoch.Add(time.Hour)
	expiresAt := respondedAt.Add(72 * time.Hour)
	return models.Permission{
		ID:             id,
		UserID:         "U1",
		AdminID:        &admin,
		PengadaanID:    "PGD-007",
		PermissionType: models.PermissionEditForm,
		Status:         models.PermissionApproved,
		Reason:         "fix totals",
		AdminResponse:  (*string)(nil),
		RequestedAt:    repoEpoch,
		RespondedAt:    &respondedAt,
		ExpiresAt:      &expiresAt,
		CreatedAt:      repoEpoch,
		UpdatedAt:      respondedAt,
	}
}

func TestInsertMapsPendingUniqueViolation(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)

	mock.ExpectExec("INSERT INTO permissions").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: pendingUniqueConstraint})
	mock.ExpectExec("INSERT INTO permissions").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "permissions_pengadaan_id_fkey"})

	p := models.Permission{ID: "perm_1", UserID: "U1", PengadaanID: "PGD-007", PermissionType: models.PermissionEditForm, Status: models.PermissionPending}
	if err := repo.Insert(context.Background(), p); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}
	err := repo.Insert(context.Background(), p)
	if err == nil || errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected the foreign key error to pass through, got %v", err)
	}
}

func TestCompareAndSetStatusApplies(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)
	want := approvedPermission("perm_1")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("perm_1", models.PermissionPending, models.PermissionApproved,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(permissionRows(want))

	got, err := repo.CompareAndSetStatus(context.Background(), "perm_1", models.PermissionPending, models.PermissionTransition{
		Status:      models.PermissionApproved,
		AdminID:     "A1",
		RespondedAt: *want.RespondedAt,
		ExpiresAt:   want.ExpiresAt,
	})
	if err != nil {
		t.Fatalf("CompareAndSetStatus() error: %v", err)
	}
	if got.Status != models.PermissionApproved || got.AdminID == nil || *got.AdminID != "A1" {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestCompareAndSetStatusLosingWriter(t *testing.T) {
	cases := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "row changed underneath", exists: true, want: ErrStatusConflict},
		{name: "row missing", exists: false, want: ErrPermissionNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMockPool(t)
			repo := NewPermissionRepository(mock)

			mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
				WillReturnRows(pgxmock.NewRows(permissionColumnNames))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
				WithArgs("perm_1").
				WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tc.exists))

			_, err := repo.CompareAndSetStatus(context.Background(), "perm_1", models.PermissionPending, models.PermissionTransition{
				Status:      models.PermissionRejected,
				AdminID:     "A2",
				RespondedAt: repoEpoch,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestListNumbersEffectiveStatusPlaceholders(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)
	cutoff := models.ExpiryCutoff{Now: repoEpoch.Add(80 * time.Hour), PendingBefore: repoEpoch.Add(-640 * time.Hour)}

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE user_id = $1 AND (status = 'expired' OR (status = 'approved' AND expires_at <= $2) " +
			"OR (status = 'pending' AND requested_at <= $3)) ORDER BY requested_at DESC, id DESC LIMIT $4 OFFSET $5",
	)).
		WithArgs("U1", cutoff.Now, cutoff.PendingBefore, 10, 0).
		WillReturnRows(permissionRows(approvedPermission("perm_1")))

	got, err := repo.List(context.Background(), models.PermissionFilter{
		UserID: "U1",
		Status: models.PermissionExpired,
		Cutoff: cutoff,
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "perm_1" {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestListApprovedExcludesLapsedGrants(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)
	cutoff := models.ExpiryCutoff{Now: repoEpoch}

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE pengadaan_id = $1 AND (status = 'approved' AND (expires_at IS NULL OR expires_at > $2)) " +
			"AND permission_type = $3 ORDER BY requested_at DESC, id DESC LIMIT $4 OFFSET $5",
	)).
		WithArgs("PGD-007", repoEpoch, models.PermissionDeleteForm, 50, 20).
		WillReturnRows(permissionRows())

	got, err := repo.List(context.Background(), models.PermissionFilter{
		PengadaanID:    "PGD-007",
		Status:         models.PermissionApproved,
		PermissionType: models.PermissionDeleteForm,
		Cutoff:         cutoff,
		Limit:          50,
		Offset:         20,
	})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
}

func TestAggregateByStatusBuckets(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)
	cutoff := models.ExpiryCutoff{Now: repoEpoch, PendingBefore: repoEpoch.Add(-720 * time.Hour)}

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER")).
		WithArgs(repoEpoch, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"total", "pending", "approved", "rejected", "expired"}).
			AddRow(10, 3, 2, 1, 4))

	stats, err := repo.AggregateByStatus(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("AggregateByStatus() error: %v", err)
	}
	if stats != (models.PermissionStats{Total: 10, Pending: 3, Approved: 2, Rejected: 1, Expired: 4}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Pending+stats.Approved+stats.Rejected+stats.Expired != stats.Total {
		t.Fatalf("buckets do not add up to total: %+v", stats)
	}
}

func TestExpireOverdueStampsRespondedAt(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPermissionRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta("responded_at = COALESCE(responded_at, $1)")).
		WithArgs(repoEpoch, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.ExpireOverdue(context.Background(), models.ExpiryCutoff{Now: repoEpoch})
	if err != nil {
		t.Fatalf("ExpireOverdue() error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestGetOwnerMissingPengadaan(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPengadaanRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_by FROM pengadaan")).
		WithArgs("PGD-404").
		WillReturnRows(pgxmock.NewRows([]string{"created_by"}))

	if _, err := repo.GetOwner(context.Background(), "PGD-404"); !errors.Is(err, ErrPengadaanNotFound) {
		t.Fatalf("expected ErrPengadaanNotFound, got %v", err)
	}
}
