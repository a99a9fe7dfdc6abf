package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"pengadaan/api/internal/models"
)

var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrDuplicatePending   = errors.New("pending permission already exists")
	ErrStatusConflict     = errors.New("permission status changed concurrently")
)

const pendingUniqueConstraint = "permissions_pending_unique"

const permissionColumns = `
	id, user_id, admin_id, pengadaan_id, permission_type, status, reason, admin_response,
	requested_at, responded_at, expires_at, created_at, updated_at
`

type PermissionRepository struct {
	pool Querier
}

func NewPermissionRepository(pool Querier) *PermissionRepository {
	return &PermissionRepository{pool: pool}
}

func (r *PermissionRepository) Insert(ctx context.Context, p models.Permission) error {
	const query = `
		INSERT INTO permissions (
			id, user_id, pengadaan_id, permission_type, status, reason,
			requested_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.UserID,
		p.PengadaanID,
		p.PermissionType,
		p.Status,
		p.Reason,
		p.RequestedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err, pendingUniqueConstraint) {
		return ErrDuplicatePending
	}
	return err
}

func (r *PermissionRepository) GetByID(ctx context.Context, id string) (models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`
	return scanPermission(r.pool.QueryRow(ctx, query, id))
}

func (r *PermissionRepository) FindPending(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType) (models.Permission, error) {
	query := `SELECT ` + permissionColumns + `
		FROM permissions
		WHERE user_id = $1 AND pengadaan_id = $2 AND permission_type = $3 AND status = 'pending'
		LIMIT 1
	`
	return scanPermission(r.pool.QueryRow(ctx, query, userID, pengadaanID, permissionType))
}

// FindActiveGrant returns the approved, unexpired permission with the latest
// horizon for the tuple.
func (r *PermissionRepository) FindActiveGrant(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType, now time.Time) (models.Permission, error) {
	query := `SELECT ` + permissionColumns + `
		FROM permissions
		WHERE user_id = $1 AND pengadaan_id = $2 AND permission_type = $3
		  AND status = 'approved'
		  AND (expires_at IS NULL OR expires_at > $4)
		ORDER BY expires_at DESC NULLS FIRST
		LIMIT 1
	`
	return scanPermission(r.pool.QueryRow(ctx, query, userID, pengadaanID, permissionType, now))
}

// CompareAndSetStatus applies the transition only if the stored status still
// equals expected. The check and the write are a single statement.
func (r *PermissionRepository) CompareAndSetStatus(ctx context.Context, id string, expected models.PermissionStatus, tr models.PermissionTransition) (models.Permission, error) {
	query := `
		UPDATE permissions
		SET status = $3,
		    admin_id = $4,
		    admin_response = $5,
		    responded_at = $6,
		    expires_at = $7,
		    updated_at = $6
		WHERE id = $1 AND status = $2
		RETURNING ` + permissionColumns

	updated, err := scanPermission(r.pool.QueryRow(ctx, query,
		id,
		expected,
		tr.Status,
		nullableString(tr.AdminID),
		tr.AdminResponse,
		tr.RespondedAt,
		tr.ExpiresAt,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrPermissionNotFound) {
		return models.Permission{}, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return models.Permission{}, err
	}
	if !exists {
		return models.Permission{}, ErrPermissionNotFound
	}
	return models.Permission{}, ErrStatusConflict
}

func (r *PermissionRepository) List(ctx context.Context, filter models.PermissionFilter) ([]models.Permission, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.PengadaanID != "" {
		add("pengadaan_id = $%d", filter.PengadaanID)
	}
	if filter.Status != "" {
		cond, condArgs := effectiveStatusCondition(filter.Status, filter.Cutoff, len(args))
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}
	if filter.PermissionType != "" {
		add("permission_type = $%d", filter.PermissionType)
	}

	query := `SELECT ` + permissionColumns + ` FROM permissions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY requested_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permissions []models.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}

// effectiveStatusCondition matches rows whose effective status at cutoff is
// status. Placeholders are numbered after offset existing arguments.
func effectiveStatusCondition(status models.PermissionStatus, cutoff models.ExpiryCutoff, offset int) (string, []any) {
	pendingHorizon := !cutoff.PendingBefore.IsZero()
	switch status {
	case models.PermissionPending:
		if !pendingHorizon {
			return "status = 'pending'", nil
		}
		return fmt.Sprintf("(status = 'pending' AND requested_at > $%d)", offset+1), []any{cutoff.PendingBefore}
	case models.PermissionApproved:
		return fmt.Sprintf("(status = 'approved' AND (expires_at IS NULL OR expires_at > $%d))", offset+1), []any{cutoff.Now}
	case models.PermissionExpired:
		if !pendingHorizon {
			return fmt.Sprintf("(status = 'expired' OR (status = 'approved' AND expires_at <= $%d))", offset+1), []any{cutoff.Now}
		}
		return fmt.Sprintf(
			"(status = 'expired' OR (status = 'approved' AND expires_at <= $%d) OR (status = 'pending' AND requested_at <= $%d))",
			offset+1, offset+2,
		), []any{cutoff.Now, cutoff.PendingBefore}
	default:
		return fmt.Sprintf("status = $%d", offset+1), []any{status}
	}
}

// AggregateByStatus counts rows by effective status: approved rows past their
// horizon and pending rows older than the pending cutoff count as expired.
func (r *PermissionRepository) AggregateByStatus(ctx context.Context, cutoff models.ExpiryCutoff) (models.PermissionStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'
				AND ($2::timestamptz IS NULL OR requested_at > $2)),
			COUNT(*) FILTER (WHERE status = 'approved'
				AND (expires_at IS NULL OR expires_at > $1)),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'expired'
				OR (status = 'approved' AND expires_at <= $1)
				OR (status = 'pending' AND $2::timestamptz IS NOT NULL AND requested_at <= $2))
		FROM permissions
	`

	var stats models.PermissionStats
	err := r.pool.QueryRow(ctx, query, cutoff.Now, nullableTime(cutoff.PendingBefore)).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Approved,
		&stats.Rejected,
		&stats.Expired,
	)
	return stats, err
}

func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// ExpireOverdue persists the expired status for rows whose horizon passed.
func (r *PermissionRepository) ExpireOverdue(ctx context.Context, cutoff models.ExpiryCutoff) (int64, error) {
	const query = `
		UPDATE permissions
		SET status = 'expired',
		    responded_at = COALESCE(responded_at, $1),
		    updated_at = $1
		WHERE (status = 'approved' AND expires_at <= $1)
		   OR (status = 'pending' AND $2::timestamptz IS NOT NULL AND requested_at <= $2)
	`
	cmd, err := r.pool.Exec(ctx, query, cutoff.Now, nullableTime(cutoff.PendingBefore))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanPermission(row pgx.Row) (models.Permission, error) {
	var p models.Permission
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.AdminID,
		&p.PengadaanID,
		&p.PermissionType,
		&p.Status,
		&p.Reason,
		&p.AdminResponse,
		&p.RequestedAt,
		&p.RespondedAt,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Permission{}, ErrPermissionNotFound
		}
		return models.Permission{}, err
	}
	return p, nil
}
