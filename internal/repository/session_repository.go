package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pengadaan/api/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, user_id, refresh_token_hash, ip_address, user_agent, created_at, last_seen_at, expires_at`

// SessionRepository stores login sessions. Access tokens carry the session
// id, so deleting a row revokes every token minted for it.
type SessionRepository struct {
	pool Querier
}

func NewSessionRepository(pool Querier) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO user_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), $6)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	)
	return err
}

// Rotate swaps the refresh hash only while the session still holds
// previousHash, so one refresh token can be exchanged once.
func (r *SessionRepository) Rotate(ctx context.Context, id string, previousHash, refreshHash []byte, expiresAt time.Time) error {
	const query = `
		UPDATE user_sessions
		SET refresh_token_hash = $3, expires_at = $4, last_seen_at = NOW()
		WHERE id = $1 AND refresh_token_hash = $2
	`
	return r.execOne(ctx, query, id, previousHash, refreshHash, expiresAt)
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) FindByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE refresh_token_hash = $1`
	return scanSession(r.pool.QueryRow(ctx, query, refreshHash))
}

func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
}

// CountByUser counts sessions that can still be refreshed.
func (r *SessionRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM user_sessions WHERE user_id = $1 AND expires_at > NOW()`
	var count int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY last_seen_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Session, error) {
		return scanSession(row)
	})
}

// DeleteOldestSessions keeps the keepLatest most recently used sessions and
// drops the rest, expired ones included.
func (r *SessionRepository) DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error {
	const query = `
		DELETE FROM user_sessions
		WHERE user_id = $1
		  AND (expires_at <= NOW() OR id IN (
			SELECT id FROM user_sessions
			WHERE user_id = $1
			ORDER BY last_seen_at DESC
			OFFSET $2
		  ))
	`
	_, err := r.pool.Exec(ctx, query, userID, keepLatest)
	return err
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, ip string, userAgent string) error {
	const query = `
		UPDATE user_sessions
		SET last_seen_at = NOW(),
		    ip_address = COALESCE(NULLIF($2, ''), ip_address),
		    user_agent = COALESCE(NULLIF($3, ''), user_agent)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, sessionID, ip, userAgent)
	return err
}

func (r *SessionRepository) execOne(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	return s, err
}
