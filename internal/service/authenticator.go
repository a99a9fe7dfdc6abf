package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
	"pengadaan/api/internal/security"
)

type UserReader interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

type SessionReader interface {
	GetByID(ctx context.Context, id string) (models.Session, error)
}

// Identity is what an authenticated caller resolves to. Status is reported,
// not enforced.
type Identity struct {
	UserID    string
	Username  string
	Role      models.UserRole
	Status    models.UserStatus
	SessionID string
}

func (i Identity) IsAdmin() bool {
	return i.Role == models.UserRoleAdmin
}

func (i Identity) IsActive() bool {
	return i.Status == models.UserStatusActive
}

// Authenticator resolves bearer tokens. It never writes.
type Authenticator struct {
	users    UserReader
	sessions SessionReader
	secret   string
	now      func() time.Time
}

func NewAuthenticator(users UserReader, sessions SessionReader, secret string) *Authenticator {
	return &Authenticator{
		users:    users,
		sessions: sessions,
		secret:   secret,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidCredential
	}

	now := a.now()
	claims, err := security.ParseAccessToken(token, a.secret, now)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredential
		}
		return Identity{}, ErrInvalidCredential
	}

	session, err := a.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, storeError(err)
	}
	if session.UserID != claims.UserID {
		return Identity{}, ErrInvalidCredential
	}
	if !session.ExpiresAt.After(now) {
		return Identity{}, ErrExpiredCredential
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, storeError(err)
	}

	return Identity{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		Status:    user.Status,
		SessionID: session.ID,
	}, nil
}
