package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pengadaan/api/internal/config"
	"pengadaan/api/internal/ids"
	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
	"pengadaan/api/internal/security"
)

var ErrUserConflict = errors.New("username or email already registered")

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	Rotate(ctx context.Context, id string, previousHash, refreshHash []byte, expiresAt time.Time) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	FindByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	CountByUser(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error
	Touch(ctx context.Context, sessionID string, ip string, userAgent string) error
}

// AuthService issues and revokes credentials. Resolving them is the
// Authenticator's job.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	cfg      config.SecurityConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(users UserStore, sessions SessionStore, cfg config.SecurityConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Client   ClientInfo
}

type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             models.User
	SessionID        string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if !usernamePattern.MatchString(username) {
		return AuthResult{}, validationf("username must be 3-32 letters, digits, dot, dash or underscore")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return AuthResult{}, validationf("email is invalid")
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, validationf("%v", err)
	}

	user := models.User{
		ID:           ids.NewWithPrefix("usr"),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserConflict) {
			return AuthResult{}, ErrUserConflict
		}
		return AuthResult{}, storeError(err)
	}

	s.log.Info().Str("user_id", user.ID).Str("username", username).Msg("user registered")
	return s.createSession(ctx, user, input.Client)
}

type LoginInput struct {
	// Identifier is a username or an email address.
	Identifier string
	Password   string
	Client     ClientInfo
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)

	var (
		user models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.FindByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredential
		}
		return AuthResult{}, storeError(err)
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredential
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, fmt.Errorf("%w: account is inactive", ErrForbidden)
	}

	return s.createSession(ctx, user, input.Client)
}

func (s *AuthService) createSession(ctx context.Context, user models.User, client ClientInfo) (AuthResult, error) {
	refreshToken, refreshHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}

	now := s.now()
	session := models.Session{
		ID:               ids.NewWithPrefix("ses"),
		UserID:           user.ID,
		RefreshTokenHash: refreshHash,
		IPAddress:        client.IPAddress,
		UserAgent:        client.UserAgent,
		ExpiresAt:        now.Add(s.cfg.JWTRefreshTTL),
	}

	accessToken, accessExpiresAt, err := security.GenerateAccessToken(
		s.cfg.JWTAccessSecret,
		user.ID,
		session.ID,
		string(user.Role),
		s.cfg.JWTAccessTTL,
		now,
	)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, storeError(err)
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	return AuthResult{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: session.ExpiresAt,
		User:             user,
		SessionID:        session.ID,
	}, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.cfg.MaxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.cfg.MaxSessions {
		return nil
	}
	return s.sessions.DeleteOldestSessions(ctx, userID, s.cfg.MaxSessions)
}

// Refresh exchanges a refresh token for a new token pair. The old refresh
// token stops working.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (AuthResult, error) {
	if refreshToken == "" {
		return AuthResult{}, ErrInvalidCredential
	}

	session, err := s.sessions.FindByRefreshHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return AuthResult{}, ErrInvalidCredential
		}
		return AuthResult{}, storeError(err)
	}

	now := s.now()
	if !session.ExpiresAt.After(now) {
		_ = s.sessions.DeleteByID(ctx, session.ID)
		return AuthResult{}, ErrExpiredCredential
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredential
		}
		return AuthResult{}, storeError(err)
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, fmt.Errorf("%w: account is inactive", ErrForbidden)
	}

	newRefresh, newHash, err := security.GenerateRefreshToken(64)
	if err != nil {
		return AuthResult{}, err
	}
	refreshExpiresAt := now.Add(s.cfg.JWTRefreshTTL)
	if err := s.sessions.Rotate(ctx, session.ID, session.RefreshTokenHash, newHash, refreshExpiresAt); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return AuthResult{}, ErrInvalidCredential
		}
		return AuthResult{}, storeError(err)
	}
	if err := s.sessions.Touch(ctx, session.ID, client.IPAddress, client.UserAgent); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("touch session failed")
	}

	accessToken, accessExpiresAt, err := security.GenerateAccessToken(
		s.cfg.JWTAccessSecret,
		user.ID,
		session.ID,
		string(user.Role),
		s.cfg.JWTAccessTTL,
		now,
	)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshExpiresAt,
		User:             user,
		SessionID:        session.ID,
	}, nil
}

// Logout destroys the session behind the caller's credential. Tokens minted
// for it stop authenticating immediately.
func (s *AuthService) Logout(ctx context.Context, caller Identity) error {
	if err := s.sessions.DeleteByID(ctx, caller.SessionID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return storeError(err)
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, caller Identity) (models.User, error) {
	user, err := s.users.GetByID(ctx, caller.UserID)
	if err != nil {
		return models.User{}, storeError(err)
	}
	return user, nil
}

func (s *AuthService) Sessions(ctx context.Context, caller Identity) ([]models.Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, caller.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	return sessions, nil
}

// SetUserStatus activates or deactivates an account. Inactive users keep
// authenticating but cannot change workflow state.
func (s *AuthService) SetUserStatus(ctx context.Context, caller Identity, userID string, raw string) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	status := models.UserStatus(strings.TrimSpace(strings.ToLower(raw)))
	if status != models.UserStatusActive && status != models.UserStatusInactive {
		return validationf("status must be active or inactive")
	}
	if userID == caller.UserID && status == models.UserStatusInactive {
		return validationf("admins cannot deactivate themselves")
	}
	if err := s.users.UpdateStatus(ctx, userID, status); err != nil {
		return storeError(err)
	}
	s.log.Info().Str("user_id", userID).Str("status", string(status)).Str("admin_id", caller.UserID).Msg("user status changed")
	return nil
}
