package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"pengadaan/api/internal/models"
)

// MemoryPermissionStore keeps permissions in a map guarded by one mutex, so
// every method is atomic with respect to the others.
type MemoryPermissionStore struct {
	mu          sync.RWMutex
	permissions map[string]models.Permission
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{permissions: make(map[string]models.Permission)}
}

func (s *MemoryPermissionStore) Insert(ctx context.Context, p models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Status == models.PermissionPending {
		for _, existing := range s.permissions {
			if existing.Status == models.PermissionPending &&
				existing.UserID == p.UserID &&
				existing.PengadaanID == p.PengadaanID &&
				existing.PermissionType == p.PermissionType {
				return ErrDuplicatePending
			}
		}
	}
	s.permissions[p.ID] = p
	return nil
}

func (s *MemoryPermissionStore) GetByID(ctx context.Context, id string) (models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.permissions[id]
	if !ok {
		return models.Permission{}, ErrPermissionNotFound
	}
	return p, nil
}

func (s *MemoryPermissionStore) FindPending(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType) (models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.permissions {
		if p.Status == models.PermissionPending && p.UserID == userID &&
			p.PengadaanID == pengadaanID && p.PermissionType == permissionType {
			return p, nil
		}
	}
	return models.Permission{}, ErrPermissionNotFound
}

func (s *MemoryPermissionStore) FindActiveGrant(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType, now time.Time) (models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  models.Permission
		found bool
	)
	for _, p := range s.permissions {
		if p.UserID != userID || p.PengadaanID != pengadaanID || !p.Grants(permissionType, now) {
			continue
		}
		if !found || laterHorizon(p, best) {
			best, found = p, true
		}
	}
	if !found {
		return models.Permission{}, ErrPermissionNotFound
	}
	return best, nil
}

func laterHorizon(a, b models.Permission) bool {
	if a.ExpiresAt == nil {
		return b.ExpiresAt != nil
	}
	return b.ExpiresAt != nil && a.ExpiresAt.After(*b.ExpiresAt)
}

func (s *MemoryPermissionStore) CompareAndSetStatus(ctx context.Context, id string, expected models.PermissionStatus, tr models.PermissionTransition) (models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.permissions[id]
	if !ok {
		return models.Permission{}, ErrPermissionNotFound
	}
	if p.Status != expected {
		return models.Permission{}, ErrStatusConflict
	}

	p.Status = tr.Status
	p.AdminID = nullableString(tr.AdminID)
	p.AdminResponse = tr.AdminResponse
	respondedAt := tr.RespondedAt
	p.RespondedAt = &respondedAt
	p.ExpiresAt = tr.ExpiresAt
	p.UpdatedAt = tr.RespondedAt
	s.permissions[id] = p
	return p, nil
}

func (s *MemoryPermissionStore) List(ctx context.Context, filter models.PermissionFilter) ([]models.Permission, error) {
	s.mu.RLock()
	var out []models.Permission
	for _, p := range s.permissions {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.PengadaanID != "" && p.PengadaanID != filter.PengadaanID {
			continue
		}
		if filter.Status != "" && p.EffectiveStatus(filter.Cutoff) != filter.Status {
			continue
		}
		if filter.PermissionType != "" && p.PermissionType != filter.PermissionType {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryPermissionStore) AggregateByStatus(ctx context.Context, cutoff models.ExpiryCutoff) (models.PermissionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.PermissionStats
	for _, p := range s.permissions {
		stats.Total++
		switch p.EffectiveStatus(cutoff) {
		case models.PermissionPending:
			stats.Pending++
		case models.PermissionApproved:
			stats.Approved++
		case models.PermissionRejected:
			stats.Rejected++
		case models.PermissionExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

func (s *MemoryPermissionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.permissions[id]; !ok {
		return ErrPermissionNotFound
	}
	delete(s.permissions, id)
	return nil
}

func (s *MemoryPermissionStore) ExpireOverdue(ctx context.Context, cutoff models.ExpiryCutoff) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.permissions {
		if p.Status == models.PermissionExpired || p.EffectiveStatus(cutoff) != models.PermissionExpired {
			continue
		}
		p.Status = models.PermissionExpired
		p.UpdatedAt = cutoff.Now
		if p.RespondedAt == nil {
			at := cutoff.Now
			p.RespondedAt = &at
		}
		s.permissions[id] = p
		n++
	}
	return n, nil
}

// MemoryUserStore is the in-memory counterpart of UserRepository.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return ErrUserConflict
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.find(func(u models.User) bool { return u.Email == email })
}

func (s *MemoryUserStore) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return s.find(func(u models.User) bool { return u.Username == username })
}

func (s *MemoryUserStore) find(match func(models.User) bool) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (s *MemoryUserStore) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// MemorySessionStore is the in-memory counterpart of SessionRepository.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]models.Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session.CreatedAt, session.LastSeenAt = now, now
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) Rotate(ctx context.Context, id string, previousHash, refreshHash []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !bytes.Equal(session.RefreshTokenHash, previousHash) {
		return ErrSessionNotFound
	}
	session.RefreshTokenHash = refreshHash
	session.ExpiresAt = expiresAt
	session.LastSeenAt = time.Now().UTC()
	s.sessions[id] = session
	return nil
}

func (s *MemorySessionStore) GetByID(ctx context.Context, id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemorySessionStore) FindByRefreshHash(ctx context.Context, refreshHash []byte) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if bytes.Equal(session.RefreshTokenHash, refreshHash) {
			return session, nil
		}
	}
	return models.Session{}, ErrSessionNotFound
}

func (s *MemorySessionStore) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	sessions, _ := s.ListByUser(ctx, userID)
	return len(sessions), nil
}

func (s *MemorySessionStore) ListByUser(ctx context.Context, userID string) ([]models.Session, error) {
	s.mu.RLock()
	var out []models.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (s *MemorySessionStore) DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error {
	sessions, _ := s.ListByUser(ctx, userID)
	if len(sessions) <= keepLatest {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions[keepLatest:] {
		delete(s.sessions, session.ID)
	}
	return nil
}

func (s *MemorySessionStore) Touch(ctx context.Context, sessionID string, ip string, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	session.LastSeenAt = time.Now().UTC()
	if ip != "" {
		session.IPAddress = ip
	}
	if userAgent != "" {
		session.UserAgent = userAgent
	}
	s.sessions[sessionID] = session
	return nil
}

// MemoryOwnerStore maps pengadaan ids to the user that created them.
type MemoryOwnerStore struct {
	mu     sync.RWMutex
	owners map[string]string
}

func NewMemoryOwnerStore() *MemoryOwnerStore {
	return &MemoryOwnerStore{owners: make(map[string]string)}
}

func (s *MemoryOwnerStore) SetOwner(pengadaanID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[pengadaanID] = userID
}

func (s *MemoryOwnerStore) GetOwner(ctx context.Context, pengadaanID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[pengadaanID]
	if !ok {
		return "", ErrPengadaanNotFound
	}
	return owner, nil
}
