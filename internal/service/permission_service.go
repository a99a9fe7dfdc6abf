package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"pengadaan/api/internal/config"
	"pengadaan/api/internal/ids"
	"pengadaan/api/internal/metrics"
	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
)

const (
	maxTextLength    = 500
	defaultListLimit = 50
	maxListLimit     = 200
)

type PermissionStore interface {
	Insert(ctx context.Context, p models.Permission) error
	GetByID(ctx context.Context, id string) (models.Permission, error)
	FindPending(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType) (models.Permission, error)
	FindActiveGrant(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType, now time.Time) (models.Permission, error)
	CompareAndSetStatus(ctx context.Context, id string, expected models.PermissionStatus, tr models.PermissionTransition) (models.Permission, error)
	List(ctx context.Context, filter models.PermissionFilter) ([]models.Permission, error)
	AggregateByStatus(ctx context.Context, cutoff models.ExpiryCutoff) (models.PermissionStats, error)
	Delete(ctx context.Context, id string) error
	ExpireOverdue(ctx context.Context, cutoff models.ExpiryCutoff) (int64, error)
}

// OwnerLookup resolves the user that owns a procurement record.
type OwnerLookup interface {
	GetOwner(ctx context.Context, pengadaanID string) (string, error)
}

type PermissionService struct {
	store  PermissionStore
	owners OwnerLookup
	cfg    config.WorkflowConfig
	log    zerolog.Logger
	now    func() time.Time
}

func NewPermissionService(store PermissionStore, owners OwnerLookup, cfg config.WorkflowConfig, log zerolog.Logger) *PermissionService {
	return &PermissionService{
		store:  store,
		owners: owners,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *PermissionService) WithClock(now func() time.Time) *PermissionService {
	s.now = now
	return s
}

func (s *PermissionService) cutoff(now time.Time) models.ExpiryCutoff {
	c := models.ExpiryCutoff{Now: now}
	if s.cfg.PendingTTL > 0 {
		c.PendingBefore = now.Add(-s.cfg.PendingTTL)
	}
	return c
}

type RequestInput struct {
	PengadaanID    string
	PermissionType string
	Reason         string
}

func (s *PermissionService) RequestPermission(ctx context.Context, caller Identity, input RequestInput) (models.Permission, error) {
	if !caller.IsActive() {
		return models.Permission{}, fmt.Errorf("%w: account is inactive", ErrForbidden)
	}

	pengadaanID := strings.TrimSpace(input.PengadaanID)
	if pengadaanID == "" {
		return models.Permission{}, validationf("pengadaanId is required")
	}
	permissionType, err := models.ParsePermissionType(input.PermissionType)
	if err != nil {
		return models.Permission{}, validationf("%v", err)
	}
	reason, err := boundedText("reason", input.Reason, true)
	if err != nil {
		return models.Permission{}, err
	}

	if _, err := s.owners.GetOwner(ctx, pengadaanID); err != nil {
		return models.Permission{}, storeError(err)
	}

	now := s.now()
	if err := s.ensureNoOutstanding(ctx, caller.UserID, pengadaanID, permissionType, now); err != nil {
		metrics.PermissionRequested(string(permissionType), "rejected")
		return models.Permission{}, err
	}

	permission := models.Permission{
		ID:             ids.NewWithPrefix("prm"),
		UserID:         caller.UserID,
		PengadaanID:    pengadaanID,
		PermissionType: permissionType,
		Status:         models.PermissionPending,
		Reason:         reason,
		RequestedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, permission); err != nil {
		if errors.Is(err, repository.ErrDuplicatePending) {
			metrics.PermissionRequested(string(permissionType), "duplicate")
		}
		return models.Permission{}, storeError(err)
	}

	metrics.PermissionRequested(string(permissionType), "created")
	s.log.Info().
		Str("permission_id", permission.ID).
		Str("user_id", caller.UserID).
		Str("pengadaan_id", pengadaanID).
		Str("permission_type", string(permissionType)).
		Msg("permission requested")
	return permission, nil
}

// ensureNoOutstanding rejects a request while a live pending row exists for
// the tuple. A pending row past its horizon is expired first so the insert
// does not collide with it.
func (s *PermissionService) ensureNoOutstanding(ctx context.Context, userID, pengadaanID string, permissionType models.PermissionType, now time.Time) error {
	existing, err := s.store.FindPending(ctx, userID, pengadaanID, permissionType)
	switch {
	case err == nil:
		if existing.EffectiveStatus(s.cutoff(now)) == models.PermissionPending {
			return ErrDuplicatePendingRequest
		}
		if err := s.expireStale(ctx, existing, now); err != nil {
			return err
		}
	case !errors.Is(err, repository.ErrPermissionNotFound):
		return storeError(err)
	}

	if !s.cfg.BlockWhileGranted {
		return nil
	}
	if _, err := s.store.FindActiveGrant(ctx, userID, pengadaanID, permissionType, now); err == nil {
		return fmt.Errorf("%w: an active grant already covers this action", ErrDuplicatePendingRequest)
	} else if !errors.Is(err, repository.ErrPermissionNotFound) {
		return storeError(err)
	}
	return nil
}

// expireStale persists pending→expired for a row whose pending horizon has
// passed. Losing the race to another writer is fine.
func (s *PermissionService) expireStale(ctx context.Context, p models.Permission, now time.Time) error {
	_, err := s.store.CompareAndSetStatus(ctx, p.ID, models.PermissionPending, models.PermissionTransition{
		Status:      models.PermissionExpired,
		RespondedAt: now,
	})
	if err == nil {
		metrics.PermissionTransitioned(string(models.PermissionExpired))
		return nil
	}
	if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrPermissionNotFound) {
		return nil
	}
	return storeError(err)
}

type RespondInput struct {
	Decision string
	Response string
}

func (s *PermissionService) Respond(ctx context.Context, caller Identity, permissionID string, input RespondInput) (models.Permission, error) {
	decision, response, err := s.prepareResponse(caller, input)
	if err != nil {
		return models.Permission{}, err
	}
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return models.Permission{}, validationf("permission id is required")
	}
	return s.transition(ctx, caller, permissionID, decision, response)
}

func (s *PermissionService) prepareResponse(caller Identity, input RespondInput) (models.Decision, *string, error) {
	if !caller.IsAdmin() {
		return "", nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if !caller.IsActive() {
		return "", nil, fmt.Errorf("%w: account is inactive", ErrForbidden)
	}
	decision, err := models.ParseDecision(input.Decision)
	if err != nil {
		return "", nil, validationf("%v", err)
	}
	text, err := boundedText("response", input.Response, decision == models.PermissionRejected)
	if err != nil {
		return "", nil, err
	}
	if text == "" {
		return decision, nil, nil
	}
	return decision, &text, nil
}

func (s *PermissionService) transition(ctx context.Context, caller Identity, permissionID string, decision models.Decision, response *string) (models.Permission, error) {
	current, err := s.store.GetByID(ctx, permissionID)
	if err != nil {
		return models.Permission{}, storeError(err)
	}

	now := s.now()
	if current.EffectiveStatus(s.cutoff(now)) != models.PermissionPending {
		if current.Status == models.PermissionPending {
			if err := s.expireStale(ctx, current, now); err != nil {
				return models.Permission{}, err
			}
		}
		return models.Permission{}, ErrNotPending
	}
	if !models.PermissionPending.CanTransitionTo(decision) {
		return models.Permission{}, validationf("cannot move a pending permission to %s", decision)
	}

	tr := models.PermissionTransition{
		Status:        decision,
		AdminID:       caller.UserID,
		AdminResponse: response,
		RespondedAt:   now,
	}
	if decision == models.PermissionApproved {
		expiresAt := now.Add(s.cfg.GrantTTL)
		tr.ExpiresAt = &expiresAt
	}

	updated, err := s.store.CompareAndSetStatus(ctx, permissionID, models.PermissionPending, tr)
	if err != nil {
		return models.Permission{}, storeError(err)
	}

	metrics.PermissionTransitioned(string(decision))
	s.log.Info().
		Str("permission_id", permissionID).
		Str("admin_id", caller.UserID).
		Str("status", string(decision)).
		Msg("permission resolved")
	return updated, nil
}

type BulkItemResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type BulkResult struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

// BulkRespond applies one decision to every id. Items succeed or fail on their
// own and Processed+Failed always equals len(permissionIDs).
func (s *PermissionService) BulkRespond(ctx context.Context, caller Identity, permissionIDs []string, input RespondInput) (BulkResult, error) {
	decision, response, err := s.prepareResponse(caller, input)
	if err != nil {
		return BulkResult{}, err
	}
	if len(permissionIDs) == 0 {
		return BulkResult{}, validationf("permissionIds must not be empty")
	}
	if s.cfg.MaxBulkSize > 0 && len(permissionIDs) > s.cfg.MaxBulkSize {
		return BulkResult{}, validationf("at most %d permissionIds per batch", s.cfg.MaxBulkSize)
	}

	result := BulkResult{Results: make([]BulkItemResult, 0, len(permissionIDs))}
	for _, raw := range permissionIDs {
		id := strings.TrimSpace(raw)
		item := BulkItemResult{ID: id}

		var err error
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case id == "":
			err = validationf("permission id is required")
		default:
			_, err = s.transition(ctx, caller, id, decision, response)
		}

		if err != nil {
			item.Status = "failed"
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Status = "processed"
			result.Processed++
		}
		result.Results = append(result.Results, item)
	}

	metrics.BulkProcessed(result.Processed, result.Failed)
	s.log.Info().
		Str("admin_id", caller.UserID).
		Str("status", string(decision)).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Msg("bulk permission response")
	return result, nil
}

// CheckGrant reports whether the user holds an approved, unexpired permission
// for action on the resource. Ownership and admin rules live in AccessGuard.
func (s *PermissionService) CheckGrant(ctx context.Context, userID, pengadaanID string, action models.PermissionType) (bool, error) {
	now := s.now()
	grant, err := s.store.FindActiveGrant(ctx, userID, pengadaanID, action, now)
	if err != nil {
		if errors.Is(err, repository.ErrPermissionNotFound) {
			return false, nil
		}
		return false, storeError(err)
	}
	return grant.UserID == userID && grant.PengadaanID == pengadaanID && grant.Grants(action, now), nil
}

func (s *PermissionService) Stats(ctx context.Context, caller Identity) (models.PermissionStats, error) {
	if !caller.IsAdmin() {
		return models.PermissionStats{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	stats, err := s.store.AggregateByStatus(ctx, s.cutoff(s.now()))
	if err != nil {
		return models.PermissionStats{}, storeError(err)
	}
	return stats, nil
}

type ListInput struct {
	UserID         string
	PengadaanID    string
	Status         string
	PermissionType string
	Limit          int
	Offset         int
}

// List returns permissions visible to the caller with their effective status.
// Non-admins only ever see their own requests. The status filter matches the
// effective status of rows whose persisted status equals it.
func (s *PermissionService) List(ctx context.Context, caller Identity, input ListInput) ([]models.Permission, error) {
	cutoff := s.cutoff(s.now())
	filter := models.PermissionFilter{
		UserID:      strings.TrimSpace(input.UserID),
		PengadaanID: strings.TrimSpace(input.PengadaanID),
		Cutoff:      cutoff,
		Limit:       input.Limit,
		Offset:      input.Offset,
	}
	if !caller.IsAdmin() {
		filter.UserID = caller.UserID
	}
	if input.Status != "" {
		status, err := models.ParsePermissionStatus(input.Status)
		if err != nil {
			return nil, validationf("%v", err)
		}
		filter.Status = status
	}
	if input.PermissionType != "" {
		permissionType, err := models.ParsePermissionType(input.PermissionType)
		if err != nil {
			return nil, validationf("%v", err)
		}
		filter.PermissionType = permissionType
	}
	if filter.Offset < 0 {
		return nil, validationf("offset must not be negative")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	rows, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}

	out := make([]models.Permission, 0, len(rows))
	for _, p := range rows {
		p.Status = p.EffectiveStatus(cutoff)
		out = append(out, p)
	}
	return out, nil
}

func (s *PermissionService) Get(ctx context.Context, caller Identity, permissionID string) (models.Permission, error) {
	p, err := s.store.GetByID(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return models.Permission{}, storeError(err)
	}
	if !caller.IsAdmin() && p.UserID != caller.UserID {
		return models.Permission{}, fmt.Errorf("%w: not your permission", ErrForbidden)
	}
	p.Status = p.EffectiveStatus(s.cutoff(s.now()))
	return p, nil
}

// Revoke deletes a permission record. Requesters may withdraw their own
// request while it is pending; admins may remove any record.
func (s *PermissionService) Revoke(ctx context.Context, caller Identity, permissionID string) error {
	if !caller.IsActive() {
		return fmt.Errorf("%w: account is inactive", ErrForbidden)
	}
	p, err := s.store.GetByID(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return storeError(err)
	}
	if !caller.IsAdmin() {
		if p.UserID != caller.UserID {
			return fmt.Errorf("%w: not your permission", ErrForbidden)
		}
		if p.EffectiveStatus(s.cutoff(s.now())) != models.PermissionPending {
			return ErrNotPending
		}
	}

	if err := s.store.Delete(ctx, p.ID); err != nil {
		return storeError(err)
	}
	s.log.Info().
		Str("permission_id", p.ID).
		Str("actor_id", caller.UserID).
		Msg("permission revoked")
	return nil
}

// ExpireOverdue persists the expired status for grants and pending requests
// that outlived their horizon. Reads never depend on it having run.
func (s *PermissionService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOverdue(ctx, s.cutoff(s.now()))
	if err != nil {
		return 0, storeError(err)
	}
	metrics.ExpiredBySweep(n)
	if n > 0 {
		s.log.Info().Int64("expired", n).Msg("expired overdue permissions")
	}
	return n, nil
}

func boundedText(field, raw string, required bool) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		if required {
			return "", validationf("%s is required", field)
		}
		return "", nil
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return "", validationf("%s must be at most %d characters", field, maxTextLength)
	}
	return text, nil
}
