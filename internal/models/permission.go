package models

import (
	"fmt"
	"strings"
	"time"
)

type PermissionType string

const (
	PermissionEditForm   PermissionType = "edit_form"
	PermissionDeleteForm PermissionType = "delete_form"
)

func ParsePermissionType(raw string) (PermissionType, error) {
	switch t := PermissionType(strings.TrimSpace(strings.ToLower(raw))); t {
	case PermissionEditForm, PermissionDeleteForm:
		return t, nil
	default:
		return "", fmt.Errorf("unknown permission type %q", raw)
	}
}

type PermissionStatus string

const (
	PermissionPending  PermissionStatus = "pending"
	PermissionApproved PermissionStatus = "approved"
	PermissionRejected PermissionStatus = "rejected"
	PermissionExpired  PermissionStatus = "expired"
)

func ParsePermissionStatus(raw string) (PermissionStatus, error) {
	switch s := PermissionStatus(strings.TrimSpace(strings.ToLower(raw))); s {
	case PermissionPending, PermissionApproved, PermissionRejected, PermissionExpired:
		return s, nil
	default:
		return "", fmt.Errorf("unknown permission status %q", raw)
	}
}

// permissionTransitions lists every status change a workflow action may
// perform. Terminal statuses have no entry.
var permissionTransitions = map[PermissionStatus][]PermissionStatus{
	PermissionPending: {PermissionApproved, PermissionRejected, PermissionExpired},
}

func (s PermissionStatus) Terminal() bool {
	return len(permissionTransitions[s]) == 0
}

func (s PermissionStatus) CanTransitionTo(next PermissionStatus) bool {
	for _, allowed := range permissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Decision is the subset of statuses an administrator may choose.
type Decision = PermissionStatus

func ParseDecision(raw string) (Decision, error) {
	s, err := ParsePermissionStatus(raw)
	if err != nil {
		return "", err
	}
	if s != PermissionApproved && s != PermissionRejected {
		return "", fmt.Errorf("decision must be approved or rejected, got %q", raw)
	}
	return s, nil
}

type Permission struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	AdminID        *string          `json:"adminId,omitempty"`
	PengadaanID    string           `json:"pengadaanId"`
	PermissionType PermissionType   `json:"permissionType"`
	Status         PermissionStatus `json:"status"`
	Reason         string           `json:"reason"`
	AdminResponse  *string          `json:"adminResponse,omitempty"`
	RequestedAt    time.Time        `json:"requestedAt"`
	RespondedAt    *time.Time       `json:"respondedAt,omitempty"`
	ExpiresAt      *time.Time       `json:"expiresAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ExpiryCutoff describes the instant used to evaluate lazy expiry. A zero
// PendingBefore disables the pending horizon.
type ExpiryCutoff struct {
	Now           time.Time
	PendingBefore time.Time
}

// EffectiveStatus reports the status a reader must act on, which differs from
// the persisted one when a grant or a pending request has outlived its horizon
// and no sweep has rewritten the row yet.
func (p Permission) EffectiveStatus(cutoff ExpiryCutoff) PermissionStatus {
	switch p.Status {
	case PermissionApproved:
		if p.ExpiresAt != nil && !cutoff.Now.Before(*p.ExpiresAt) {
			return PermissionExpired
		}
	case PermissionPending:
		if !cutoff.PendingBefore.IsZero() && !p.RequestedAt.After(cutoff.PendingBefore) {
			return PermissionExpired
		}
	}
	return p.Status
}

// Grants reports whether the permission currently authorizes action.
func (p Permission) Grants(action PermissionType, now time.Time) bool {
	if p.PermissionType != action {
		return false
	}
	return p.EffectiveStatus(ExpiryCutoff{Now: now}) == PermissionApproved
}

// PermissionTransition carries the fields written together with a status
// change.
type PermissionTransition struct {
	Status        PermissionStatus
	AdminID       string
	AdminResponse *string
	RespondedAt   time.Time
	ExpiresAt     *time.Time
}

// PermissionFilter selects permissions for listing. Status matches the
// effective status evaluated at Cutoff.
type PermissionFilter struct {
	UserID         string
	PengadaanID    string
	Status         PermissionStatus
	PermissionType PermissionType
	Cutoff         ExpiryCutoff
	Limit          int
	Offset         int
}

type PermissionStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
}
