package service

import (
	"context"
	"errors"
	"fmt"

	"pengadaan/api/internal/models"
	"pengadaan/api/internal/repository"
)

type AccessBasis string

const (
	BasisAdmin AccessBasis = "admin"
	BasisOwner AccessBasis = "owner"
	BasisGrant AccessBasis = "grant"
	BasisNone  AccessBasis = "none"
)

type Decision struct {
	Allowed bool        `json:"allowed"`
	Basis   AccessBasis `json:"basis"`
}

type GrantChecker interface {
	CheckGrant(ctx context.Context, userID, pengadaanID string, action models.PermissionType) (bool, error)
}

// AccessGuard answers whether a caller may edit or delete a procurement record.
// It is read-only and consults at most one owner lookup and one indexed grant
// lookup.
type AccessGuard struct {
	owners OwnerLookup
	grants GrantChecker
}

func NewAccessGuard(owners OwnerLookup, grants GrantChecker) *AccessGuard {
	return &AccessGuard{owners: owners, grants: grants}
}

func (g *AccessGuard) Authorize(ctx context.Context, userID string, role models.UserRole, pengadaanID string, action models.PermissionType) (Decision, error) {
	if role == models.UserRoleAdmin {
		return Decision{Allowed: true, Basis: BasisAdmin}, nil
	}

	owner, err := g.owners.GetOwner(ctx, pengadaanID)
	switch {
	case err == nil:
		if owner == userID {
			return Decision{Allowed: true, Basis: BasisOwner}, nil
		}
	case errors.Is(err, repository.ErrPengadaanNotFound):
		return Decision{Allowed: false, Basis: BasisNone}, fmt.Errorf("%w: pengadaan %s", ErrNotFound, pengadaanID)
	default:
		return Decision{Allowed: false, Basis: BasisNone}, storeError(err)
	}

	granted, err := g.grants.CheckGrant(ctx, userID, pengadaanID, action)
	if err != nil {
		return Decision{Allowed: false, Basis: BasisNone}, err
	}
	if granted {
		return Decision{Allowed: true, Basis: BasisGrant}, nil
	}
	return Decision{Allowed: false, Basis: BasisNone}, nil
}
