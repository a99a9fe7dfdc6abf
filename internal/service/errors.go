package service

import (
	"errors"
	"fmt"

	"pengadaan/api/internal/repository"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not found")
	ErrAlreadyResolved         = errors.New("permission already resolved")
	ErrDuplicatePendingRequest = errors.New("a pending request already exists")
	ErrInvalidCredential       = errors.New("invalid credential")
	ErrExpiredCredential       = errors.New("credential expired")
	ErrStoreUnavailable        = errors.New("store unavailable")
)

// ErrNotPending is reported when a transition targets a terminal record.
var ErrNotPending = ErrAlreadyResolved

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError maps repository failures onto the service taxonomy. Anything the
// repository does not name is treated as a transient store fault.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrPermissionNotFound),
		errors.Is(err, repository.ErrPengadaanNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrSessionNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrStatusConflict):
		return ErrAlreadyResolved
	case errors.Is(err, repository.ErrDuplicatePending):
		return ErrDuplicatePendingRequest
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
