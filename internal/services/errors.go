package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when a request carries no credential.
	ErrUnauthenticated = errors.New("unauthorized request")

	// ErrInvalidCredential is returned for credentials that fail verification:
	// bad signature, expired, wrong token type, malformed subject, or a wrong
	// password.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrPrincipalNotFound is returned when a valid token names a user that no
	// longer exists.
	ErrPrincipalNotFound = errors.New("principal no longer exists")

	// ErrRefreshReuseOrMismatch is returned when a refresh token is not the one
	// currently stored for the user.
	ErrRefreshReuseOrMismatch = errors.New("refresh token is expired or used")

	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")

	// ErrInvalidTransition is returned when a listing is not in a status that
	// allows the requested operation.
	ErrInvalidTransition = errors.New("operation not allowed in the listing's current status")

	ErrInsufficientPoints = errors.New("insufficient points")
	ErrSelfSwapForbidden  = errors.New("cannot swap or redeem your own listing")

	// ErrUpstreamMedia is returned when the media host fails an upload or a
	// release.
	ErrUpstreamMedia = errors.New("media host failure")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func mediaError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamMedia, op, err)
}
