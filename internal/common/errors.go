// Package common defines shared constants and sentinel errors used across
// sessionkeeper layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound       = errors.New("not found")
	ErrDuplicateToken   = errors.New("duplicate refresh token")
	ErrDuplicateAccount = errors.New("account already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Authentication rejections. Callers only ever see one of these per
	// operation; the underlying reason is not exposed.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidToken        = errors.New("invalid token")

	// ErrAccountInactive is used internally and folded into the kinds above
	// before it reaches a caller.
	ErrAccountInactive = errors.New("account inactive")
)
