// Package common defines shared constants and sentinel errors used across
// client and server layers of journalsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Identity errors.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidToken    = errors.New("invalid token")

	// Quota errors. Returned as typed protocol rejections, never as
	// socket closures; the caller is expected to back off and retry.
	ErrTooManyRequests = errors.New("too many requests")
	ErrStorageLimit    = errors.New("storage limit exceeded")
	ErrDeviceLimit     = errors.New("device limit exceeded")
	ErrVaultLimit      = errors.New("vault limit exceeded")
)
