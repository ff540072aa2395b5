// Package common defines shared constants and sentinel errors used across
// ChatSync components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Transport-level errors (push channel or RPC failure; recoverable).
	ErrTransport = errors.New("transport error")

	// Validation errors, rejected before any I/O.
	ErrValidation = errors.New("validation error")

	// Lookup errors (missing row, unknown user).
	ErrNotFound = errors.New("not found")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")

	// Generic internal flow control.
	ErrInternal = errors.New("internal error")

	// ErrClosed is returned by components used after teardown.
	ErrClosed = errors.New("closed")
)
