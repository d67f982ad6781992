package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidExecContext   = errors.New("invalid execution context")
	ErrMessengerUnavailable = errors.New("messenger not configured")
	ErrUnsupportedStorage   = errors.New("unsupported storage backend")

	// Outbound forwarding
	ErrForwardNotConfigured = errors.New("forward endpoint not configured")
	ErrForbiddenDestination = errors.New("forward destination not allowed")
)
