package service

import "errors"

// Error taxonomy surfaced to the transport layer. Validation errors are
// raised before any write; everything else maps from persistence outcomes.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrBrokerNotFound     = errors.New("no broker for email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrSessionNotFound    = errors.New("session not found")
	ErrResetCodeInvalid   = errors.New("reset code invalid or expired")
)
