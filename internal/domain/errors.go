package domain

import "errors"

var (
	// ErrNotFound covers unknown customers, missing OTP requests and the
	// absence of an active incident.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// current lifecycle state, e.g. triggering a breach while one is active.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation covers malformed generated IDs and schema mismatches.
	ErrValidation = errors.New("validation failed")

	ErrExpired         = errors.New("otp expired")
	ErrTooManyAttempts = errors.New("maximum otp attempts exceeded")

	// ErrStorageUnavailable wraps I/O failures of the record store. It is
	// fatal to the calling operation and never retried internally.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
