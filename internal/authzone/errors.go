package authzone

import "errors"

var (
	// ErrEmptyAuthZone is returned when popping from an empty zone.
	ErrEmptyAuthZone = errors.New("auth zone is empty")

	// ErrNoAuthZone is returned when the current frame has no zone.
	ErrNoAuthZone = errors.New("frame has no auth zone")

	// ErrUnauthorized is returned when an access rule is not satisfied.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRule is returned when an encoded access rule is malformed.
	ErrInvalidRule = errors.New("invalid access rule")

	// ErrCorruptZone is returned when a zone substate fails to decode.
	ErrCorruptZone = errors.New("corrupt auth zone state")
)
