package resource

import "errors"

var (
	// ErrInsufficientFree is returned when an amount or id set exceeds the
	// unlocked part of a container.
	ErrInsufficientFree = errors.New("insufficient free balance")

	// ErrKindMismatch is returned when a fungible operation targets a
	// non-fungible resource or the reverse.
	ErrKindMismatch = errors.New("resource kind mismatch")

	// ErrResourceMismatch is returned when combining containers of
	// different resources.
	ErrResourceMismatch = errors.New("resource address mismatch")

	// ErrInvalidAmount is returned for amounts that violate divisibility.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownLock is returned when unlocking or retaining a missing lock.
	ErrUnknownLock = errors.New("unknown resource lock")

	// ErrIdNotFound is returned when a non-fungible id is not in the container.
	ErrIdNotFound = errors.New("non-fungible id not found")

	// ErrDuplicateId is returned when an id would be held twice.
	ErrDuplicateId = errors.New("duplicate non-fungible id")

	// ErrInvalidLocalId is returned for malformed local id strings.
	ErrInvalidLocalId = errors.New("invalid non-fungible local id")

	// ErrContainerLocked is returned when moving or dropping a container
	// that still backs proofs.
	ErrContainerLocked = errors.New("container has outstanding proofs")

	// ErrNotEmpty is returned when dropping a non-empty bucket.
	ErrNotEmpty = errors.New("bucket not empty")

	// ErrInsufficientBaseProofs is returned when candidate proofs cannot
	// back a composed proof.
	ErrInsufficientBaseProofs = errors.New("insufficient base proofs")

	// ErrCorruptState is returned when a native substate fails to decode.
	ErrCorruptState = errors.New("corrupt resource state")

	// ErrNotContainer is returned when an operation targets a node that is
	// not a vault, bucket or proof of the expected type.
	ErrNotContainer = errors.New("node is not a resource container")

	// ErrInvalidArgs is returned when a native call receives malformed input.
	ErrInvalidArgs = errors.New("invalid native call arguments")
)
