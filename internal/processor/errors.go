package processor

import "errors"

var (
	// ErrInvalidManifest is returned when a manifest fails to decode.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrUnknownBucket is returned for a bucket handle not held by the
	// processor.
	ErrUnknownBucket = errors.New("unknown bucket handle")

	// ErrUnknownProof is returned for a proof handle not held by the
	// processor.
	ErrUnknownProof = errors.New("unknown proof handle")

	// ErrWorktopNotEmpty is returned when resources are left on the
	// worktop at the end of a manifest.
	ErrWorktopNotEmpty = errors.New("worktop not empty")

	// ErrAssertionFailed is returned when the worktop holds less than an
	// asserted amount.
	ErrAssertionFailed = errors.New("worktop assertion failed")

	// ErrUnexpectedNode is returned when a call hands back a node that is
	// neither a bucket nor a proof.
	ErrUnexpectedNode = errors.New("call returned an unexpected node")
)
