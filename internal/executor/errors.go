package executor

import (
	"context"
	"errors"

	"OwnLedger/internal/authzone"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/processor"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// ErrorClass groups failures by how a caller should react to them.
type ErrorClass uint8

const (
	ClassNone           ErrorClass = iota // ClassNone marks a committed transaction
	ClassLockContention                   // ClassLockContention may succeed with another access pattern
	ClassResource                         // ClassResource covers amounts, ids and kinds
	ClassOwnership                        // ClassOwnership covers orphans and illegal moves
	ClassNotFound                         // ClassNotFound covers missing nodes and wrong types
	ClassAuth                             // ClassAuth covers signatures and access rules
	ClassCommit                           // ClassCommit covers durable store failures
	ClassAborted                          // ClassAborted is a cancelled context
	ClassApplication                      // ClassApplication is any other application error
)

var classNames = map[ErrorClass]string{
	ClassNone:           "none",
	ClassLockContention: "lock_contention",
	ClassResource:       "resource",
	ClassOwnership:      "ownership",
	ClassNotFound:       "not_found",
	ClassAuth:           "auth",
	ClassCommit:         "commit",
	ClassAborted:        "aborted",
	ClassApplication:    "application",
}

// String returns the class name.
func (c ErrorClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// classes lists the sentinels of each class. Order matters: the first
// match wins, and lock contention is checked before the rest.
var classes = []struct {
	class    ErrorClass
	sentinel []error
}{
	{ClassAborted, []error{context.Canceled, context.DeadlineExceeded}},
	{ClassLockContention, []error{
		store.ErrSubstateLocked,
		store.ErrLockUnmodifiedBaseOnNewSubstate,
		store.ErrLockUnmodifiedBaseOnUpdatedSubstate,
		kernel.ErrNodeLocked,
		resource.ErrContainerLocked,
	}},
	{ClassAuth, []error{
		authzone.ErrUnauthorized,
		authzone.ErrEmptyAuthZone,
		authzone.ErrInvalidRule,
		signer.ErrInvalidSignature,
		signer.ErrNoSigners,
		store.ErrDuplicateTransaction,
		kernel.ErrAccessDenied,
		kernel.ErrBlueprintMismatch,
	}},
	{ClassResource, []error{
		resource.ErrInsufficientFree,
		resource.ErrInsufficientBaseProofs,
		resource.ErrKindMismatch,
		resource.ErrResourceMismatch,
		resource.ErrInvalidAmount,
		resource.ErrUnknownLock,
		resource.ErrIdNotFound,
		resource.ErrDuplicateId,
		resource.ErrInvalidLocalId,
		resource.ErrNotEmpty,
		decimal.ErrOverflow,
		decimal.ErrUnderflow,
		processor.ErrWorktopNotEmpty,
		processor.ErrAssertionFailed,
	}},
	{ClassOwnership, []error{
		kernel.ErrOrphanedNodes,
		kernel.ErrNodeNotOwned,
		kernel.ErrNodeNotVisible,
		kernel.ErrDuplicateOwn,
		kernel.ErrOwnershipViolation,
		kernel.ErrStoredNodeRemoved,
		kernel.ErrTransientNodePersisted,
		kernel.ErrInvalidReturnRef,
		kernel.ErrHeapNotEmpty,
		kernel.ErrTransactionRef,
		processor.ErrUnexpectedNode,
	}},
	{ClassNotFound, []error{
		store.ErrNotFound,
		store.ErrNodeExists,
		kernel.ErrWrongEntityType,
		kernel.ErrFunctionNotFound,
		kernel.ErrNodeIdNotAllocated,
		resource.ErrNotContainer,
		substate.ErrSchemaViolation,
		processor.ErrUnknownBucket,
		processor.ErrUnknownProof,
	}},
	{ClassCommit, []error{store.ErrVersionConflict, store.ErrCorruptDiff}},
}

// Classify maps an error to its class. nil is ClassNone.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	for _, c := range classes {
		for _, s := range c.sentinel {
			if errors.Is(err, s) {
				return c.class
			}
		}
	}

	return ClassApplication
}
