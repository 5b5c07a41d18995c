package kernel

import "errors"

var (
	// ErrNodeNotVisible is returned when a frame touches a node it cannot see.
	ErrNodeNotVisible = errors.New("node not visible to frame")

	// ErrNodeNotOwned is returned when a frame moves a node it does not own.
	ErrNodeNotOwned = errors.New("node not owned by frame")

	// ErrNodeLocked is returned when moving or dropping a node with open locks.
	ErrNodeLocked = errors.New("node has open locks")

	// ErrOrphanedNodes is returned when a frame exits still owning nodes.
	ErrOrphanedNodes = errors.New("orphaned nodes")

	// ErrDuplicateOwn is returned when one value owns the same node twice.
	ErrDuplicateOwn = errors.New("duplicate own")

	// ErrOwnershipViolation is returned when an attach would give a node a
	// second owner or close a cycle.
	ErrOwnershipViolation = errors.New("ownership forest violation")

	// ErrStoredNodeRemoved is returned when a persisted node would be
	// detached from its owner.
	ErrStoredNodeRemoved = errors.New("cannot remove persisted node")

	// ErrTransientNodePersisted is returned when a transient node would
	// become part of persisted state.
	ErrTransientNodePersisted = errors.New("transient node cannot be persisted")

	// ErrLockNotFound is returned for a handle not opened by the current frame.
	ErrLockNotFound = errors.New("lock handle not found")

	// ErrInvalidReturnRef is returned when a frame returns a reference to a
	// non-global node.
	ErrInvalidReturnRef = errors.New("only global references can be returned")

	// ErrMaxCallDepth is returned when invocations nest too deeply.
	ErrMaxCallDepth = errors.New("max call depth exceeded")

	// ErrFunctionNotFound is returned when no dispatcher serves an actor.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrWrongEntityType is returned when an operation targets a node of
	// the wrong entity type.
	ErrWrongEntityType = errors.New("wrong entity type")

	// ErrNodeIdNotAllocated is returned when creating a node whose id was
	// not allocated in this transaction.
	ErrNodeIdNotAllocated = errors.New("node id not allocated")

	// ErrBlueprintMismatch is returned when a method names a blueprint
	// other than the one its receiver was created with.
	ErrBlueprintMismatch = errors.New("blueprint does not match receiver")

	// ErrAccessDenied is returned when a frame mutates a node of another
	// package.
	ErrAccessDenied = errors.New("node belongs to another package")

	// ErrTransactionRef is returned when a transaction references a node
	// that is not global.
	ErrTransactionRef = errors.New("transactions may only reference global nodes")

	// ErrHeapNotEmpty is returned when unreachable heap nodes remain after
	// the transaction.
	ErrHeapNotEmpty = errors.New("heap not empty at transaction end")
)
