// Package store implements the two-tier substate store: a heap for nodes
// that exist only inside the running transaction, and a track that stages
// changes over the durable database until commit.
package store

import (
	"errors"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

var (
	// ErrNodeExists is returned when creating a node that already exists.
	ErrNodeExists = errors.New("node already exists")

	// ErrNotFound is returned when a node or substate does not exist.
	ErrNotFound = errors.New("substate not found")

	// ErrSubstateLocked is returned when a conflicting lock is outstanding.
	ErrSubstateLocked = errors.New("substate locked")

	// ErrLockUnmodifiedBaseOnNewSubstate is returned when an unmodified-base
	// lock targets a substate created in this transaction.
	ErrLockUnmodifiedBaseOnNewSubstate = errors.New("cannot lock unmodified base on new substate")

	// ErrLockUnmodifiedBaseOnUpdatedSubstate is returned when an
	// unmodified-base lock targets a substate already changed in this transaction.
	ErrLockUnmodifiedBaseOnUpdatedSubstate = errors.New("cannot lock unmodified base on updated substate")

	// ErrNotMutable is returned when writing through a read lock.
	ErrNotMutable = errors.New("lock is not mutable")

	// ErrSubstateImmutable is returned when mutating an immutable substate.
	ErrSubstateImmutable = errors.New("substate is immutable")

	// ErrLocksOutstanding is returned when finalizing with open locks.
	ErrLocksOutstanding = errors.New("locks outstanding")

	// ErrVersionConflict is returned when committing against a moved base.
	ErrVersionConflict = errors.New("database version conflict")

	// ErrDuplicateTransaction is returned when committing a transaction
	// whose hash is already recorded.
	ErrDuplicateTransaction = errors.New("transaction already committed")
)

// LockHandle identifies an open lock within one store.
type LockHandle uint32

// Virtualizer materializes a default value for a substate that does not
// exist yet. It returns false when the substate cannot be virtualized.
type Virtualizer func() (*substate.Value, bool)

// SubstateStore is the contract shared by Heap and Track.
type SubstateStore interface {
	// CreateNode inserts a new node with its initial substates.
	CreateNode(id ids.NodeId, substates substate.NodeSubstates) error

	// SetSubstate overwrites or inserts one substate.
	SetSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error

	// TakeSubstate removes one substate and returns its value.
	TakeSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error)

	// ScanSubstates returns up to limit substates of a module ordered by key.
	// A limit <= 0 returns all of them.
	ScanSubstates(id ids.NodeId, module substate.ModuleId, limit int) ([]substate.Entry, error)

	// DeletePartition removes every substate of a module.
	DeletePartition(id ids.NodeId, module substate.ModuleId) error

	// AcquireLock opens a lock on a substate. The boolean reports whether
	// this is the first access of the substate in the transaction.
	AcquireLock(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags, virtualize Virtualizer) (LockHandle, bool, error)

	// ReadSubstate returns the current value behind a lock.
	ReadSubstate(h LockHandle) *substate.Value

	// WriteSubstate replaces the value behind a mutable lock.
	WriteSubstate(h LockHandle, v *substate.Value) error

	// ReleaseLock closes a lock. It panics on an unknown handle.
	ReleaseLock(h LockHandle)
}

// lockState counts the locks held on one substate.
type lockState struct {
	readers uint32 // readers is the number of shared locks
	writer  bool   // writer is set while an exclusive lock is held
}

// locked reports whether any lock is held.
func (l *lockState) locked() bool {
	return l.writer || l.readers > 0
}

// conflicts reports whether a new lock with flags cannot be granted.
func (l *lockState) conflicts(flags substate.LockFlags) bool {
	if flags.Has(substate.Mutable) {
		return l.locked()
	}
	return l.writer
}

// acquire records a new lock.
func (l *lockState) acquire(flags substate.LockFlags) {
	if flags.Has(substate.Mutable) {
		l.writer = true
		return
	}
	l.readers++
}

// release drops a lock.
func (l *lockState) release(flags substate.LockFlags) {
	if flags.Has(substate.Mutable) {
		l.writer = false
		return
	}
	l.readers--
}

// lockRecord is the store-side view of an open lock.
type lockRecord struct {
	node   ids.NodeId
	module substate.ModuleId
	key    substate.Key
	flags  substate.LockFlags
}

// limitEntries truncates a sorted scan result.
func limitEntries(entries []substate.Entry, limit int) []substate.Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
