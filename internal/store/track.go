package store

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// Database is the durable, versioned substate store behind a Track.
type Database interface {
	// Get returns the committed value or nil when absent.
	Get(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error)

	// Scan returns every committed substate of a partition ordered by key.
	Scan(id ids.NodeId, module substate.ModuleId) ([]substate.Entry, error)

	// HasNode reports whether any substate of the node is committed.
	HasNode(id ids.NodeId) (bool, error)

	// Version returns the number of commits applied so far.
	Version() uint64

	// Commit atomically applies a diff computed against baseVersion.
	Commit(diff *StateDiff, baseVersion uint64) error
}

// TrackedState is the staged status of a substate in a Track.
type TrackedState uint8

const (
	Unmodified TrackedState = iota // Unmodified mirrors the committed value
	Updated                        // Updated replaces a committed value
	New                            // New did not exist before the transaction
	Deleted                        // Deleted removes a committed value
	Virtual                        // Virtual was materialized and never written
)

// String returns the state name.
func (s TrackedState) String() string {
	switch s {
	case Unmodified:
		return "unmodified"
	case Updated:
		return "updated"
	case New:
		return "new"
	case Deleted:
		return "deleted"
	case Virtual:
		return "virtual"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// tracked is the staged view of one substate.
type tracked struct {
	state    TrackedState
	value    *substate.Value
	lock     lockState
	accessed bool // accessed is set once the substate was locked
	deleted  bool // deleted marks a virtual entry materialized over a staged delete
}

// partition is the staged view of one (node, module) pair.
type partition struct {
	entries map[substate.Key]*tracked
	reset   bool // reset is set when the whole partition was deleted
}

type partitionId struct {
	node   ids.NodeId
	module substate.ModuleId
}

// Track stages reads and writes over a Database. Nothing reaches the
// database until the diff returned by Finalize is committed.
type Track struct {
	db          Database                   // db is the committed state
	baseVersion uint64                     // baseVersion is db.Version() at creation
	partitions  map[partitionId]*partition // partitions hold staged substates
	created     map[ids.NodeId]struct{}    // created are nodes created in this transaction
	locks       map[LockHandle]*lockRecord // locks are the open locks
	next        LockHandle                 // next is the next handle to allocate
}

// NewTrack creates a track over db.
func NewTrack(db Database) *Track {
	return &Track{
		db:          db,
		baseVersion: db.Version(),
		partitions:  make(map[partitionId]*partition),
		created:     make(map[ids.NodeId]struct{}),
		locks:       make(map[LockHandle]*lockRecord),
		next:        1,
	}
}

// BaseVersion returns the database version the track was opened at.
func (t *Track) BaseVersion() uint64 {
	return t.baseVersion
}

// partition returns the staged partition, creating it when asked.
func (t *Track) partition(id ids.NodeId, module substate.ModuleId, create bool) *partition {
	pid := partitionId{node: id, module: module}

	p, ok := t.partitions[pid]
	if !ok && create {
		p = &partition{entries: make(map[substate.Key]*tracked)}
		t.partitions[pid] = p
	}

	return p
}

// load returns the staged substate, reading through to the database on
// first use. It returns nil when the substate does not exist anywhere.
func (t *Track) load(id ids.NodeId, module substate.ModuleId, key substate.Key) (*tracked, error) {
	p := t.partition(id, module, true)
	if e, ok := p.entries[key]; ok {
		return e, nil
	}

	if p.reset {
		return nil, nil
	}

	v, err := t.db.Get(id, module, key)
	if err != nil {
		return nil, fmt.Errorf("read %v %v %v:\n%w", id, module, key, err)
	}
	if v == nil {
		return nil, nil
	}

	e := &tracked{state: Unmodified, value: v}
	p.entries[key] = e

	return e, nil
}

// exists reports whether a live value is staged or committed.
func (e *tracked) exists() bool {
	return e != nil && e.state != Deleted && e.state != Virtual
}

// HasNode reports whether the node exists in staged or committed state.
func (t *Track) HasNode(id ids.NodeId) (bool, error) {
	if _, ok := t.created[id]; ok {
		return true, nil
	}

	for pid, p := range t.partitions {
		if pid.node != id {
			continue
		}
		for _, e := range p.entries {
			if e.exists() {
				return true, nil
			}
		}
	}

	return t.db.HasNode(id)
}

// CreateNode stages a new node.
func (t *Track) CreateNode(id ids.NodeId, substates substate.NodeSubstates) error {
	exists, err := t.HasNode(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %v", ErrNodeExists, id)
	}

	t.created[id] = struct{}{}

	for module, entries := range substates {
		p := t.partition(id, module, true)
		for key, v := range entries {
			state := New
			if prev, ok := p.entries[key]; ok && prev.state == Deleted {
				state = Updated
			}
			p.entries[key] = &tracked{state: state, value: v}
		}
	}

	return nil
}

// SetSubstate stages an upsert.
func (t *Track) SetSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error {
	e, err := t.load(id, module, key)
	if err != nil {
		return err
	}

	p := t.partition(id, module, true)

	if e == nil {
		p.entries[key] = &tracked{state: New, value: v}
		return nil
	}
	if e.lock.locked() {
		return fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
	}
	if e.exists() && e.value.Immutable {
		return fmt.Errorf("%w: %v %v %v", ErrSubstateImmutable, id, module, key)
	}

	switch e.state {
	case Unmodified, Deleted:
		e.state = Updated
	case Virtual:
		e.state = New
	}
	e.value = v

	return nil
}

// TakeSubstate stages a delete and returns the removed value.
func (t *Track) TakeSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error) {
	e, err := t.load(id, module, key)
	if err != nil {
		return nil, err
	}
	if !e.exists() {
		return nil, fmt.Errorf("%w: %v %v %v", ErrNotFound, id, module, key)
	}
	if e.lock.locked() {
		return nil, fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
	}

	v := e.value

	if e.state == New {
		delete(t.partition(id, module, false).entries, key)
	} else {
		e.state = Deleted
		e.value = nil
	}

	return v, nil
}

// ScanSubstates merges staged substates over committed ones.
func (t *Track) ScanSubstates(id ids.NodeId, module substate.ModuleId, limit int) ([]substate.Entry, error) {
	p := t.partition(id, module, true)

	merged := make(map[substate.Key]*substate.Value)

	if !p.reset {
		committed, err := t.db.Scan(id, module)
		if err != nil {
			return nil, fmt.Errorf("scan %v %v:\n%w", id, module, err)
		}
		for _, e := range committed {
			merged[e.Key] = e.Value
		}
	}

	for key, e := range p.entries {
		if e.exists() {
			merged[key] = e.value
		} else {
			delete(merged, key)
		}
	}

	out := make([]substate.Entry, 0, len(merged))
	for key, v := range merged {
		out = append(out, substate.Entry{Key: key, Value: v})
	}
	substate.SortEntries(out)

	return limitEntries(out, limit), nil
}

// DeletePartition stages the removal of a whole partition. Later reads of
// keys not written afterwards never reach the database.
func (t *Track) DeletePartition(id ids.NodeId, module substate.ModuleId) error {
	p := t.partition(id, module, true)

	for key, e := range p.entries {
		if e.lock.locked() {
			return fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
		}
	}

	p.entries = make(map[substate.Key]*tracked)
	p.reset = true

	return nil
}

// AcquireLock opens a lock, materializing the substate through virtualize
// when it does not exist.
func (t *Track) AcquireLock(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags, virtualize Virtualizer) (LockHandle, bool, error) {
	e, err := t.load(id, module, key)
	if err != nil {
		return 0, false, err
	}

	if e == nil || e.state == Deleted {
		v, ok := materialize(virtualize)
		if !ok {
			return 0, false, fmt.Errorf("%w: %v %v %v", ErrNotFound, id, module, key)
		}
		e = &tracked{state: Virtual, value: v, accessed: e != nil && e.accessed, deleted: e != nil}
	}

	if err := checkLock(id, module, key, flags, &e.lock, e.value); err != nil {
		return 0, false, err
	}

	if flags.Has(substate.UnmodifiedBase) {
		switch e.state {
		case New, Virtual:
			return 0, false, fmt.Errorf("%w: %v %v %v", ErrLockUnmodifiedBaseOnNewSubstate, id, module, key)
		case Updated, Deleted:
			return 0, false, fmt.Errorf("%w: %v %v %v", ErrLockUnmodifiedBaseOnUpdatedSubstate, id, module, key)
		}
	}

	t.partition(id, module, true).entries[key] = e

	first := !e.accessed
	e.accessed = true
	e.lock.acquire(flags)

	handle := t.next
	t.next++
	t.locks[handle] = &lockRecord{node: id, module: module, key: key, flags: flags}

	return handle, first, nil
}

// ReadSubstate returns the value behind a lock.
func (t *Track) ReadSubstate(handle LockHandle) *substate.Value {
	return t.lockedEntry(handle).value
}

// WriteSubstate stages a new value through a mutable lock.
func (t *Track) WriteSubstate(handle LockHandle, v *substate.Value) error {
	rec := t.record(handle)
	if !rec.flags.Has(substate.Mutable) {
		return fmt.Errorf("%w: %v %v %v", ErrNotMutable, rec.node, rec.module, rec.key)
	}

	e := t.lockedEntry(handle)
	switch {
	case e.state == Unmodified, e.state == Virtual && e.deleted:
		e.state = Updated
	case e.state == Virtual:
		e.state = New
	}
	e.value = v

	return nil
}

// ReleaseLock closes a lock. A virtual substate that was never written is
// dropped again.
func (t *Track) ReleaseLock(handle LockHandle) {
	rec := t.record(handle)
	e := t.lockedEntry(handle)

	e.lock.release(rec.flags)
	delete(t.locks, handle)

	if e.state != Virtual || e.lock.locked() {
		return
	}

	if e.deleted {
		e.state, e.value = Deleted, nil
		return
	}

	delete(t.partition(rec.node, rec.module, false).entries, rec.key)
}

// State returns the staged state of a substate, for inspection.
func (t *Track) State(id ids.NodeId, module substate.ModuleId, key substate.Key) (TrackedState, bool) {
	p := t.partition(id, module, false)
	if p == nil {
		return 0, false
	}

	e, ok := p.entries[key]
	if !ok {
		return 0, false
	}

	return e.state, true
}

// OpenLocks returns the number of outstanding locks.
func (t *Track) OpenLocks() int {
	return len(t.locks)
}

// record returns the lock record or panics.
func (t *Track) record(handle LockHandle) *lockRecord {
	rec, ok := t.locks[handle]
	if !ok {
		panic(fmt.Sprintf("track: unknown lock handle %d", handle))
	}
	return rec
}

// lockedEntry returns the entry behind a lock.
func (t *Track) lockedEntry(handle LockHandle) *tracked {
	rec := t.record(handle)
	return t.partition(rec.node, rec.module, false).entries[rec.key]
}

// Finalize converts the staged changes into a diff. It fails while any
// lock is still open.
func (t *Track) Finalize() (*StateDiff, error) {
	if len(t.locks) > 0 {
		return nil, fmt.Errorf("%w: %d", ErrLocksOutstanding, len(t.locks))
	}

	diff := &StateDiff{}

	for pid, p := range t.partitions {
		if p.reset {
			diff.PartitionDeletes = append(diff.PartitionDeletes, PartitionRef{Node: pid.node, Module: pid.module})
		}

		for key, e := range p.entries {
			switch e.state {
			case Updated, New:
				diff.Writes = append(diff.Writes, Write{Node: pid.node, Module: pid.module, Key: key, Value: e.value})
			case Deleted:
				diff.Writes = append(diff.Writes, Write{Node: pid.node, Module: pid.module, Key: key})
			}
		}
	}

	diff.sort()

	return diff, nil
}
