package store

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// heapEntry is one substate of a heap node.
type heapEntry struct {
	value   *substate.Value
	lock    lockState
	virtual bool // virtual entries were materialized and never written
}

// heapNode holds the substates of one node, by module then key.
type heapNode map[substate.ModuleId]map[substate.Key]*heapEntry

// Heap stores the nodes created during a transaction that have not been
// attached to persisted state. It is discarded with the transaction.
type Heap struct {
	nodes map[ids.NodeId]heapNode    // nodes is the node table
	locks map[LockHandle]*lockRecord // locks are the open locks
	next  LockHandle                 // next is the next handle to allocate
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		nodes: make(map[ids.NodeId]heapNode),
		locks: make(map[LockHandle]*lockRecord),
		next:  1,
	}
}

// Contains reports whether the node lives in the heap.
func (h *Heap) Contains(id ids.NodeId) bool {
	_, ok := h.nodes[id]
	return ok
}

// Len returns the number of heap nodes.
func (h *Heap) Len() int {
	return len(h.nodes)
}

// NodeIds returns the ids of all heap nodes.
func (h *Heap) NodeIds() []ids.NodeId {
	out := make([]ids.NodeId, 0, len(h.nodes))
	for id := range h.nodes {
		out = append(out, id)
	}
	return out
}

// IsNodeLocked reports whether any substate of the node is locked.
func (h *Heap) IsNodeLocked(id ids.NodeId) bool {
	for _, module := range h.nodes[id] {
		for _, e := range module {
			if e.lock.locked() {
				return true
			}
		}
	}
	return false
}

// CreateNode inserts a new node.
func (h *Heap) CreateNode(id ids.NodeId, substates substate.NodeSubstates) error {
	if _, ok := h.nodes[id]; ok {
		return fmt.Errorf("%w: %v", ErrNodeExists, id)
	}

	node := make(heapNode, len(substates))
	for module, entries := range substates {
		m := make(map[substate.Key]*heapEntry, len(entries))
		for key, v := range entries {
			m[key] = &heapEntry{value: v}
		}
		node[module] = m
	}

	h.nodes[id] = node

	return nil
}

// RemoveNode deletes a node and returns its substates.
func (h *Heap) RemoveNode(id ids.NodeId) (substate.NodeSubstates, error) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %v", ErrNotFound, id)
	}
	if h.IsNodeLocked(id) {
		return nil, fmt.Errorf("%w: node %v", ErrSubstateLocked, id)
	}

	out := make(substate.NodeSubstates, len(node))
	for module, entries := range node {
		for key, e := range entries {
			if !e.virtual {
				out.Set(module, key, e.value)
			}
		}
	}

	delete(h.nodes, id)

	return out, nil
}

// Substates returns the current substates of a node without locking.
func (h *Heap) Substates(id ids.NodeId) (substate.NodeSubstates, bool) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, false
	}

	out := make(substate.NodeSubstates, len(node))
	for module, entries := range node {
		for key, e := range entries {
			if !e.virtual {
				out.Set(module, key, e.value)
			}
		}
	}

	return out, true
}

// SetSubstate overwrites or inserts one substate.
func (h *Heap) SetSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error {
	node, ok := h.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %v", ErrNotFound, id)
	}

	if e := node[module][key]; e != nil {
		if e.lock.locked() {
			return fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
		}
		if e.value.Immutable && !e.virtual {
			return fmt.Errorf("%w: %v %v %v", ErrSubstateImmutable, id, module, key)
		}
	}

	entries, ok := node[module]
	if !ok {
		entries = make(map[substate.Key]*heapEntry)
		node[module] = entries
	}
	entries[key] = &heapEntry{value: v}

	return nil
}

// TakeSubstate removes one substate.
func (h *Heap) TakeSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %v", ErrNotFound, id)
	}

	e := node[module][key]
	if e == nil || e.virtual {
		return nil, fmt.Errorf("%w: %v %v %v", ErrNotFound, id, module, key)
	}
	if e.lock.locked() {
		return nil, fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
	}

	delete(node[module], key)

	return e.value, nil
}

// ScanSubstates returns the substates of a module ordered by key.
func (h *Heap) ScanSubstates(id ids.NodeId, module substate.ModuleId, limit int) ([]substate.Entry, error) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %v", ErrNotFound, id)
	}

	out := make([]substate.Entry, 0, len(node[module]))
	for key, e := range node[module] {
		if !e.virtual {
			out = append(out, substate.Entry{Key: key, Value: e.value})
		}
	}
	substate.SortEntries(out)

	return limitEntries(out, limit), nil
}

// DeletePartition removes every substate of a module.
func (h *Heap) DeletePartition(id ids.NodeId, module substate.ModuleId) error {
	node, ok := h.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %v", ErrNotFound, id)
	}

	for key, e := range node[module] {
		if e.lock.locked() {
			return fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
		}
	}

	delete(node, module)

	return nil
}

// AcquireLock opens a lock. Heap substates are always new to the
// transaction, so unmodified-base locks are refused and first access is
// never reported.
func (h *Heap) AcquireLock(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags, virtualize Virtualizer) (LockHandle, bool, error) {
	node, ok := h.nodes[id]
	if !ok {
		return 0, false, fmt.Errorf("%w: node %v", ErrNotFound, id)
	}

	e := node[module][key]
	if e == nil {
		v, ok := materialize(virtualize)
		if !ok {
			return 0, false, fmt.Errorf("%w: %v %v %v", ErrNotFound, id, module, key)
		}
		e = &heapEntry{value: v, virtual: true}
	}

	if err := checkLock(id, module, key, flags, &e.lock, e.value); err != nil {
		return 0, false, err
	}
	if flags.Has(substate.UnmodifiedBase) {
		return 0, false, fmt.Errorf("%w: %v %v %v", ErrLockUnmodifiedBaseOnNewSubstate, id, module, key)
	}

	if e.virtual {
		entries, ok := node[module]
		if !ok {
			entries = make(map[substate.Key]*heapEntry)
			node[module] = entries
		}
		entries[key] = e
	}

	e.lock.acquire(flags)

	handle := h.next
	h.next++
	h.locks[handle] = &lockRecord{node: id, module: module, key: key, flags: flags}

	return handle, false, nil
}

// ReadSubstate returns the value behind a lock.
func (h *Heap) ReadSubstate(handle LockHandle) *substate.Value {
	return h.lockedEntry(handle).value
}

// WriteSubstate replaces the value behind a mutable lock.
func (h *Heap) WriteSubstate(handle LockHandle, v *substate.Value) error {
	rec := h.record(handle)
	if !rec.flags.Has(substate.Mutable) {
		return fmt.Errorf("%w: %v %v %v", ErrNotMutable, rec.node, rec.module, rec.key)
	}

	e := h.lockedEntry(handle)
	e.value = v
	e.virtual = false

	return nil
}

// ReleaseLock closes a lock.
func (h *Heap) ReleaseLock(handle LockHandle) {
	rec := h.record(handle)
	e := h.lockedEntry(handle)

	e.lock.release(rec.flags)
	delete(h.locks, handle)

	if e.virtual && !e.lock.locked() {
		delete(h.nodes[rec.node][rec.module], rec.key)
	}
}

// record returns the lock record or panics.
func (h *Heap) record(handle LockHandle) *lockRecord {
	rec, ok := h.locks[handle]
	if !ok {
		panic(fmt.Sprintf("heap: unknown lock handle %d", handle))
	}
	return rec
}

// lockedEntry returns the entry behind a lock or panics.
func (h *Heap) lockedEntry(handle LockHandle) *heapEntry {
	rec := h.record(handle)
	return h.nodes[rec.node][rec.module][rec.key]
}

// materialize runs an optional virtualizer.
func materialize(virtualize Virtualizer) (*substate.Value, bool) {
	if virtualize == nil {
		return nil, false
	}
	return virtualize()
}

// checkLock applies the conflict and immutability rules shared by both tiers.
func checkLock(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags, l *lockState, v *substate.Value) error {
	if l.conflicts(flags) {
		return fmt.Errorf("%w: %v %v %v", ErrSubstateLocked, id, module, key)
	}
	if flags.Has(substate.Mutable) && v != nil && v.Immutable {
		return fmt.Errorf("%w: %v %v %v", ErrSubstateImmutable, id, module, key)
	}
	return nil
}
