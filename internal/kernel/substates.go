package kernel

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// ownPlan is the validated ownership effect of replacing a value.
type ownPlan struct {
	added     []ids.NodeId // added are frame roots attached by the write
	removed   []ids.NodeId // removed are children returned to the frame
	persisted bool         // persisted is set when the target lives in the track
}

// storeFor selects the tier holding a node.
func (k *Kernel) storeFor(id ids.NodeId) store.SubstateStore {
	if k.heap.Contains(id) {
		return k.heap
	}
	return k.track
}

// OpenSubstate implements API.
func (k *Kernel) OpenSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags) (LockHandle, error) {
	return k.open(id, module, key, flags, virtualizer(id, module, key))
}

// open locks a substate with an explicit virtualizer.
func (k *Kernel) open(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags, virtualize store.Virtualizer) (LockHandle, error) {
	frame := k.current()

	if !frame.visible(id) {
		return 0, fmt.Errorf("%w: %v", ErrNodeNotVisible, id)
	}
	if err := substate.Check(id.EntityType(), module, key); err != nil {
		return 0, err
	}
	if flags.Has(substate.Mutable) {
		if err := k.checkMutable(id, module); err != nil {
			return 0, err
		}
	}

	st := k.storeFor(id)

	sh, _, err := st.AcquireLock(id, module, key, flags, virtualize)
	if err != nil {
		return 0, err
	}

	handle := k.nextLock
	k.nextLock++

	frame.locks[handle] = &openLock{
		st:     st,
		handle: sh,
		node:   id,
		module: module,
		key:    key,
		flags:  flags,
		temps:  frame.exposeTemp(st.ReadSubstate(sh)),
	}
	k.stats.LocksOpened++

	return handle, nil
}

// lock returns an open lock of the current frame.
func (k *Kernel) lock(h LockHandle) (*openLock, error) {
	lk, ok := k.current().locks[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLockNotFound, h)
	}
	return lk, nil
}

// ReadSubstate implements API.
func (k *Kernel) ReadSubstate(h LockHandle) (*substate.Value, error) {
	lk, err := k.lock(h)
	if err != nil {
		return nil, err
	}

	return lk.st.ReadSubstate(lk.handle).Clone(), nil
}

// WriteSubstate implements API.
func (k *Kernel) WriteSubstate(h LockHandle, v *substate.Value) error {
	frame := k.current()

	lk, err := k.lock(h)
	if err != nil {
		return err
	}
	if !lk.flags.Has(substate.Mutable) {
		return fmt.Errorf("%w: %v %v %v", store.ErrNotMutable, lk.node, lk.module, lk.key)
	}
	if v == nil {
		v = &substate.Value{}
	}

	old := lk.st.ReadSubstate(lk.handle)

	plan, err := k.planOwnership(frame, lk.node, old.Owns, v.Owns)
	if err != nil {
		return fmt.Errorf("write %v %v %v:\n%w", lk.node, lk.module, lk.key, err)
	}
	if err := k.checkRefs(frame, v.Refs); err != nil {
		return fmt.Errorf("write %v %v %v:\n%w", lk.node, lk.module, lk.key, err)
	}

	v = v.Clone()
	if err := lk.st.WriteSubstate(lk.handle, v); err != nil {
		return err
	}

	if err := k.applyOwnership(frame, plan, ownerLink{node: lk.node, module: lk.module, key: lk.key}); err != nil {
		return err
	}

	frame.hideTemp(lk.temps)
	lk.temps = frame.exposeTemp(v)
	k.stats.Writes++

	return nil
}

// CloseSubstate implements API.
func (k *Kernel) CloseSubstate(h LockHandle) error {
	frame := k.current()

	lk, err := k.lock(h)
	if err != nil {
		return err
	}

	lk.st.ReleaseLock(lk.handle)
	frame.hideTemp(lk.temps)
	delete(frame.locks, h)

	return nil
}

// SetSubstate implements API. Missing substates are inserted.
func (k *Kernel) SetSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error {
	insert := func() (*substate.Value, bool) { return &substate.Value{}, true }

	h, err := k.open(id, module, key, substate.Mutable, insert)
	if err != nil {
		return err
	}

	werr := k.WriteSubstate(h, v)
	cerr := k.CloseSubstate(h)

	if werr != nil {
		return werr
	}
	return cerr
}

// RemoveSubstate implements API.
func (k *Kernel) RemoveSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error) {
	frame := k.current()

	h, err := k.open(id, module, key, substate.Mutable, nil)
	if err != nil {
		return nil, err
	}

	lk := frame.locks[h]
	old := lk.st.ReadSubstate(lk.handle)

	plan, perr := k.planOwnership(frame, id, old.Owns, nil)
	if cerr := k.CloseSubstate(h); cerr != nil {
		return nil, cerr
	}
	if perr != nil {
		return nil, fmt.Errorf("remove %v %v %v:\n%w", id, module, key, perr)
	}

	v, err := lk.st.TakeSubstate(id, module, key)
	if err != nil {
		return nil, err
	}

	if err := k.applyOwnership(frame, plan, ownerLink{}); err != nil {
		return nil, err
	}
	k.stats.Writes++

	return v.Clone(), nil
}

// ScanSubstates implements API. Global refs found become visible.
func (k *Kernel) ScanSubstates(id ids.NodeId, module substate.ModuleId, limit int) ([]substate.Entry, error) {
	frame := k.current()

	if !frame.visible(id) {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotVisible, id)
	}
	if err := substate.CheckModule(id.EntityType(), module); err != nil {
		return nil, err
	}

	entries, err := k.storeFor(id).ScanSubstates(id, module, limit)
	if err != nil {
		return nil, err
	}

	out := make([]substate.Entry, len(entries))
	for i, e := range entries {
		out[i] = substate.Entry{Key: e.Key, Value: e.Value.Clone()}
		for _, ref := range e.Value.Refs {
			if ref.IsGlobal() {
				frame.immortal.Add(ref)
			}
		}
	}

	return out, nil
}

// DeletePartition implements API. Children owned by the partition return
// to the frame; persisted children cannot be removed.
func (k *Kernel) DeletePartition(id ids.NodeId, module substate.ModuleId) error {
	frame := k.current()

	if !frame.visible(id) {
		return fmt.Errorf("%w: %v", ErrNodeNotVisible, id)
	}
	if err := substate.CheckModule(id.EntityType(), module); err != nil {
		return err
	}
	if err := k.checkMutable(id, module); err != nil {
		return err
	}

	st := k.storeFor(id)

	entries, err := st.ScanSubstates(id, module, 0)
	if err != nil {
		return err
	}

	var owns []ids.NodeId
	for _, e := range entries {
		if e.Value.Immutable {
			return fmt.Errorf("%w: %v %v %v", store.ErrSubstateImmutable, id, module, e.Key)
		}
		owns = append(owns, e.Value.Owns...)
	}

	plan, err := k.planOwnership(frame, id, owns, nil)
	if err != nil {
		return fmt.Errorf("delete partition %v %v:\n%w", id, module, err)
	}

	if err := st.DeletePartition(id, module); err != nil {
		return err
	}
	k.stats.Writes++

	return k.applyOwnership(frame, plan, ownerLink{})
}

// planOwnership validates replacing oldOwns by newOwns on target.
func (k *Kernel) planOwnership(frame *CallFrame, target ids.NodeId, oldOwns, newOwns []ids.NodeId) (*ownPlan, error) {
	plan := &ownPlan{persisted: !k.heap.Contains(target)}

	before := make(map[ids.NodeId]struct{}, len(oldOwns))
	for _, id := range oldOwns {
		before[id] = struct{}{}
	}

	after := make(map[ids.NodeId]struct{}, len(newOwns))
	for _, id := range newOwns {
		if _, dup := after[id]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateOwn, id)
		}
		after[id] = struct{}{}

		if _, kept := before[id]; !kept {
			plan.added = append(plan.added, id)
		}
	}

	for _, id := range oldOwns {
		if _, kept := after[id]; !kept {
			plan.removed = append(plan.removed, id)
		}
	}

	if plan.persisted && len(plan.removed) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrStoredNodeRemoved, plan.removed[0])
	}

	if err := k.checkMovable(frame, plan.added); err != nil {
		return nil, err
	}

	for _, id := range plan.added {
		if k.owners.root(target) == id {
			return nil, fmt.Errorf("%w: %v would own its ancestor %v", ErrOwnershipViolation, target, id)
		}
		if plan.persisted {
			if err := k.checkPersistable(id); err != nil {
				return nil, err
			}
		}
	}

	return plan, nil
}

// applyOwnership performs a validated plan.
func (k *Kernel) applyOwnership(frame *CallFrame, plan *ownPlan, link ownerLink) error {
	for _, id := range plan.removed {
		k.owners.detach(id)
		frame.owned.Add(id)
	}

	for _, id := range plan.added {
		frame.owned.Remove(id)
		if err := k.owners.attach(id, link); err != nil {
			return err
		}
	}

	if !plan.persisted {
		return nil
	}

	for _, id := range plan.added {
		if err := k.persist(id); err != nil {
			return err
		}
	}

	return nil
}
