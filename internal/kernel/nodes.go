package kernel

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// AllocateNodeId implements API.
func (k *Kernel) AllocateNodeId(t ids.EntityType) (ids.NodeId, error) {
	if !t.Known() {
		return ids.NodeId{}, fmt.Errorf("%w: %v", ErrWrongEntityType, t)
	}

	id := k.alloc.Next(t)
	k.allocated[id] = struct{}{}

	return id, nil
}

// CreateNode implements API. The node records blueprint and the actor
// blueprint of the creating frame as its type info.
func (k *Kernel) CreateNode(id ids.NodeId, blueprint string, substates substate.NodeSubstates) error {
	frame := k.current()

	if _, ok := k.allocated[id]; !ok {
		return fmt.Errorf("%w: %v", ErrNodeIdNotAllocated, id)
	}
	if blueprint == "" {
		return fmt.Errorf("%w: %v has no blueprint", ErrAccessDenied, id)
	}
	if k.privileged == 0 && k.packageOf(blueprint) != k.packageOf(frame.actor.Blueprint) {
		return fmt.Errorf("%w: %s cannot create %s node %v", ErrAccessDenied, frame.actor, blueprint, id)
	}
	if substates == nil {
		substates = substate.NodeSubstates{}
	}
	if _, ok := substates[substate.ModuleTypeInfo]; ok {
		return fmt.Errorf("%w: type info of %v is set by the kernel", ErrAccessDenied, id)
	}
	if err := substate.CheckNode(id.EntityType(), substates); err != nil {
		return err
	}

	if err := k.checkMovable(frame, substates.Owned()); err != nil {
		return fmt.Errorf("create %v:\n%w", id, err)
	}
	for _, module := range substates {
		for _, v := range module {
			if err := k.checkRefs(frame, v.Refs); err != nil {
				return fmt.Errorf("create %v:\n%w", id, err)
			}
		}
	}

	owned := make(substate.NodeSubstates, len(substates)+1)
	for module, entries := range substates {
		for key, v := range entries {
			owned.Set(module, key, v.Clone())
		}
	}
	info := &TypeInfo{Blueprint: blueprint, Outer: frame.actor.Blueprint}
	owned.Set(substate.ModuleTypeInfo, typeInfoField, info.value())

	if err := k.heap.CreateNode(id, owned); err != nil {
		return err
	}
	delete(k.allocated, id)

	for _, module := range owned.Modules() {
		for _, e := range owned.Entries(module) {
			for _, child := range e.Value.Owns {
				frame.owned.Remove(child)
				if err := k.owners.attach(child, ownerLink{node: id, module: module, key: e.Key}); err != nil {
					return err
				}
			}
		}
	}

	frame.owned.Add(id)
	k.stats.NodesCreated++

	return nil
}

// DropNode implements API.
func (k *Kernel) DropNode(id ids.NodeId) (substate.NodeSubstates, error) {
	frame := k.current()

	if !frame.owned.Contains(id) {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotOwned, id)
	}
	if !k.heap.Contains(id) {
		return nil, fmt.Errorf("%w: %v", ErrStoredNodeRemoved, id)
	}
	if k.heap.IsNodeLocked(id) {
		return nil, fmt.Errorf("%w: %v", ErrNodeLocked, id)
	}
	if err := k.checkDrop(id); err != nil {
		return nil, err
	}

	subs, err := k.heap.RemoveNode(id)
	if err != nil {
		return nil, err
	}
	frame.owned.Remove(id)

	for _, child := range subs.Owned() {
		k.owners.detach(child)
		frame.owned.Add(child)
	}

	out := make(substate.NodeSubstates, len(subs))
	for module, entries := range subs {
		for key, v := range entries {
			out.Set(module, key, v.Clone())
		}
	}

	return out, nil
}

// checkDrop verifies the current frame runs code of the dropped node's
// package.
func (k *Kernel) checkDrop(id ids.NodeId) error {
	if k.privileged > 0 {
		return nil
	}

	info, err := k.TypeInfo(id)
	if err != nil {
		return err
	}

	actor := k.current().actor
	if k.packageOf(actor.Blueprint) != k.packageOf(info.Blueprint) {
		return fmt.Errorf("%w: %s cannot drop %s node %v", ErrAccessDenied, actor, info.Blueprint, id)
	}

	return nil
}

// Globalize implements API. The node and every node below it move from
// the heap into the track; the frame keeps a reference to the node.
func (k *Kernel) Globalize(id ids.NodeId) error {
	frame := k.current()

	if !id.IsGlobal() {
		return fmt.Errorf("%w: %v is not a global entity", ErrWrongEntityType, id)
	}
	if !frame.owned.Contains(id) {
		return fmt.Errorf("%w: %v", ErrNodeNotOwned, id)
	}
	if err := k.checkPersistable(id); err != nil {
		return fmt.Errorf("globalize %v:\n%w", id, err)
	}

	if err := k.persist(id); err != nil {
		return fmt.Errorf("globalize %v:\n%w", id, err)
	}

	frame.owned.Remove(id)
	frame.immortal.Add(id)

	return nil
}

// checkMovable verifies that every id is a distinct unlocked root owned by
// the frame.
func (k *Kernel) checkMovable(frame *CallFrame, list []ids.NodeId) error {
	seen := make(map[ids.NodeId]struct{}, len(list))

	for _, id := range list {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %v", ErrDuplicateOwn, id)
		}
		seen[id] = struct{}{}

		if !frame.owned.Contains(id) {
			return fmt.Errorf("%w: %v", ErrNodeNotOwned, id)
		}
		if k.subtreeLocked(id) {
			return fmt.Errorf("%w: %v", ErrNodeLocked, id)
		}
	}

	return nil
}

// checkRefs verifies the frame can see every reference. Module hooks may
// reference any node.
func (k *Kernel) checkRefs(frame *CallFrame, refs []ids.NodeId) error {
	if k.privileged > 0 {
		return nil
	}

	for _, ref := range refs {
		if !frame.visible(ref) {
			return fmt.Errorf("%w: %v", ErrNodeNotVisible, ref)
		}
	}

	return nil
}

// subtreeLocked reports whether a heap node or any heap node below it has
// an open lock.
func (k *Kernel) subtreeLocked(id ids.NodeId) bool {
	if k.heap.IsNodeLocked(id) {
		return true
	}

	subs, ok := k.heap.Substates(id)
	if !ok {
		return false
	}

	for _, child := range subs.Owned() {
		if k.subtreeLocked(child) {
			return true
		}
	}

	return false
}

// checkPersistable verifies a heap subtree can move into the track.
func (k *Kernel) checkPersistable(id ids.NodeId) error {
	if id.EntityType().IsTransient() {
		return fmt.Errorf("%w: %v", ErrTransientNodePersisted, id)
	}

	subs, ok := k.heap.Substates(id)
	if !ok {
		return nil
	}
	if k.heap.IsNodeLocked(id) {
		return fmt.Errorf("%w: %v", ErrNodeLocked, id)
	}

	for _, child := range subs.Owned() {
		if err := k.checkPersistable(child); err != nil {
			return err
		}
	}

	return nil
}

// persist moves a heap subtree into the track.
func (k *Kernel) persist(id ids.NodeId) error {
	if !k.heap.Contains(id) {
		return nil
	}

	subs, err := k.heap.RemoveNode(id)
	if err != nil {
		return err
	}

	if err := k.track.CreateNode(id, subs); err != nil {
		return err
	}

	for _, child := range subs.Owned() {
		if err := k.persist(child); err != nil {
			return err
		}
	}

	return nil
}
