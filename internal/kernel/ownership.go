package kernel

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// ownerLink locates the substate that owns a node.
type ownerLink struct {
	node   ids.NodeId
	module substate.ModuleId
	key    substate.Key
}

// ownership is the explicit owner map of nodes touched in this
// transaction. Committed nodes that were never moved are absent.
type ownership struct {
	owners map[ids.NodeId]ownerLink
}

func newOwnership() *ownership {
	return &ownership{owners: make(map[ids.NodeId]ownerLink)}
}

// owner returns the owner link of a node.
func (o *ownership) owner(id ids.NodeId) (ownerLink, bool) {
	l, ok := o.owners[id]
	return l, ok
}

// attach records child as owned by (parent, module, key). It fails if the
// child already has an owner or if parent descends from child.
func (o *ownership) attach(child ids.NodeId, link ownerLink) error {
	if prev, ok := o.owners[child]; ok {
		return fmt.Errorf("%w: %v already owned by %v", ErrOwnershipViolation, child, prev.node)
	}

	for cur := link.node; ; {
		if cur == child {
			return fmt.Errorf("%w: attaching %v under %v forms a cycle", ErrOwnershipViolation, child, link.node)
		}

		up, ok := o.owners[cur]
		if !ok {
			break
		}
		cur = up.node
	}

	o.owners[child] = link

	return nil
}

// detach removes the owner of child.
func (o *ownership) detach(child ids.NodeId) {
	delete(o.owners, child)
}

// root returns the top-most known ancestor of id.
func (o *ownership) root(id ids.NodeId) ids.NodeId {
	for {
		up, ok := o.owners[id]
		if !ok {
			return id
		}
		id = up.node
	}
}
