package authzone

import (
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

// Module gives every call frame an auth zone. The root zone carries the
// transaction's virtual evidence.
type Module struct {
	VirtualResources []ids.NodeId   // VirtualResources are provable in any amount from the root
	SignerBadges     resource.IdSet // SignerBadges are the signer badge ids of the transaction
}

// NewModule creates the module for one transaction.
func NewModule(badges resource.IdSet, virtualResources ...ids.NodeId) *Module {
	return &Module{VirtualResources: virtualResources, SignerBadges: badges}
}

// OnPushFrame implements kernel.Module.
func (m *Module) OnPushFrame(k *kernel.Kernel) error {
	frame := k.Frame()
	state := &zoneState{}
	value := &substate.Value{}

	if parent := k.ParentFrame(); parent == nil {
		state.virtualResources = m.VirtualResources
		state.virtualBadges = m.SignerBadges.Clone()
	} else {
		actor := frame.Actor()
		state.barrier = actor.IsMethod() && actor.Receiver.IsGlobal()
		if zone := parent.AuthZone(); !zone.IsZero() {
			value.Refs = []ids.NodeId{zone}
		}
	}
	value.Data = state.encode()

	zone, err := k.AllocateNodeId(ids.EntityTransientAuthZone)
	if err != nil {
		return err
	}

	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, zoneField, value)

	if err := k.CreateNode(zone, Blueprint, subs); err != nil {
		return fmt.Errorf("create auth zone:\n%w", err)
	}
	k.SetAuthZone(zone)

	return nil
}

// OnPopFrame implements kernel.Module. Proofs left in the zone are
// dropped, releasing their locks.
func (m *Module) OnPopFrame(k *kernel.Kernel) error {
	zone := k.Frame().AuthZone()
	if zone.IsZero() {
		return nil
	}

	proofs, err := drainZone(k, zone)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if err := resource.DestroyProof(k, p); err != nil {
			return err
		}
	}

	if _, err := k.DropNode(zone); err != nil {
		return fmt.Errorf("drop auth zone:\n%w", err)
	}

	if len(proofs) > 0 {
		logger.Debug("auth zone cleared", "depth", k.Depth(), "proofs", len(proofs))
	}

	return nil
}
