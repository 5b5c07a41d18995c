package resource

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

const proofBlueprint = "Proof"

// readProof decodes the proof behind an open handle.
func readProof(api kernel.API, h kernel.LockHandle) (*ProofState, error) {
	v, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	return DecodeProof(v.Data)
}

// ReadProof returns the state of a proof visible to the current frame.
func ReadProof(api kernel.API, proof ids.NodeId) (*ProofState, error) {
	if proof.EntityType() != ids.EntityTransientProof {
		return nil, fmt.Errorf("%w: %v is not a proof", ErrNotContainer, proof)
	}

	h, err := api.OpenSubstate(proof, substate.ModuleMain, stateField, 0)
	if err != nil {
		return nil, err
	}
	defer api.CloseSubstate(h)

	return readProof(api, h)
}

// createProof creates a proof node owned by the current frame.
func createProof(api kernel.API, state *ProofState) (ids.NodeId, error) {
	id, err := api.AllocateNodeId(ids.EntityTransientProof)
	if err != nil {
		return ids.NodeId{}, err
	}

	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, stateField, state.value())

	if err := api.CreateNode(id, proofBlueprint, subs); err != nil {
		return ids.NodeId{}, err
	}

	return id, nil
}

// updateBalance opens a container mutably and applies fn to its balance.
func updateBalance(api kernel.API, container ids.NodeId, fn func(l *LockableResource) error) error {
	h, err := api.OpenSubstate(container, substate.ModuleMain, stateField, substate.Mutable)
	if err != nil {
		return err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	l, err := DecodeLockable(v.Data)
	if err != nil {
		return err
	}

	if err := fn(l); err != nil {
		return err
	}

	return api.WriteSubstate(h, containerValue(l))
}

// retainLock adds a proof reference to a container lock.
func retainLock(api kernel.API, container ids.NodeId, lockId uint32) error {
	return updateBalance(api, container, func(l *LockableResource) error {
		return l.Retain(lockId)
	})
}

// DestroyProof releases every lock a proof pins and drops the node. The
// proof must be owned by the current frame.
func DestroyProof(api kernel.API, proof ids.NodeId) error {
	h, err := api.OpenSubstate(proof, substate.ModuleMain, stateField, 0)
	if err != nil {
		return err
	}

	state, err := readProof(api, h)
	if err == nil {
		for _, e := range state.Entries {
			lockId := e.LockId
			if err = updateBalance(api, e.Container, func(l *LockableResource) error {
				return l.Unlock(lockId)
			}); err != nil {
				break
			}
		}
	}

	if cerr := api.CloseSubstate(h); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("drop proof %v:\n%w", proof, err)
	}

	_, err = api.DropNode(proof)
	return err
}

// cloneProof creates a second proof sharing the locks of the receiver.
func cloneProof(api kernel.API, args *substate.Value) (*substate.Value, error) {
	proof := api.Actor().Receiver

	h, err := api.OpenSubstate(proof, substate.ModuleMain, stateField, 0)
	if err != nil {
		return nil, err
	}
	defer api.CloseSubstate(h)

	state, err := readProof(api, h)
	if err != nil {
		return nil, err
	}

	for _, e := range state.Entries {
		if err := retainLock(api, e.Container, e.LockId); err != nil {
			return nil, err
		}
	}

	id, err := createProof(api, state)
	if err != nil {
		return nil, err
	}

	return &substate.Value{Owns: []ids.NodeId{id}}, nil
}

// proofAmount returns the proven amount of the receiver.
func proofAmount(api kernel.API, args *substate.Value) (*substate.Value, error) {
	state, err := ReadProof(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	return &substate.Value{Data: codec.NewWriter(32).Decimal(state.Amount).Bytes()}, nil
}

// proofIds returns the proven ids of the receiver.
func proofIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	state, err := ReadProof(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	if state.Kind != NonFungible {
		return nil, fmt.Errorf("%w: ids of %v proof", ErrKindMismatch, state.Kind)
	}
	return &substate.Value{Data: codec.NewWriter(32).Strings(state.Ids.Strings()).Bytes()}, nil
}

// dropProof destroys the proof passed in args.Owns.
func dropProof(api kernel.API, args *substate.Value) (*substate.Value, error) {
	for _, id := range args.Owns {
		if id.EntityType() != ids.EntityTransientProof {
			return nil, fmt.Errorf("%w: %v is not a proof", ErrNotContainer, id)
		}
		if err := DestroyProof(api, id); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
