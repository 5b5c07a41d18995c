package resource

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/substate"
)

const (
	vaultBlueprint  = "Vault"
	bucketBlueprint = "Bucket"
)

// blueprintOf returns the blueprint serving a container.
func blueprintOf(container ids.NodeId) (string, error) {
	switch t := container.EntityType(); {
	case t.IsVault():
		return vaultBlueprint, nil
	case t == ids.EntityTransientBucket:
		return bucketBlueprint, nil
	}
	return "", fmt.Errorf("%w: %v", ErrNotContainer, container)
}

// readBalance returns the balance of a visible container.
func readBalance(api kernel.API, container ids.NodeId) (*LockableResource, error) {
	h, err := api.OpenSubstate(container, substate.ModuleMain, stateField, 0)
	if err != nil {
		return nil, err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}

	return DecodeLockable(v.Data)
}

// readManagerInfo returns the info of a resource manager.
func readManagerInfo(api kernel.API, resource ids.NodeId) (ManagerInfo, error) {
	if !resource.EntityType().IsResourceManager() {
		return ManagerInfo{}, fmt.Errorf("%w: %v", kernel.ErrWrongEntityType, resource)
	}

	h, err := api.OpenSubstate(resource, substate.ModuleMain, stateField, 0)
	if err != nil {
		return ManagerInfo{}, err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return ManagerInfo{}, err
	}

	return DecodeManagerInfo(v.Data)
}

// newContainer creates a node of type t holding l.
func newContainer(api kernel.API, t ids.EntityType, l *LockableResource) (ids.NodeId, error) {
	id, err := api.AllocateNodeId(t)
	if err != nil {
		return ids.NodeId{}, err
	}

	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, stateField, containerValue(l))

	bp, err := blueprintOf(id)
	if err != nil {
		return ids.NodeId{}, err
	}
	if err := api.CreateNode(id, bp, subs); err != nil {
		return ids.NodeId{}, err
	}

	return id, nil
}

// vaultType returns the vault entity type for a kind.
func vaultType(k Kind) ids.EntityType {
	if k == NonFungible {
		return ids.EntityInternalNonFungibleVault
	}
	return ids.EntityInternalFungibleVault
}

// singleRef returns the only ref of args.
func singleRef(args *substate.Value) (ids.NodeId, error) {
	if len(args.Refs) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: want one ref, got %d", ErrInvalidArgs, len(args.Refs))
	}
	return args.Refs[0], nil
}

// singleOwn returns the only owned node of args, checking its type.
func singleOwn(args *substate.Value, t ids.EntityType) (ids.NodeId, error) {
	if len(args.Owns) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: want one node, got %d", ErrInvalidArgs, len(args.Owns))
	}
	if args.Owns[0].EntityType() != t {
		return ids.NodeId{}, fmt.Errorf("%w: %v is not a %v", ErrNotContainer, args.Owns[0], t)
	}
	return args.Owns[0], nil
}

// decodeAmount reads a decimal argument.
func decodeAmount(args *substate.Value) (decimal.Decimal, error) {
	r := codec.NewReader(args.Data)
	d := r.Decimal()
	if err := r.Done(); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return d, nil
}

// decodeIds reads an id set argument.
func decodeIds(args *substate.Value) (IdSet, error) {
	r := codec.NewReader(args.Data)
	list := r.Strings()
	if err := r.Done(); err != nil {
		return IdSet{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return ParseIdSet(list)
}

// owning returns a result moving one node to the caller.
func owning(id ids.NodeId) *substate.Value {
	return &substate.Value{Owns: []ids.NodeId{id}}
}

// newVault creates an empty vault of the resource in args.Refs.
func newVault(api kernel.API, args *substate.Value) (*substate.Value, error) {
	resource, err := singleRef(args)
	if err != nil {
		return nil, err
	}

	info, err := readManagerInfo(api, resource)
	if err != nil {
		return nil, err
	}

	id, err := newContainer(api, vaultType(info.Kind), info.NewBalance(resource))
	if err != nil {
		return nil, err
	}

	return owning(id), nil
}

// newBucket creates an empty bucket of the resource in args.Refs.
func newBucket(api kernel.API, args *substate.Value) (*substate.Value, error) {
	resource, err := singleRef(args)
	if err != nil {
		return nil, err
	}

	info, err := readManagerInfo(api, resource)
	if err != nil {
		return nil, err
	}

	id, err := newContainer(api, ids.EntityTransientBucket, info.NewBalance(resource))
	if err != nil {
		return nil, err
	}

	return owning(id), nil
}

// drainBucket destroys an owned bucket after checking it can merge into
// target, and returns its balance.
func drainBucket(api kernel.API, bucket ids.NodeId, target *LockableResource) (*LockableResource, error) {
	l, err := readBalance(api, bucket)
	if err != nil {
		return nil, err
	}
	if err := target.checkCompatible(l); err != nil {
		return nil, err
	}
	if l.IsLocked() {
		return nil, fmt.Errorf("%w: %v", ErrContainerLocked, bucket)
	}

	if _, err := api.DropNode(bucket); err != nil {
		return nil, err
	}

	return l, nil
}

// put merges the bucket in args.Owns into the receiver.
func put(api kernel.API, args *substate.Value) (*substate.Value, error) {
	bucket, err := singleOwn(args, ids.EntityTransientBucket)
	if err != nil {
		return nil, err
	}

	err = updateBalance(api, api.Actor().Receiver, func(l *LockableResource) error {
		taken, err := drainBucket(api, bucket, l)
		if err != nil {
			return err
		}
		return l.Put(taken)
	})
	if err != nil {
		return nil, err
	}

	return nil, nil
}

// takeWith removes part of the receiver balance into a new bucket.
func takeWith(api kernel.API, fn func(l *LockableResource) (*LockableResource, error)) (*substate.Value, error) {
	container := api.Actor().Receiver

	var taken *LockableResource
	err := updateBalance(api, container, func(l *LockableResource) error {
		var err error
		taken, err = fn(l)
		return err
	})
	if err != nil {
		return nil, err
	}

	id, err := newContainer(api, ids.EntityTransientBucket, taken)
	if err != nil {
		return nil, err
	}

	logger.Debug("resource taken", "from", container, "amount", taken.Total().String(), "bucket", id)

	return owning(id), nil
}

// take removes an amount from the receiver.
func take(api kernel.API, args *substate.Value) (*substate.Value, error) {
	amount, err := decodeAmount(args)
	if err != nil {
		return nil, err
	}
	return takeWith(api, func(l *LockableResource) (*LockableResource, error) {
		return l.TakeByAmount(amount)
	})
}

// takeIds removes ids from the receiver.
func takeIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	set, err := decodeIds(args)
	if err != nil {
		return nil, err
	}
	return takeWith(api, func(l *LockableResource) (*LockableResource, error) {
		return l.TakeByIds(set)
	})
}

// takeAll removes the whole free balance of the receiver.
func takeAll(api kernel.API, args *substate.Value) (*substate.Value, error) {
	return takeWith(api, func(l *LockableResource) (*LockableResource, error) {
		return l.TakeAll(), nil
	})
}

// containerAmount returns the total of the receiver.
func containerAmount(api kernel.API, args *substate.Value) (*substate.Value, error) {
	l, err := readBalance(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	return &substate.Value{Data: codec.NewWriter(32).Decimal(l.Total()).Bytes()}, nil
}

// listIds returns the ids held by the receiver.
func listIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	l, err := readBalance(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	if l.Kind != NonFungible {
		return nil, fmt.Errorf("%w: ids of %v container", ErrKindMismatch, l.Kind)
	}
	return &substate.Value{Data: codec.NewWriter(64).Strings(l.ids.Strings()).Bytes()}, nil
}

// proveWith locks part of the receiver and wraps the lock into a proof.
func proveWith(api kernel.API, lock func(l *LockableResource) (uint32, error)) (*substate.Value, error) {
	container := api.Actor().Receiver

	var state *ProofState
	err := updateBalance(api, container, func(l *LockableResource) error {
		lockId, err := lock(l)
		if err != nil {
			return err
		}
		e, _ := l.Lock(lockId)

		state = &ProofState{
			Resource: l.Resource,
			Kind:     l.Kind,
			Amount:   e.Amount,
			Ids:      e.Ids.Clone(),
			Entries:  []ProofEntry{{Container: container, LockId: lockId, Amount: e.Amount, Ids: e.Ids}},
		}
		if l.Kind == NonFungible {
			state.Amount = decimal.New(uint64(e.Ids.Len()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	id, err := createProof(api, state)
	if err != nil {
		return nil, err
	}

	return owning(id), nil
}

// createProofOfAll locks every free unit of the receiver.
func createProofOfAll(api kernel.API, args *substate.Value) (*substate.Value, error) {
	return proveWith(api, func(l *LockableResource) (uint32, error) {
		return l.LockAll()
	})
}

// createProofByAmount locks an amount of the receiver.
func createProofByAmount(api kernel.API, args *substate.Value) (*substate.Value, error) {
	amount, err := decodeAmount(args)
	if err != nil {
		return nil, err
	}
	return proveWith(api, func(l *LockableResource) (uint32, error) {
		return l.LockByAmount(amount)
	})
}

// createProofByIds locks ids of the receiver.
func createProofByIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	set, err := decodeIds(args)
	if err != nil {
		return nil, err
	}
	return proveWith(api, func(l *LockableResource) (uint32, error) {
		return l.LockByIds(set)
	})
}

// dropEmpty destroys the empty bucket in args.Owns.
func dropEmpty(api kernel.API, args *substate.Value) (*substate.Value, error) {
	bucket, err := singleOwn(args, ids.EntityTransientBucket)
	if err != nil {
		return nil, err
	}

	l, err := readBalance(api, bucket)
	if err != nil {
		return nil, err
	}
	if !l.IsEmpty() {
		return nil, fmt.Errorf("%w: %v holds %s", ErrNotEmpty, bucket, l.Total())
	}
	if l.IsLocked() {
		return nil, fmt.Errorf("%w: %v", ErrContainerLocked, bucket)
	}

	if _, err := api.DropNode(bucket); err != nil {
		return nil, err
	}

	return nil, nil
}
