package resource

import (
	"fmt"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

// lockRef identifies one lock entry across containers.
type lockRef struct {
	container ids.NodeId
	lockId    uint32
}

// planComposition picks the lock entries backing a composed proof. Entries
// are consumed greedily in candidate order, each lock counted once. want
// selects ids for non-fungibles; amount applies otherwise.
func planComposition(candidates []*ProofState, kind Kind, amount decimal.Decimal, want IdSet) ([]ProofEntry, error) {
	seen := make(map[lockRef]struct{})
	var plan []ProofEntry

	if kind == NonFungible {
		remaining := want.Clone()
		for _, p := range candidates {
			for _, e := range p.Entries {
				if remaining.Len() == 0 {
					return plan, nil
				}
				ref := lockRef{container: e.Container, lockId: e.LockId}
				if _, dup := seen[ref]; dup || !e.Ids.Intersects(remaining) {
					continue
				}
				seen[ref] = struct{}{}

				plan = append(plan, e)
				for _, id := range e.Ids.Slice() {
					remaining.Remove(id)
				}
			}
		}
		if remaining.Len() > 0 {
			return nil, fmt.Errorf("%w: missing %v", ErrInsufficientBaseProofs, remaining.Strings())
		}
		return plan, nil
	}

	sum := decimal.Zero()
	for _, p := range candidates {
		for _, e := range p.Entries {
			if !sum.Lt(amount) {
				return plan, nil
			}
			ref := lockRef{container: e.Container, lockId: e.LockId}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}

			plan = append(plan, e)
			next, err := sum.Add(e.Amount)
			if err != nil {
				return nil, err
			}
			sum = next
		}
	}

	if sum.Lt(amount) {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBaseProofs, amount, sum)
	}

	return plan, nil
}

// ProvableAmount returns the quantity candidate proofs of resource can back
// together, counting each lock once.
func ProvableAmount(candidates []*ProofState, resource ids.NodeId) (decimal.Decimal, IdSet) {
	seen := make(map[lockRef]struct{})
	sum := decimal.Zero()
	set := NewIdSet()

	for _, p := range candidates {
		if p.Resource != resource {
			continue
		}
		if p.Virtual {
			sum, _ = sum.Add(p.Amount)
			for _, id := range p.Ids.Slice() {
				set.Add(id)
			}
			continue
		}
		for _, e := range p.Entries {
			ref := lockRef{container: e.Container, lockId: e.LockId}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}

			if p.Kind == NonFungible {
				for _, id := range e.Ids.Slice() {
					if set.Add(id) {
						sum, _ = sum.Add(decimal.New(1))
					}
				}
				continue
			}
			sum, _ = sum.Add(e.Amount)
		}
	}

	return sum, set
}

// Compose creates a proof of resource backed by the locks of candidate
// proofs, which must be visible to the current frame. Exactly one of
// amount or want applies, depending on the resource kind.
func Compose(api kernel.API, candidates []ids.NodeId, resource ids.NodeId, amount decimal.Decimal, want *IdSet) (ids.NodeId, error) {
	kind, ok := KindOf(resource)
	if !ok {
		return ids.NodeId{}, fmt.Errorf("%w: %v", kernel.ErrWrongEntityType, resource)
	}
	if want != nil && kind != NonFungible {
		return ids.NodeId{}, fmt.Errorf("%w: proof by ids of %v", ErrKindMismatch, resource)
	}

	var handles []kernel.LockHandle
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			_ = api.CloseSubstate(handles[i])
		}
	}()

	states := make([]*ProofState, 0, len(candidates))
	for _, id := range candidates {
		h, err := api.OpenSubstate(id, substate.ModuleMain, stateField, 0)
		if err != nil {
			return ids.NodeId{}, err
		}
		handles = append(handles, h)

		p, err := readProof(api, h)
		if err != nil {
			return ids.NodeId{}, err
		}
		if p.Resource == resource && !p.Virtual {
			states = append(states, p)
		}
	}

	state := &ProofState{Resource: resource, Kind: kind, Amount: amount, Ids: NewIdSet()}
	if want != nil {
		state.Ids = want.Clone()
		state.Amount = decimal.New(uint64(want.Len()))
	} else if kind == NonFungible {
		return ids.NodeId{}, fmt.Errorf("%w: non-fungible proofs are composed by ids", ErrKindMismatch)
	}

	plan, err := planComposition(states, kind, state.Amount, state.Ids)
	if err != nil {
		return ids.NodeId{}, err
	}

	for _, e := range plan {
		if err := retainLock(api, e.Container, e.LockId); err != nil {
			return ids.NodeId{}, err
		}
	}
	state.Entries = plan

	return createProof(api, state)
}

// CreateVirtualProof creates a proof with no backing container. It is
// reserved for system modules fabricating evidence.
func CreateVirtualProof(api kernel.API, resource ids.NodeId, amount decimal.Decimal, set IdSet) (ids.NodeId, error) {
	kind, ok := KindOf(resource)
	if !ok {
		return ids.NodeId{}, fmt.Errorf("%w: %v", kernel.ErrWrongEntityType, resource)
	}

	state := &ProofState{Resource: resource, Kind: kind, Virtual: true, Amount: amount, Ids: set.Clone()}
	if kind == NonFungible {
		state.Amount = decimal.New(uint64(set.Len()))
	}

	return createProof(api, state)
}
