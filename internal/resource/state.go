package resource

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

var (
	// stateField holds the balance of vaults and buckets, the evidence of
	// proofs and the info of resource managers.
	stateField = substate.FieldKey(0)

	// supplyField holds the total supply of a resource manager.
	supplyField = substate.FieldKey(1)
)

// containerValue wraps a balance into its substate.
func containerValue(l *LockableResource) *substate.Value {
	return &substate.Value{Data: l.Encode(), Refs: []ids.NodeId{l.Resource}}
}

// ProofEntry is one container lock held by a proof.
type ProofEntry struct {
	Container ids.NodeId      // Container is the vault or bucket pinned
	LockId    uint32          // LockId selects the entry inside the container
	Amount    decimal.Decimal // Amount is the fungible amount pinned
	Ids       IdSet           // Ids are the non-fungible ids pinned
}

// ProofState is the substate of a proof. A virtual proof has no entries.
type ProofState struct {
	Resource ids.NodeId
	Kind     Kind
	Virtual  bool
	Amount   decimal.Decimal // Amount is the proven quantity
	Ids      IdSet           // Ids are the proven non-fungible ids
	Entries  []ProofEntry
}

// Containers returns the distinct containers in entry order.
func (p *ProofState) Containers() []ids.NodeId {
	seen := make(map[ids.NodeId]struct{}, len(p.Entries))
	out := make([]ids.NodeId, 0, len(p.Entries))
	for _, e := range p.Entries {
		if _, ok := seen[e.Container]; ok {
			continue
		}
		seen[e.Container] = struct{}{}
		out = append(out, e.Container)
	}
	return out
}

// value wraps the proof into its substate. Containers are referenced so
// that locking the proof makes them visible.
func (p *ProofState) value() *substate.Value {
	refs := append(p.Containers(), p.Resource)
	return &substate.Value{Data: p.Encode(), Refs: refs}
}

// Encode serializes the proof state.
func (p *ProofState) Encode() []byte {
	w := codec.NewWriter(96).
		NodeId(p.Resource).
		U8(uint8(p.Kind)).
		Bool(p.Virtual).
		Decimal(p.Amount).
		Strings(p.Ids.Strings()).
		U32(uint32(len(p.Entries)))

	for _, e := range p.Entries {
		w.NodeId(e.Container).U32(e.LockId).Decimal(e.Amount).Strings(e.Ids.Strings())
	}

	return w.Bytes()
}

// DecodeProof parses the output of Encode.
func DecodeProof(b []byte) (*ProofState, error) {
	r := codec.NewReader(b)

	p := &ProofState{
		Resource: r.NodeId(),
		Kind:     Kind(r.U8()),
		Virtual:  r.Bool(),
		Amount:   r.Decimal(),
	}

	var err error
	if p.Ids, err = ParseIdSet(r.Strings()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	n := r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		e := ProofEntry{Container: r.NodeId(), LockId: r.U32(), Amount: r.Decimal()}
		if e.Ids, err = ParseIdSet(r.Strings()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		p.Entries = append(p.Entries, e)
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	return p, nil
}

// ManagerInfo is the fixed description of a resource.
type ManagerInfo struct {
	Kind         Kind
	Divisibility uint8
}

// Encode serializes the info.
func (m ManagerInfo) Encode() []byte {
	return codec.NewWriter(2).U8(uint8(m.Kind)).U8(m.Divisibility).Bytes()
}

// DecodeManagerInfo parses the output of Encode.
func DecodeManagerInfo(b []byte) (ManagerInfo, error) {
	r := codec.NewReader(b)
	m := ManagerInfo{Kind: Kind(r.U8()), Divisibility: r.U8()}
	if err := r.Done(); err != nil {
		return ManagerInfo{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return m, nil
}

// NewBalance returns an empty balance of the described resource.
func (m ManagerInfo) NewBalance(resource ids.NodeId) *LockableResource {
	if m.Kind == NonFungible {
		return NewNonFungible(resource)
	}
	return NewFungible(resource, m.Divisibility)
}
