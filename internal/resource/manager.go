package resource

import (
	"errors"
	"fmt"
	"sort"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

const managerBlueprint = "ResourceManager"

// Role names stored in the role assignment module of a resource manager.
const (
	RoleMint = "mint"
	RoleBurn = "burn"
)

// Authorizer evaluates an encoded access rule for the current frame.
type Authorizer interface {
	Authorize(api kernel.API, rule []byte) error
}

// NonFungibleEntry is a non-fungible id with its data.
type NonFungibleEntry struct {
	Id   LocalId
	Data []byte
}

// CreateParams describes a new resource.
type CreateParams struct {
	Kind         Kind
	Divisibility uint8
	Address      ids.NodeId         // Address is a reserved id; zero allocates one
	Supply       decimal.Decimal    // Supply is the initial fungible supply
	Entries      []NonFungibleEntry // Entries is the initial non-fungible supply
	MintRule     []byte             // MintRule is an encoded access rule
	BurnRule     []byte             // BurnRule is an encoded access rule
	Metadata     map[string]string
}

// Encode serializes the parameters as call arguments.
func (p *CreateParams) Encode() []byte {
	w := codec.NewWriter(128).
		U8(uint8(p.Kind)).
		U8(p.Divisibility).
		NodeId(p.Address).
		Decimal(p.Supply)

	encodeEntries(w, p.Entries)
	w.Vec(p.MintRule).Vec(p.BurnRule)

	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.U32(uint32(len(keys)))
	for _, k := range keys {
		w.String(k).String(p.Metadata[k])
	}

	return w.Bytes()
}

// DecodeCreateParams parses the output of Encode.
func DecodeCreateParams(b []byte) (*CreateParams, error) {
	r := codec.NewReader(b)

	p := &CreateParams{
		Kind:         Kind(r.U8()),
		Divisibility: r.U8(),
		Address:      r.NodeId(),
		Supply:       r.Decimal(),
	}

	entries, err := decodeEntries(r)
	if err != nil {
		return nil, err
	}
	p.Entries = entries
	p.MintRule = r.Vec()
	p.BurnRule = r.Vec()

	n := r.U32()
	p.Metadata = make(map[string]string, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		k := r.String()
		p.Metadata[k] = r.String()
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	return p, nil
}

func encodeEntries(w *codec.Writer, entries []NonFungibleEntry) {
	w.U32(uint32(len(entries)))
	for _, e := range entries {
		w.String(e.Id.String()).Vec(e.Data)
	}
}

func decodeEntries(r *codec.Reader) ([]NonFungibleEntry, error) {
	n := r.U32()

	var out []NonFungibleEntry
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		id, err := ParseLocalId(r.String())
		if err != nil {
			return nil, err
		}
		out = append(out, NonFungibleEntry{Id: id, Data: r.Vec()})
	}

	return out, r.Err()
}

// EncodeMintArgs encodes the arguments of ResourceManager::mint.
func EncodeMintArgs(amount decimal.Decimal, entries []NonFungibleEntry) []byte {
	w := codec.NewWriter(64).Decimal(amount)
	encodeEntries(w, entries)
	return w.Bytes()
}

// manager serves the ResourceManager blueprint.
type manager struct {
	auth Authorizer
}

// create creates and globalizes a resource manager, returning the initial
// supply in a bucket when there is any.
func (m *manager) create(api kernel.API, args *substate.Value) (*substate.Value, error) {
	p, err := DecodeCreateParams(args.Data)
	if err != nil {
		return nil, err
	}

	t := ids.EntityGlobalFungibleResource
	switch p.Kind {
	case Fungible:
		if p.Divisibility > decimal.Scale {
			return nil, fmt.Errorf("%w: divisibility %d", ErrInvalidArgs, p.Divisibility)
		}
		if len(p.Entries) > 0 {
			return nil, fmt.Errorf("%w: fungible resource with ids", ErrKindMismatch)
		}
	case NonFungible:
		t = ids.EntityGlobalNonFungibleResource
		p.Divisibility = 0
		if !p.Supply.IsZero() {
			return nil, fmt.Errorf("%w: non-fungible resource with amount", ErrKindMismatch)
		}
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidArgs, p.Kind)
	}

	address := p.Address
	if address.IsZero() {
		if address, err = api.AllocateNodeId(t); err != nil {
			return nil, err
		}
	} else if address.EntityType() != t {
		return nil, fmt.Errorf("%w: %v for %v resource", kernel.ErrWrongEntityType, address, p.Kind)
	}

	info := ManagerInfo{Kind: p.Kind, Divisibility: p.Divisibility}
	balance := info.NewBalance(address)

	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, stateField, &substate.Value{Data: info.Encode()})
	subs.Set(substate.ModuleRoleAssignment, substate.MapKey([]byte(RoleMint)), &substate.Value{Data: p.MintRule})
	subs.Set(substate.ModuleRoleAssignment, substate.MapKey([]byte(RoleBurn)), &substate.Value{Data: p.BurnRule})
	for k, v := range p.Metadata {
		subs.Set(substate.ModuleMetadata, substate.MapKey([]byte(k)), &substate.Value{Data: []byte(v)})
	}

	if p.Kind == NonFungible {
		for _, e := range p.Entries {
			if !balance.ids.Add(e.Id) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateId, e.Id)
			}
			subs.Set(substate.ModuleMain, substate.MapKey([]byte(e.Id.String())), &substate.Value{Data: e.Data})
		}
	} else {
		if !p.Supply.CheckDivisibility(p.Divisibility) {
			return nil, fmt.Errorf("%w: %s exceeds divisibility %d", ErrInvalidAmount, p.Supply, p.Divisibility)
		}
		balance.amount = p.Supply
	}
	subs.Set(substate.ModuleMain, supplyField, &substate.Value{Data: codec.NewWriter(32).Decimal(balance.Total()).Bytes()})

	if err := api.CreateNode(address, managerBlueprint, subs); err != nil {
		return nil, err
	}
	if err := api.Globalize(address); err != nil {
		return nil, err
	}

	logger.Debug("resource created", "address", address, "kind", p.Kind.String(), "supply", balance.Total().String())

	out := &substate.Value{Refs: []ids.NodeId{address}}
	if balance.IsEmpty() {
		return out, nil
	}

	bucket, err := newContainer(api, ids.EntityTransientBucket, balance)
	if err != nil {
		return nil, err
	}
	out.Owns = []ids.NodeId{bucket}

	return out, nil
}

// authorize checks a role of the receiver against the caller's proofs.
func (m *manager) authorize(api kernel.API, resource ids.NodeId, role string) error {
	h, err := api.OpenSubstate(resource, substate.ModuleRoleAssignment, substate.MapKey([]byte(role)), 0)
	if err != nil {
		return err
	}
	v, err := api.ReadSubstate(h)
	_ = api.CloseSubstate(h)
	if err != nil {
		return err
	}

	if err := m.auth.Authorize(api, v.Data); err != nil {
		return fmt.Errorf("%s %v:\n%w", role, resource, err)
	}

	return nil
}

// adjustSupply adds delta to, or subtracts it from, the total supply.
func adjustSupply(api kernel.API, resource ids.NodeId, delta decimal.Decimal, burn bool) error {
	h, err := api.OpenSubstate(resource, substate.ModuleMain, supplyField, substate.Mutable)
	if err != nil {
		return err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}

	supply := codec.NewReader(v.Data).Decimal()
	if burn {
		supply, err = supply.Sub(delta)
	} else {
		supply, err = supply.Add(delta)
	}
	if err != nil {
		return err
	}

	return api.WriteSubstate(h, &substate.Value{Data: codec.NewWriter(32).Decimal(supply).Bytes()})
}

// mint creates new supply of the receiver into a bucket.
func (m *manager) mint(api kernel.API, args *substate.Value) (*substate.Value, error) {
	resource := api.Actor().Receiver

	if err := m.authorize(api, resource, RoleMint); err != nil {
		return nil, err
	}

	info, err := readManagerInfo(api, resource)
	if err != nil {
		return nil, err
	}

	r := codec.NewReader(args.Data)
	amount := r.Decimal()
	entries, err := decodeEntries(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	balance := info.NewBalance(resource)

	if info.Kind == NonFungible {
		if !amount.IsZero() {
			return nil, fmt.Errorf("%w: mint amount of non-fungible resource", ErrKindMismatch)
		}
		for _, e := range entries {
			if !balance.ids.Add(e.Id) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateId, e.Id)
			}
			if err := insertData(api, resource, e); err != nil {
				return nil, err
			}
		}
	} else {
		if len(entries) > 0 {
			return nil, fmt.Errorf("%w: mint ids of fungible resource", ErrKindMismatch)
		}
		if err := balance.checkAmount(amount); err != nil {
			return nil, err
		}
		balance.amount = amount
	}

	if err := adjustSupply(api, resource, balance.Total(), false); err != nil {
		return nil, err
	}

	bucket, err := newContainer(api, ids.EntityTransientBucket, balance)
	if err != nil {
		return nil, err
	}

	logger.Debug("resource minted", "resource", resource, "amount", balance.Total().String())

	return owning(bucket), nil
}

// insertData stores the data of a new non-fungible id.
func insertData(api kernel.API, resource ids.NodeId, e NonFungibleEntry) error {
	key := substate.MapKey([]byte(e.Id.String()))

	h, err := api.OpenSubstate(resource, substate.ModuleMain, key, 0)
	if err == nil {
		_ = api.CloseSubstate(h)
		return fmt.Errorf("%w: %s already minted", ErrDuplicateId, e.Id)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return api.SetSubstate(resource, substate.ModuleMain, key, &substate.Value{Data: e.Data})
}

// burn destroys the bucket in args.Owns.
func (m *manager) burn(api kernel.API, args *substate.Value) (*substate.Value, error) {
	resource := api.Actor().Receiver

	if err := m.authorize(api, resource, RoleBurn); err != nil {
		return nil, err
	}

	bucket, err := singleOwn(args, ids.EntityTransientBucket)
	if err != nil {
		return nil, err
	}

	info, err := readManagerInfo(api, resource)
	if err != nil {
		return nil, err
	}

	burnt, err := drainBucket(api, bucket, info.NewBalance(resource))
	if err != nil {
		return nil, err
	}

	for _, id := range burnt.ids.Slice() {
		if _, err := api.RemoveSubstate(resource, substate.ModuleMain, substate.MapKey([]byte(id.String()))); err != nil {
			return nil, err
		}
	}

	if err := adjustSupply(api, resource, burnt.Total(), true); err != nil {
		return nil, err
	}

	logger.Debug("resource burnt", "resource", resource, "amount", burnt.Total().String())

	return nil, nil
}

// totalSupply returns the supply of the receiver.
func (m *manager) totalSupply(api kernel.API, args *substate.Value) (*substate.Value, error) {
	h, err := api.OpenSubstate(api.Actor().Receiver, substate.ModuleMain, supplyField, 0)
	if err != nil {
		return nil, err
	}
	defer api.CloseSubstate(h)

	return api.ReadSubstate(h)
}

// nonFungibleData returns the data of one id of the receiver.
func (m *manager) nonFungibleData(api kernel.API, args *substate.Value) (*substate.Value, error) {
	r := codec.NewReader(args.Data)
	id, err := ParseLocalId(r.String())
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	h, err := api.OpenSubstate(api.Actor().Receiver, substate.ModuleMain, substate.MapKey([]byte(id.String())), 0)
	if err != nil {
		return nil, err
	}
	defer api.CloseSubstate(h)

	return api.ReadSubstate(h)
}
