// Package authzone keeps a stack of proofs per call frame and checks
// access rules against the proofs reachable through frame barriers.
package authzone

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

// zoneField holds the whole zone: proofs as owns, the parent zone as ref.
var zoneField = substate.FieldKey(0)

// zoneState is the data part of a zone substate.
type zoneState struct {
	barrier          bool           // barrier is set for frames entered through a global method
	virtualResources []ids.NodeId   // virtualResources are provable in any amount
	virtualBadges    resource.IdSet // virtualBadges are signer badge ids provable without a container
}

func (z *zoneState) encode() []byte {
	w := codec.NewWriter(32).Bool(z.barrier).U32(uint32(len(z.virtualResources)))
	for _, id := range z.virtualResources {
		w.NodeId(id)
	}
	return w.Strings(z.virtualBadges.Strings()).Bytes()
}

func decodeZoneState(b []byte) (*zoneState, error) {
	r := codec.NewReader(b)

	z := &zoneState{barrier: r.Bool()}
	n := r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		z.virtualResources = append(z.virtualResources, r.NodeId())
	}

	badges, err := resource.ParseIdSet(r.Strings())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptZone, err)
	}
	z.virtualBadges = badges

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptZone, err)
	}

	return z, nil
}

// Blueprint serves auth zone nodes. It belongs to the resource package
// because zones own proofs.
const Blueprint = "AuthZone"

// Register installs the AuthZone blueprint and the resource blueprints,
// authorizing resource managers with Authorizer.
func Register(reg *kernel.Registry) {
	resource.Register(reg, Authorizer{})
	reg.Package(resource.Package, Blueprint)

	reg.Register(Blueprint, "push", push)
	reg.Register(Blueprint, "pop", pop)
	reg.Register(Blueprint, "drain", drain)
	reg.Register(Blueprint, "clear", clearZone)
	reg.Register(Blueprint, "create_proof_by_amount", createProofByAmount)
	reg.Register(Blueprint, "create_proof_by_ids", createProofByIds)
	reg.Register(Blueprint, "create_proof_of_all", createProofOfAll)
}

// openZone locks a zone and decodes it.
func openZone(api kernel.API, zone ids.NodeId, flags substate.LockFlags) (kernel.LockHandle, *substate.Value, *zoneState, error) {
	if zone.IsZero() {
		return 0, nil, nil, ErrNoAuthZone
	}

	h, err := api.OpenSubstate(zone, substate.ModuleMain, zoneField, flags)
	if err != nil {
		return 0, nil, nil, err
	}

	v, err := api.ReadSubstate(h)
	if err == nil {
		var z *zoneState
		if z, err = decodeZoneState(v.Data); err == nil {
			return h, v, z, nil
		}
	}

	_ = api.CloseSubstate(h)
	return 0, nil, nil, err
}

// updateZone applies fn to the proof list of a zone.
func updateZone(api kernel.API, zone ids.NodeId, fn func(proofs []ids.NodeId) ([]ids.NodeId, error)) error {
	h, v, _, err := openZone(api, zone, substate.Mutable)
	if err != nil {
		return err
	}
	defer api.CloseSubstate(h)

	owns, err := fn(v.Owns)
	if err != nil {
		return err
	}

	return api.WriteSubstate(h, &substate.Value{Data: v.Data, Owns: owns, Refs: v.Refs})
}

// drainZone moves every proof of a zone to the current frame in push order.
func drainZone(api kernel.API, zone ids.NodeId) ([]ids.NodeId, error) {
	var out []ids.NodeId

	err := updateZone(api, zone, func(proofs []ids.NodeId) ([]ids.NodeId, error) {
		out = proofs
		return nil, nil
	})

	return out, err
}

// push moves the proof in args.Owns onto the receiver zone.
func push(api kernel.API, args *substate.Value) (*substate.Value, error) {
	if len(args.Owns) != 1 || args.Owns[0].EntityType() != ids.EntityTransientProof {
		return nil, fmt.Errorf("%w: push expects one proof", resource.ErrInvalidArgs)
	}
	proof := args.Owns[0]

	return nil, updateZone(api, api.Actor().Receiver, func(proofs []ids.NodeId) ([]ids.NodeId, error) {
		return append(proofs, proof), nil
	})
}

// pop returns the last pushed proof of the receiver zone.
func pop(api kernel.API, args *substate.Value) (*substate.Value, error) {
	var out ids.NodeId

	err := updateZone(api, api.Actor().Receiver, func(proofs []ids.NodeId) ([]ids.NodeId, error) {
		if len(proofs) == 0 {
			return nil, ErrEmptyAuthZone
		}
		out = proofs[len(proofs)-1]
		return proofs[:len(proofs)-1], nil
	})
	if err != nil {
		return nil, err
	}

	return &substate.Value{Owns: []ids.NodeId{out}}, nil
}

// drain returns every proof of the receiver zone.
func drain(api kernel.API, args *substate.Value) (*substate.Value, error) {
	proofs, err := drainZone(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	return &substate.Value{Owns: proofs}, nil
}

// clearZone drops every proof of the receiver zone.
func clearZone(api kernel.API, args *substate.Value) (*substate.Value, error) {
	proofs, err := drainZone(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	for _, p := range proofs {
		if err := resource.DestroyProof(api, p); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// createProof composes a proof from the receiver zone, or fabricates a
// virtual one when virtual evidence reachable from the frame proves res.
func createProof(api kernel.API, res ids.NodeId, amount decimal.Decimal, want *resource.IdSet) (*substate.Value, error) {
	r, err := walk(api)
	if err != nil {
		return nil, err
	}

	var proof ids.NodeId
	switch _, virtual := r.virtuals[res]; {
	case virtual:
		var set resource.IdSet
		if want != nil {
			set = *want
		}
		proof, err = resource.CreateVirtualProof(api, res, amount, set)
	case res == ids.SignerBadgeResource && want != nil && want.Len() > 0 && want.IsSubset(r.badges):
		proof, err = resource.CreateVirtualProof(api, res, decimal.Zero(), *want)
	default:
		proof, err = composeFromZone(api, res, amount, want)
	}
	if err != nil {
		return nil, err
	}

	return &substate.Value{Owns: []ids.NodeId{proof}}, nil
}

// composeFromZone composes a proof out of the receiver zone's proofs.
func composeFromZone(api kernel.API, res ids.NodeId, amount decimal.Decimal, want *resource.IdSet) (ids.NodeId, error) {
	h, v, _, err := openZone(api, api.Actor().Receiver, 0)
	if err != nil {
		return ids.NodeId{}, err
	}
	defer api.CloseSubstate(h)

	return resource.Compose(api, v.Owns, res, amount, want)
}

// proofArgs decodes the resource in args.Refs and an optional payload.
func proofArgs(args *substate.Value) (ids.NodeId, *codec.Reader, error) {
	if len(args.Refs) != 1 {
		return ids.NodeId{}, nil, fmt.Errorf("%w: expected one resource", resource.ErrInvalidArgs)
	}
	return args.Refs[0], codec.NewReader(args.Data), nil
}

func createProofByAmount(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, r, err := proofArgs(args)
	if err != nil {
		return nil, err
	}

	amount := r.Decimal()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	return createProof(api, res, amount, nil)
}

func createProofByIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, r, err := proofArgs(args)
	if err != nil {
		return nil, err
	}

	list := r.Strings()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}
	set, err := resource.ParseIdSet(list)
	if err != nil {
		return nil, err
	}

	return createProof(api, res, decimal.Zero(), &set)
}

// createProofOfAll proves everything the receiver zone holds of a resource.
func createProofOfAll(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, _, err := proofArgs(args)
	if err != nil {
		return nil, err
	}

	h, v, _, err := openZone(api, api.Actor().Receiver, 0)
	if err != nil {
		return nil, err
	}

	states := make([]*resource.ProofState, 0, len(v.Owns))
	for _, p := range v.Owns {
		state, err := resource.ReadProof(api, p)
		if err != nil {
			_ = api.CloseSubstate(h)
			return nil, err
		}
		if !state.Virtual {
			states = append(states, state)
		}
	}
	_ = api.CloseSubstate(h)

	amount, set := resource.ProvableAmount(states, res)

	if kind, _ := resource.KindOf(res); kind == resource.NonFungible {
		return createProof(api, res, decimal.Zero(), &set)
	}
	return createProof(api, res, amount, nil)
}

// callZone invokes fn on the zone of the current frame.
func callZone(api kernel.API, fn string, args *substate.Value) (*substate.Value, error) {
	zone := api.AuthZone()
	if zone.IsZero() {
		return nil, ErrNoAuthZone
	}
	return api.Invoke(kernel.Method(zone, Blueprint, fn), args)
}

// oneProof extracts the single proof returned by a zone call.
func oneProof(out *substate.Value, err error) (ids.NodeId, error) {
	if err != nil {
		return ids.NodeId{}, err
	}
	if len(out.Owns) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: expected one proof, got %d", resource.ErrInvalidArgs, len(out.Owns))
	}
	return out.Owns[0], nil
}

// Push moves an owned proof onto the current zone.
func Push(api kernel.API, proof ids.NodeId) error {
	_, err := callZone(api, "push", &substate.Value{Owns: []ids.NodeId{proof}})
	return err
}

// Pop moves the last pushed proof back to the frame.
func Pop(api kernel.API) (ids.NodeId, error) {
	return oneProof(callZone(api, "pop", nil))
}

// Drain moves every proof back to the frame in push order.
func Drain(api kernel.API) ([]ids.NodeId, error) {
	out, err := callZone(api, "drain", nil)
	if err != nil {
		return nil, err
	}
	return out.Owns, nil
}

// Clear drops every proof of the zone.
func Clear(api kernel.API) error {
	_, err := callZone(api, "clear", nil)
	return err
}

// Proofs returns the proofs of the current zone in push order.
func Proofs(api kernel.API) ([]ids.NodeId, error) {
	h, v, _, err := openZone(api, api.AuthZone(), 0)
	if err != nil {
		return nil, err
	}
	_ = api.CloseSubstate(h)

	return v.Owns, nil
}

// CreateProofByAmount composes a proof of amount of res from the zone.
func CreateProofByAmount(api kernel.API, res ids.NodeId, amount decimal.Decimal) (ids.NodeId, error) {
	return oneProof(callZone(api, "create_proof_by_amount", &substate.Value{
		Data: codec.NewWriter(32).Decimal(amount).Bytes(),
		Refs: []ids.NodeId{res},
	}))
}

// CreateProofByIds composes a proof of the given ids of res from the zone.
func CreateProofByIds(api kernel.API, res ids.NodeId, set resource.IdSet) (ids.NodeId, error) {
	return oneProof(callZone(api, "create_proof_by_ids", &substate.Value{
		Data: codec.NewWriter(64).Strings(set.Strings()).Bytes(),
		Refs: []ids.NodeId{res},
	}))
}

// CreateProofOfAll composes a proof of everything the zone proves of res.
func CreateProofOfAll(api kernel.API, res ids.NodeId) (ids.NodeId, error) {
	return oneProof(callZone(api, "create_proof_of_all", &substate.Value{Refs: []ids.NodeId{res}}))
}
