// Package processor implements the native transaction processor. A
// transaction whose entry is TransactionProcessor::run carries a manifest:
// calls whose returned buckets collect on a worktop and whose returned
// proofs land in the auth zone, plus instructions moving both between
// calls under handles.
package processor

import (
	"fmt"
	"maps"
	"slices"

	"OwnLedger/internal/authzone"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

const (
	// Package groups the processor with the worktop it owns.
	Package = "processor"

	// Blueprint runs manifests.
	Blueprint = "TransactionProcessor"

	// WorktopBlueprint serves worktop nodes.
	WorktopBlueprint = "Worktop"
)

// Register installs the TransactionProcessor and Worktop blueprints.
func Register(reg *kernel.Registry) {
	reg.Package(Package, Blueprint, WorktopBlueprint)

	reg.Register(Blueprint, "run", run)

	reg.Register(WorktopBlueprint, "put", worktopPut)
	reg.Register(WorktopBlueprint, "take", worktopTake)
	reg.Register(WorktopBlueprint, "take_ids", worktopTakeIds)
	reg.Register(WorktopBlueprint, "take_all", worktopTakeAll)
	reg.Register(WorktopBlueprint, "drain", worktopDrain)
	reg.Register(WorktopBlueprint, "assert_contains", worktopAssertContains)
	reg.Register(WorktopBlueprint, "drop", worktopDrop)
}

// Entry is the transaction entry point running a manifest.
func Entry() kernel.Actor {
	return kernel.Function(Blueprint, "run")
}

// processor is the state of one manifest run.
type processor struct {
	api        kernel.API
	worktop    ids.NodeId
	buckets    map[uint32]ids.NodeId
	proofs     map[uint32]ids.NodeId
	nextBucket uint32
	nextProof  uint32
}

// run executes the manifest in args.Data. The output holds one encoded
// result per instruction.
func run(api kernel.API, args *substate.Value) (*substate.Value, error) {
	m, err := DecodeManifest(args.Data)
	if err != nil {
		return nil, err
	}

	worktop, err := newWorktop(api)
	if err != nil {
		return nil, err
	}

	p := &processor{
		api:     api,
		worktop: worktop,
		buckets: make(map[uint32]ids.NodeId),
		proofs:  make(map[uint32]ids.NodeId),
	}

	w := codec.NewWriter(64).U32(uint32(len(m)))
	for i, in := range m {
		out, err := p.execute(in)
		if err != nil {
			return nil, fmt.Errorf("instruction %d %v:\n%w", i, in.Op, err)
		}
		w.Vec(out)
	}

	if err := p.finish(); err != nil {
		return nil, err
	}

	logger.Debug("manifest executed", "instructions", len(m), "buckets", p.nextBucket, "proofs", p.nextProof)

	return &substate.Value{Data: w.Bytes()}, nil
}

// DecodeOutputs splits the output of a manifest run into the results of
// each instruction.
func DecodeOutputs(b []byte) ([][]byte, error) {
	r := codec.NewReader(b)

	n := readCount(r)
	if n < 0 {
		return nil, fmt.Errorf("%w: too many outputs", ErrInvalidManifest)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.Vec())
	}

	return out, r.Done()
}

// handle encodes a new handle as an instruction result.
func handle(h uint32) []byte {
	return codec.NewWriter(4).U32(h).Bytes()
}

func (p *processor) execute(in Instruction) ([]byte, error) {
	switch in.Op {
	case OpCallFunction, OpCallMethod:
		return p.call(in)

	case OpCallMethodWithAllResources:
		buckets, err := drainOwned(callWorktop(p.api, p.worktop, "drain", nil))
		if err != nil || len(buckets) == 0 {
			return nil, err
		}
		out, err := p.api.Invoke(kernel.Method(in.Receiver, in.Blueprint, in.Function), &substate.Value{Data: in.Data, Owns: buckets})
		if err != nil {
			return nil, err
		}
		return out.Data, p.absorb(out.Owns)

	case OpTakeFromWorktop:
		return p.newBucket(callWorktop(p.api, p.worktop, "take", targetArgs(in.Resource, &in.Amount)))

	case OpTakeAllFromWorktop:
		return p.newBucket(callWorktop(p.api, p.worktop, "take_all", targetArgs(in.Resource, nil)))

	case OpTakeFromWorktopByIds:
		args := &substate.Value{
			Data: codec.NewWriter(64).NodeId(in.Resource).Strings(in.Ids).Bytes(),
			Refs: []ids.NodeId{in.Resource},
		}
		return p.newBucket(callWorktop(p.api, p.worktop, "take_ids", args))

	case OpReturnToWorktop:
		bucket, err := p.takeBucket(in.Handle)
		if err != nil {
			return nil, err
		}
		return nil, p.toWorktop(bucket)

	case OpAssertWorktopContains:
		_, err := callWorktop(p.api, p.worktop, "assert_contains", targetArgs(in.Resource, &in.Amount))
		return nil, err

	case OpPopFromAuthZone:
		proof, err := authzone.Pop(p.api)
		return p.newProof(proof, err)

	case OpPushToAuthZone:
		proof, err := p.takeProof(in.Handle)
		if err != nil {
			return nil, err
		}
		return nil, authzone.Push(p.api, proof)

	case OpClearAuthZone:
		return nil, authzone.Clear(p.api)

	case OpCreateProofFromAuthZone:
		return p.newProof(authzone.CreateProofByAmount(p.api, in.Resource, in.Amount))

	case OpCreateProofFromAuthZoneByIds:
		set, err := resource.ParseIdSet(in.Ids)
		if err != nil {
			return nil, err
		}
		return p.newProof(authzone.CreateProofByIds(p.api, in.Resource, set))

	case OpCreateProofFromAuthZoneOfAll:
		return p.newProof(authzone.CreateProofOfAll(p.api, in.Resource))

	case OpCreateProofFromBucket:
		bucket, ok := p.buckets[in.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBucket, in.Handle)
		}
		return p.newProof(resource.CreateProofOfAll(p.api, bucket))

	case OpCloneProof:
		proof, ok := p.proofs[in.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownProof, in.Handle)
		}
		return p.newProof(resource.CloneProof(p.api, proof))

	case OpDropProof:
		proof, err := p.takeProof(in.Handle)
		if err != nil {
			return nil, err
		}
		return nil, resource.DropProof(p.api, proof)

	case OpDropAllProofs:
		if err := p.dropProofs(); err != nil {
			return nil, err
		}
		return nil, authzone.Clear(p.api)
	}

	return nil, fmt.Errorf("%w: unknown op %d", ErrInvalidManifest, in.Op)
}

// call runs a function or method call, moving the named buckets and
// proofs in and absorbing what comes back.
func (p *processor) call(in Instruction) ([]byte, error) {
	args := &substate.Value{Data: in.Data, Refs: in.Refs}

	for _, h := range in.Buckets {
		bucket, err := p.takeBucket(h)
		if err != nil {
			return nil, err
		}
		args.Owns = append(args.Owns, bucket)
	}
	for _, h := range in.Proofs {
		proof, err := p.takeProof(h)
		if err != nil {
			return nil, err
		}
		args.Owns = append(args.Owns, proof)
	}

	actor := kernel.Function(in.Blueprint, in.Function)
	if in.Op == OpCallMethod {
		actor = kernel.Method(in.Receiver, in.Blueprint, in.Function)
	}

	out, err := p.api.Invoke(actor, args)
	if err != nil {
		return nil, err
	}

	return out.Data, p.absorb(out.Owns)
}

// absorb puts returned buckets on the worktop and returned proofs in the
// auth zone.
func (p *processor) absorb(owns []ids.NodeId) error {
	for _, id := range owns {
		switch id.EntityType() {
		case ids.EntityTransientBucket:
			if err := p.toWorktop(id); err != nil {
				return err
			}
		case ids.EntityTransientProof:
			if err := authzone.Push(p.api, id); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %v", ErrUnexpectedNode, id)
		}
	}
	return nil
}

func (p *processor) toWorktop(bucket ids.NodeId) error {
	_, err := callWorktop(p.api, p.worktop, "put", &substate.Value{Owns: []ids.NodeId{bucket}})
	return err
}

// newBucket names the single bucket returned by a worktop call.
func (p *processor) newBucket(out *substate.Value, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if len(out.Owns) != 1 {
		return nil, fmt.Errorf("%w: expected one bucket, got %d", resource.ErrInvalidArgs, len(out.Owns))
	}

	h := p.nextBucket
	p.nextBucket++
	p.buckets[h] = out.Owns[0]

	return handle(h), nil
}

// newProof names a proof.
func (p *processor) newProof(proof ids.NodeId, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	h := p.nextProof
	p.nextProof++
	p.proofs[h] = proof

	return handle(h), nil
}

func (p *processor) takeBucket(h uint32) (ids.NodeId, error) {
	bucket, ok := p.buckets[h]
	if !ok {
		return ids.NodeId{}, fmt.Errorf("%w: %d", ErrUnknownBucket, h)
	}
	delete(p.buckets, h)
	return bucket, nil
}

func (p *processor) takeProof(h uint32) (ids.NodeId, error) {
	proof, ok := p.proofs[h]
	if !ok {
		return ids.NodeId{}, fmt.Errorf("%w: %d", ErrUnknownProof, h)
	}
	delete(p.proofs, h)
	return proof, nil
}

// dropProofs drops the named proofs in handle order.
func (p *processor) dropProofs() error {
	for _, h := range slices.Sorted(maps.Keys(p.proofs)) {
		if err := resource.DropProof(p.api, p.proofs[h]); err != nil {
			return err
		}
		delete(p.proofs, h)
	}
	return nil
}

// finish drops named proofs, returns named buckets to the worktop and
// drops it. Resources still on the worktop fail the transaction.
func (p *processor) finish() error {
	if err := p.dropProofs(); err != nil {
		return err
	}

	for _, h := range slices.Sorted(maps.Keys(p.buckets)) {
		if err := p.toWorktop(p.buckets[h]); err != nil {
			return err
		}
		delete(p.buckets, h)
	}

	_, err := p.api.Invoke(kernel.Function(WorktopBlueprint, "drop"), &substate.Value{Owns: []ids.NodeId{p.worktop}})
	return err
}

// drainOwned returns the buckets handed back by a drain.
func drainOwned(out *substate.Value, err error) ([]ids.NodeId, error) {
	if err != nil {
		return nil, err
	}
	return out.Owns, nil
}

// Amount is a helper for manifests built in code.
func Amount(s string) decimal.Decimal {
	return decimal.MustParse(s)
}
