package processor

import (
	"errors"
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// The worktop holds the buckets returned by calls of one manifest, one
// bucket per resource in its map collection.

// entryKey is the map key of the bucket holding res.
func entryKey(res ids.NodeId) substate.Key {
	return substate.MapKey(res[:])
}

// newWorktop creates an empty worktop owned by the current frame.
func newWorktop(api kernel.API) (ids.NodeId, error) {
	id, err := api.AllocateNodeId(ids.EntityTransientWorktop)
	if err != nil {
		return ids.NodeId{}, err
	}
	if err := api.CreateNode(id, WorktopBlueprint, nil); err != nil {
		return ids.NodeId{}, err
	}
	return id, nil
}

// withEntry runs fn with the bucket of res visible. found is false when
// the worktop holds no res.
func withEntry(api kernel.API, worktop, res ids.NodeId, fn func(bucket ids.NodeId) error) (found bool, err error) {
	h, err := api.OpenSubstate(worktop, substate.ModuleMain, entryKey(res), 0)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return true, err
	}
	if len(v.Owns) != 1 {
		return true, fmt.Errorf("%w: worktop entry owns %d buckets", resource.ErrCorruptState, len(v.Owns))
	}

	return true, fn(v.Owns[0])
}

// readTarget decodes a resource followed by an optional amount.
func readTarget(args *substate.Value, withAmount bool) (ids.NodeId, decimal.Decimal, error) {
	r := codec.NewReader(args.Data)
	res := r.NodeId()

	amount := decimal.Zero()
	if withAmount {
		amount = r.Decimal()
	}
	if err := r.Done(); err != nil {
		return ids.NodeId{}, decimal.Decimal{}, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	return res, amount, nil
}

func worktopPut(api kernel.API, args *substate.Value) (*substate.Value, error) {
	worktop := api.Actor().Receiver

	if len(args.Owns) != 1 || args.Owns[0].EntityType() != ids.EntityTransientBucket {
		return nil, fmt.Errorf("%w: put takes one bucket", resource.ErrInvalidArgs)
	}
	bucket := args.Owns[0]

	res, err := resource.ResourceOf(api, bucket)
	if err != nil {
		return nil, err
	}

	found, err := withEntry(api, worktop, res, func(held ids.NodeId) error {
		return resource.Put(api, held, bucket)
	})
	if err != nil || found {
		return nil, err
	}

	entry := &substate.Value{Owns: []ids.NodeId{bucket}, Refs: []ids.NodeId{res}}
	return nil, api.SetSubstate(worktop, substate.ModuleMain, entryKey(res), entry)
}

// takeWith runs take on the bucket of res.
func takeWith(api kernel.API, res ids.NodeId, take func(held ids.NodeId) (ids.NodeId, error)) (*substate.Value, error) {
	var out ids.NodeId
	found, err := withEntry(api, api.Actor().Receiver, res, func(held ids.NodeId) error {
		var err error
		out, err = take(held)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: worktop holds no %v", resource.ErrInsufficientFree, res)
	}

	return &substate.Value{Owns: []ids.NodeId{out}}, nil
}

func worktopTake(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, amount, err := readTarget(args, true)
	if err != nil {
		return nil, err
	}

	return takeWith(api, res, func(held ids.NodeId) (ids.NodeId, error) {
		return resource.Take(api, held, amount)
	})
}

func worktopTakeIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	r := codec.NewReader(args.Data)
	res, list := r.NodeId(), r.Strings()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	set, err := resource.ParseIdSet(list)
	if err != nil {
		return nil, err
	}

	return takeWith(api, res, func(held ids.NodeId) (ids.NodeId, error) {
		return resource.TakeIds(api, held, set)
	})
}

// worktopTakeAll removes the whole bucket of res. A missing resource
// yields an empty bucket; res must then be passed in args.Refs.
func worktopTakeAll(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, _, err := readTarget(args, false)
	if err != nil {
		return nil, err
	}

	v, err := api.RemoveSubstate(api.Actor().Receiver, substate.ModuleMain, entryKey(res))
	if errors.Is(err, store.ErrNotFound) {
		bucket, err := resource.NewBucket(api, res)
		if err != nil {
			return nil, err
		}
		return &substate.Value{Owns: []ids.NodeId{bucket}}, nil
	}
	if err != nil {
		return nil, err
	}

	return &substate.Value{Owns: v.Owns}, nil
}

// drainWorktop removes every bucket of a worktop. Empty buckets are
// dropped.
func drainWorktop(api kernel.API, worktop ids.NodeId) ([]ids.NodeId, error) {
	entries, err := api.ScanSubstates(worktop, substate.ModuleMain, 0)
	if err != nil {
		return nil, err
	}

	var out []ids.NodeId
	for _, e := range entries {
		v, err := api.RemoveSubstate(worktop, substate.ModuleMain, e.Key)
		if err != nil {
			return nil, err
		}

		for _, bucket := range v.Owns {
			amount, err := resource.Amount(api, bucket)
			if err != nil {
				return nil, err
			}
			if amount.IsZero() {
				if err := resource.DropEmptyBucket(api, bucket); err != nil {
					return nil, err
				}
				continue
			}
			out = append(out, bucket)
		}
	}

	return out, nil
}

func worktopDrain(api kernel.API, args *substate.Value) (*substate.Value, error) {
	buckets, err := drainWorktop(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}
	return &substate.Value{Owns: buckets}, nil
}

func worktopAssertContains(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, want, err := readTarget(args, true)
	if err != nil {
		return nil, err
	}

	held := decimal.Zero()
	if _, err := withEntry(api, api.Actor().Receiver, res, func(bucket ids.NodeId) error {
		held, err = resource.Amount(api, bucket)
		return err
	}); err != nil {
		return nil, err
	}

	if held.Lt(want) {
		return nil, fmt.Errorf("%w: %s of %v held, %s wanted", ErrAssertionFailed, held, res, want)
	}

	return nil, nil
}

// worktopDrop destroys the worktop in args.Owns. It fails while any
// bucket still holds resources.
func worktopDrop(api kernel.API, args *substate.Value) (*substate.Value, error) {
	if len(args.Owns) != 1 || args.Owns[0].EntityType() != ids.EntityTransientWorktop {
		return nil, fmt.Errorf("%w: drop takes one worktop", resource.ErrInvalidArgs)
	}
	worktop := args.Owns[0]

	left, err := drainWorktop(api, worktop)
	if err != nil {
		return nil, err
	}
	if len(left) > 0 {
		res, _ := resource.ResourceOf(api, left[0])
		return nil, fmt.Errorf("%w: %d buckets left, first of %v", ErrWorktopNotEmpty, len(left), res)
	}

	if _, err := api.DropNode(worktop); err != nil {
		return nil, err
	}
	return nil, nil
}

// callWorktop invokes a worktop method.
func callWorktop(api kernel.API, worktop ids.NodeId, fn string, args *substate.Value) (*substate.Value, error) {
	return api.Invoke(kernel.Method(worktop, WorktopBlueprint, fn), args)
}

// targetArgs encodes a resource and an amount, passing the resource along.
func targetArgs(res ids.NodeId, amount *decimal.Decimal) *substate.Value {
	w := codec.NewWriter(64).NodeId(res)
	if amount != nil {
		w.Decimal(*amount)
	}
	return &substate.Value{Data: w.Bytes(), Refs: []ids.NodeId{res}}
}
