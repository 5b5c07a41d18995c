package authzone

import (
	"context"
	"errors"
	"testing"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

var adminBadge = resource.BytesId([]byte("admin"))

// harness runs transactions with the auth zone module installed.
type harness struct {
	db  *store.DurableStore
	reg *kernel.Registry
	seq byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := store.NewDurableStore(db, 64)
	if err != nil {
		t.Fatalf("open durable store: %v", err)
	}

	reg := kernel.NewRegistry()
	Register(reg)
	reg.Package("test", "Test", "Comp")

	// Comp::outer forwards to Comp::inner, which checks the rule in args.
	reg.Register("Comp", "outer", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Method(api.Actor().Receiver, "Comp", "inner"), &substate.Value{Data: args.Data})
	})
	reg.Register("Comp", "inner", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		rule, err := DecodeRule(args.Data)
		if err != nil {
			return nil, err
		}
		return nil, CheckAuth(api, rule)
	})

	return &harness{db: d, reg: reg}
}

// run executes fn as a transaction signed with the admin badge.
func (h *harness) run(t *testing.T, refs []ids.NodeId, fn kernel.NativeFunc) error {
	t.Helper()

	h.seq++
	h.reg.Register("Test", "run", fn)

	track := store.NewTrack(h.db)
	module := NewModule(resource.NewIdSet(adminBadge))
	k := kernel.New(context.Background(), store.NewHeap(), track, h.reg, ids.NewAllocator([32]byte{h.seq}), kernel.Config{}, module)

	if _, err := k.Run(kernel.Function("Test", "run"), &substate.Value{Refs: refs}); err != nil {
		return err
	}

	diff, err := track.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := h.db.Commit(diff, track.BaseVersion()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	return nil
}

func (h *harness) must(t *testing.T, refs []ids.NodeId, fn kernel.NativeFunc) {
	t.Helper()

	if err := h.run(t, refs, fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// newComponent commits an empty global component, optionally owning a
// vault funded with supply of a new resource.
func newComponent(t *testing.T, h *harness, supply string) (comp, res, vault ids.NodeId) {
	t.Helper()

	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		v := &substate.Value{}

		if supply != "" {
			r, bucket, err := resource.CreateResource(api, &resource.CreateParams{
				Kind:         resource.Fungible,
				Divisibility: 18,
				Supply:       decimal.MustParse(supply),
				MintRule:     AllowAll().Encode(),
				BurnRule:     AllowAll().Encode(),
			})
			if err != nil {
				return nil, err
			}
			vlt, err := resource.NewVault(api, r)
			if err != nil {
				return nil, err
			}
			if err := resource.Put(api, vlt, bucket); err != nil {
				return nil, err
			}
			v.Owns = []ids.NodeId{vlt}
			res, vault = r, vlt
		}

		id, err := api.AllocateNodeId(ids.EntityGlobalComponent)
		if err != nil {
			return nil, err
		}
		subs := substate.NodeSubstates{}
		subs.Set(substate.ModuleMain, substate.FieldKey(0), v)
		if err := api.CreateNode(id, "Comp", subs); err != nil {
			return nil, err
		}
		comp = id
		return nil, api.Globalize(id)
	})

	return comp, res, vault
}

// TestBarrierLimitsEvidence checks evidence crosses one barrier but not two.
func TestBarrierLimitsEvidence(t *testing.T) {
	h := newHarness(t)
	comp, _, _ := newComponent(t, h, "")

	rule := RequireNonFungible(ids.SignerBadgeResource, adminBadge).Encode()

	// One barrier between the check and the signed root: allowed.
	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Method(comp, "Comp", "inner"), &substate.Value{Data: rule})
	})

	// Two barriers: the root badge is out of reach.
	err := h.run(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Method(comp, "Comp", "outer"), &substate.Value{Data: rule})
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("two barriers error = %v, want ErrUnauthorized", err)
	}
}

// TestBarrierWithLocalProof checks a proof pushed below both barriers is
// still usable by the innermost frame.
func TestBarrierWithLocalProof(t *testing.T) {
	h := newHarness(t)
	comp, res, vault := newComponent(t, h, "10")

	h.reg.Register("Comp", "prove_then_check", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		fh, err := api.OpenSubstate(comp, substate.ModuleMain, substate.FieldKey(0), 0)
		if err != nil {
			return nil, err
		}
		defer api.CloseSubstate(fh)

		proof, err := resource.CreateProofByAmount(api, vault, decimal.New(3))
		if err != nil {
			return nil, err
		}
		if err := Push(api, proof); err != nil {
			return nil, err
		}
		return nil, CheckAuth(api, RequireAmount(res, decimal.New(3)))
	})
	h.reg.Register("Comp", "outer_prove", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Method(api.Actor().Receiver, "Comp", "prove_then_check"), nil)
	})

	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Method(comp, "Comp", "outer_prove"), nil)
	})

	// The proof left in the zone was dropped when its frame exited.
	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		fh, err := api.OpenSubstate(comp, substate.ModuleMain, substate.FieldKey(0), 0)
		if err != nil {
			return nil, err
		}
		defer api.CloseSubstate(fh)

		proof, err := resource.CreateProofOfAll(api, vault)
		if err != nil {
			return nil, err
		}
		a, err := resource.ProofAmount(api, proof)
		if err == nil && !a.Eq(decimal.New(10)) {
			t.Errorf("proof of all = %s, want 10 after release", a)
		}
		return nil, resource.DropProof(api, proof)
	})
}

// newBucket creates a fresh resource and returns it with its supply bucket.
func newBucket(api kernel.API, supply uint64) (ids.NodeId, ids.NodeId, error) {
	return resource.CreateResource(api, &resource.CreateParams{
		Kind:     resource.Fungible,
		Supply:   decimal.New(supply),
		BurnRule: AllowAll().Encode(),
	})
}

func TestZoneStackOperations(t *testing.T) {
	h := newHarness(t)

	err := h.run(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		_, err := Pop(api)
		return nil, err
	})
	if !errors.Is(err, ErrEmptyAuthZone) {
		t.Fatalf("pop empty error = %v, want ErrEmptyAuthZone", err)
	}

	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		res, bucket, err := newBucket(api, 10)
		if err != nil {
			return nil, err
		}

		p1, err := resource.CreateProofByAmount(api, bucket, decimal.New(4))
		if err != nil {
			return nil, err
		}
		p2, err := resource.CreateProofByAmount(api, bucket, decimal.New(5))
		if err != nil {
			return nil, err
		}
		for _, p := range []ids.NodeId{p1, p2} {
			if err := Push(api, p); err != nil {
				return nil, err
			}
		}

		if top, err := Pop(api); err != nil || top != p2 {
			t.Errorf("Pop = %v (%v), want last pushed", top, err)
		}
		if err := Push(api, p2); err != nil {
			return nil, err
		}

		// Composition consumes p1 then p2 in push order.
		composed, err := CreateProofByAmount(api, res, decimal.New(7))
		if err != nil {
			return nil, err
		}
		if a, _ := resource.ProofAmount(api, composed); !a.Eq(decimal.New(7)) {
			t.Errorf("composed amount = %s, want 7", a)
		}

		all, err := CreateProofOfAll(api, res)
		if err != nil {
			return nil, err
		}
		if a, _ := resource.ProofAmount(api, all); !a.Eq(decimal.New(9)) {
			t.Errorf("proof of all = %s, want 9", a)
		}

		drained, err := Drain(api)
		if err != nil || len(drained) != 2 || drained[0] != p1 {
			t.Errorf("Drain = %v (%v)", drained, err)
		}
		for _, p := range []ids.NodeId{composed, all} {
			if err := Push(api, p); err != nil {
				return nil, err
			}
		}
		for _, p := range drained {
			if err := resource.DropProof(api, p); err != nil {
				return nil, err
			}
		}
		if err := Clear(api); err != nil {
			return nil, err
		}
		if left, _ := Proofs(api); len(left) != 0 {
			t.Errorf("zone after Clear = %v", left)
		}

		return nil, resource.Burn(api, res, bucket)
	})

	err = h.run(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		res, bucket, err := newBucket(api, 10)
		if err != nil {
			return nil, err
		}
		p, err := resource.CreateProofByAmount(api, bucket, decimal.New(4))
		if err != nil {
			return nil, err
		}
		if err := Push(api, p); err != nil {
			return nil, err
		}
		_, err = CreateProofByAmount(api, res, decimal.New(10))
		return nil, err
	})
	if !errors.Is(err, resource.ErrInsufficientBaseProofs) {
		t.Errorf("over-compose error = %v, want ErrInsufficientBaseProofs", err)
	}
}

// TestForeignZoneUntouchable checks a callee handed its caller's zone can
// neither call into it nor write it.
func TestForeignZoneUntouchable(t *testing.T) {
	h := newHarness(t)

	h.reg.Register("Thief", "steal", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		zone := args.Refs[0]
		if _, err := api.OpenSubstate(zone, substate.ModuleMain, zoneField, substate.Mutable); !errors.Is(err, kernel.ErrAccessDenied) {
			t.Errorf("write lock on foreign zone error = %v, want ErrAccessDenied", err)
		}
		return api.Invoke(kernel.Method(zone, Blueprint, "pop"), nil)
	})

	err := h.run(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		_, bucket, err := newBucket(api, 10)
		if err != nil {
			return nil, err
		}
		p, err := resource.CreateProofByAmount(api, bucket, decimal.New(4))
		if err != nil {
			return nil, err
		}
		if err := Push(api, p); err != nil {
			return nil, err
		}
		return api.Invoke(kernel.Function("Thief", "steal"), &substate.Value{Refs: []ids.NodeId{api.AuthZone()}})
	})
	if !errors.Is(err, kernel.ErrNodeNotVisible) {
		t.Fatalf("foreign pop error = %v, want ErrNodeNotVisible", err)
	}
}

func TestVirtualSignerProof(t *testing.T) {
	h := newHarness(t)

	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		proof, err := CreateProofByIds(api, ids.SignerBadgeResource, resource.NewIdSet(adminBadge))
		if err != nil {
			return nil, err
		}
		state, err := resource.ReadProof(api, proof)
		if err != nil {
			return nil, err
		}
		if !state.Virtual || !state.Ids.Contains(adminBadge) {
			t.Errorf("signer proof = %+v", state)
		}

		return nil, resource.DropProof(api, proof)
	})

	other := resource.BytesId([]byte("someone-else"))
	err := h.run(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		_, err := CreateProofByIds(api, ids.SignerBadgeResource, resource.NewIdSet(other))
		return nil, err
	})
	if !errors.Is(err, resource.ErrInsufficientBaseProofs) {
		t.Errorf("unsigned badge error = %v, want ErrInsufficientBaseProofs", err)
	}
}

func TestRuleEvaluation(t *testing.T) {
	token := ids.WellKnown(ids.EntityGlobalFungibleResource, "t")
	badge := ids.WellKnown(ids.EntityGlobalNonFungibleResource, "b")

	ev := newEvidence()
	ev.addAmount(token, decimal.New(5), resource.IdSet{})
	ev.addAmount(badge, decimal.New(1), resource.NewIdSet(resource.IntegerId(1)))

	cases := []struct {
		rule AccessRule
		want bool
	}{
		{AllowAll(), true},
		{DenyAll(), false},
		{Require(token), true},
		{RequireAmount(token, decimal.New(5)), true},
		{RequireAmount(token, decimal.New(6)), false},
		{RequireNonFungible(badge, resource.IntegerId(1)), true},
		{RequireNonFungible(badge, resource.IntegerId(2)), false},
		{AllOf(Require(token), Require(badge)), true},
		{AllOf(Require(token), DenyAll()), false},
		{AnyOf(DenyAll(), RequireAmount(token, decimal.New(1))), true},
		{AnyOf(), false},
	}

	for _, c := range cases {
		if got := ev.Satisfies(c.rule); got != c.want {
			t.Errorf("%s = %v, want %v", c.rule, got, c.want)
		}

		decoded, err := DecodeRule(c.rule.Encode())
		if err != nil {
			t.Fatalf("DecodeRule(%s): %v", c.rule, err)
		}
		if decoded.String() != c.rule.String() {
			t.Errorf("decoded %s, want %s", decoded, c.rule)
		}
	}

	if r, err := DecodeRule(nil); err != nil || r.Op != OpDeny {
		t.Errorf("empty rule = %s (%v), want deny_all", r, err)
	}
	if _, err := DecodeRule([]byte{99}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("bad op error = %v, want ErrInvalidRule", err)
	}
}
