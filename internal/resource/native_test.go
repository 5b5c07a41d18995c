package resource

import (
	"context"
	"errors"
	"testing"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

var errDenied = errors.New("denied by test rule")

// ruleAuth accepts the rule "allow" and rejects everything else.
type ruleAuth struct{}

func (ruleAuth) Authorize(api kernel.API, rule []byte) error {
	if string(rule) == "allow" {
		return nil
	}
	return errDenied
}

// harness runs transactions against an in-memory durable store.
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
	Register(reg, ruleAuth{})

	return &harness{db: d, reg: reg}
}

// run executes fn as a transaction with refs visible, committing on success.
func (h *harness) run(t *testing.T, refs []ids.NodeId, fn kernel.NativeFunc) error {
	t.Helper()

	h.seq++
	h.reg.Register("Test", "run", fn)

	track := store.NewTrack(h.db)
	k := kernel.New(context.Background(), store.NewHeap(), track, h.reg, ids.NewAllocator([32]byte{h.seq}), kernel.Config{})

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

// must runs fn and fails the test on error.
func (h *harness) must(t *testing.T, refs []ids.NodeId, fn kernel.NativeFunc) {
	t.Helper()

	if err := h.run(t, refs, fn); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// fundedComponent creates a fungible resource with supply and a global
// component owning a vault holding all of it.
func fundedComponent(t *testing.T, h *harness, supply string) (resource, component, vault ids.NodeId) {
	t.Helper()

	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		res, bucket, err := CreateResource(api, &CreateParams{
			Kind:         Fungible,
			Divisibility: 18,
			Supply:       decimal.MustParse(supply),
			MintRule:     []byte("allow"),
			BurnRule:     []byte("allow"),
			Metadata:     map[string]string{"symbol": "TST"},
		})
		if err != nil {
			return nil, err
		}

		v, err := NewVault(api, res)
		if err != nil {
			return nil, err
		}
		if err := Put(api, v, bucket); err != nil {
			return nil, err
		}

		comp, err := api.AllocateNodeId(ids.EntityGlobalComponent)
		if err != nil {
			return nil, err
		}
		subs := substate.NodeSubstates{}
		subs.Set(substate.ModuleMain, substate.FieldKey(0), &substate.Value{Owns: []ids.NodeId{v}})
		if err := api.CreateNode(comp, "Test", subs); err != nil {
			return nil, err
		}
		if err := api.Globalize(comp); err != nil {
			return nil, err
		}

		resource, component, vault = res, comp, v
		return nil, nil
	})

	return resource, component, vault
}

// withVault opens the component field so its vault becomes visible.
func withVault(api kernel.API, component ids.NodeId, fn func() error) error {
	h, err := api.OpenSubstate(component, substate.ModuleMain, substate.FieldKey(0), 0)
	if err != nil {
		return err
	}
	defer api.CloseSubstate(h)

	return fn()
}

// TestVaultLockCapacity checks the capacity rule through the native
// blueprints: with 40 of 100 pinned by a proof, taking 70 fails and taking
// 50 leaves 50 held and 10 free.
func TestVaultLockCapacity(t *testing.T) {
	h := newHarness(t)
	_, comp, vault := fundedComponent(t, h, "100")

	err := h.run(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			if _, err := CreateProofByAmount(api, vault, decimal.New(40)); err != nil {
				return err
			}
			_, err := Take(api, vault, decimal.New(70))
			return err
		})
	})
	if !errors.Is(err, ErrInsufficientFree) {
		t.Fatalf("take 70 error = %v, want ErrInsufficientFree", err)
	}

	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			proof, err := CreateProofByAmount(api, vault, decimal.New(40))
			if err != nil {
				return err
			}
			bucket, err := Take(api, vault, decimal.New(50))
			if err != nil {
				return err
			}

			l, err := readBalance(api, vault)
			if err != nil {
				return err
			}
			if !l.Total().Eq(decimal.New(50)) || !l.Free().Eq(decimal.New(10)) {
				t.Errorf("total %s free %s, want 50 and 10", l.Total(), l.Free())
			}

			if err := DropProof(api, proof); err != nil {
				return err
			}
			return Put(api, vault, bucket)
		})
	})

	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			l, err := readBalance(api, vault)
			if err != nil {
				return err
			}
			if !l.Total().Eq(decimal.New(100)) || l.IsLocked() {
				t.Errorf("committed total %s locked %v, want 100 unlocked", l.Total(), l.IsLocked())
			}
			return nil
		})
	})
}

// TestConservation moves value between buckets, proofs and the vault and
// checks the sum never changes.
func TestConservation(t *testing.T) {
	h := newHarness(t)
	_, comp, vault := fundedComponent(t, h, "100")

	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			sum := func(containers ...ids.NodeId) decimal.Decimal {
				total := decimal.Zero()
				for _, c := range containers {
					a, err := Amount(api, c)
					if err != nil {
						t.Fatalf("Amount(%v): %v", c, err)
					}
					total, _ = total.Add(a)
				}
				return total
			}

			b1, err := Take(api, vault, decimal.MustParse("30.5"))
			if err != nil {
				return err
			}
			b2, err := Take(api, vault, decimal.New(20))
			if err != nil {
				return err
			}
			if got := sum(vault, b1, b2); !got.Eq(decimal.New(100)) {
				t.Errorf("after takes sum = %s", got)
			}

			proof, err := CreateProofOfAll(api, b1)
			if err != nil {
				return err
			}
			clone, err := CloneProof(api, proof)
			if err != nil {
				return err
			}
			if a, err := ProofAmount(api, clone); err != nil || !a.Eq(decimal.MustParse("30.5")) {
				t.Errorf("clone amount = %s (%v), want 30.5", a, err)
			}
			if got := sum(vault, b1, b2); !got.Eq(decimal.New(100)) {
				t.Errorf("with proofs sum = %s", got)
			}

			for _, p := range []ids.NodeId{proof, clone} {
				if err := DropProof(api, p); err != nil {
					return err
				}
			}
			if err := Put(api, b2, b1); err != nil {
				return err
			}
			if got := sum(vault, b2); !got.Eq(decimal.New(100)) {
				t.Errorf("after merge sum = %s", got)
			}
			return Put(api, vault, b2)
		})
	})
}

// TestPutLockedBucket checks a bucket backing a proof cannot be moved.
func TestPutLockedBucket(t *testing.T) {
	h := newHarness(t)
	_, comp, vault := fundedComponent(t, h, "10")

	err := h.run(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			bucket, err := Take(api, vault, decimal.New(3))
			if err != nil {
				return err
			}
			if _, err := CreateProofOfAll(api, bucket); err != nil {
				return err
			}
			return Put(api, vault, bucket)
		})
	})
	if !errors.Is(err, ErrContainerLocked) {
		t.Fatalf("put locked bucket error = %v, want ErrContainerLocked", err)
	}
}

// TestProofReleaseOnDrop checks clones share locks and the last drop
// frees the container.
func TestProofReleaseOnDrop(t *testing.T) {
	h := newHarness(t)
	_, comp, vault := fundedComponent(t, h, "10")

	h.must(t, []ids.NodeId{comp}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return nil, withVault(api, comp, func() error {
			proof, err := CreateProofByAmount(api, vault, decimal.New(4))
			if err != nil {
				return err
			}
			clone, err := CloneProof(api, proof)
			if err != nil {
				return err
			}

			if err := DropProof(api, proof); err != nil {
				return err
			}
			l, err := readBalance(api, vault)
			if err != nil {
				return err
			}
			if !l.Free().Eq(decimal.New(6)) {
				t.Errorf("free with clone alive = %s, want 6", l.Free())
			}

			if err := DropProof(api, clone); err != nil {
				return err
			}
			if l, err = readBalance(api, vault); err != nil {
				return err
			}
			if !l.Free().Eq(decimal.New(10)) {
				t.Errorf("free after drops = %s, want 10", l.Free())
			}
			return nil
		})
	})
}

func TestMintAndBurn(t *testing.T) {
	h := newHarness(t)
	res, comp, vault := fundedComponent(t, h, "5")

	h.must(t, []ids.NodeId{comp, res}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		minted, err := Mint(api, res, decimal.New(3), nil)
		if err != nil {
			return nil, err
		}
		if supply, _ := TotalSupply(api, res); !supply.Eq(decimal.New(8)) {
			t.Errorf("supply after mint = %s, want 8", supply)
		}

		if err := Burn(api, res, minted); err != nil {
			return nil, err
		}
		if supply, _ := TotalSupply(api, res); !supply.Eq(decimal.New(5)) {
			t.Errorf("supply after burn = %s, want 5", supply)
		}

		return nil, withVault(api, comp, func() error {
			a, err := Amount(api, vault)
			if err == nil && !a.Eq(decimal.New(5)) {
				t.Errorf("vault = %s, want 5", a)
			}
			return err
		})
	})
}

func TestMintDenied(t *testing.T) {
	h := newHarness(t)

	var res ids.NodeId
	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		r, _, err := CreateResource(api, &CreateParams{Kind: Fungible, Divisibility: 18, MintRule: []byte("deny")})
		res = r
		return nil, err
	})

	err := h.run(t, []ids.NodeId{res}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		_, err := Mint(api, res, decimal.New(1), nil)
		return nil, err
	})
	if !errors.Is(err, errDenied) {
		t.Fatalf("mint error = %v, want errDenied", err)
	}
}

func TestNonFungibleResource(t *testing.T) {
	h := newHarness(t)

	h.must(t, nil, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		res, bucket, err := CreateResource(api, &CreateParams{
			Kind:     NonFungible,
			Entries:  []NonFungibleEntry{{Id: IntegerId(1), Data: []byte("one")}, {Id: IntegerId(2), Data: []byte("two")}},
			MintRule: []byte("allow"),
			BurnRule: []byte("allow"),
		})
		if err != nil {
			return nil, err
		}

		set, err := Ids(api, bucket)
		if err != nil {
			return nil, err
		}
		if set.Len() != 2 {
			t.Errorf("bucket ids = %v", set.Strings())
		}

		data, err := NonFungibleData(api, res, IntegerId(2))
		if err != nil || string(data) != "two" {
			t.Errorf("data = %q (%v)", data, err)
		}

		proof, err := CreateProofByIds(api, bucket, NewIdSet(IntegerId(1)))
		if err != nil {
			return nil, err
		}
		if got, err := ProofIds(api, proof); err != nil || !got.Contains(IntegerId(1)) {
			t.Errorf("proof ids = %v (%v)", got.Strings(), err)
		}
		if err := DropProof(api, proof); err != nil {
			return nil, err
		}

		// Burn the whole supply so no bucket is left behind.
		return nil, Burn(api, res, bucket)
	})
}

func TestDropEmptyBucket(t *testing.T) {
	h := newHarness(t)
	res, _, _ := fundedComponent(t, h, "1")

	h.must(t, []ids.NodeId{res}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		b, err := NewBucket(api, res)
		if err != nil {
			return nil, err
		}
		return nil, DropEmptyBucket(api, b)
	})

	err := h.run(t, []ids.NodeId{res}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		b, err := Mint(api, res, decimal.New(1), nil)
		if err != nil {
			return nil, err
		}
		return nil, DropEmptyBucket(api, b)
	})
	if !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("drop non-empty error = %v, want ErrNotEmpty", err)
	}
}
