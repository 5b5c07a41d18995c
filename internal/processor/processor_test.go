package processor

import (
	"context"
	"errors"
	"testing"

	"OwnLedger/internal/account"
	"OwnLedger/internal/authzone"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

var (
	alice = []byte("alice public key")
	bob   = []byte("bob public key")
)

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
	authzone.Register(reg)
	account.Register(reg)
	Register(reg)

	// Test::check passes when the auth zones satisfy the rule in args.
	reg.Register("Test", "check", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		rule, err := authzone.DecodeRule(args.Data)
		if err != nil {
			return nil, err
		}
		return nil, authzone.CheckAuth(api, rule)
	})

	return &harness{db: d, reg: reg}
}

// run executes entry as a transaction signed by signers and commits it on
// success.
func (h *harness) run(t *testing.T, signers [][]byte, entry kernel.Actor, args *substate.Value) (*substate.Value, error) {
	t.Helper()

	h.seq++

	track := store.NewTrack(h.db)
	module := authzone.NewModule(signer.Badges(signers))
	k := kernel.New(context.Background(), store.NewHeap(), track, h.reg, ids.NewAllocator([32]byte{h.seq}), kernel.Config{}, module)

	out, err := k.Run(entry, args)
	if err != nil {
		return nil, err
	}

	diff, err := track.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := h.db.Commit(diff, track.BaseVersion()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	return out, nil
}

// exec runs a manifest and returns the result of each instruction.
func (h *harness) exec(t *testing.T, signers [][]byte, refs []ids.NodeId, m Manifest) ([][]byte, error) {
	t.Helper()

	out, err := h.run(t, signers, Entry(), &substate.Value{Data: m.Encode(), Refs: refs})
	if err != nil {
		return nil, err
	}

	outputs, err := DecodeOutputs(out.Data)
	if err != nil {
		t.Fatalf("DecodeOutputs: %v", err)
	}
	if len(outputs) != len(m) {
		t.Fatalf("got %d outputs for %d instructions", len(outputs), len(m))
	}

	return outputs, nil
}

// native runs fn as a one-off transaction.
func (h *harness) native(t *testing.T, refs []ids.NodeId, fn kernel.NativeFunc) {
	t.Helper()

	h.reg.Register("Test", "run", fn)
	if _, err := h.run(t, nil, kernel.Function("Test", "run"), &substate.Value{Refs: refs}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// fund creates a fungible resource and deposits its supply into acct.
func fund(t *testing.T, h *harness, acct ids.NodeId, supply uint64) ids.NodeId {
	t.Helper()

	var res ids.NodeId
	h.native(t, []ids.NodeId{acct}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		r, bucket, err := resource.CreateResource(api, &resource.CreateParams{
			Kind:         resource.Fungible,
			Divisibility: 18,
			Supply:       decimal.New(supply),
		})
		if err != nil {
			return nil, err
		}
		res = r
		return nil, account.Deposit(api, acct, bucket)
	})

	return res
}

func balanceOf(t *testing.T, h *harness, acct, res ids.NodeId) decimal.Decimal {
	t.Helper()

	var out decimal.Decimal
	h.native(t, []ids.NodeId{acct, res}, func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		b, err := account.Balance(api, acct, res)
		out = b
		return nil, err
	})

	return out
}

func withdraw(acct, res ids.NodeId, amount uint64) Instruction {
	data := codec.NewWriter(64).NodeId(res).Decimal(decimal.New(amount)).Bytes()
	return CallMethod(acct, kernel.AccountBlueprint, "withdraw", data, res)
}

func depositAll(acct ids.NodeId) Instruction {
	return CallMethodWithAllResources(acct, kernel.AccountBlueprint, "deposit_batch")
}

func wantBalance(t *testing.T, h *harness, acct, res ids.NodeId, want uint64) {
	t.Helper()

	if got := balanceOf(t, h, acct, res); !got.Eq(decimal.New(want)) {
		t.Errorf("balance of %v = %s, want %d", acct, got, want)
	}
}

func TestManifestTransfer(t *testing.T) {
	h := newHarness(t)
	a, b := ids.VirtualAccount(alice), ids.VirtualAccount(bob)
	res := fund(t, h, a, 100)

	m := Manifest{withdraw(a, res, 30), depositAll(b)}
	if _, err := h.exec(t, [][]byte{alice}, []ids.NodeId{a, b, res}, m); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	wantBalance(t, h, a, res, 70)
	wantBalance(t, h, b, res, 30)
}

func TestSignerMustOwnAccount(t *testing.T) {
	h := newHarness(t)
	a, b := ids.VirtualAccount(alice), ids.VirtualAccount(bob)
	res := fund(t, h, a, 100)

	m := Manifest{withdraw(a, res, 30), depositAll(b)}
	_, err := h.exec(t, [][]byte{bob}, []ids.NodeId{a, b, res}, m)
	if !errors.Is(err, authzone.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}

	wantBalance(t, h, a, res, 100)
}

func TestWorktopMustEndEmpty(t *testing.T) {
	h := newHarness(t)
	a := ids.VirtualAccount(alice)
	res := fund(t, h, a, 100)

	_, err := h.exec(t, [][]byte{alice}, []ids.NodeId{a, res}, Manifest{withdraw(a, res, 30)})
	if !errors.Is(err, ErrWorktopNotEmpty) {
		t.Fatalf("error = %v, want ErrWorktopNotEmpty", err)
	}

	wantBalance(t, h, a, res, 100)
}

func TestAssertWorktopContains(t *testing.T) {
	h := newHarness(t)
	a, b := ids.VirtualAccount(alice), ids.VirtualAccount(bob)
	res := fund(t, h, a, 100)
	refs := []ids.NodeId{a, b, res}

	m := Manifest{withdraw(a, res, 30), AssertWorktopContains(res, decimal.New(31)), depositAll(b)}
	if _, err := h.exec(t, [][]byte{alice}, refs, m); !errors.Is(err, ErrAssertionFailed) {
		t.Fatalf("error = %v, want ErrAssertionFailed", err)
	}

	m[1] = AssertWorktopContains(res, decimal.New(30))
	if _, err := h.exec(t, [][]byte{alice}, refs, m); err != nil {
		t.Fatalf("transfer with met assertion: %v", err)
	}

	wantBalance(t, h, b, res, 30)
}

func TestNamedBuckets(t *testing.T) {
	h := newHarness(t)
	a, b := ids.VirtualAccount(alice), ids.VirtualAccount(bob)
	res := fund(t, h, a, 100)

	m := Manifest{
		withdraw(a, res, 30),
		TakeFromWorktop(res, decimal.New(10)),
		TakeAllFromWorktop(res),
		CallMethod(b, kernel.AccountBlueprint, "deposit", nil).WithBuckets(0),
		ReturnToWorktop(1),
		depositAll(a),
	}

	outputs, err := h.exec(t, [][]byte{alice}, []ids.NodeId{a, b, res}, m)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	for i, want := range map[int]uint32{1: 0, 2: 1} {
		r := codec.NewReader(outputs[i])
		if got := r.U32(); r.Done() != nil || got != want {
			t.Errorf("instruction %d returned handle %d, want %d", i, got, want)
		}
	}

	wantBalance(t, h, a, res, 90)
	wantBalance(t, h, b, res, 10)
}

func TestUnknownHandles(t *testing.T) {
	h := newHarness(t)

	if _, err := h.exec(t, nil, nil, Manifest{ReturnToWorktop(3)}); !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("unknown bucket error = %v, want ErrUnknownBucket", err)
	}
	if _, err := h.exec(t, nil, nil, Manifest{DropProof(0)}); !errors.Is(err, ErrUnknownProof) {
		t.Errorf("unknown proof error = %v, want ErrUnknownProof", err)
	}
}

func TestEmptyWorktopSkipsCall(t *testing.T) {
	h := newHarness(t)
	b := ids.VirtualAccount(bob)

	if _, err := h.exec(t, nil, []ids.NodeId{b}, Manifest{depositAll(b)}); err != nil {
		t.Fatalf("exec: %v", err)
	}
}

func TestProofsFromBucket(t *testing.T) {
	h := newHarness(t)
	a := ids.VirtualAccount(alice)
	res := fund(t, h, a, 100)
	refs := []ids.NodeId{a, res}

	rule := authzone.RequireAmount(res, decimal.New(25)).Encode()

	// Without the proof pushed the rule fails.
	m := Manifest{
		withdraw(a, res, 30),
		TakeFromWorktop(res, decimal.New(30)),
		CallFunction("Test", "check", rule),
		ReturnToWorktop(0),
		depositAll(a),
	}
	if _, err := h.exec(t, [][]byte{alice}, refs, m); !errors.Is(err, authzone.ErrUnauthorized) {
		t.Fatalf("unproven check error = %v, want ErrUnauthorized", err)
	}

	m = Manifest{
		withdraw(a, res, 30),
		TakeFromWorktop(res, decimal.New(30)),
		CreateProofFromBucket(0),
		PushToAuthZone(0),
		CallFunction("Test", "check", rule),
		CreateProofFromAuthZone(res, decimal.New(20)),
		CloneProof(1),
		DropProof(1),
		PopFromAuthZone(),
		DropAllProofs(),
		ReturnToWorktop(0),
		depositAll(a),
	}
	if _, err := h.exec(t, [][]byte{alice}, refs, m); err != nil {
		t.Fatalf("proven check: %v", err)
	}

	wantBalance(t, h, a, res, 100)
}

func TestManifestDecodeErrors(t *testing.T) {
	h := newHarness(t)

	bad := Manifest{ClearAuthZone()}.Encode()
	bad[4] = byte(opCount)

	for name, data := range map[string][]byte{
		"truncated":  {1, 0},
		"unknown op": bad,
		"too many":   {0xff, 0xff, 0xff, 0xff},
	} {
		if _, err := DecodeManifest(data); !errors.Is(err, ErrInvalidManifest) {
			t.Errorf("%s: error = %v, want ErrInvalidManifest", name, err)
		}
	}

	if _, err := h.run(t, nil, Entry(), &substate.Value{Data: []byte{7}}); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("run error = %v, want ErrInvalidManifest", err)
	}
}

func TestManifestEncoding(t *testing.T) {
	res := ids.NativeToken
	m := Manifest{
		CallMethod(ids.VirtualAccount(alice), kernel.AccountBlueprint, "deposit", []byte{1, 2}, res).WithBuckets(0, 2).WithProofs(1),
		TakeFromWorktopByIds(res, "#1#", "<two>"),
		CreateProofFromAuthZone(res, decimal.MustParse("1.5")),
	}

	got, err := DecodeManifest(m.Encode())
	if err != nil {
		t.Fatalf("DecodeManifest: %v", err)
	}
	if len(got) != len(m) {
		t.Fatalf("decoded %d instructions, want %d", len(got), len(m))
	}

	call := got[0]
	if call.Op != OpCallMethod || call.Receiver != m[0].Receiver || call.Function != "deposit" {
		t.Errorf("call decoded as %+v", call)
	}
	if len(call.Buckets) != 2 || call.Buckets[1] != 2 || len(call.Proofs) != 1 || len(call.Refs) != 1 {
		t.Errorf("call handles decoded as buckets=%v proofs=%v refs=%v", call.Buckets, call.Proofs, call.Refs)
	}
	if len(got[1].Ids) != 2 || got[1].Ids[1] != "<two>" {
		t.Errorf("ids decoded as %v", got[1].Ids)
	}
	if !got[2].Amount.Eq(decimal.MustParse("1.5")) {
		t.Errorf("amount decoded as %s", got[2].Amount)
	}
	if got[2].Op.String() != "create_proof_from_auth_zone" {
		t.Errorf("op name = %q", got[2].Op)
	}
}
