package podvm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"OwnLedger/internal/executor"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// Hand-assembled guests.
//
// echo:    read_input(0); write_output(0, input_len())
// counter: read_input(0); h = open_substate(0, 0, mutable);
//          read_substate(h, 64); mem[64]++; write_substate(h, 64, 1);
//          close_substate(h)
// spin:    loop { gas(100) }
// maker:   read_input(0); allocate_node(0xc0, 4096);
//          create_node(4096, 42, load(38)); globalize(4096);
//          write_output(4096, 30)
// relay:   read_input(0); n = invoke(actor Sink::keep, 43, load(39));
//          read_result(16384); return_value(16384, n)
//
// maker and relay find their argument data at a fixed offset, after the
// 30-byte receiver and the length-prefixed function name.
var (
	echoWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x11, 0x04, 0x60,
		0x00, 0x01, 0x7f, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x02, 0x7f, 0x7f, 0x00,
		0x60, 0x00, 0x00, 0x02, 0x35, 0x03, 0x03, 0x65, 0x6e, 0x76, 0x09, 0x69,
		0x6e, 0x70, 0x75, 0x74, 0x5f, 0x6c, 0x65, 0x6e, 0x00, 0x00, 0x03, 0x65,
		0x6e, 0x76, 0x0a, 0x72, 0x65, 0x61, 0x64, 0x5f, 0x69, 0x6e, 0x70, 0x75,
		0x74, 0x00, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x0c, 0x77, 0x72, 0x69, 0x74,
		0x65, 0x5f, 0x6f, 0x75, 0x74, 0x70, 0x75, 0x74, 0x00, 0x02, 0x03, 0x02,
		0x01, 0x03, 0x05, 0x03, 0x01, 0x00, 0x01, 0x07, 0x14, 0x02, 0x06, 0x6d,
		0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x07, 0x65, 0x78, 0x65, 0x63,
		0x75, 0x74, 0x65, 0x00, 0x03, 0x0a, 0x0e, 0x01, 0x0c, 0x00, 0x41, 0x00,
		0x10, 0x01, 0x41, 0x00, 0x10, 0x00, 0x10, 0x02, 0x0b,
	}
	counterWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x1b, 0x05, 0x60,
		0x01, 0x7f, 0x00, 0x60, 0x03, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x02,
		0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x03, 0x7f, 0x7f, 0x7f, 0x00, 0x60, 0x00,
		0x00, 0x02, 0x64, 0x05, 0x03, 0x65, 0x6e, 0x76, 0x0a, 0x72, 0x65, 0x61,
		0x64, 0x5f, 0x69, 0x6e, 0x70, 0x75, 0x74, 0x00, 0x00, 0x03, 0x65, 0x6e,
		0x76, 0x0d, 0x6f, 0x70, 0x65, 0x6e, 0x5f, 0x73, 0x75, 0x62, 0x73, 0x74,
		0x61, 0x74, 0x65, 0x00, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x0d, 0x72, 0x65,
		0x61, 0x64, 0x5f, 0x73, 0x75, 0x62, 0x73, 0x74, 0x61, 0x74, 0x65, 0x00,
		0x02, 0x03, 0x65, 0x6e, 0x76, 0x0e, 0x77, 0x72, 0x69, 0x74, 0x65, 0x5f,
		0x73, 0x75, 0x62, 0x73, 0x74, 0x61, 0x74, 0x65, 0x00, 0x03, 0x03, 0x65,
		0x6e, 0x76, 0x0e, 0x63, 0x6c, 0x6f, 0x73, 0x65, 0x5f, 0x73, 0x75, 0x62,
		0x73, 0x74, 0x61, 0x74, 0x65, 0x00, 0x00, 0x03, 0x02, 0x01, 0x04, 0x05,
		0x03, 0x01, 0x00, 0x01, 0x07, 0x14, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f,
		0x72, 0x79, 0x02, 0x00, 0x07, 0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65,
		0x00, 0x05, 0x0a, 0x38, 0x01, 0x36, 0x01, 0x01, 0x7f, 0x41, 0x00, 0x10,
		0x00, 0x41, 0x00, 0x41, 0x00, 0x41, 0x01, 0x10, 0x01, 0x21, 0x00, 0x20,
		0x00, 0x41, 0xc0, 0x00, 0x10, 0x02, 0x1a, 0x41, 0xc0, 0x00, 0x41, 0xc0,
		0x00, 0x2d, 0x00, 0x00, 0x41, 0x01, 0x6a, 0x3a, 0x00, 0x00, 0x20, 0x00,
		0x41, 0xc0, 0x00, 0x41, 0x01, 0x10, 0x03, 0x20, 0x00, 0x10, 0x04, 0x0b,
	}
	spinWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x02, 0x60,
		0x01, 0x7f, 0x00, 0x60, 0x00, 0x00, 0x02, 0x0b, 0x01, 0x03, 0x65, 0x6e,
		0x76, 0x03, 0x67, 0x61, 0x73, 0x00, 0x00, 0x03, 0x02, 0x01, 0x01, 0x05,
		0x03, 0x01, 0x00, 0x01, 0x07, 0x14, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f,
		0x72, 0x79, 0x02, 0x00, 0x07, 0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65,
		0x00, 0x01, 0x0a, 0x0e, 0x01, 0x0c, 0x00, 0x03, 0x40, 0x41, 0xe4, 0x00,
		0x10, 0x00, 0x0c, 0x00, 0x0b, 0x0b,
	}
	makerWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x13, 0x04, 0x60,
		0x01, 0x7f, 0x00, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x03, 0x7f, 0x7f,
		0x7f, 0x00, 0x60, 0x00, 0x00, 0x02, 0x5b, 0x05, 0x03, 0x65, 0x6e, 0x76,
		0x0a, 0x72, 0x65, 0x61, 0x64, 0x5f, 0x69, 0x6e, 0x70, 0x75, 0x74, 0x00,
		0x00, 0x03, 0x65, 0x6e, 0x76, 0x0d, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x61,
		0x74, 0x65, 0x5f, 0x6e, 0x6f, 0x64, 0x65, 0x00, 0x01, 0x03, 0x65, 0x6e,
		0x76, 0x0b, 0x63, 0x72, 0x65, 0x61, 0x74, 0x65, 0x5f, 0x6e, 0x6f, 0x64,
		0x65, 0x00, 0x02, 0x03, 0x65, 0x6e, 0x76, 0x09, 0x67, 0x6c, 0x6f, 0x62,
		0x61, 0x6c, 0x69, 0x7a, 0x65, 0x00, 0x00, 0x03, 0x65, 0x6e, 0x76, 0x0c,
		0x77, 0x72, 0x69, 0x74, 0x65, 0x5f, 0x6f, 0x75, 0x74, 0x70, 0x75, 0x74,
		0x00, 0x01, 0x03, 0x02, 0x01, 0x03, 0x05, 0x03, 0x01, 0x00, 0x01, 0x07,
		0x14, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x07,
		0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65, 0x00, 0x05, 0x0a, 0x28, 0x01,
		0x26, 0x00, 0x41, 0x00, 0x10, 0x00, 0x41, 0xc0, 0x01, 0x41, 0x80, 0x20,
		0x10, 0x01, 0x41, 0x80, 0x20, 0x41, 0x2a, 0x41, 0x26, 0x28, 0x00, 0x00,
		0x10, 0x02, 0x41, 0x80, 0x20, 0x10, 0x03, 0x41, 0x80, 0x20, 0x41, 0x1e,
		0x10, 0x04, 0x0b,
	}
	relayWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x15, 0x04, 0x60,
		0x01, 0x7f, 0x00, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60,
		0x02, 0x7f, 0x7f, 0x00, 0x60, 0x00, 0x00, 0x02, 0x44, 0x04, 0x03, 0x65,
		0x6e, 0x76, 0x0a, 0x72, 0x65, 0x61, 0x64, 0x5f, 0x69, 0x6e, 0x70, 0x75,
		0x74, 0x00, 0x00, 0x03, 0x65, 0x6e, 0x76, 0x06, 0x69, 0x6e, 0x76, 0x6f,
		0x6b, 0x65, 0x00, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x0b, 0x72, 0x65, 0x61,
		0x64, 0x5f, 0x72, 0x65, 0x73, 0x75, 0x6c, 0x74, 0x00, 0x00, 0x03, 0x65,
		0x6e, 0x76, 0x0c, 0x72, 0x65, 0x74, 0x75, 0x72, 0x6e, 0x5f, 0x76, 0x61,
		0x6c, 0x75, 0x65, 0x00, 0x02, 0x03, 0x02, 0x01, 0x03, 0x05, 0x03, 0x01,
		0x00, 0x01, 0x07, 0x14, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79,
		0x02, 0x00, 0x07, 0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65, 0x00, 0x04,
		0x0a, 0x29, 0x01, 0x27, 0x01, 0x01, 0x7f, 0x41, 0x00, 0x10, 0x00, 0x41,
		0x80, 0xc0, 0x00, 0x41, 0x2e, 0x41, 0x2b, 0x41, 0x27, 0x28, 0x00, 0x00,
		0x10, 0x01, 0x21, 0x00, 0x41, 0x80, 0x80, 0x01, 0x10, 0x02, 0x41, 0x80,
		0x80, 0x01, 0x20, 0x00, 0x10, 0x03, 0x0b, 0x0b, 0x36, 0x01, 0x00, 0x41,
		0x80, 0xc0, 0x00, 0x0b, 0x2e, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04,
		0x00, 0x00, 0x00, 0x53, 0x69, 0x6e, 0x6b, 0x04, 0x00, 0x00, 0x00, 0x6b,
		0x65, 0x65, 0x70,
	}
)

var errSink = errors.New("sink refused")

type harness struct {
	reg  *kernel.Registry
	disp *Dispatcher
	exec *executor.Executor
	seq  uint64
}

func newHarness(t *testing.T, gasLimit uint64) *harness {
	t.Helper()
	ctx := context.Background()

	pool, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { pool.Close(ctx) })

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := store.NewDurableStore(db, 16)
	if err != nil {
		t.Fatalf("open durable store: %v", err)
	}

	reg := kernel.NewRegistry()
	disp := NewDispatcher(pool, gasLimit)
	for name, wasm := range map[string][]byte{
		"Echo":    echoWasm,
		"Counter": counterWasm,
		"Spin":    spinWasm,
		"Maker":   makerWasm,
		"Relay":   relayWasm,
	} {
		if _, err := disp.Deploy(ctx, reg, name, wasm); err != nil {
			t.Fatalf("Deploy %s: %v", name, err)
		}
	}
	reg.Package("counter", "Counter", "Test")

	// Sink::keep hands its arguments back.
	reg.Register("Sink", "keep", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		if string(args.Data) == "fail" {
			return nil, errSink
		}
		return &substate.Value{Data: append([]byte("kept:"), args.Data...), Owns: args.Owns, Refs: args.Refs}, nil
	})

	return &harness{reg: reg, disp: disp, exec: executor.New(d, reg, executor.Config{})}
}

func (h *harness) run(entry kernel.Actor, data []byte, refs ...ids.NodeId) *executor.Receipt {
	h.seq++
	tx := &executor.Transaction{Nonce: h.seq, Entry: entry, Data: data, Refs: refs}
	return h.exec.ExecuteSystem(context.Background(), tx, nil)
}

// counterComponent commits a global component with an empty field 0.
func (h *harness) counterComponent(t *testing.T) ids.NodeId {
	t.Helper()

	var comp ids.NodeId
	h.reg.Register("Test", "setup", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		id, err := api.AllocateNodeId(ids.EntityGlobalComponent)
		if err != nil {
			return nil, err
		}
		subs := substate.NodeSubstates{}
		subs.Set(substate.ModuleMain, substate.FieldKey(0), &substate.Value{})
		if err := api.CreateNode(id, "Counter", subs); err != nil {
			return nil, err
		}
		comp = id
		return nil, api.Globalize(id)
	})

	if r := h.run(kernel.Function("Test", "setup"), nil); r.Err != nil {
		t.Fatalf("setup: %v", r.Err)
	}
	return comp
}

func TestEchoGuest(t *testing.T) {
	h := newHarness(t, 0)

	actor := kernel.Function("Echo", "echo")
	r := h.run(actor, []byte("hello"))
	if r.Err != nil {
		t.Fatalf("echo: %v", r.Err)
	}

	want := EncodeInput(actor, &substate.Value{Data: []byte("hello")})
	if !bytes.Equal(r.Output.Data, want) {
		t.Errorf("output = %x, want %x", r.Output.Data, want)
	}
}

func TestGuestCalledFromNative(t *testing.T) {
	h := newHarness(t, 0)

	h.reg.Register("Test", "call", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		return api.Invoke(kernel.Function("Echo", "echo"), &substate.Value{Data: []byte("x")})
	})

	r := h.run(kernel.Function("Test", "call"), nil)
	if r.Err != nil {
		t.Fatalf("call: %v", r.Err)
	}
	if got := r.Stats.Invocations; got < 2 {
		t.Errorf("invocations = %d, want at least 2", got)
	}
}

func TestGuestWritesSubstate(t *testing.T) {
	h := newHarness(t, 0)
	comp := h.counterComponent(t)

	for i := 0; i < 3; i++ {
		r := h.run(kernel.Method(comp, "Counter", "increment"), nil, comp)
		if r.Err != nil {
			t.Fatalf("increment %d: %v", i, r.Err)
		}
	}

	v, err := h.exec.Store().Get(comp, substate.ModuleMain, substate.FieldKey(0))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(v.Data, []byte{3}) {
		t.Errorf("counter = %v, want [3]", v.Data)
	}
}

func TestGuestKernelErrorAborts(t *testing.T) {
	h := newHarness(t, 0)

	// Without a receiver the guest opens the zero node, which is not visible.
	r := h.run(kernel.Function("Counter", "increment"), nil)
	if r.Outcome != executor.Failed {
		t.Fatalf("outcome = %v, want failed", r.Outcome)
	}
	if !errors.Is(r.Err, kernel.ErrNodeNotVisible) {
		t.Errorf("error = %v, want ErrNodeNotVisible", r.Err)
	}
}

func TestGasExhausted(t *testing.T) {
	h := newHarness(t, 1000)

	r := h.run(kernel.Function("Spin", "spin"), nil)
	if !errors.Is(r.Err, ErrGasExhausted) {
		t.Fatalf("error = %v, want ErrGasExhausted", r.Err)
	}
	if h.exec.Store().Version() != 0 {
		t.Errorf("version = %d, want 0", h.exec.Store().Version())
	}
}

func TestPoolLoadAndUnload(t *testing.T) {
	ctx := context.Background()

	pool, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	id1, err := pool.Load(ctx, echoWasm, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id2, err := pool.Load(ctx, echoWasm, nil)
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if id1 != id2 {
		t.Error("same bytes must yield the same module id")
	}

	custom := [32]byte{7}
	if id, _ := pool.Load(ctx, echoWasm, &custom); id != custom {
		t.Errorf("custom id = %x", id)
	}

	if _, err := pool.Load(ctx, []byte("not wasm"), nil); err == nil {
		t.Error("invalid module must fail to compile")
	}

	pool.Unload(ctx, id1)
	if _, _, err := pool.Execute(ctx, id1, nil, nil, 100); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Execute after Unload = %v, want ErrModuleNotFound", err)
	}
}

func TestUndeployedBlueprint(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pool.Close(ctx)

	d := NewDispatcher(pool, 0)
	if _, err := d.Invoke(ctx, kernel.Function("Nope", "x"), nil, nil); !errors.Is(err, ErrNotDeployed) {
		t.Errorf("error = %v, want ErrNotDeployed", err)
	}
}

func TestDeployOverServedBlueprint(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	if _, err := h.disp.Deploy(ctx, h.reg, "Echo", echoWasm); !errors.Is(err, ErrBlueprintTaken) {
		t.Errorf("redeploy = %v, want ErrBlueprintTaken", err)
	}

	h.reg.Register("Native", "f", func(kernel.API, *substate.Value) (*substate.Value, error) { return nil, nil })
	if _, err := h.disp.Deploy(ctx, h.reg, "Native", echoWasm); !errors.Is(err, ErrBlueprintTaken) {
		t.Errorf("deploy over native = %v, want ErrBlueprintTaken", err)
	}
}

func TestGuestCreatesGlobalComponent(t *testing.T) {
	h := newHarness(t, 0)

	value := &substate.Value{Data: []byte("state"), Refs: []ids.NodeId{ids.NativeToken}}
	r := h.run(kernel.Function("Maker", "make"), substate.Marshal(value))
	if r.Err != nil {
		t.Fatalf("make: %v", r.Err)
	}

	id, err := ids.FromBytes(r.Output.Data)
	if err != nil {
		t.Fatalf("output %x is not a node id: %v", r.Output.Data, err)
	}
	if id.EntityType() != ids.EntityGlobalComponent {
		t.Fatalf("created %v, want a global component", id)
	}

	v, err := h.exec.Store().Get(id, substate.ModuleMain, substate.FieldKey(0))
	if err != nil || v == nil {
		t.Fatalf("Get: %v, %v", v, err)
	}
	if string(v.Data) != "state" || len(v.Refs) != 1 || v.Refs[0] != ids.NativeToken {
		t.Errorf("stored %q refs=%v", v.Data, v.Refs)
	}

	raw, err := h.exec.Store().Get(id, substate.ModuleTypeInfo, substate.FieldKey(0))
	if err != nil || raw == nil {
		t.Fatalf("type info: %v, %v", raw, err)
	}
	info, err := kernel.DecodeTypeInfo(raw)
	if err != nil {
		t.Fatalf("DecodeTypeInfo: %v", err)
	}
	if info.Blueprint != "Maker" {
		t.Errorf("blueprint = %q, want Maker", info.Blueprint)
	}
}

func TestGuestInvokeMovesNodes(t *testing.T) {
	h := newHarness(t, 0)

	h.reg.Register("Test", "pass", func(api kernel.API, args *substate.Value) (*substate.Value, error) {
		child, err := api.AllocateNodeId(ids.EntityInternalGenericComponent)
		if err != nil {
			return nil, err
		}
		subs := substate.NodeSubstates{}
		subs.Set(substate.ModuleMain, substate.FieldKey(0), &substate.Value{})
		if err := api.CreateNode(child, "Test", subs); err != nil {
			return nil, err
		}

		inner := &substate.Value{Data: []byte("x"), Owns: []ids.NodeId{child}, Refs: []ids.NodeId{ids.NativeToken}}
		out, err := api.Invoke(kernel.Function("Relay", "relay"), &substate.Value{Data: substate.Marshal(inner), Owns: []ids.NodeId{child}})
		if err != nil {
			return nil, err
		}

		if string(out.Data) != "kept:x" {
			t.Errorf("relayed data = %q", out.Data)
		}
		if len(out.Owns) != 1 || out.Owns[0] != child {
			t.Errorf("relayed owns = %v, want [%v]", out.Owns, child)
		}
		if len(out.Refs) != 1 || out.Refs[0] != ids.NativeToken {
			t.Errorf("relayed refs = %v", out.Refs)
		}

		_, err = api.DropNode(child)
		return nil, err
	})

	if r := h.run(kernel.Function("Test", "pass"), nil); r.Err != nil {
		t.Fatalf("pass: %v", r.Err)
	}
}

func TestGuestInvokeErrorAborts(t *testing.T) {
	h := newHarness(t, 0)

	r := h.run(kernel.Function("Relay", "relay"), substate.Marshal(&substate.Value{Data: []byte("fail")}))
	if r.Outcome != executor.Failed {
		t.Fatalf("outcome = %v, want failed", r.Outcome)
	}
	if !errors.Is(r.Err, errSink) {
		t.Errorf("error = %v, want errSink", r.Err)
	}
}
