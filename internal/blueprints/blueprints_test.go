package blueprints

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/executor"
	"OwnLedger/internal/genesis"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/podvm"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
)

// echoWasm writes its input back as output.
var echoWasm = []byte{
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

func newDispatcher(t *testing.T) *podvm.Dispatcher {
	t.Helper()

	pool, err := podvm.New(context.Background())
	if err != nil {
		t.Fatalf("podvm.New: %v", err)
	}
	t.Cleanup(func() { pool.Close(context.Background()) })

	return podvm.NewDispatcher(pool, 0)
}

func TestNativeRegistryRunsGenesis(t *testing.T) {
	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := store.NewDurableStore(db, 16)
	if err != nil {
		t.Fatalf("open durable store: %v", err)
	}

	exec := executor.New(d, Native(), executor.Config{})
	cfg := &genesis.Config{Owner: []byte("owner"), Supply: decimal.New(100)}
	if _, err := genesis.Run(context.Background(), exec, cfg); err != nil {
		t.Fatalf("genesis: %v", err)
	}
}

func TestDeploy(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Echo.wasm"), echoWasm, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := kernel.NewRegistry()
	d := newDispatcher(t)

	names, err := Deploy(context.Background(), reg, d, dir)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(names) != 1 || names[0] != "Echo" {
		t.Errorf("names = %v, want [Echo]", names)
	}

	if err := os.WriteFile(filepath.Join(dir, "Bad.wasm"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Deploy(context.Background(), reg, d, dir); err == nil {
		t.Error("invalid module must fail to deploy")
	}
}

func TestDeployMissingDir(t *testing.T) {
	names, err := Deploy(context.Background(), kernel.NewRegistry(), newDispatcher(t), filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(names) != 0 {
		t.Errorf("Deploy = %v, %v", names, err)
	}
}
