package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"OwnLedger/internal/blueprints"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/executor"
	"OwnLedger/internal/genesis"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
)

var supply = decimal.New(1000)

// newTestServer returns a server over a store with genesis applied and
// the owner key.
func newTestServer(t *testing.T) (*httptest.Server, *signer.KeyPair) {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := store.NewDurableStore(db, 16)
	if err != nil {
		t.Fatalf("open durable store: %v", err)
	}

	key, err := signer.KeyFromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("KeyFromSeed: %v", err)
	}

	exec := executor.New(d, blueprints.Native(), executor.Config{})
	if _, err := genesis.Run(context.Background(), exec, &genesis.Config{Owner: key.PublicKey(), Supply: supply}); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	srv := httptest.NewServer(New(":0", exec).Handler())
	t.Cleanup(srv.Close)

	return srv, key
}

func balanceTx(key *signer.KeyPair) *executor.Transaction {
	owner := ids.VirtualAccount(key.PublicKey())
	tx := &executor.Transaction{
		Nonce: 1,
		Entry: kernel.Method(owner, "Account", "balance"),
		Data:  codec.NewWriter(32).NodeId(ids.NativeToken).Bytes(),
		Refs:  []ids.NodeId{owner, ids.NativeToken},
	}
	tx.Sign(key)
	return tx
}

func post(t *testing.T, srv *httptest.Server, body []byte) (int, receiptJSON) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/tx", "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /tx: %v", err)
	}
	defer resp.Body.Close()

	var r receiptJSON
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, r
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestSubmitTx_Committed(t *testing.T) {
	srv, key := newTestServer(t)

	code, r := post(t, srv, balanceTx(key).Encode())
	if code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %+v", code, r)
	}
	if r.Outcome != "committed" {
		t.Errorf("outcome = %q", r.Outcome)
	}

	want := hex.EncodeToString(codec.NewWriter(32).Decimal(supply).Bytes())
	if r.Output != want {
		t.Errorf("output = %s, want %s", r.Output, want)
	}

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var status map[string]uint64
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["version"] != 2 {
		t.Errorf("version = %d, want 2", status["version"])
	}
}

func TestSubmitTx_Rejected(t *testing.T) {
	srv, key := newTestServer(t)

	tx := balanceTx(key)
	tx.Nonce = 2 // invalidates the signature

	code, r := post(t, srv, tx.Encode())
	if code != http.StatusUnauthorized || r.Outcome != "rejected" || r.Class != "auth" {
		t.Errorf("status %d, receipt %+v", code, r)
	}
}

func TestSubmitTx_Failed(t *testing.T) {
	srv, key := newTestServer(t)

	tx := balanceTx(key)
	tx.Entry = kernel.Function("Missing", "run")
	tx.Sign(key)

	code, r := post(t, srv, tx.Encode())
	if code != http.StatusUnprocessableEntity || r.Outcome != "failed" {
		t.Errorf("status %d, receipt %+v", code, r)
	}
}

func TestSubmitTx_Invalid(t *testing.T) {
	srv, key := newTestServer(t)

	unsigned := balanceTx(key)
	unsigned.Signers, unsigned.Signatures = nil, nil

	dup := balanceTx(key)
	dup.Refs = append(dup.Refs, dup.Refs[0])
	dup.Sign(key)

	for name, body := range map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("garbage"),
		"unsigned":  unsigned.Encode(),
		"duplicate": dup.Encode(),
	} {
		resp, err := http.Post(srv.URL+"/tx", "application/octet-stream", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestNodeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/node/" + ids.NativeToken.Hex())
	if err != nil {
		t.Fatalf("GET /node: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var subs []substateJSON
	if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subs) == 0 {
		t.Error("native token has no substates")
	}

	for path, want := range map[string]int{
		"/node/zz": http.StatusBadRequest,
		"/node/" + ids.WellKnown(ids.EntityGlobalComponent, "nothing").Hex(): http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != want {
			t.Errorf("%s: status %d, want %d", path, resp.StatusCode, want)
		}
	}
}
