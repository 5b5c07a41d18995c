package ids

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/zeebo/blake3"
)

// TestAllocatorDeterministic verifies ids are blake3(txHash || counter) with the tag prefix.
func TestAllocatorDeterministic(t *testing.T) {
	txHash := [32]byte{0xAA, 0xBB}

	a := NewAllocator(txHash)
	b := NewAllocator(txHash)

	first := a.Next(EntityTransientBucket)
	if first != b.Next(EntityTransientBucket) {
		t.Fatal("same seed and counter should give the same id")
	}

	second := a.Next(EntityTransientBucket)
	if first == second {
		t.Fatal("consecutive ids must differ")
	}

	var buf [36]byte
	copy(buf[:32], txHash[:])
	binary.LittleEndian.PutUint32(buf[32:], 0)
	sum := blake3.Sum256(buf[:])

	if first.EntityType() != EntityTransientBucket {
		t.Errorf("tag = %v, want bucket", first.EntityType())
	}
	for i := 1; i < NodeIdLength; i++ {
		if first[i] != sum[i-1] {
			t.Fatalf("byte %d = %x, want %x", i, first[i], sum[i-1])
		}
	}

	if a.Count() != 2 {
		t.Errorf("Count = %d, want 2", a.Count())
	}
}

func TestEntityPredicates(t *testing.T) {
	cases := []struct {
		t                           EntityType
		global, transient, internal bool
	}{
		{EntityGlobalComponent, true, false, false},
		{EntityGlobalVirtualAccount, true, false, false},
		{EntityInternalFungibleVault, false, false, true},
		{EntityInternalKeyValueStore, false, false, true},
		{EntityTransientBucket, false, true, false},
		{EntityTransientProof, false, true, false},
		{EntityTransientWorktop, false, true, false},
	}

	for _, c := range cases {
		if c.t.IsGlobal() != c.global {
			t.Errorf("%v IsGlobal = %v", c.t, c.t.IsGlobal())
		}
		if c.t.IsTransient() != c.transient {
			t.Errorf("%v IsTransient = %v", c.t, c.t.IsTransient())
		}
		if c.t.IsInternal() != c.internal {
			t.Errorf("%v IsInternal = %v", c.t, c.t.IsInternal())
		}
	}

	if !EntityGlobalVirtualIdentity.IsVirtual() || EntityGlobalAccount.IsVirtual() {
		t.Error("virtual predicate mismatch")
	}
}

func TestParseNodeIdRoundTrip(t *testing.T) {
	id := VirtualAccount([]byte("some public key"))

	parsed, err := ParseNodeId(id.Hex())
	if err != nil {
		t.Fatalf("ParseNodeId: %v", err)
	}
	if parsed != id {
		t.Errorf("parsed %v, want %v", parsed, id)
	}

	if _, err := ParseNodeId("zz"); !errors.Is(err, ErrInvalidNodeId) {
		t.Errorf("expected ErrInvalidNodeId, got %v", err)
	}

	bad := id
	bad[0] = 0x77
	if _, err := ParseNodeId(bad.Hex()); !errors.Is(err, ErrInvalidNodeId) {
		t.Errorf("unknown tag should fail, got %v", err)
	}
}

func TestVirtualAddressesDiffer(t *testing.T) {
	key := []byte("key")

	if VirtualAccount(key) == VirtualAccount([]byte("other")) {
		t.Error("different keys must give different accounts")
	}
	if VirtualAccount(key).EntityType() != EntityGlobalVirtualAccount {
		t.Error("account tag mismatch")
	}
	if VirtualIdentity(key).EntityType() != EntityGlobalVirtualIdentity {
		t.Error("identity tag mismatch")
	}
	if SignerBadgeResource.EntityType() != EntityGlobalNonFungibleResource {
		t.Error("signer badge must be a non-fungible resource")
	}
}
