package substate

import (
	"errors"
	"sort"
	"testing"

	"OwnLedger/internal/ids"
)

func TestKeyEncodingOrder(t *testing.T) {
	keys := []Key{
		SortedKey(1, []byte("a")),
		MapKey([]byte("b")),
		FieldKey(3),
		MapKey([]byte("a")),
		FieldKey(0),
		SortedKey(0, []byte("z")),
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	want := []Key{
		FieldKey(0),
		FieldKey(3),
		MapKey([]byte("a")),
		MapKey([]byte("b")),
		SortedKey(0, []byte("z")),
		SortedKey(1, []byte("a")),
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("position %d = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestKeyDecodeRoundTrip(t *testing.T) {
	for _, k := range []Key{FieldKey(7), MapKey([]byte{1, 2, 3}), MapKey(nil), SortedKey(513, []byte("x"))} {
		got, err := DecodeKey(k.Encode())
		if err != nil {
			t.Fatalf("DecodeKey(%v): %v", k, err)
		}
		if got != k {
			t.Errorf("decoded %v, want %v", got, k)
		}
	}

	for _, bad := range [][]byte{nil, {0x00}, {0x00, 1, 2}, {0x02, 1}, {0x09}} {
		if _, err := DecodeKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("DecodeKey(%x) = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestValueCodec(t *testing.T) {
	child := ids.NewAllocator([32]byte{1}).Next(ids.EntityInternalFungibleVault)

	v := &Value{
		Data:      []byte("payload"),
		Owns:      []ids.NodeId{child},
		Refs:      []ids.NodeId{ids.NativeToken},
		Immutable: true,
	}

	got, err := Unmarshal(Marshal(v))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got.Data) != "payload" || !got.Immutable {
		t.Errorf("decoded %+v", got)
	}
	if len(got.Owns) != 1 || got.Owns[0] != child {
		t.Errorf("owns = %v", got.Owns)
	}
	if len(got.Refs) != 1 || got.Refs[0] != ids.NativeToken {
		t.Errorf("refs = %v", got.Refs)
	}

	if _, err := Unmarshal([]byte{1}); !errors.Is(err, ErrCorruptValue) {
		t.Errorf("short buffer should be corrupt, got %v", err)
	}
}

func TestValueClone(t *testing.T) {
	v := &Value{Data: []byte{1}, Refs: []ids.NodeId{ids.NativeToken}}
	c := v.Clone()

	c.Data[0] = 9
	c.Refs[0] = ids.NodeId{}

	if v.Data[0] != 1 || v.Refs[0] != ids.NativeToken {
		t.Error("clone must not alias the original")
	}
	if (*Value)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestSchemaCheck(t *testing.T) {
	if err := Check(ids.EntityInternalFungibleVault, ModuleMain, FieldKey(0)); err != nil {
		t.Errorf("vault field 0: %v", err)
	}
	if err := Check(ids.EntityInternalFungibleVault, ModuleMain, FieldKey(1)); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("vault field 1 should violate schema, got %v", err)
	}
	if err := Check(ids.EntityInternalKeyValueStore, ModuleMain, MapKey([]byte("k"))); err != nil {
		t.Errorf("kv map entry: %v", err)
	}
	if err := Check(ids.EntityTransientBucket, ModuleMetadata, MapKey(nil)); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("bucket metadata should violate schema, got %v", err)
	}

	node := NodeSubstates{}
	node.Set(ModuleMain, FieldKey(0), &Value{})
	node.Set(ModuleMain, SortedKey(0, nil), &Value{})

	if err := CheckNode(ids.EntityInternalGenericComponent, node); err != nil {
		t.Errorf("internal component: %v", err)
	}
	if err := CheckNode(ids.EntityGlobalAccount, node); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("account has no sorted index, got %v", err)
	}
}

func TestEveryNodeHasTypeInfo(t *testing.T) {
	for tag := range 256 {
		et := ids.EntityType(tag)
		if !et.Known() {
			continue
		}
		if err := Check(et, ModuleTypeInfo, FieldKey(0)); err != nil {
			t.Errorf("%v type info: %v", et, err)
		}
		if err := Check(et, ModuleTypeInfo, FieldKey(1)); !errors.Is(err, ErrSchemaViolation) {
			t.Errorf("%v type info field 1 should violate schema, got %v", et, err)
		}
	}
}

func TestLockFlags(t *testing.T) {
	f := Mutable | UnmodifiedBase
	if !f.Has(Mutable) || !f.Has(UnmodifiedBase) {
		t.Error("flags should contain both bits")
	}
	if LockFlags(0).Has(Mutable) {
		t.Error("read lock is not mutable")
	}
	if LockFlags(0).String() != "read" {
		t.Errorf("String = %q", LockFlags(0).String())
	}
}
