// Package substate defines the addressing and value model of node state:
// modules, substate keys, values with ownership edges, and lock flags.
package substate

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"OwnLedger/internal/ids"
)

// ErrInvalidKey is returned when decoding a malformed substate key.
var ErrInvalidKey = errors.New("invalid substate key")

// ModuleId selects a module of a node. It doubles as the partition number
// in the durable store.
type ModuleId uint8

const (
	ModuleMain           ModuleId = 0
	ModuleMetadata       ModuleId = 1
	ModuleRoyalty        ModuleId = 2
	ModuleRoleAssignment ModuleId = 3
	ModuleTypeInfo       ModuleId = 4 // ModuleTypeInfo records the blueprint owning a node
)

// String returns the module name.
func (m ModuleId) String() string {
	switch m {
	case ModuleMain:
		return "main"
	case ModuleMetadata:
		return "metadata"
	case ModuleRoyalty:
		return "royalty"
	case ModuleRoleAssignment:
		return "role_assignment"
	case ModuleTypeInfo:
		return "type_info"
	}
	return fmt.Sprintf("module(%d)", uint8(m))
}

// KeyKind distinguishes the three substate key shapes.
type KeyKind uint8

const (
	KindField  KeyKind = 0 // KindField is a fixed-position field
	KindMap    KeyKind = 1 // KindMap is an entry of a key/value collection
	KindSorted KeyKind = 2 // KindSorted is an entry of a sorted index
)

// Key addresses a substate within a module. It is comparable and can be
// used as a map key.
type Key struct {
	Kind  KeyKind // Kind selects which of the other fields are meaningful
	Field uint8   // Field is the field index for KindField
	Sort  uint16  // Sort is the sort prefix for KindSorted
	Key   string  // Key holds the raw key bytes for KindMap and KindSorted
}

// FieldKey returns the key of field n.
func FieldKey(n uint8) Key {
	return Key{Kind: KindField, Field: n}
}

// MapKey returns the key of a map entry.
func MapKey(k []byte) Key {
	return Key{Kind: KindMap, Key: string(k)}
}

// SortedKey returns the key of a sorted index entry.
func SortedKey(prefix uint16, k []byte) Key {
	return Key{Kind: KindSorted, Sort: prefix, Key: string(k)}
}

// Encode returns the canonical byte form. Byte order of encodings is the
// scan order: fields first, then map entries, then sorted entries.
func (k Key) Encode() []byte {
	switch k.Kind {
	case KindField:
		return []byte{byte(KindField), k.Field}
	case KindSorted:
		buf := make([]byte, 3, 3+len(k.Key))
		buf[0] = byte(KindSorted)
		binary.BigEndian.PutUint16(buf[1:], k.Sort)
		return append(buf, k.Key...)
	default:
		return append([]byte{byte(KindMap)}, k.Key...)
	}
}

// DecodeKey parses the output of Encode.
func DecodeKey(b []byte) (Key, error) {
	if len(b) == 0 {
		return Key{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	switch KeyKind(b[0]) {
	case KindField:
		if len(b) != 2 {
			return Key{}, fmt.Errorf("%w: field key length %d", ErrInvalidKey, len(b))
		}
		return FieldKey(b[1]), nil
	case KindMap:
		return MapKey(b[1:]), nil
	case KindSorted:
		if len(b) < 3 {
			return Key{}, fmt.Errorf("%w: sorted key length %d", ErrInvalidKey, len(b))
		}
		return SortedKey(binary.BigEndian.Uint16(b[1:3]), b[3:]), nil
	}

	return Key{}, fmt.Errorf("%w: kind %d", ErrInvalidKey, b[0])
}

// Less orders keys by their encoding.
func (k Key) Less(o Key) bool {
	return bytes.Compare(k.Encode(), o.Encode()) < 0
}

// String renders the key for logs and errors.
func (k Key) String() string {
	switch k.Kind {
	case KindField:
		return fmt.Sprintf("field(%d)", k.Field)
	case KindSorted:
		return fmt.Sprintf("sorted(%d,%s)", k.Sort, hex.EncodeToString([]byte(k.Key)))
	default:
		return "map(" + hex.EncodeToString([]byte(k.Key)) + ")"
	}
}

// Value is the content of one substate.
type Value struct {
	Data      []byte       // Data is the opaque payload
	Owns      []ids.NodeId // Owns are the ownership edges to child nodes
	Refs      []ids.NodeId // Refs are non-owning references
	Immutable bool         // Immutable forbids any further mutable lock
}

// Clone returns a deep copy of v. A nil value clones to nil.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}

	return &Value{
		Data:      append([]byte(nil), v.Data...),
		Owns:      append([]ids.NodeId(nil), v.Owns...),
		Refs:      append([]ids.NodeId(nil), v.Refs...),
		Immutable: v.Immutable,
	}
}

// Entry is a key and its value, as returned by scans.
type Entry struct {
	Key   Key
	Value *Value
}

// SortEntries orders entries by key encoding.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})
}

// NodeSubstates is the full content of a node: module -> key -> value.
type NodeSubstates map[ModuleId]map[Key]*Value

// Set stores v at (module, key), creating the module map if needed.
func (n NodeSubstates) Set(module ModuleId, key Key, v *Value) {
	m, ok := n[module]
	if !ok {
		m = make(map[Key]*Value)
		n[module] = m
	}
	m[key] = v
}

// Get returns the value at (module, key) or nil.
func (n NodeSubstates) Get(module ModuleId, key Key) *Value {
	return n[module][key]
}

// Owned returns every node owned by any substate, in deterministic order.
func (n NodeSubstates) Owned() []ids.NodeId {
	var out []ids.NodeId
	for _, module := range n.Modules() {
		for _, e := range n.Entries(module) {
			out = append(out, e.Value.Owns...)
		}
	}
	return out
}

// Modules returns the module ids present, ascending.
func (n NodeSubstates) Modules() []ModuleId {
	out := make([]ModuleId, 0, len(n))
	for m := range n {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns the substates of a module ordered by key.
func (n NodeSubstates) Entries(module ModuleId) []Entry {
	m := n[module]
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Key: k, Value: v})
	}
	SortEntries(out)
	return out
}

// LockFlags qualify a substate lock.
type LockFlags uint8

const (
	// Mutable grants write access and makes the lock exclusive.
	Mutable LockFlags = 1 << iota

	// UnmodifiedBase asserts the substate still has its committed value.
	UnmodifiedBase
)

// Has reports whether all bits of f are set.
func (l LockFlags) Has(f LockFlags) bool {
	return l&f == f
}

// String renders the flags.
func (l LockFlags) String() string {
	switch {
	case l.Has(Mutable | UnmodifiedBase):
		return "mutable|unmodified_base"
	case l.Has(Mutable):
		return "mutable"
	case l.Has(UnmodifiedBase):
		return "read|unmodified_base"
	}
	return "read"
}
