package ids

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// NodeIdLength is the size of a node identifier in bytes.
const NodeIdLength = 30

// ErrInvalidNodeId is returned when parsing malformed identifiers.
var ErrInvalidNodeId = errors.New("invalid node id")

// NodeId identifies a node. Byte 0 is the entity type tag.
type NodeId [NodeIdLength]byte

// EntityType is the tag stored in the first byte of a NodeId.
type EntityType byte

const (
	EntityGlobalPackage             EntityType = 0x0d
	EntityGlobalFungibleResource    EntityType = 0x5d
	EntityGlobalNonFungibleResource EntityType = 0x9a
	EntityGlobalComponent           EntityType = 0xc0
	EntityGlobalAccount             EntityType = 0xc1
	EntityGlobalVirtualAccount      EntityType = 0xd1
	EntityGlobalVirtualIdentity     EntityType = 0xd2
	EntityInternalFungibleVault     EntityType = 0x58
	EntityInternalNonFungibleVault  EntityType = 0x98
	EntityInternalGenericComponent  EntityType = 0xf8
	EntityInternalKeyValueStore     EntityType = 0xb0
	EntityTransientBucket           EntityType = 0x01
	EntityTransientProof            EntityType = 0x02
	EntityTransientAuthZone         EntityType = 0x03
	EntityTransientWorktop          EntityType = 0x04
)

var entityNames = map[EntityType]string{
	EntityGlobalPackage:             "package",
	EntityGlobalFungibleResource:    "resource_fungible",
	EntityGlobalNonFungibleResource: "resource_nonfungible",
	EntityGlobalComponent:           "component",
	EntityGlobalAccount:             "account",
	EntityGlobalVirtualAccount:      "account_virtual",
	EntityGlobalVirtualIdentity:     "identity_virtual",
	EntityInternalFungibleVault:     "vault_fungible",
	EntityInternalNonFungibleVault:  "vault_nonfungible",
	EntityInternalGenericComponent:  "internal_component",
	EntityInternalKeyValueStore:     "kv_store",
	EntityTransientBucket:           "bucket",
	EntityTransientProof:            "proof",
	EntityTransientAuthZone:         "auth_zone",
	EntityTransientWorktop:          "worktop",
}

// String returns a short human name of the entity type.
func (t EntityType) String() string {
	if name, ok := entityNames[t]; ok {
		return name
	}
	return fmt.Sprintf("entity(0x%02x)", byte(t))
}

// Known reports whether t is one of the defined tags.
func (t EntityType) Known() bool {
	_, ok := entityNames[t]
	return ok
}

// IsGlobal reports whether nodes of this type live at a permanent address.
func (t EntityType) IsGlobal() bool {
	switch t {
	case EntityGlobalPackage, EntityGlobalFungibleResource, EntityGlobalNonFungibleResource,
		EntityGlobalComponent, EntityGlobalAccount, EntityGlobalVirtualAccount, EntityGlobalVirtualIdentity:
		return true
	}
	return false
}

// IsTransient reports whether nodes of this type may never be persisted.
func (t EntityType) IsTransient() bool {
	switch t {
	case EntityTransientBucket, EntityTransientProof, EntityTransientAuthZone, EntityTransientWorktop:
		return true
	}
	return false
}

// IsInternal reports whether nodes of this type are owned by another node.
func (t EntityType) IsInternal() bool {
	return t.Known() && !t.IsGlobal() && !t.IsTransient()
}

// IsVault reports whether t is a fungible or non-fungible vault.
func (t EntityType) IsVault() bool {
	return t == EntityInternalFungibleVault || t == EntityInternalNonFungibleVault
}

// IsResourceManager reports whether t is a resource manager address.
func (t EntityType) IsResourceManager() bool {
	return t == EntityGlobalFungibleResource || t == EntityGlobalNonFungibleResource
}

// IsVirtual reports whether nodes of this type exist implicitly and are
// materialized on first access.
func (t EntityType) IsVirtual() bool {
	return t == EntityGlobalVirtualAccount || t == EntityGlobalVirtualIdentity
}

// EntityType returns the tag of the node.
func (id NodeId) EntityType() EntityType {
	return EntityType(id[0])
}

// IsGlobal is a shorthand for id.EntityType().IsGlobal().
func (id NodeId) IsGlobal() bool {
	return id.EntityType().IsGlobal()
}

// IsZero reports whether id is the zero value.
func (id NodeId) IsZero() bool {
	return id == NodeId{}
}

// String renders the id as "<entity>_<hex>".
func (id NodeId) String() string {
	return id.EntityType().String() + "_" + hex.EncodeToString(id[1:])
}

// Hex renders the full id, tag included, as hex.
func (id NodeId) Hex() string {
	return hex.EncodeToString(id[:])
}

// ParseNodeId parses the output of Hex.
func ParseNodeId(s string) (NodeId, error) {
	var id NodeId

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != NodeIdLength {
		return id, fmt.Errorf("%w: %q", ErrInvalidNodeId, s)
	}

	copy(id[:], b)
	if !id.EntityType().Known() {
		return id, fmt.Errorf("%w: unknown entity tag 0x%02x", ErrInvalidNodeId, b[0])
	}

	return id, nil
}

// FromBytes copies a raw 30-byte id.
func FromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != NodeIdLength {
		return id, fmt.Errorf("%w: length %d", ErrInvalidNodeId, len(b))
	}

	copy(id[:], b)

	return id, nil
}

// Allocator hands out deterministic node ids within one transaction.
// Ids are tag || blake3(txHash || counter)[:29].
type Allocator struct {
	seed [32]byte
	next uint32
}

// NewAllocator creates an allocator seeded with the transaction hash.
func NewAllocator(txHash [32]byte) *Allocator {
	return &Allocator{seed: txHash}
}

// Next allocates the next id for the given entity type.
func (a *Allocator) Next(t EntityType) NodeId {
	var buf [36]byte
	copy(buf[:32], a.seed[:])
	binary.LittleEndian.PutUint32(buf[32:], a.next)
	a.next++

	return derive(t, buf[:])
}

// Count returns how many ids were allocated.
func (a *Allocator) Count() uint32 {
	return a.next
}

// VirtualAccount returns the virtual account address controlled by pubKey.
func VirtualAccount(pubKey []byte) NodeId {
	return derive(EntityGlobalVirtualAccount, pubKey)
}

// VirtualIdentity returns the virtual identity address controlled by pubKey.
func VirtualIdentity(pubKey []byte) NodeId {
	return derive(EntityGlobalVirtualIdentity, pubKey)
}

// WellKnown derives a fixed address from a name, used for system resources.
func WellKnown(t EntityType, name string) NodeId {
	return derive(t, []byte("ownledger-well-known:"+name))
}

// derive builds tag || blake3(data)[:29].
func derive(t EntityType, data []byte) NodeId {
	sum := blake3.Sum256(data)

	var id NodeId
	id[0] = byte(t)
	copy(id[1:], sum[:NodeIdLength-1])

	return id
}

var (
	// SignerBadgeResource is the non-fungible resource whose ids are
	// transaction signer badges. Proofs of it are always virtual.
	SignerBadgeResource = WellKnown(EntityGlobalNonFungibleResource, "signer-badge")

	// NativeToken is the fungible resource created at genesis.
	NativeToken = WellKnown(EntityGlobalFungibleResource, "native-token")
)
