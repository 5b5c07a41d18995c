package substate

import (
	"errors"
	"fmt"

	"OwnLedger/internal/ids"
)

// ErrSchemaViolation is returned when a substate address is not part of
// the fixed layout of its entity type.
var ErrSchemaViolation = errors.New("substate not in node schema")

// ModuleSchema lists what a module of a node may contain.
type ModuleSchema struct {
	Fields uint8 // Fields is the number of fixed fields, indexed from 0
	Map    bool  // Map allows key/value collection entries
	Sorted bool  // Sorted allows sorted index entries
}

// NodeSchema is the module layout of one entity type.
type NodeSchema map[ModuleId]ModuleSchema

var (
	metadata = ModuleSchema{Map: true}
	roles    = ModuleSchema{Fields: 1, Map: true}
	single   = NodeSchema{ModuleMain: {Fields: 1}}
)

// schemas is the static layout table, keyed by entity type.
var schemas = map[ids.EntityType]NodeSchema{
	ids.EntityGlobalPackage: {
		ModuleMain:     {Fields: 2},
		ModuleMetadata: metadata,
	},
	ids.EntityGlobalFungibleResource: {
		ModuleMain:           {Fields: 2},
		ModuleMetadata:       metadata,
		ModuleRoleAssignment: roles,
	},
	ids.EntityGlobalNonFungibleResource: {
		ModuleMain:           {Fields: 2, Map: true},
		ModuleMetadata:       metadata,
		ModuleRoleAssignment: roles,
	},
	ids.EntityGlobalComponent: {
		ModuleMain:           {Fields: 8, Map: true, Sorted: true},
		ModuleMetadata:       metadata,
		ModuleRoyalty:        {Fields: 1},
		ModuleRoleAssignment: roles,
	},
	ids.EntityGlobalAccount: {
		ModuleMain:           {Fields: 1, Map: true},
		ModuleMetadata:       metadata,
		ModuleRoleAssignment: roles,
	},
	ids.EntityGlobalVirtualAccount: {
		ModuleMain:           {Fields: 1, Map: true},
		ModuleMetadata:       metadata,
		ModuleRoleAssignment: roles,
	},
	ids.EntityGlobalVirtualIdentity: {
		ModuleMain:     {Fields: 1},
		ModuleMetadata: metadata,
	},
	ids.EntityInternalFungibleVault:    single,
	ids.EntityInternalNonFungibleVault: single,
	ids.EntityInternalGenericComponent: {
		ModuleMain: {Fields: 8, Map: true, Sorted: true},
	},
	ids.EntityInternalKeyValueStore: {
		ModuleMain: {Map: true},
	},
	ids.EntityTransientBucket:   single,
	ids.EntityTransientProof:    single,
	ids.EntityTransientAuthZone: single,
	ids.EntityTransientWorktop: {
		ModuleMain: {Map: true},
	},
}

// Every node carries a single type info field.
func init() {
	for _, node := range schemas {
		node[ModuleTypeInfo] = ModuleSchema{Fields: 1}
	}
}

// SchemaOf returns the layout of an entity type.
func SchemaOf(t ids.EntityType) (NodeSchema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// Check verifies that (module, key) is addressable on nodes of type t.
func Check(t ids.EntityType, module ModuleId, key Key) error {
	node, ok := schemas[t]
	if !ok {
		return fmt.Errorf("%w: unknown entity %v", ErrSchemaViolation, t)
	}

	m, ok := node[module]
	if !ok {
		return fmt.Errorf("%w: %v has no %v module", ErrSchemaViolation, t, module)
	}

	switch key.Kind {
	case KindField:
		if key.Field >= m.Fields {
			return fmt.Errorf("%w: %v %v has no field %d", ErrSchemaViolation, t, module, key.Field)
		}
	case KindMap:
		if !m.Map {
			return fmt.Errorf("%w: %v %v has no map collection", ErrSchemaViolation, t, module)
		}
	case KindSorted:
		if !m.Sorted {
			return fmt.Errorf("%w: %v %v has no sorted collection", ErrSchemaViolation, t, module)
		}
	default:
		return fmt.Errorf("%w: key kind %d", ErrSchemaViolation, key.Kind)
	}

	return nil
}

// CheckModule verifies that nodes of type t have the given module.
func CheckModule(t ids.EntityType, module ModuleId) error {
	if _, ok := schemas[t][module]; !ok {
		return fmt.Errorf("%w: %v has no %v module", ErrSchemaViolation, t, module)
	}
	return nil
}

// CheckNode verifies every substate of a node about to be created.
func CheckNode(t ids.EntityType, n NodeSubstates) error {
	for module, entries := range n {
		for key := range entries {
			if err := Check(t, module, key); err != nil {
				return err
			}
		}
	}
	return nil
}
