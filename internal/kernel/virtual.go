package kernel

import (
	"OwnLedger/internal/ids"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// virtualRule materializes a default substate for one entity type.
type virtualRule struct {
	module substate.ModuleId
	kind   substate.KeyKind
	field  uint8 // field is only checked for KindField rules
}

// virtualTable lists the substates that exist implicitly. Virtual accounts
// and identities start with an empty main state owned by the key their
// address derives from; key-value store entries start empty.
var virtualTable = map[ids.EntityType][]virtualRule{
	ids.EntityGlobalVirtualAccount:  {{module: substate.ModuleMain, kind: substate.KindField, field: 0}},
	ids.EntityGlobalVirtualIdentity: {{module: substate.ModuleMain, kind: substate.KindField, field: 0}},
	ids.EntityInternalKeyValueStore: {{module: substate.ModuleMain, kind: substate.KindMap}},
}

// virtualBlueprints are the blueprints of entities that exist before
// anything is written to them.
var virtualBlueprints = map[ids.EntityType]string{
	ids.EntityGlobalVirtualAccount:  AccountBlueprint,
	ids.EntityGlobalVirtualIdentity: IdentityBlueprint,
}

// virtualizer returns the materializer for a substate, or nil when the
// substate cannot exist implicitly.
func virtualizer(id ids.NodeId, module substate.ModuleId, key substate.Key) store.Virtualizer {
	if module == substate.ModuleTypeInfo && key == typeInfoField {
		return virtualTypeInfo(id)
	}

	for _, rule := range virtualTable[id.EntityType()] {
		if rule.module != module || rule.kind != key.Kind {
			continue
		}
		if rule.kind == substate.KindField && rule.field != key.Field {
			continue
		}

		return func() (*substate.Value, bool) {
			return &substate.Value{}, true
		}
	}

	return nil
}
