package kernel

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// typeInfoField is the only field of the type info module.
var typeInfoField = substate.FieldKey(0)

// TypeInfo records which blueprint a node belongs to. Only frames running
// code of the same package may mutate the node, and only methods of that
// blueprint may use it as receiver.
type TypeInfo struct {
	Blueprint string // Blueprint serves the node's methods
	Outer     string // Outer is the blueprint of the frame that created it
}

func (t *TypeInfo) value() *substate.Value {
	return &substate.Value{
		Data:      codec.NewWriter(32).String(t.Blueprint).String(t.Outer).Bytes(),
		Immutable: true,
	}
}

// DecodeTypeInfo parses a type info substate.
func DecodeTypeInfo(v *substate.Value) (*TypeInfo, error) {
	r := codec.NewReader(v.Data)

	t := &TypeInfo{Blueprint: r.String(), Outer: r.String()}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode type info:\n%w", err)
	}

	return t, nil
}

// Packager groups blueprints into packages. A dispatcher that does not
// implement it puts every blueprint in a package of its own.
type Packager interface {
	PackageOf(blueprint string) string
}

// packageOf returns the package of a blueprint.
func (k *Kernel) packageOf(blueprint string) string {
	if p, ok := k.dispatcher.(Packager); ok {
		return p.PackageOf(blueprint)
	}
	return blueprint
}

// TypeInfo returns the type info of a node, reading it without frame
// visibility checks.
func (k *Kernel) TypeInfo(id ids.NodeId) (*TypeInfo, error) {
	st := k.storeFor(id)

	h, _, err := st.AcquireLock(id, substate.ModuleTypeInfo, typeInfoField, 0, virtualTypeInfo(id))
	if err != nil {
		return nil, fmt.Errorf("type info of %v:\n%w", id, err)
	}
	defer st.ReleaseLock(h)

	return DecodeTypeInfo(st.ReadSubstate(h))
}

// checkMutable verifies the current frame may mutate a module of a node.
// Type info never changes after creation.
func (k *Kernel) checkMutable(id ids.NodeId, module substate.ModuleId) error {
	if module == substate.ModuleTypeInfo {
		return fmt.Errorf("%w: type info of %v is immutable", ErrAccessDenied, id)
	}
	if k.privileged > 0 {
		return nil
	}

	info, err := k.TypeInfo(id)
	if err != nil {
		return err
	}

	actor := k.current().actor
	if k.packageOf(actor.Blueprint) != k.packageOf(info.Blueprint) {
		return fmt.Errorf("%w: %s cannot mutate %s node %v", ErrAccessDenied, actor, info.Blueprint, id)
	}

	return nil
}

// checkReceiver verifies a method actor names the blueprint of its receiver.
func (k *Kernel) checkReceiver(actor Actor) error {
	info, err := k.TypeInfo(actor.Receiver)
	if err != nil {
		return err
	}

	if info.Blueprint != actor.Blueprint {
		return fmt.Errorf("%w: %v is a %s node, not %s", ErrBlueprintMismatch, actor.Receiver, info.Blueprint, actor.Blueprint)
	}

	return nil
}

// virtualTypeInfo materializes the type info of virtual entities.
func virtualTypeInfo(id ids.NodeId) store.Virtualizer {
	bp, ok := virtualBlueprints[id.EntityType()]
	if !ok {
		return nil
	}

	return func() (*substate.Value, bool) {
		return (&TypeInfo{Blueprint: bp}).value(), true
	}
}
