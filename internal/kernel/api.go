package kernel

import (
	"context"
	"log/slog"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// LockHandle identifies a substate lock opened by a frame.
type LockHandle uint32

// API is what application code sees of the kernel. Every call acts on
// behalf of the current call frame.
type API interface {
	// AllocateNodeId reserves a fresh id for a node of type t.
	AllocateNodeId(t ids.EntityType) (ids.NodeId, error)

	// CreateNode creates a heap node of blueprint owned by the current
	// frame. The blueprint must belong to the package of the current actor.
	// Owns in the substates are moved from the frame into the new node.
	CreateNode(id ids.NodeId, blueprint string, substates substate.NodeSubstates) error

	// DropNode destroys an owned heap node and returns its substates. Nodes
	// it owned become owned by the frame.
	DropNode(id ids.NodeId) (substate.NodeSubstates, error)

	// Globalize persists an owned global node and its subtree.
	Globalize(id ids.NodeId) error

	// OpenSubstate locks a substate of a visible node.
	OpenSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, flags substate.LockFlags) (LockHandle, error)

	// ReadSubstate returns a copy of the locked value.
	ReadSubstate(h LockHandle) (*substate.Value, error)

	// WriteSubstate replaces the locked value, transferring ownership of
	// added and removed owns.
	WriteSubstate(h LockHandle, v *substate.Value) error

	// CloseSubstate releases a lock.
	CloseSubstate(h LockHandle) error

	// SetSubstate writes a substate without holding a lock.
	SetSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error

	// RemoveSubstate deletes a substate and returns its value.
	RemoveSubstate(id ids.NodeId, module substate.ModuleId, key substate.Key) (*substate.Value, error)

	// ScanSubstates lists up to limit substates of a module by key order.
	ScanSubstates(id ids.NodeId, module substate.ModuleId, limit int) ([]substate.Entry, error)

	// DeletePartition removes every substate of a module.
	DeletePartition(id ids.NodeId, module substate.ModuleId) error

	// Invoke calls another function, moving args.Owns and copying args.Refs.
	Invoke(actor Actor, args *substate.Value) (*substate.Value, error)

	// Actor returns the actor of the current frame.
	Actor() Actor

	// Depth returns the depth of the current frame; the root is 0.
	Depth() int

	// AuthZone returns the auth zone node of the current frame.
	AuthZone() ids.NodeId

	// EmitEvent records an application event.
	EmitEvent(name string, data []byte) error

	// Log records an application log line.
	Log(level slog.Level, msg string)

	// Context returns the context of the running transaction.
	Context() context.Context
}

// Module is a system extension notified around every frame. Hooks run
// with privileged reference checks.
type Module interface {
	// OnPushFrame runs after a frame is pushed, before dispatch.
	OnPushFrame(k *Kernel) error

	// OnPopFrame runs before the orphan check of an exiting frame.
	OnPopFrame(k *Kernel) error
}
