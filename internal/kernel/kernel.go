// Package kernel runs one transaction as a stack of call frames over the
// two-tier substate store, enforcing single ownership of nodes, lock
// discipline and orphan detection at every frame exit.
package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

const (
	// DefaultMaxDepth bounds nested invocations.
	DefaultMaxDepth = 16

	// rootBlueprint names the actor of the root frame.
	rootBlueprint = "transaction"

	// AccountBlueprint serves virtual and allocated accounts.
	AccountBlueprint = "Account"

	// IdentityBlueprint serves virtual identities.
	IdentityBlueprint = "Identity"
)

// Config tunes a Kernel.
type Config struct {
	MaxDepth int          // MaxDepth bounds nesting; 0 selects DefaultMaxDepth
	Reserved []ids.NodeId // Reserved ids may be created without allocation
}

// Event is an application event emitted during the transaction.
type Event struct {
	Emitter Actor  // Emitter is the frame actor that emitted it
	Name    string // Name identifies the event type
	Data    []byte // Data is the opaque payload
}

// LogEntry is an application log line.
type LogEntry struct {
	Actor   Actor
	Level   slog.Level
	Message string
}

// Stats counts kernel activity for receipts.
type Stats struct {
	Invocations  int // Invocations is the number of frames pushed
	MaxDepth     int // MaxDepth is the deepest frame reached
	NodesCreated int // NodesCreated counts CreateNode calls
	LocksOpened  int // LocksOpened counts OpenSubstate calls
	Writes       int // Writes counts substate writes
}

// Kernel executes one transaction. It is not safe for concurrent use.
type Kernel struct {
	ctx        context.Context
	heap       *store.Heap
	track      *store.Track
	dispatcher Dispatcher
	modules    []Module
	alloc      *ids.Allocator
	allocated  map[ids.NodeId]struct{} // allocated ids not yet used by CreateNode
	owners     *ownership              // owners is the explicit owner map
	frames     []*CallFrame            // frames is the call stack, root first
	nextLock   LockHandle              // nextLock is the next kernel lock handle
	privileged int                     // privileged is > 0 while module hooks run
	maxDepth   int
	poison     error // poison is the first invocation failure
	events     []Event
	logs       []LogEntry
	stats      Stats
}

// New creates a kernel for one transaction.
func New(ctx context.Context, heap *store.Heap, track *store.Track, dispatcher Dispatcher, alloc *ids.Allocator, cfg Config, modules ...Module) *Kernel {
	k := &Kernel{
		ctx:        ctx,
		heap:       heap,
		track:      track,
		dispatcher: dispatcher,
		modules:    modules,
		alloc:      alloc,
		allocated:  make(map[ids.NodeId]struct{}),
		owners:     newOwnership(),
		nextLock:   1,
		maxDepth:   cfg.MaxDepth,
	}

	if k.maxDepth <= 0 {
		k.maxDepth = DefaultMaxDepth
	}

	for _, id := range cfg.Reserved {
		k.allocated[id] = struct{}{}
	}

	return k
}

// Run executes the transaction entry point from a fresh root frame. On
// success no node is left orphaned and the heap is empty.
func (k *Kernel) Run(entry Actor, args *substate.Value) (*substate.Value, error) {
	if len(k.frames) != 0 {
		return nil, fmt.Errorf("kernel already running")
	}
	if args == nil {
		args = &substate.Value{}
	}

	root := newFrame(0, Function(rootBlueprint, "run"))
	for _, ref := range args.Refs {
		if !ref.IsGlobal() {
			return nil, fmt.Errorf("%w: %v", ErrTransactionRef, ref)
		}
		root.immortal.Add(ref)
	}
	k.frames = []*CallFrame{root}

	if err := k.runHooks(Module.OnPushFrame); err != nil {
		return nil, fmt.Errorf("root frame:\n%w", err)
	}

	out, err := k.Invoke(entry, args)
	if err != nil {
		return nil, err
	}
	if k.poison != nil {
		return nil, k.poison
	}

	if err := k.runHooks(Module.OnPopFrame); err != nil {
		return nil, fmt.Errorf("root frame:\n%w", err)
	}
	k.releaseAll(root)

	if orphans := root.ownedIds(); len(orphans) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrOrphanedNodes, orphans)
	}

	k.frames = nil

	if k.heap.Len() > 0 {
		left := k.heap.NodeIds()
		sortIds(left)
		return nil, fmt.Errorf("%w: %v", ErrHeapNotEmpty, left)
	}

	return out, nil
}

// Invoke pushes a frame for actor and dispatches to it. Any failure
// poisons the kernel so the transaction cannot commit even if the caller
// recovers.
func (k *Kernel) Invoke(actor Actor, args *substate.Value) (*substate.Value, error) {
	out, err := k.invoke(actor, args)
	if err != nil && k.poison == nil {
		k.poison = err
	}
	return out, err
}

// invoke implements Invoke.
func (k *Kernel) invoke(actor Actor, args *substate.Value) (*substate.Value, error) {
	if err := k.ctx.Err(); err != nil {
		return nil, err
	}

	caller := k.current()
	if caller.depth+1 > k.maxDepth {
		return nil, fmt.Errorf("%w: %d", ErrMaxCallDepth, k.maxDepth)
	}
	if args == nil {
		args = &substate.Value{}
	}

	if actor.IsMethod() {
		if err := k.checkMethod(caller, actor); err != nil {
			return nil, err
		}
	}
	if err := k.checkMovable(caller, args.Owns); err != nil {
		return nil, fmt.Errorf("invoke %s:\n%w", actor, err)
	}
	if err := k.checkRefs(caller, args.Refs); err != nil {
		return nil, fmt.Errorf("invoke %s:\n%w", actor, err)
	}

	callee := newFrame(caller.depth+1, actor)
	for _, id := range args.Owns {
		caller.owned.Remove(id)
		callee.owned.Add(id)
	}
	for _, ref := range args.Refs {
		callee.immortal.Add(ref)
	}
	if actor.IsMethod() {
		callee.immortal.Add(actor.Receiver)
	}

	k.frames = append(k.frames, callee)
	k.stats.Invocations++
	if callee.depth > k.stats.MaxDepth {
		k.stats.MaxDepth = callee.depth
	}

	logger.Debug("frame pushed", "depth", callee.depth, "actor", actor.String())

	if err := k.runHooks(Module.OnPushFrame); err != nil {
		k.abortFrame()
		return nil, fmt.Errorf("invoke %s:\n%w", actor, err)
	}

	out, err := k.dispatcher.Invoke(k.ctx, actor, args.Clone(), k)
	if err != nil {
		k.abortFrame()
		return nil, fmt.Errorf("invoke %s:\n%w", actor, err)
	}
	if out == nil {
		out = &substate.Value{}
	}

	if err := k.exitFrame(callee, caller, out); err != nil {
		k.abortFrame()
		return nil, fmt.Errorf("return from %s:\n%w", actor, err)
	}

	return out, nil
}

// checkMethod verifies the caller may run actor on its receiver. An auth
// zone only serves the frame it belongs to.
func (k *Kernel) checkMethod(caller *CallFrame, actor Actor) error {
	if !caller.visible(actor.Receiver) {
		return fmt.Errorf("%w: receiver %v", ErrNodeNotVisible, actor.Receiver)
	}
	if actor.Receiver.EntityType() == ids.EntityTransientAuthZone && actor.Receiver != caller.authZone {
		return fmt.Errorf("%w: auth zone %v of another frame", ErrNodeNotVisible, actor.Receiver)
	}

	return k.checkReceiver(actor)
}

// exitFrame moves the output to the caller, runs pop hooks and checks
// that the callee left nothing behind.
func (k *Kernel) exitFrame(callee, caller *CallFrame, out *substate.Value) error {
	k.releaseAll(callee)

	if err := k.checkMovable(callee, out.Owns); err != nil {
		return err
	}
	for _, ref := range out.Refs {
		if !ref.IsGlobal() {
			return fmt.Errorf("%w: %v", ErrInvalidReturnRef, ref)
		}
	}
	if err := k.checkRefs(callee, out.Refs); err != nil {
		return err
	}

	for _, id := range out.Owns {
		callee.owned.Remove(id)
		caller.owned.Add(id)
	}

	if err := k.runHooks(Module.OnPopFrame); err != nil {
		return err
	}
	k.releaseAll(callee)

	if orphans := callee.ownedIds(); len(orphans) > 0 {
		return fmt.Errorf("%w: %v", ErrOrphanedNodes, orphans)
	}

	k.frames = k.frames[:len(k.frames)-1]

	for _, ref := range out.Refs {
		caller.immortal.Add(ref)
	}

	logger.Debug("frame popped", "depth", callee.depth, "actor", callee.actor.String())

	return nil
}

// abortFrame pops the current frame after a failure. Nodes it owned stay
// in the heap; the poisoned transaction discards them.
func (k *Kernel) abortFrame() {
	f := k.current()
	k.releaseAll(f)
	k.frames = k.frames[:len(k.frames)-1]

	logger.Debug("frame aborted", "depth", f.depth, "actor", f.actor.String())
}

// releaseAll closes every lock still held by a frame.
func (k *Kernel) releaseAll(f *CallFrame) {
	for _, h := range f.lockHandles() {
		lk := f.locks[h]
		lk.st.ReleaseLock(lk.handle)
		f.hideTemp(lk.temps)
		delete(f.locks, h)
	}
}

// runHooks calls one hook of every module with privileged checks.
func (k *Kernel) runHooks(hook func(Module, *Kernel) error) error {
	k.privileged++
	defer func() { k.privileged-- }()

	for _, m := range k.modules {
		if err := hook(m, k); err != nil {
			return err
		}
	}

	return nil
}

// current returns the top frame.
func (k *Kernel) current() *CallFrame {
	return k.frames[len(k.frames)-1]
}

// Frame returns the current frame.
func (k *Kernel) Frame() *CallFrame {
	return k.current()
}

// ParentFrame returns the caller of the current frame, or nil at the root.
func (k *Kernel) ParentFrame() *CallFrame {
	if len(k.frames) < 2 {
		return nil
	}
	return k.frames[len(k.frames)-2]
}

// SetAuthZone records the auth zone node of the current frame.
func (k *Kernel) SetAuthZone(id ids.NodeId) {
	k.current().authZone = id
}

// Poisoned returns the first invocation failure, if any.
func (k *Kernel) Poisoned() error {
	return k.poison
}

// Events returns the events emitted so far.
func (k *Kernel) Events() []Event {
	return k.events
}

// Logs returns the application logs recorded so far.
func (k *Kernel) Logs() []LogEntry {
	return k.logs
}

// Stats returns activity counters.
func (k *Kernel) Stats() Stats {
	return k.stats
}

// Actor implements API.
func (k *Kernel) Actor() Actor {
	return k.current().actor
}

// Depth implements API.
func (k *Kernel) Depth() int {
	return k.current().depth
}

// AuthZone implements API.
func (k *Kernel) AuthZone() ids.NodeId {
	return k.current().authZone
}

// Context implements API.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// EmitEvent implements API.
func (k *Kernel) EmitEvent(name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("event name is empty")
	}

	k.events = append(k.events, Event{
		Emitter: k.current().actor,
		Name:    name,
		Data:    append([]byte(nil), data...),
	})

	return nil
}

// Log implements API.
func (k *Kernel) Log(level slog.Level, msg string) {
	actor := k.current().actor
	k.logs = append(k.logs, LogEntry{Actor: actor, Level: level, Message: msg})

	logger.Debug("application log", "actor", actor.String(), "level", level.String(), "msg", msg)
}
