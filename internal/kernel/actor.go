package kernel

import (
	"context"
	"fmt"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
)

// Actor is the target of an invocation. Receiver is zero for functions.
type Actor struct {
	Receiver  ids.NodeId // Receiver is the node a method runs on
	Blueprint string     // Blueprint names the code package
	Function  string     // Function names the entry point
}

// Method builds a method actor.
func Method(receiver ids.NodeId, blueprint, function string) Actor {
	return Actor{Receiver: receiver, Blueprint: blueprint, Function: function}
}

// Function builds a function actor.
func Function(blueprint, function string) Actor {
	return Actor{Blueprint: blueprint, Function: function}
}

// IsMethod reports whether the actor has a receiver.
func (a Actor) IsMethod() bool {
	return !a.Receiver.IsZero()
}

// String renders the actor for logs.
func (a Actor) String() string {
	if a.IsMethod() {
		return fmt.Sprintf("%s::%s@%s", a.Blueprint, a.Function, a.Receiver)
	}
	return a.Blueprint + "::" + a.Function
}

// Dispatcher runs application logic for one invocation.
type Dispatcher interface {
	Invoke(ctx context.Context, actor Actor, args *substate.Value, api API) (*substate.Value, error)
}

// NativeFunc is a function compiled into the node.
type NativeFunc func(api API, args *substate.Value) (*substate.Value, error)

// Registry dispatches by blueprint and function name. Whole blueprints can
// be delegated to another Dispatcher.
type Registry struct {
	funcs    map[string]NativeFunc // funcs are keyed by "blueprint::function"
	natives  map[string]struct{}   // natives are blueprints with registered functions
	mounted  map[string]Dispatcher // mounted serve every function of a blueprint
	packages map[string]string     // packages maps blueprints to their package
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    make(map[string]NativeFunc),
		natives:  make(map[string]struct{}),
		mounted:  make(map[string]Dispatcher),
		packages: make(map[string]string),
	}
}

// Package groups blueprints into one package. Code of any of them may
// mutate nodes of the others.
func (r *Registry) Package(pkg string, blueprints ...string) {
	for _, bp := range blueprints {
		r.packages[bp] = pkg
	}
}

// PackageOf implements Packager. Ungrouped blueprints form their own package.
func (r *Registry) PackageOf(blueprint string) string {
	if pkg, ok := r.packages[blueprint]; ok {
		return "package/" + pkg
	}
	return "blueprint/" + blueprint
}

// Register adds a native function.
func (r *Registry) Register(blueprint, function string, fn NativeFunc) {
	r.funcs[blueprint+"::"+function] = fn
	r.natives[blueprint] = struct{}{}
}

// Serves reports whether a blueprint already has native functions, a
// mounted dispatcher or a package.
func (r *Registry) Serves(blueprint string) bool {
	_, native := r.natives[blueprint]
	_, mounted := r.mounted[blueprint]
	_, grouped := r.packages[blueprint]
	return native || mounted || grouped
}

// Mount delegates a whole blueprint to d.
func (r *Registry) Mount(blueprint string, d Dispatcher) {
	r.mounted[blueprint] = d
}

// Invoke implements Dispatcher.
func (r *Registry) Invoke(ctx context.Context, actor Actor, args *substate.Value, api API) (*substate.Value, error) {
	if fn, ok := r.funcs[actor.Blueprint+"::"+actor.Function]; ok {
		return fn(api, args)
	}

	if d, ok := r.mounted[actor.Blueprint]; ok {
		return d.Invoke(ctx, actor, args, api)
	}

	return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, actor)
}
