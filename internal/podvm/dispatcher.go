package podvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

// DefaultGasLimit bounds a single guest invocation.
const DefaultGasLimit = 1_000_000

var (
	// ErrNotDeployed is returned for a blueprint with no module behind it.
	ErrNotDeployed = errors.New("blueprint not deployed")

	// ErrBlueprintTaken is returned when deploying over a blueprint the
	// registry already serves.
	ErrBlueprintTaken = errors.New("blueprint already served")
)

// Dispatcher serves mounted blueprints from WASM modules in a Pool.
//
// The guest input is the receiver id (30 bytes, zero for functions),
// followed by the function name and the argument data, both length
// prefixed, then the owned and referenced node ids, each list prefixed by
// its count. The guest output becomes the returned value's data unless the
// guest returns a whole value through return_value.
type Dispatcher struct {
	pool       *Pool
	gasLimit   uint64
	mu         sync.RWMutex
	blueprints map[string][32]byte
}

// NewDispatcher creates a dispatcher over pool. A zero gasLimit selects
// DefaultGasLimit.
func NewDispatcher(pool *Pool, gasLimit uint64) *Dispatcher {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Dispatcher{
		pool:       pool,
		gasLimit:   gasLimit,
		blueprints: make(map[string][32]byte),
	}
}

// Deploy compiles wasm and mounts it as blueprint on reg. Native and
// already deployed blueprints cannot be replaced.
func (d *Dispatcher) Deploy(ctx context.Context, reg *kernel.Registry, blueprint string, wasm []byte) ([32]byte, error) {
	if reg.Serves(blueprint) {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrBlueprintTaken, blueprint)
	}

	id, err := d.pool.Load(ctx, wasm, nil)
	if err != nil {
		return id, fmt.Errorf("deploy %s:\n%w", blueprint, err)
	}

	d.mu.Lock()
	d.blueprints[blueprint] = id
	d.mu.Unlock()

	reg.Mount(blueprint, d)
	return id, nil
}

// Invoke implements kernel.Dispatcher.
func (d *Dispatcher) Invoke(ctx context.Context, actor kernel.Actor, args *substate.Value, api kernel.API) (*substate.Value, error) {
	d.mu.RLock()
	id, ok := d.blueprints[actor.Blueprint]
	d.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDeployed, actor.Blueprint)
	}

	out, gas, err := d.pool.Execute(ctx, id, api, EncodeInput(actor, args), d.gasLimit)
	if err != nil {
		return nil, fmt.Errorf("guest %s:\n%w", actor, err)
	}

	api.Log(slog.LevelDebug, fmt.Sprintf("guest %s used %d gas", actor, gas))
	return out, nil
}

// EncodeInput builds the guest input for an invocation.
func EncodeInput(actor kernel.Actor, args *substate.Value) []byte {
	if args == nil {
		args = &substate.Value{}
	}

	w := codec.NewWriter(64 + len(args.Data)).
		NodeId(actor.Receiver).
		String(actor.Function).
		Vec(args.Data)
	writeIds(w, args.Owns)
	writeIds(w, args.Refs)

	return w.Bytes()
}

func writeIds(w *codec.Writer, list []ids.NodeId) {
	w.U32(uint32(len(list)))
	for _, id := range list {
		w.NodeId(id)
	}
}

// EncodeActor builds the actor argument of the invoke host call.
func EncodeActor(actor kernel.Actor) []byte {
	return codec.NewWriter(64).
		NodeId(actor.Receiver).
		String(actor.Blueprint).
		String(actor.Function).
		Bytes()
}

// decodeActor parses the output of EncodeActor.
func decodeActor(b []byte) (kernel.Actor, error) {
	r := codec.NewReader(b)
	actor := kernel.Actor{Receiver: r.NodeId(), Blueprint: r.String(), Function: r.String()}
	return actor, r.Done()
}
