// Package podvm runs WASM blueprints under the kernel. Compiled modules
// are cached by id and instantiated per invocation against a shared host
// module that exposes the substate API.
package podvm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

var (
	// ErrModuleNotFound is returned when a module ID is not found in the pool.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when execution runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")

	// ErrMemoryAccess is returned when a host call touches memory outside the guest.
	ErrMemoryAccess = errors.New("guest memory access out of range")

	// ErrNoEntryPoint is returned when a module does not export execute.
	ErrNoEntryPoint = errors.New("execute function not exported")
)

// Pool manages a pool of compiled WASM modules.
// Modules are compiled once and kept hot-loaded for fast instantiation.
type Pool struct {
	runtime wazero.Runtime                     // runtime is the wazero runtime instance
	host    api.Module                         // host is the shared "env" module
	modules map[[32]byte]wazero.CompiledModule // modules maps module id to compiled module
	mu      sync.RWMutex                       // mu protects modules map
}

// New creates a new Pool with an initialized wazero runtime.
func New(ctx context.Context) (*Pool, error) {
	p := &Pool{
		runtime: wazero.NewRuntime(ctx),
		modules: make(map[[32]byte]wazero.CompiledModule),
	}

	host, err := p.buildHostModule(ctx)
	if err != nil {
		_ = p.runtime.Close(ctx)
		return nil, fmt.Errorf("build host module:\n%w", err)
	}
	p.host = host

	return p, nil
}

// Load compiles and stores a WASM module.
// If customID is nil, uses the blake3 hash of wasmBytes as the module ID.
// Returns the module ID used.
func (p *Pool) Load(ctx context.Context, wasmBytes []byte, customID *[32]byte) ([32]byte, error) {
	var id [32]byte
	if customID != nil {
		id = *customID
	} else {
		id = blake3.Sum256(wasmBytes)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("compile module:\n%w", err)
	}

	p.modules[id] = compiled

	return id, nil
}

// Execute runs a module against the kernel with the given input and gas
// limit. Returns the value the guest produced and the amount of gas
// consumed.
func (p *Pool) Execute(ctx context.Context, id [32]byte, k kernel.API, input []byte, gasLimit uint64) (*substate.Value, uint64, error) {
	p.mu.RLock()
	compiled, exists := p.modules[id]
	p.mu.RUnlock()

	if !exists {
		return nil, 0, ErrModuleNotFound
	}

	execCtx := &execContext{
		api:      k,
		input:    input,
		gasLimit: gasLimit,
	}
	ctx = context.WithValue(ctx, execKey{}, execCtx)

	// Anonymous instances so nested calls may run the same module.
	instance, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, execCtx.gasUsed, fmt.Errorf("instantiate module:\n%w", err)
	}
	defer instance.Close(ctx)

	return callExecute(ctx, instance, execCtx)
}

// callExecute calls the execute function on the WASM instance.
func callExecute(ctx context.Context, instance api.Module, execCtx *execContext) (*substate.Value, uint64, error) {
	executeFn := instance.ExportedFunction("execute")
	if executeFn == nil {
		return nil, execCtx.gasUsed, ErrNoEntryPoint
	}

	if _, err := executeFn.Call(ctx); err != nil {
		switch {
		case execCtx.gasExhausted:
			return nil, execCtx.gasUsed, ErrGasExhausted
		case execCtx.err != nil:
			return nil, execCtx.gasUsed, execCtx.err
		}
		return nil, execCtx.gasUsed, fmt.Errorf("execute:\n%w", err)
	}

	return execCtx.value(), execCtx.gasUsed, nil
}

// Unload removes a module from the pool.
func (p *Pool) Unload(ctx context.Context, id [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		_ = compiled.Close(ctx)
		delete(p.modules, id)
	}
}

// Close releases all resources held by the pool.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		_ = compiled.Close(ctx)
		delete(p.modules, id)
	}

	return p.runtime.Close(ctx)
}
