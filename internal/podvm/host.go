package podvm

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero/api"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

// hostCallCost is charged for every host call on top of guest metering.
const hostCallCost = 10

// execKey carries the execContext of a call through wazero.
type execKey struct{}

// execContext holds the state of a single guest invocation.
type execContext struct {
	api          kernel.API      // api is the kernel of the running transaction
	input        []byte          // input is the encoded call
	output       []byte          // output is what the guest wrote
	returned     *substate.Value // returned is the value set by return_value
	result       []byte          // result is the encoded value of the last invoke
	gasLimit     uint64          // gasLimit is the maximum gas allowed
	gasUsed      uint64          // gasUsed tracks consumed gas
	gasExhausted bool            // gasExhausted is true if gas limit was exceeded
	err          error           // err is the kernel error that aborted the guest
}

// abort is the panic value used to unwind the guest.
type abort struct{}

// fail records err and unwinds the guest.
func (e *execContext) fail(err error) {
	if e.err == nil {
		e.err = err
	}
	panic(abort{})
}

// value is what the call returns: the value set by return_value, or the
// written output as data.
func (e *execContext) value() *substate.Value {
	if e.returned == nil {
		return &substate.Value{Data: e.output}
	}
	return e.returned
}

// charge consumes gas and unwinds the guest once the limit is passed.
func (e *execContext) charge(cost uint64) {
	e.gasUsed += cost
	if e.gasUsed > e.gasLimit {
		e.gasExhausted = true
		panic(abort{})
	}
}

// from returns the execContext of a host call.
func from(ctx context.Context) *execContext {
	e, _ := ctx.Value(execKey{}).(*execContext)
	if e == nil {
		panic(abort{})
	}
	e.charge(hostCallCost)
	return e
}

// read copies guest memory or aborts.
func (e *execContext) read(m api.Module, ptr, length uint32) []byte {
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		e.fail(ErrMemoryAccess)
	}
	return append([]byte(nil), data...)
}

// write copies into guest memory or aborts.
func (e *execContext) write(m api.Module, ptr uint32, data []byte) {
	if len(data) > 0 && !m.Memory().Write(ptr, data) {
		e.fail(ErrMemoryAccess)
	}
}

// nodeAt reads a node id from guest memory.
func (e *execContext) nodeAt(m api.Module, ptr uint32) ids.NodeId {
	id, err := ids.FromBytes(e.read(m, ptr, ids.NodeIdLength))
	if err != nil {
		e.fail(err)
	}
	return id
}

// buildHostModule instantiates the "env" module. Its functions find the
// running call through the context, so one instance serves nested calls.
func (p *Pool) buildHostModule(ctx context.Context) (api.Module, error) {
	return p.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			from(ctx).charge(uint64(cost))
		}).
		Export("gas").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint32 {
			return uint32(len(from(ctx).input))
		}).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr uint32) {
			e := from(ctx)
			e.write(m, ptr, e.input)
		}).
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) {
			e := from(ctx)
			e.output = e.read(m, ptr, length)
		}).
		Export("write_output").
		NewFunctionBuilder().
		WithFunc(hostOpenSubstate).
		Export("open_substate").
		NewFunctionBuilder().
		WithFunc(hostSubstateLen).
		Export("substate_len").
		NewFunctionBuilder().
		WithFunc(hostReadSubstate).
		Export("read_substate").
		NewFunctionBuilder().
		WithFunc(hostWriteSubstate).
		Export("write_substate").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, h uint32) {
			e := from(ctx)
			if err := e.api.CloseSubstate(kernel.LockHandle(h)); err != nil {
				e.fail(err)
			}
		}).
		Export("close_substate").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, level int32, ptr, length uint32) {
			e := from(ctx)
			e.api.Log(slog.Level(level), string(e.read(m, ptr, length)))
		}).
		Export("log").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, namePtr, nameLen, dataPtr, dataLen uint32) {
			e := from(ctx)
			name := string(e.read(m, namePtr, nameLen))
			if err := e.api.EmitEvent(name, e.read(m, dataPtr, dataLen)); err != nil {
				e.fail(err)
			}
		}).
		Export("emit_event").
		NewFunctionBuilder().
		WithFunc(hostInvoke).
		Export("invoke").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr uint32) {
			e := from(ctx)
			e.write(m, ptr, e.result)
		}).
		Export("read_result").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) {
			e := from(ctx)
			e.returned = e.valueAt(m, ptr, length)
		}).
		Export("return_value").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, entityType, ptr uint32) {
			e := from(ctx)
			id, err := e.api.AllocateNodeId(ids.EntityType(entityType))
			if err != nil {
				e.fail(err)
			}
			e.write(m, ptr, id[:])
		}).
		Export("allocate_node").
		NewFunctionBuilder().
		WithFunc(hostCreateNode).
		Export("create_node").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, nodePtr uint32) {
			e := from(ctx)
			if err := e.api.Globalize(e.nodeAt(m, nodePtr)); err != nil {
				e.fail(err)
			}
		}).
		Export("globalize").
		Instantiate(ctx)
}

// valueAt decodes a value encoded with substate.Marshal from guest memory.
func (e *execContext) valueAt(m api.Module, ptr, length uint32) *substate.Value {
	v, err := substate.Unmarshal(e.read(m, ptr, length))
	if err != nil {
		e.fail(err)
	}
	return v
}

// hostInvoke calls another blueprint. The actor is encoded with
// EncodeActor and the arguments with substate.Marshal, so owned nodes move
// and references pass along. The encoded result is kept for read_result
// and its length returned.
func hostInvoke(ctx context.Context, m api.Module, actorPtr, actorLen, argsPtr, argsLen uint32) uint32 {
	e := from(ctx)

	actor, err := decodeActor(e.read(m, actorPtr, actorLen))
	if err != nil {
		e.fail(err)
	}
	args := e.valueAt(m, argsPtr, argsLen)

	out, err := e.api.Invoke(actor, args)
	if err != nil {
		e.fail(err)
	}
	if out == nil {
		out = &substate.Value{}
	}

	e.result = substate.Marshal(out)
	return uint32(len(e.result))
}

// hostCreateNode creates a node of the running blueprint whose main
// field 0 holds the encoded value.
func hostCreateNode(ctx context.Context, m api.Module, nodePtr, valuePtr, valueLen uint32) {
	e := from(ctx)

	id := e.nodeAt(m, nodePtr)
	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, substate.FieldKey(0), e.valueAt(m, valuePtr, valueLen))

	if err := e.api.CreateNode(id, e.api.Actor().Blueprint, subs); err != nil {
		e.fail(err)
	}
}

// hostOpenSubstate locks a main-module field of a node and returns the
// handle.
func hostOpenSubstate(ctx context.Context, m api.Module, nodePtr, field, flags uint32) uint32 {
	e := from(ctx)

	h, err := e.api.OpenSubstate(e.nodeAt(m, nodePtr), substate.ModuleMain, substate.FieldKey(uint8(field)), substate.LockFlags(flags))
	if err != nil {
		e.fail(err)
	}
	return uint32(h)
}

// hostSubstateLen returns the data length of a locked substate.
func hostSubstateLen(ctx context.Context, h uint32) uint32 {
	e := from(ctx)

	v, err := e.api.ReadSubstate(kernel.LockHandle(h))
	if err != nil {
		e.fail(err)
	}
	return uint32(len(v.Data))
}

// hostReadSubstate copies the data of a locked substate to ptr and
// returns its length.
func hostReadSubstate(ctx context.Context, m api.Module, h, ptr uint32) uint32 {
	e := from(ctx)

	v, err := e.api.ReadSubstate(kernel.LockHandle(h))
	if err != nil {
		e.fail(err)
	}
	e.write(m, ptr, v.Data)
	return uint32(len(v.Data))
}

// hostWriteSubstate replaces the data of a locked substate. Owned and
// referenced nodes are kept; guests cannot move nodes.
func hostWriteSubstate(ctx context.Context, m api.Module, h, ptr, length uint32) {
	e := from(ctx)

	v, err := e.api.ReadSubstate(kernel.LockHandle(h))
	if err != nil {
		e.fail(err)
	}
	v.Data = e.read(m, ptr, length)

	if err := e.api.WriteSubstate(kernel.LockHandle(h), v); err != nil {
		e.fail(err)
	}
}
