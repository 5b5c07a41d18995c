package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/substate"
	"OwnLedger/internal/types"
)

// ErrCorruptDiff is returned when a serialized diff cannot be decoded.
var ErrCorruptDiff = errors.New("corrupt state diff")

// PartitionRef names a (node, module) partition.
type PartitionRef struct {
	Node   ids.NodeId
	Module substate.ModuleId
}

// Write sets one substate, or deletes it when Value is nil.
type Write struct {
	Node   ids.NodeId
	Module substate.ModuleId
	Key    substate.Key
	Value  *substate.Value
}

// IsDelete reports whether the write removes the substate.
func (w Write) IsDelete() bool {
	return w.Value == nil
}

// StateDiff is the net effect of a transaction on durable state.
// Partition deletes are applied first so later writes into a reset
// partition survive.
type StateDiff struct {
	PartitionDeletes []PartitionRef
	Writes           []Write
}

// Empty reports whether the diff changes nothing.
func (d *StateDiff) Empty() bool {
	return len(d.PartitionDeletes) == 0 && len(d.Writes) == 0
}

// sort orders the diff for deterministic encoding.
func (d *StateDiff) sort() {
	sort.Slice(d.PartitionDeletes, func(i, j int) bool {
		return comparePartition(d.PartitionDeletes[i], d.PartitionDeletes[j]) < 0
	})

	sort.Slice(d.Writes, func(i, j int) bool {
		a, b := d.Writes[i], d.Writes[j]
		if c := comparePartition(PartitionRef{a.Node, a.Module}, PartitionRef{b.Node, b.Module}); c != 0 {
			return c < 0
		}
		return a.Key.Less(b.Key)
	})
}

// comparePartition orders partitions by node bytes then module.
func comparePartition(a, b PartitionRef) int {
	if c := bytes.Compare(a.Node[:], b.Node[:]); c != 0 {
		return c
	}
	return int(a.Module) - int(b.Module)
}

// Encode serializes the diff as a FlatBuffers StateDiff.
func (d *StateDiff) Encode() []byte {
	builder := flatbuffers.NewBuilder(1024)

	writeOffsets := make([]flatbuffers.UOffsetT, len(d.Writes))
	for i, w := range d.Writes {
		nodeVec := builder.CreateByteVector(w.Node[:])
		keyVec := builder.CreateByteVector(w.Key.Encode())

		var valueVec flatbuffers.UOffsetT
		if !w.IsDelete() {
			valueVec = builder.CreateByteVector(substate.Marshal(w.Value))
		}

		types.SubstateWriteStart(builder)
		types.SubstateWriteAddNode(builder, nodeVec)
		types.SubstateWriteAddModule(builder, byte(w.Module))
		types.SubstateWriteAddKey(builder, keyVec)
		if !w.IsDelete() {
			types.SubstateWriteAddValue(builder, valueVec)
		}
		types.SubstateWriteAddDelete(builder, w.IsDelete())
		writeOffsets[i] = types.SubstateWriteEnd(builder)
	}

	deleteOffsets := make([]flatbuffers.UOffsetT, len(d.PartitionDeletes))
	for i, p := range d.PartitionDeletes {
		nodeVec := builder.CreateByteVector(p.Node[:])

		types.PartitionRefStart(builder)
		types.PartitionRefAddNode(builder, nodeVec)
		types.PartitionRefAddModule(builder, byte(p.Module))
		deleteOffsets[i] = types.PartitionRefEnd(builder)
	}

	types.StateDiffStartWritesVector(builder, len(writeOffsets))
	for i := len(writeOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(writeOffsets[i])
	}
	writesVec := builder.EndVector(len(writeOffsets))

	types.StateDiffStartPartitionDeletesVector(builder, len(deleteOffsets))
	for i := len(deleteOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(deleteOffsets[i])
	}
	deletesVec := builder.EndVector(len(deleteOffsets))

	types.StateDiffStart(builder)
	types.StateDiffAddPartitionDeletes(builder, deletesVec)
	types.StateDiffAddWrites(builder, writesVec)
	builder.Finish(types.StateDiffEnd(builder))

	return builder.FinishedBytes()
}

// Hash returns the blake3 hash of the encoded diff.
func (d *StateDiff) Hash() [32]byte {
	return blake3.Sum256(d.Encode())
}

// DecodeStateDiff parses the output of Encode.
func DecodeStateDiff(b []byte) (diff *StateDiff, err error) {
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptDiff, len(b))
	}

	defer func() {
		if r := recover(); r != nil {
			diff, err = nil, fmt.Errorf("%w: %v", ErrCorruptDiff, r)
		}
	}()

	fb := types.GetRootAsStateDiff(b, 0)
	diff = &StateDiff{}

	var ref types.PartitionRef
	for i := 0; i < fb.PartitionDeletesLength(); i++ {
		fb.PartitionDeletes(&ref, i)

		node, err := ids.FromBytes(ref.NodeBytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
		}

		diff.PartitionDeletes = append(diff.PartitionDeletes, PartitionRef{Node: node, Module: substate.ModuleId(ref.Module())})
	}

	var w types.SubstateWrite
	for i := 0; i < fb.WritesLength(); i++ {
		fb.Writes(&w, i)

		write, err := decodeWrite(&w)
		if err != nil {
			return nil, err
		}

		diff.Writes = append(diff.Writes, write)
	}

	return diff, nil
}

// decodeWrite converts one FlatBuffers SubstateWrite.
func decodeWrite(w *types.SubstateWrite) (Write, error) {
	node, err := ids.FromBytes(w.NodeBytes())
	if err != nil {
		return Write{}, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
	}

	key, err := substate.DecodeKey(w.KeyBytes())
	if err != nil {
		return Write{}, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
	}

	out := Write{Node: node, Module: substate.ModuleId(w.Module()), Key: key}
	if w.Delete() {
		return out, nil
	}

	if out.Value, err = substate.Unmarshal(w.ValueBytes()); err != nil {
		return Write{}, fmt.Errorf("%w: %v", ErrCorruptDiff, err)
	}

	return out, nil
}
