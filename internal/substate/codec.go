package substate

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/types"
)

// ErrCorruptValue is returned when a persisted substate cannot be decoded.
var ErrCorruptValue = errors.New("corrupt substate value")

// Marshal encodes v as a FlatBuffers Substate table.
func Marshal(v *Value) []byte {
	builder := flatbuffers.NewBuilder(64 + len(v.Data) + ids.NodeIdLength*(len(v.Owns)+len(v.Refs)))

	dataVec := builder.CreateByteVector(v.Data)
	ownsVec := builder.CreateByteVector(joinIds(v.Owns))
	refsVec := builder.CreateByteVector(joinIds(v.Refs))

	types.SubstateStart(builder)
	types.SubstateAddData(builder, dataVec)
	types.SubstateAddOwns(builder, ownsVec)
	types.SubstateAddRefs(builder, refsVec)
	types.SubstateAddImmutable(builder, v.Immutable)
	builder.Finish(types.SubstateEnd(builder))

	return builder.FinishedBytes()
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(b []byte) (v *Value, err error) {
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptValue, len(b))
	}

	// Out-of-range offsets in a damaged buffer panic inside the accessors.
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrCorruptValue, r)
		}
	}()

	fb := types.GetRootAsSubstate(b, 0)

	owns, err := splitIds(fb.OwnsBytes())
	if err != nil {
		return nil, err
	}

	refs, err := splitIds(fb.RefsBytes())
	if err != nil {
		return nil, err
	}

	return &Value{
		Data:      append([]byte(nil), fb.DataBytes()...),
		Owns:      owns,
		Refs:      refs,
		Immutable: fb.Immutable(),
	}, nil
}

// joinIds concatenates node ids.
func joinIds(list []ids.NodeId) []byte {
	out := make([]byte, 0, len(list)*ids.NodeIdLength)
	for _, id := range list {
		out = append(out, id[:]...)
	}
	return out
}

// splitIds is the inverse of joinIds.
func splitIds(b []byte) ([]ids.NodeId, error) {
	if len(b)%ids.NodeIdLength != 0 {
		return nil, fmt.Errorf("%w: id vector length %d", ErrCorruptValue, len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}

	out := make([]ids.NodeId, len(b)/ids.NodeIdLength)
	for i := range out {
		copy(out[i][:], b[i*ids.NodeIdLength:])
	}

	return out, nil
}
