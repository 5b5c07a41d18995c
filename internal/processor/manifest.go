package processor

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
)

// Op is the kind of a manifest instruction.
type Op uint8

const (
	OpCallFunction Op = iota
	OpCallMethod
	OpCallMethodWithAllResources
	OpTakeFromWorktop
	OpTakeAllFromWorktop
	OpTakeFromWorktopByIds
	OpReturnToWorktop
	OpAssertWorktopContains
	OpPopFromAuthZone
	OpPushToAuthZone
	OpClearAuthZone
	OpCreateProofFromAuthZone
	OpCreateProofFromAuthZoneByIds
	OpCreateProofFromAuthZoneOfAll
	OpCreateProofFromBucket
	OpCloneProof
	OpDropProof
	OpDropAllProofs
	opCount
)

var opNames = [...]string{
	OpCallFunction:                 "call_function",
	OpCallMethod:                   "call_method",
	OpCallMethodWithAllResources:   "call_method_with_all_resources",
	OpTakeFromWorktop:              "take_from_worktop",
	OpTakeAllFromWorktop:           "take_all_from_worktop",
	OpTakeFromWorktopByIds:         "take_from_worktop_by_ids",
	OpReturnToWorktop:              "return_to_worktop",
	OpAssertWorktopContains:        "assert_worktop_contains",
	OpPopFromAuthZone:              "pop_from_auth_zone",
	OpPushToAuthZone:               "push_to_auth_zone",
	OpClearAuthZone:                "clear_auth_zone",
	OpCreateProofFromAuthZone:      "create_proof_from_auth_zone",
	OpCreateProofFromAuthZoneByIds: "create_proof_from_auth_zone_by_ids",
	OpCreateProofFromAuthZoneOfAll: "create_proof_from_auth_zone_of_all",
	OpCreateProofFromBucket:        "create_proof_from_bucket",
	OpCloneProof:                   "clone_proof",
	OpDropProof:                    "drop_proof",
	OpDropAllProofs:                "drop_all_proofs",
}

// String returns the instruction name.
func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Instruction is one step of a manifest. Which fields matter depends on Op.
//
// Buckets and proofs produced by a step are named by handles counted from
// zero in production order, buckets and proofs separately.
type Instruction struct {
	Op        Op
	Receiver  ids.NodeId   // Receiver is the target of a method call
	Blueprint string       // Blueprint is the called blueprint
	Function  string       // Function is the called function or method
	Data      []byte       // Data is the argument data of a call
	Refs      []ids.NodeId // Refs are passed along with a call
	Buckets   []uint32     // Buckets are named buckets moved into a call
	Proofs    []uint32     // Proofs are named proofs moved into a call
	Resource  ids.NodeId
	Amount    decimal.Decimal
	Ids       []string // Ids are non-fungible local ids
	Handle    uint32   // Handle names the bucket or proof consumed
}

// CallFunction calls a blueprint function.
func CallFunction(blueprint, function string, data []byte, refs ...ids.NodeId) Instruction {
	return Instruction{Op: OpCallFunction, Blueprint: blueprint, Function: function, Data: data, Refs: refs}
}

// CallMethod calls a method of receiver.
func CallMethod(receiver ids.NodeId, blueprint, function string, data []byte, refs ...ids.NodeId) Instruction {
	return Instruction{Op: OpCallMethod, Receiver: receiver, Blueprint: blueprint, Function: function, Data: data, Refs: refs}
}

// CallMethodWithAllResources moves every bucket of the worktop into a
// method call. Nothing is called when the worktop is empty.
func CallMethodWithAllResources(receiver ids.NodeId, blueprint, function string) Instruction {
	return Instruction{Op: OpCallMethodWithAllResources, Receiver: receiver, Blueprint: blueprint, Function: function}
}

// WithBuckets moves named buckets into a call.
func (in Instruction) WithBuckets(handles ...uint32) Instruction {
	in.Buckets = append(in.Buckets, handles...)
	return in
}

// WithProofs moves named proofs into a call.
func (in Instruction) WithProofs(handles ...uint32) Instruction {
	in.Proofs = append(in.Proofs, handles...)
	return in
}

// TakeFromWorktop names a new bucket holding amount of res.
func TakeFromWorktop(res ids.NodeId, amount decimal.Decimal) Instruction {
	return Instruction{Op: OpTakeFromWorktop, Resource: res, Amount: amount}
}

// TakeAllFromWorktop names a new bucket holding all of res.
func TakeAllFromWorktop(res ids.NodeId) Instruction {
	return Instruction{Op: OpTakeAllFromWorktop, Resource: res}
}

// TakeFromWorktopByIds names a new bucket holding the listed ids of res.
func TakeFromWorktopByIds(res ids.NodeId, list ...string) Instruction {
	return Instruction{Op: OpTakeFromWorktopByIds, Resource: res, Ids: list}
}

// ReturnToWorktop puts a named bucket back.
func ReturnToWorktop(bucket uint32) Instruction {
	return Instruction{Op: OpReturnToWorktop, Handle: bucket}
}

// AssertWorktopContains fails unless the worktop holds at least amount of res.
func AssertWorktopContains(res ids.NodeId, amount decimal.Decimal) Instruction {
	return Instruction{Op: OpAssertWorktopContains, Resource: res, Amount: amount}
}

// PopFromAuthZone names the last proof of the auth zone.
func PopFromAuthZone() Instruction {
	return Instruction{Op: OpPopFromAuthZone}
}

// PushToAuthZone moves a named proof onto the auth zone.
func PushToAuthZone(proof uint32) Instruction {
	return Instruction{Op: OpPushToAuthZone, Handle: proof}
}

// ClearAuthZone drops every proof of the auth zone.
func ClearAuthZone() Instruction {
	return Instruction{Op: OpClearAuthZone}
}

// CreateProofFromAuthZone names a proof of amount of res composed from the
// auth zone.
func CreateProofFromAuthZone(res ids.NodeId, amount decimal.Decimal) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZone, Resource: res, Amount: amount}
}

// CreateProofFromAuthZoneByIds names a proof of the listed ids of res.
func CreateProofFromAuthZoneByIds(res ids.NodeId, list ...string) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZoneByIds, Resource: res, Ids: list}
}

// CreateProofFromAuthZoneOfAll names a proof of all the zone proves of res.
func CreateProofFromAuthZoneOfAll(res ids.NodeId) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZoneOfAll, Resource: res}
}

// CreateProofFromBucket names a proof of the whole of a named bucket.
func CreateProofFromBucket(bucket uint32) Instruction {
	return Instruction{Op: OpCreateProofFromBucket, Handle: bucket}
}

// CloneProof names a copy of a named proof.
func CloneProof(proof uint32) Instruction {
	return Instruction{Op: OpCloneProof, Handle: proof}
}

// DropProof drops a named proof.
func DropProof(proof uint32) Instruction {
	return Instruction{Op: OpDropProof, Handle: proof}
}

// DropAllProofs drops every named proof and clears the auth zone.
func DropAllProofs() Instruction {
	return Instruction{Op: OpDropAllProofs}
}

// Manifest is the instruction list run by one transaction.
type Manifest []Instruction

// Encode serializes the manifest.
func (m Manifest) Encode() []byte {
	w := codec.NewWriter(128 * (len(m) + 1)).U32(uint32(len(m)))

	for _, in := range m {
		w.U8(uint8(in.Op)).
			NodeId(in.Receiver).
			String(in.Blueprint).
			String(in.Function).
			Vec(in.Data)

		w.U32(uint32(len(in.Refs)))
		for _, ref := range in.Refs {
			w.NodeId(ref)
		}
		writeHandles(w, in.Buckets)
		writeHandles(w, in.Proofs)

		w.NodeId(in.Resource).
			Decimal(in.Amount).
			Strings(in.Ids).
			U32(in.Handle)
	}

	return w.Bytes()
}

func writeHandles(w *codec.Writer, list []uint32) {
	w.U32(uint32(len(list)))
	for _, h := range list {
		w.U32(h)
	}
}

// maxListLen bounds decoded counts so a short buffer cannot force a large
// allocation.
const maxListLen = 1 << 16

func readCount(r *codec.Reader) int {
	n := r.U32()
	if n > maxListLen {
		return -1
	}
	return int(n)
}

// DecodeManifest parses the output of Encode.
func DecodeManifest(b []byte) (Manifest, error) {
	r := codec.NewReader(b)

	n := readCount(r)
	if n < 0 {
		return nil, fmt.Errorf("%w: too many instructions", ErrInvalidManifest)
	}

	m := make(Manifest, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		in := Instruction{
			Op:        Op(r.U8()),
			Receiver:  r.NodeId(),
			Blueprint: r.String(),
			Function:  r.String(),
			Data:      r.Vec(),
		}
		if in.Op >= opCount {
			return nil, fmt.Errorf("%w: instruction %d has unknown op %d", ErrInvalidManifest, i, in.Op)
		}

		refs := readCount(r)
		if refs < 0 {
			return nil, fmt.Errorf("%w: instruction %d has too many refs", ErrInvalidManifest, i)
		}
		for j := 0; j < refs && r.Err() == nil; j++ {
			in.Refs = append(in.Refs, r.NodeId())
		}

		var ok bool
		if in.Buckets, ok = readHandles(r); !ok {
			return nil, fmt.Errorf("%w: instruction %d has too many buckets", ErrInvalidManifest, i)
		}
		if in.Proofs, ok = readHandles(r); !ok {
			return nil, fmt.Errorf("%w: instruction %d has too many proofs", ErrInvalidManifest, i)
		}

		in.Resource = r.NodeId()
		in.Amount = r.Decimal()
		in.Ids = r.Strings()
		in.Handle = r.U32()

		m = append(m, in)
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	return m, nil
}

func readHandles(r *codec.Reader) ([]uint32, bool) {
	n := readCount(r)
	if n < 0 {
		return nil, false
	}

	var out []uint32
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.U32())
	}
	return out, true
}
