// Package codec implements the Borsh-style little-endian encoding used for
// native substate payloads and invocation arguments.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
)

// ErrShortBuffer is returned when decoding runs past the end of the input.
var ErrShortBuffer = errors.New("borsh: unexpected end of input")

// Writer appends Borsh-encoded values to a buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given capacity hint.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// U8 appends one byte.
func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// Bool appends a bool as one byte.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

// U32 appends a little-endian u32.
func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

// U64 appends a little-endian u64.
func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// Bytes32 appends a fixed 32-byte array.
func (w *Writer) Bytes32(v [32]byte) *Writer {
	w.buf = append(w.buf, v[:]...)
	return w
}

// Vec appends a u32 length prefix followed by the bytes (Vec<u8>).
func (w *Writer) Vec(v []byte) *Writer {
	w.U32(uint32(len(v)))
	w.buf = append(w.buf, v...)
	return w
}

// String appends a string as Vec<u8>.
func (w *Writer) String(v string) *Writer {
	return w.Vec([]byte(v))
}

// Decimal appends the 32-byte big-endian scaled integer.
func (w *Writer) Decimal(d decimal.Decimal) *Writer {
	return w.Bytes32(d.Bytes32())
}

// NodeId appends a raw 30-byte id.
func (w *Writer) NodeId(id ids.NodeId) *Writer {
	w.buf = append(w.buf, id[:]...)
	return w
}

// Strings appends a u32 count followed by each string.
func (w *Writer) Strings(list []string) *Writer {
	w.U32(uint32(len(list)))
	for _, s := range list {
		w.String(s)
	}
	return w
}

// Reader decodes Borsh values. The first error sticks; later reads return
// zero values and Err reports it.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error.
func (r *Reader) Err() error {
	return r.err
}

// Done returns the first error, or an error if input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("borsh: %d trailing bytes", len(r.data)-r.off)
	}
	return nil
}

// take returns the next n bytes.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a one-byte bool.
func (r *Reader) Bool() bool {
	return r.U8() != 0
}

// U32 reads a little-endian u32.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian u64.
func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Bytes32 reads a fixed 32-byte array.
func (r *Reader) Bytes32() [32]byte {
	var out [32]byte
	copy(out[:], r.take(32))
	return out
}

// Vec reads a length-prefixed byte vector. The result is a copy.
func (r *Reader) Vec() []byte {
	n := r.U32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Vec())
}

// Decimal reads a 32-byte decimal.
func (r *Reader) Decimal() decimal.Decimal {
	return decimal.FromBytes32(r.Bytes32())
}

// NodeId reads a raw 30-byte id.
func (r *Reader) NodeId() ids.NodeId {
	var id ids.NodeId
	copy(id[:], r.take(ids.NodeIdLength))
	return id
}

// Strings reads a counted list of strings.
func (r *Reader) Strings() []string {
	n := r.U32()
	if r.err != nil {
		return nil
	}
	if int(n) > len(r.data)-r.off {
		r.err = ErrShortBuffer
		return nil
	}

	out := make([]string, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		out = append(out, r.String())
	}

	return out
}
