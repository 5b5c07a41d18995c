package executor

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/signer"
)

// ErrInvalidTransaction is returned when a transaction fails to decode.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Transaction is one invocation of an entry point, signed by its signers.
type Transaction struct {
	Nonce      uint64       // Nonce makes otherwise identical transactions distinct
	Entry      kernel.Actor // Entry is the function or method the transaction runs
	Data       []byte       // Data is the opaque argument payload
	Refs       []ids.NodeId // Refs are the global addresses the entry may use
	Signers    [][]byte     // Signers are BLS public keys
	Signatures [][]byte     // Signatures sign Hash, one per signer or one aggregated
}

// body writes every field covered by the hash.
func (tx *Transaction) body(w *codec.Writer) {
	w.U64(tx.Nonce).
		NodeId(tx.Entry.Receiver).
		String(tx.Entry.Blueprint).
		String(tx.Entry.Function).
		Vec(tx.Data).
		U32(uint32(len(tx.Refs)))
	for _, ref := range tx.Refs {
		w.NodeId(ref)
	}

	w.U32(uint32(len(tx.Signers)))
	for _, pk := range tx.Signers {
		w.Vec(pk)
	}
}

// Hash returns the blake3 hash signers sign. It also seeds node id
// allocation, so two transactions never allocate the same ids.
func (tx *Transaction) Hash() [32]byte {
	w := codec.NewWriter(256)
	tx.body(w)
	return blake3.Sum256(w.Bytes())
}

// Sign sets the signers to keys and signs the resulting hash.
func (tx *Transaction) Sign(keys ...*signer.KeyPair) {
	tx.Signers = make([][]byte, len(keys))
	for i, k := range keys {
		tx.Signers[i] = k.PublicKey()
	}

	hash := tx.Hash()
	tx.Signatures = make([][]byte, len(keys))
	for i, k := range keys {
		tx.Signatures[i] = k.Sign(hash[:])
	}
}

// Verify checks the signatures against the hash.
func (tx *Transaction) Verify() error {
	hash := tx.Hash()
	return signer.VerifyAll(hash[:], tx.Signers, tx.Signatures)
}

// Encode serializes the transaction with its signatures.
func (tx *Transaction) Encode() []byte {
	w := codec.NewWriter(512)
	tx.body(w)

	w.U32(uint32(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		w.Vec(sig)
	}

	return w.Bytes()
}

// DecodeTransaction parses the output of Encode.
func DecodeTransaction(b []byte) (*Transaction, error) {
	r := codec.NewReader(b)

	tx := &Transaction{Nonce: r.U64()}
	receiver := r.NodeId()
	blueprint := r.String()
	tx.Entry = kernel.Method(receiver, blueprint, r.String())
	tx.Data = r.Vec()

	n := r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		tx.Refs = append(tx.Refs, r.NodeId())
	}

	n = r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		tx.Signers = append(tx.Signers, r.Vec())
	}

	n = r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		tx.Signatures = append(tx.Signatures, r.Vec())
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	return tx, nil
}
