package api

import (
	"errors"
	"fmt"

	"OwnLedger/internal/executor"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/signer"
)

const (
	// maxRefs is the maximum number of global references per transaction.
	maxRefs = 64

	// maxSigners is the maximum number of signers per transaction.
	maxSigners = 16

	// maxNameLen bounds blueprint and function names.
	maxNameLen = 128
)

// ErrInvalidTx is returned for transactions rejected before execution.
var ErrInvalidTx = errors.New("invalid transaction")

// validateTx checks structural limits before a transaction reaches the
// executor. Signatures are verified by the executor itself.
func validateTx(tx *executor.Transaction) error {
	if tx.Entry.Blueprint == "" || tx.Entry.Function == "" {
		return fmt.Errorf("%w: missing entry point", ErrInvalidTx)
	}
	if len(tx.Entry.Blueprint) > maxNameLen || len(tx.Entry.Function) > maxNameLen {
		return fmt.Errorf("%w: entry name too long", ErrInvalidTx)
	}

	if len(tx.Refs) > maxRefs {
		return fmt.Errorf("%w: %d refs, max %d", ErrInvalidTx, len(tx.Refs), maxRefs)
	}
	seen := make(map[ids.NodeId]struct{}, len(tx.Refs))
	for _, ref := range tx.Refs {
		if !ref.IsGlobal() {
			return fmt.Errorf("%w: ref %v is not global", ErrInvalidTx, ref)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("%w: duplicate ref %v", ErrInvalidTx, ref)
		}
		seen[ref] = struct{}{}
	}

	if len(tx.Signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrInvalidTx)
	}
	if len(tx.Signers) > maxSigners {
		return fmt.Errorf("%w: %d signers, max %d", ErrInvalidTx, len(tx.Signers), maxSigners)
	}
	for i, pk := range tx.Signers {
		if len(pk) != signer.PublicKeySize {
			return fmt.Errorf("%w: signer %d key size %d", ErrInvalidTx, i, len(pk))
		}
	}
	for i, sig := range tx.Signatures {
		if len(sig) != signer.SignatureSize {
			return fmt.Errorf("%w: signature %d size %d", ErrInvalidTx, i, len(sig))
		}
	}

	return nil
}
