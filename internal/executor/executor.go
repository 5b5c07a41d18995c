// Package executor runs transactions against the durable store: one
// kernel per transaction, all-or-nothing commit, and a pipeline that
// validates ahead of a single in-order committer.
package executor

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"OwnLedger/internal/authzone"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// Outcome is the fate of a transaction.
type Outcome uint8

const (
	Committed Outcome = iota // Committed transactions changed the durable store
	Failed                   // Failed transactions ran and changed nothing
	Rejected                 // Rejected transactions never ran
	Previewed                // Previewed transactions ran without committing
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	case Previewed:
		return "previewed"
	}
	return "unknown"
}

// Receipt is the result of one transaction.
type Receipt struct {
	TxHash   [32]byte
	Outcome  Outcome
	Class    ErrorClass       // Class is ClassNone for committed transactions
	Err      error            // Err is the failure, nil when committed
	Output   *substate.Value  // Output is what the entry point returned
	Diff     *store.StateDiff // Diff is the committed state change
	DiffHash [32]byte
	Version  uint64 // Version is the store version after the commit
	Events   []kernel.Event
	Logs     []kernel.LogEntry
	Stats    kernel.Stats
	Duration time.Duration
}

// Config tunes an Executor.
type Config struct {
	MaxDepth         int          // MaxDepth bounds nested invocations
	VirtualResources []ids.NodeId // VirtualResources are provable by every transaction
}

// Executor runs transactions one at a time against a durable store.
type Executor struct {
	db         *store.DurableStore
	dispatcher kernel.Dispatcher
	cfg        Config
	mu         sync.Mutex // mu serializes execution and commit
}

// New creates an executor.
func New(db *store.DurableStore, dispatcher kernel.Dispatcher, cfg Config) *Executor {
	return &Executor{db: db, dispatcher: dispatcher, cfg: cfg}
}

// Store returns the durable store the executor commits to.
func (e *Executor) Store() *store.DurableStore {
	return e.db
}

// Execute verifies, runs and commits a signed transaction.
func (e *Executor) Execute(ctx context.Context, tx *Transaction) *Receipt {
	hash := tx.Hash()

	if err := tx.Verify(); err != nil {
		return rejected(hash, err)
	}

	return e.run(ctx, tx, hash, nil, true)
}

// Preview runs a transaction without verifying signatures and discards
// its changes. Signers still fill the auth zone, so a preview shows what
// the signed transaction would do against the current state.
func (e *Executor) Preview(ctx context.Context, tx *Transaction) *Receipt {
	return e.run(ctx, tx, tx.Hash(), nil, false)
}

// ExecuteSystem runs an unsigned transaction that may create nodes at the
// reserved addresses. It is meant for genesis.
func (e *Executor) ExecuteSystem(ctx context.Context, tx *Transaction, reserved []ids.NodeId) *Receipt {
	return e.run(ctx, tx, tx.Hash(), reserved, true)
}

// rejected builds the receipt of a transaction that failed validation.
func rejected(hash [32]byte, err error) *Receipt {
	logger.Debug("transaction rejected", "tx", shortHash(hash), "error", err)

	return &Receipt{TxHash: hash, Outcome: Rejected, Class: Classify(err), Err: err}
}

// run executes a validated transaction. Nothing reaches the durable store
// unless the kernel run, the finalization and the commit all succeed. A
// hash already committed is rejected without running. Without commit the
// finalized diff is returned and dropped.
func (e *Executor) run(ctx context.Context, tx *Transaction, hash [32]byte, reserved []ids.NodeId, commit bool) *Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen, err := e.db.HasTransaction(hash)
	if err != nil {
		return rejected(hash, err)
	}
	if seen {
		return rejected(hash, store.ErrDuplicateTransaction)
	}

	start := time.Now()
	receipt := &Receipt{TxHash: hash}

	track := store.NewTrack(e.db)
	module := authzone.NewModule(signer.Badges(tx.Signers), e.cfg.VirtualResources...)
	k := kernel.New(ctx, store.NewHeap(), track, e.dispatcher, ids.NewAllocator(hash),
		kernel.Config{MaxDepth: e.cfg.MaxDepth, Reserved: reserved}, module)

	fail := func(err error) *Receipt {
		receipt.Outcome = Failed
		receipt.Class = Classify(err)
		receipt.Err = err
		receipt.Stats = k.Stats()
		receipt.Duration = time.Since(start)

		logger.Debug("transaction failed",
			"tx", shortHash(hash),
			"class", receipt.Class.String(),
			"error", err,
		)

		return receipt
	}

	out, err := k.Run(tx.Entry, &substate.Value{Data: tx.Data, Refs: tx.Refs})
	if err != nil {
		return fail(err)
	}

	diff, err := track.Finalize()
	if err != nil {
		return fail(err)
	}
	if !commit {
		receipt.Outcome = Previewed
		receipt.Output = out
		receipt.Diff = diff
		receipt.DiffHash = diff.Hash()
		receipt.Version = track.BaseVersion()
		receipt.Events = k.Events()
		receipt.Logs = k.Logs()
		receipt.Stats = k.Stats()
		receipt.Duration = time.Since(start)
		return receipt
	}
	if err := e.db.CommitTransaction(hash, diff, track.BaseVersion()); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return rejected(hash, err)
		}
		return fail(err)
	}

	receipt.Outcome = Committed
	receipt.Output = out
	receipt.Diff = diff
	receipt.DiffHash = diff.Hash()
	receipt.Version = e.db.Version()
	receipt.Events = k.Events()
	receipt.Logs = k.Logs()
	receipt.Stats = k.Stats()
	receipt.Duration = time.Since(start)

	logger.Debug("transaction committed",
		"tx", shortHash(hash),
		"version", receipt.Version,
		"writes", len(diff.Writes),
		logger.Timed(start),
	)

	return receipt
}

// shortHash renders the first bytes of a hash for logs.
func shortHash(h [32]byte) string {
	return hex.EncodeToString(h[:8])
}
