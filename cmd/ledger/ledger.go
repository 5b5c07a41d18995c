package main

import (
	"context"
	"fmt"

	"OwnLedger/internal/blueprints"
	"OwnLedger/internal/executor"
	"OwnLedger/internal/podvm"
	"OwnLedger/internal/storage"
	"OwnLedger/internal/store"
)

// ledger bundles the open store, the WASM pool and the executor.
type ledger struct {
	db   *storage.Storage
	pool *podvm.Pool
	exec *executor.Executor
}

// openLedger opens the store at cfg.DataPath and deploys the blueprints.
func openLedger(ctx context.Context, cfg *Config) (*ledger, error) {
	db, err := storage.New(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open storage:\n%w", err)
	}

	l := &ledger{db: db}

	d, err := store.NewDurableStore(db, cfg.CacheSize)
	if err != nil {
		l.Close()
		return nil, err
	}

	if l.pool, err = podvm.New(ctx); err != nil {
		l.Close()
		return nil, err
	}

	reg := blueprints.Native()
	if _, err := blueprints.Deploy(ctx, reg, podvm.NewDispatcher(l.pool, cfg.GasLimit), cfg.BlueprintDir); err != nil {
		l.Close()
		return nil, err
	}

	l.exec = executor.New(d, reg, executor.Config{MaxDepth: cfg.MaxDepth})

	return l, nil
}

// Close releases the pool and the store.
func (l *ledger) Close() {
	if l.pool != nil {
		_ = l.pool.Close(context.Background())
	}
	_ = l.db.Close()
}
