// Package blueprints assembles the dispatcher a node runs transactions
// against: native blueprints compiled into the binary plus WASM
// blueprints deployed from disk.
package blueprints

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"OwnLedger/internal/account"
	"OwnLedger/internal/authzone"
	"OwnLedger/internal/genesis"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/podvm"
	"OwnLedger/internal/processor"
)

// Native returns a registry with every native blueprint.
func Native() *kernel.Registry {
	reg := kernel.NewRegistry()

	authzone.Register(reg)
	account.Register(reg)
	genesis.Register(reg)
	processor.Register(reg)

	return reg
}

// Deploy mounts every *.wasm file of dir on reg. The blueprint name is
// the file name without extension. A missing dir deploys nothing.
func Deploy(ctx context.Context, reg *kernel.Registry, d *podvm.Dispatcher, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blueprint dir:\n%w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wasm" {
			continue
		}

		wasm, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return names, fmt.Errorf("read %s:\n%w", e.Name(), err)
		}

		name := strings.TrimSuffix(e.Name(), ".wasm")
		id, err := d.Deploy(ctx, reg, name, wasm)
		if err != nil {
			return names, err
		}

		logger.Info("blueprint deployed", "name", name, "module", fmt.Sprintf("%x", id[:8]))
		names = append(names, name)
	}

	return names, nil
}
