// Package genesis bootstraps an empty ledger: it creates the native token
// at its well-known address and credits the initial supply to the owner's
// virtual account.
package genesis

import (
	"context"
	"errors"
	"fmt"

	"OwnLedger/internal/account"
	"OwnLedger/internal/authzone"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/executor"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

const blueprint = "Genesis"

var (
	// ErrAlreadyInitialized is returned when the store already holds state.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrInvalidConfig is returned for an unusable genesis configuration.
	ErrInvalidConfig = errors.New("invalid genesis config")
)

// Config holds the genesis parameters.
type Config struct {
	Owner        []byte          // Owner is the BLS public key receiving the supply
	Supply       decimal.Decimal // Supply is the initial native token supply
	Divisibility uint8
	Symbol       string
	Name         string
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case len(c.Owner) == 0:
		return fmt.Errorf("%w: owner key is required", ErrInvalidConfig)
	case c.Supply.IsZero():
		return fmt.Errorf("%w: supply must be positive", ErrInvalidConfig)
	case c.Divisibility > 18:
		return fmt.Errorf("%w: divisibility %d", ErrInvalidConfig, c.Divisibility)
	}
	return nil
}

// OwnerAccount returns the virtual account credited at genesis.
func (c *Config) OwnerAccount() ids.NodeId {
	return ids.VirtualAccount(c.Owner)
}

// Encode serializes the configuration as call arguments.
func (c *Config) Encode() []byte {
	return codec.NewWriter(128).
		Vec(c.Owner).
		Decimal(c.Supply).
		U8(c.Divisibility).
		String(c.Symbol).
		String(c.Name).
		Bytes()
}

// DecodeConfig parses the output of Encode.
func DecodeConfig(b []byte) (*Config, error) {
	r := codec.NewReader(b)

	c := &Config{
		Owner:        r.Vec(),
		Supply:       r.Decimal(),
		Divisibility: r.U8(),
		Symbol:       r.String(),
		Name:         r.String(),
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return c, nil
}

// Register adds the genesis function to reg.
func Register(reg *kernel.Registry) {
	reg.Register(blueprint, "run", run)
}

// run creates the native token and deposits the supply.
func run(api kernel.API, args *substate.Value) (*substate.Value, error) {
	cfg, err := DecodeConfig(args.Data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	if cfg.Symbol != "" {
		metadata["symbol"] = cfg.Symbol
	}
	if cfg.Name != "" {
		metadata["name"] = cfg.Name
	}

	token, bucket, err := resource.CreateResource(api, &resource.CreateParams{
		Kind:         resource.Fungible,
		Divisibility: cfg.Divisibility,
		Address:      ids.NativeToken,
		Supply:       cfg.Supply,
		MintRule:     authzone.DenyAll().Encode(),
		BurnRule:     authzone.AllowAll().Encode(),
		Metadata:     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create native token:\n%w", err)
	}

	owner := cfg.OwnerAccount()
	if err := account.Deposit(api, owner, bucket); err != nil {
		return nil, fmt.Errorf("deposit supply:\n%w", err)
	}

	return &substate.Value{Refs: []ids.NodeId{token, owner}}, nil
}

// Run executes genesis against an empty store.
func Run(ctx context.Context, exec *executor.Executor, cfg *Config) (*executor.Receipt, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v := exec.Store().Version(); v != 0 {
		return nil, fmt.Errorf("%w: store at version %d", ErrAlreadyInitialized, v)
	}

	tx := &executor.Transaction{
		Entry: kernel.Function(blueprint, "run"),
		Data:  cfg.Encode(),
		Refs:  []ids.NodeId{cfg.OwnerAccount()},
	}

	receipt := exec.ExecuteSystem(ctx, tx, []ids.NodeId{ids.NativeToken})
	if receipt.Err != nil {
		return receipt, fmt.Errorf("genesis:\n%w", receipt.Err)
	}

	logger.Info("genesis committed",
		"token", ids.NativeToken,
		"owner", cfg.OwnerAccount(),
		"supply", cfg.Supply.String(),
		"version", receipt.Version,
	)

	return receipt, nil
}
