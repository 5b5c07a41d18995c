package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/genesis"
)

// Config is the ledger configuration file.
type Config struct {
	DataPath     string // DataPath is the Pebble directory
	CacheSize    int    // CacheSize is the substate read cache size
	LogLevel     string
	Workers      int    // Workers is the number of signature validators
	MaxDepth     int    // MaxDepth bounds nested invocations
	BlueprintDir string // BlueprintDir holds *.wasm blueprints
	GasLimit     uint64 // GasLimit bounds one guest invocation
	HTTPAddress  string // HTTPAddress is the listen address of serve
	Genesis      GenesisConfig
}

// GenesisConfig is the file form of genesis.Config.
type GenesisConfig struct {
	Owner        string // Owner is the hex BLS public key
	Supply       string
	Divisibility uint8
	Symbol       string
	Name         string
}

// tomlSettings keeps Go field names as TOML keys and rejects unknown keys.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

func defaultConfig() *Config {
	return &Config{
		DataPath:     "./data",
		CacheSize:    4096,
		LogLevel:     "info",
		Workers:      4,
		MaxDepth:     64,
		BlueprintDir: "./blueprints",
		HTTPAddress:  "127.0.0.1:8080",
		Genesis: GenesisConfig{
			Supply:       "1000000000",
			Divisibility: 18,
			Symbol:       "OWN",
			Name:         "Own Token",
		},
	}
}

// loadConfig reads file over the defaults. An empty file name keeps the
// defaults.
func loadConfig(file string) (*Config, error) {
	cfg := defaultConfig()
	if file == "" {
		return cfg, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open config:\n%w", err)
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("decode config:\n%w", err)
	}

	return cfg, nil
}

// genesisConfig converts the file form.
func (c GenesisConfig) genesisConfig() (*genesis.Config, error) {
	owner, err := hex.DecodeString(c.Owner)
	if err != nil {
		return nil, fmt.Errorf("genesis owner:\n%w", err)
	}

	supply, err := decimal.Parse(c.Supply)
	if err != nil {
		return nil, fmt.Errorf("genesis supply:\n%w", err)
	}

	return &genesis.Config{
		Owner:        owner,
		Supply:       supply,
		Divisibility: c.Divisibility,
		Symbol:       c.Symbol,
		Name:         c.Name,
	}, nil
}
