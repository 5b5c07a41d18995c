// Command ledger runs transactions against a local substate store.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"OwnLedger/internal/logger"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "data directory (overrides the config file)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level: debug, info, warn or error",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledger",
		Usage: "transactional execution kernel",
		Flags: []cli.Flag{configFlag, dataFlag, logLevelFlag},
		Commands: []*cli.Command{
			commandKeygen,
			commandGenesis,
			commandCall,
			commandTransfer,
			commandBalance,
			commandSubmit,
			commandServe,
			commandDump,
			commandExport,
			commandImport,
			commandDumpConfig,
		},
	}
}

func main() {
	logger.Init()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and applies global flags.
func setup(ctx *cli.Context) (*Config, error) {
	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}

	if ctx.IsSet(dataFlag.Name) {
		cfg.DataPath = ctx.String(dataFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.String(logLevelFlag.Name)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}
