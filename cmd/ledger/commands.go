package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"OwnLedger/internal/api"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/executor"
	"OwnLedger/internal/genesis"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/processor"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/snapshot"
	"OwnLedger/internal/substate"
)

var (
	keyFileFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "file holding a hex key seed",
		Required: true,
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "output file",
	}
	blueprintFlag = &cli.StringFlag{
		Name:     "blueprint",
		Usage:    "blueprint to call",
		Required: true,
	}
	functionFlag = &cli.StringFlag{
		Name:     "function",
		Usage:    "function to call",
		Required: true,
	}
	receiverFlag = &cli.StringFlag{
		Name:  "receiver",
		Usage: "hex node id of the method receiver",
	}
	dataHexFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "hex argument data",
	}
	refFlag = &cli.StringSliceFlag{
		Name:  "ref",
		Usage: "hex node id the transaction may reference (repeatable)",
	}
	nonceFlag = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "transaction nonce",
	}
	encodeFlag = &cli.BoolFlag{
		Name:  "encode",
		Usage: "print the signed transaction as hex instead of executing it",
	}
	nodeFlag = &cli.StringFlag{
		Name:  "node",
		Usage: "only dump substates of this hex node id",
	}
	toFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "hex node id of the receiving account",
		Required: true,
	}
	fromFlag = &cli.StringFlag{
		Name:  "from",
		Usage: "hex node id of the paying account (default: the signer's account)",
	}
	amountFlag = &cli.StringFlag{
		Name:     "amount",
		Usage:    "decimal amount to move",
		Required: true,
	}
	resourceFlag = &cli.StringFlag{
		Name:  "resource",
		Usage: "hex node id of the resource (default: the native token)",
	}
	accountFlag = &cli.StringFlag{
		Name:     "account",
		Usage:    "hex node id of the account",
		Required: true,
	}
)

var commandKeygen = &cli.Command{
	Name:  "keygen",
	Usage: "generate a BLS signing key",
	Flags: []cli.Flag{outFlag},
	Action: func(ctx *cli.Context) error {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("read entropy:\n%w", err)
		}

		key, err := signer.KeyFromSeed(seed)
		if err != nil {
			return err
		}

		if out := ctx.String(outFlag.Name); out != "" {
			if err := os.WriteFile(out, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key:\n%w", err)
			}
		} else {
			fmt.Fprintf(ctx.App.Writer, "seed:       %x\n", seed)
		}

		pk := key.PublicKey()
		fmt.Fprintf(ctx.App.Writer, "public key: %x\n", pk)
		fmt.Fprintf(ctx.App.Writer, "account:    %s\n", ids.VirtualAccount(pk).Hex())
		return nil
	},
}

var commandGenesis = &cli.Command{
	Name:  "genesis",
	Usage: "create the native token and fund the configured owner",
	Action: func(ctx *cli.Context) error {
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		gc, err := cfg.Genesis.genesisConfig()
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		receipt, err := genesis.Run(ctx.Context, l.exec, gc)
		if err != nil {
			return err
		}

		printReceipt(ctx.App.Writer, receipt)
		return nil
	},
}

var commandCall = &cli.Command{
	Name:  "call",
	Usage: "sign and execute one invocation",
	Flags: []cli.Flag{keyFileFlag, blueprintFlag, functionFlag, receiverFlag, dataHexFlag, refFlag, nonceFlag, encodeFlag},
	Action: func(ctx *cli.Context) error {
		tx, err := buildTransaction(ctx)
		if err != nil {
			return err
		}

		if ctx.Bool(encodeFlag.Name) {
			fmt.Fprintln(ctx.App.Writer, hex.EncodeToString(tx.Encode()))
			return nil
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		printReceipt(ctx.App.Writer, l.exec.Execute(ctx.Context, tx))
		return nil
	},
}

var commandTransfer = &cli.Command{
	Name:  "transfer",
	Usage: "sign and execute a transfer between accounts",
	Flags: []cli.Flag{keyFileFlag, toFlag, fromFlag, amountFlag, resourceFlag, nonceFlag, encodeFlag},
	Action: func(ctx *cli.Context) error {
		tx, err := buildTransfer(ctx)
		if err != nil {
			return err
		}

		if ctx.Bool(encodeFlag.Name) {
			fmt.Fprintln(ctx.App.Writer, hex.EncodeToString(tx.Encode()))
			return nil
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		printReceipt(ctx.App.Writer, l.exec.Execute(ctx.Context, tx))
		return nil
	},
}

var commandBalance = &cli.Command{
	Name:  "balance",
	Usage: "print how much of a resource an account holds",
	Flags: []cli.Flag{accountFlag, resourceFlag},
	Action: func(ctx *cli.Context) error {
		acct, err := ids.ParseNodeId(ctx.String(accountFlag.Name))
		if err != nil {
			return err
		}
		res, err := resourceOf(ctx)
		if err != nil {
			return err
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		r := l.exec.Preview(ctx.Context, &executor.Transaction{
			Entry: kernel.Method(acct, kernel.AccountBlueprint, "balance"),
			Data:  codec.NewWriter(32).NodeId(res).Bytes(),
			Refs:  []ids.NodeId{acct, res},
		})
		if r.Err != nil {
			return fmt.Errorf("read balance:\n%w", r.Err)
		}

		rd := codec.NewReader(r.Output.Data)
		amount := rd.Decimal()
		if err := rd.Done(); err != nil {
			return fmt.Errorf("decode balance:\n%w", err)
		}

		fmt.Fprintf(ctx.App.Writer, "balance %s\n", amount)
		return nil
	},
}

var commandSubmit = &cli.Command{
	Name:      "submit",
	Usage:     "execute hex-encoded transactions, one per line, in order",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected one transaction file")
		}

		txs, err := readTransactions(ctx.Args().First())
		if err != nil {
			return err
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		receipts, err := executor.NewPipeline(l.exec, cfg.Workers).Run(ctx.Context, txs)
		if err != nil {
			return err
		}

		for _, r := range receipts {
			printReceipt(ctx.App.Writer, r)
		}
		return nil
	},
}

var commandServe = &cli.Command{
	Name:  "serve",
	Usage: "serve the HTTP API until interrupted",
	Action: func(ctx *cli.Context) error {
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := api.New(cfg.HTTPAddress, l.exec)
		if err := server.Start(); err != nil {
			return err
		}

		logger.Info("serving", "addr", cfg.HTTPAddress, "data", cfg.DataPath, "version", l.exec.Store().Version())
		<-sigCtx.Done()

		return server.Stop()
	},
}

var commandDump = &cli.Command{
	Name:  "dump",
	Usage: "list committed substates",
	Flags: []cli.Flag{nodeFlag},
	Action: func(ctx *cli.Context) error {
		var only *ids.NodeId
		if s := ctx.String(nodeFlag.Name); s != "" {
			id, err := ids.ParseNodeId(s)
			if err != nil {
				return err
			}
			only = &id
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		w := ctx.App.Writer
		fmt.Fprintf(w, "version %d\n", l.exec.Store().Version())

		return l.exec.Store().Walk(func(id ids.NodeId, module substate.ModuleId, key substate.Key, v *substate.Value) error {
			if only != nil && id != *only {
				return nil
			}
			fmt.Fprintf(w, "%s %v %v data=%d owns=%d refs=%d\n", id, module, key, len(v.Data), len(v.Owns), len(v.Refs))
			return nil
		})
	},
}

var commandExport = &cli.Command{
	Name:      "export",
	Usage:     "write a compressed snapshot of the store",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected one snapshot file")
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		f, err := os.Create(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("create snapshot file:\n%w", err)
		}
		defer f.Close()

		info, err := snapshot.Export(l.exec.Store(), f)
		if err != nil {
			return err
		}

		fmt.Fprintf(ctx.App.Writer, "exported version %d, %d entries, checksum %x\n", info.Version, info.Entries, info.Checksum)
		return f.Sync()
	},
}

var commandImport = &cli.Command{
	Name:      "import",
	Usage:     "load a snapshot into an empty store",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected one snapshot file")
		}

		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		f, err := os.Open(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("open snapshot file:\n%w", err)
		}
		defer f.Close()

		l, err := openLedger(ctx.Context, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		info, err := snapshot.Import(l.exec.Store(), bufio.NewReader(f))
		if err != nil {
			return err
		}

		fmt.Fprintf(ctx.App.Writer, "imported version %d, %d entries\n", info.Version, info.Entries)
		return nil
	},
}

var commandDumpConfig = &cli.Command{
	Name:  "dumpconfig",
	Usage: "print the effective configuration as TOML",
	Action: func(ctx *cli.Context) error {
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		out, err := tomlSettings.Marshal(cfg)
		if err != nil {
			return err
		}

		_, err = ctx.App.Writer.Write(out)
		return err
	},
}

// buildTransaction signs the invocation described by the call flags.
func buildTransaction(ctx *cli.Context) (*executor.Transaction, error) {
	key, err := loadKey(ctx.String(keyFileFlag.Name))
	if err != nil {
		return nil, err
	}

	var receiver ids.NodeId
	if s := ctx.String(receiverFlag.Name); s != "" {
		if receiver, err = ids.ParseNodeId(s); err != nil {
			return nil, err
		}
	}

	data, err := hex.DecodeString(ctx.String(dataHexFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("decode data:\n%w", err)
	}

	tx := &executor.Transaction{
		Nonce: ctx.Uint64(nonceFlag.Name),
		Entry: kernel.Method(receiver, ctx.String(blueprintFlag.Name), ctx.String(functionFlag.Name)),
		Data:  data,
	}
	if !receiver.IsZero() {
		tx.Refs = append(tx.Refs, receiver)
	}
	for _, s := range ctx.StringSlice(refFlag.Name) {
		id, err := ids.ParseNodeId(s)
		if err != nil {
			return nil, err
		}
		tx.Refs = append(tx.Refs, id)
	}

	tx.Sign(key)
	return tx, nil
}

// buildTransfer signs a manifest withdrawing from one account and
// depositing everything withdrawn into another.
func buildTransfer(ctx *cli.Context) (*executor.Transaction, error) {
	key, err := loadKey(ctx.String(keyFileFlag.Name))
	if err != nil {
		return nil, err
	}

	to, err := ids.ParseNodeId(ctx.String(toFlag.Name))
	if err != nil {
		return nil, err
	}

	from := ids.VirtualAccount(key.PublicKey())
	if s := ctx.String(fromFlag.Name); s != "" {
		if from, err = ids.ParseNodeId(s); err != nil {
			return nil, err
		}
	}

	res, err := resourceOf(ctx)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.Parse(ctx.String(amountFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("parse amount:\n%w", err)
	}

	m := processor.Manifest{
		processor.CallMethod(from, kernel.AccountBlueprint, "withdraw", codec.NewWriter(64).NodeId(res).Decimal(amount).Bytes(), res),
		processor.CallMethodWithAllResources(to, kernel.AccountBlueprint, "deposit_batch"),
	}

	tx := &executor.Transaction{
		Nonce: ctx.Uint64(nonceFlag.Name),
		Entry: processor.Entry(),
		Data:  m.Encode(),
		Refs:  []ids.NodeId{from, to, res},
	}
	tx.Sign(key)

	return tx, nil
}

// resourceOf returns the resource flag, defaulting to the native token.
func resourceOf(ctx *cli.Context) (ids.NodeId, error) {
	s := ctx.String(resourceFlag.Name)
	if s == "" {
		return ids.NativeToken, nil
	}
	return ids.ParseNodeId(s)
}

// loadKey reads a hex seed file.
func loadKey(path string) (*signer.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key:\n%w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key:\n%w", err)
	}

	return signer.KeyFromSeed(seed)
}

// readTransactions parses a file of hex transactions. Blank lines and
// lines starting with # are skipped.
func readTransactions(path string) ([]*executor.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transactions:\n%w", err)
	}
	defer f.Close()

	var txs []*executor.Transaction

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		raw, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("line %d:\n%w", line, err)
		}
		tx, err := executor.DecodeTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d:\n%w", line, err)
		}
		txs = append(txs, tx)
	}

	return txs, scanner.Err()
}

// printReceipt writes a one-line summary and any events.
func printReceipt(w io.Writer, r *executor.Receipt) {
	if r.Err != nil {
		fmt.Fprintf(w, "%x %s class=%s error=%v\n", r.TxHash[:8], r.Outcome, r.Class, r.Err)
		return
	}

	fmt.Fprintf(w, "%x %s version=%d writes=%d diff=%x duration=%s\n",
		r.TxHash[:8], r.Outcome, r.Version, len(r.Diff.Writes), r.DiffHash[:8], r.Duration)

	for _, e := range r.Events {
		fmt.Fprintf(w, "  event %s %s %x\n", e.Emitter, e.Name, e.Data)
	}
}
