package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OwnLedger/internal/decimal"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "ledger.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// runApp runs the CLI and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"ledger"}, args...))
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
DataPath = "/tmp/ledger"
Workers = 8

[Genesis]
Owner = "0102"
Supply = "42.5"
Symbol = "TST"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DataPath != "/tmp/ledger" || cfg.Workers != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CacheSize != defaultConfig().CacheSize {
		t.Error("unset fields must keep their defaults")
	}

	gc, err := cfg.Genesis.genesisConfig()
	if err != nil {
		t.Fatalf("genesisConfig: %v", err)
	}
	if !gc.Supply.Eq(decimal.MustParse("42.5")) || !bytes.Equal(gc.Owner, []byte{1, 2}) || gc.Symbol != "TST" {
		t.Errorf("genesis = %+v", gc)
	}
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "Bogus = 1\n")

	if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Errorf("loadConfig = %v, want unknown field error", err)
	}
}

func TestGenesisExportImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	snap := filepath.Join(dir, "state.snap")
	cfg := writeConfig(t, dir, `
LogLevel = "error"
BlueprintDir = "`+filepath.Join(dir, "none")+`"

[Genesis]
Owner = "abcdef"
Supply = "1000"
`)

	if _, err := runApp(t, "--config", cfg, "--data", src, "genesis"); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := runApp(t, "--config", cfg, "--data", src, "genesis"); err == nil {
		t.Error("second genesis must fail")
	}

	out, err := runApp(t, "--config", cfg, "--data", src, "dump")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !strings.HasPrefix(out, "version 1\n") {
		t.Errorf("dump output = %q", out)
	}

	if _, err := runApp(t, "--config", cfg, "--data", src, "export", snap); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := runApp(t, "--config", cfg, "--data", dst, "import", snap); err != nil {
		t.Fatalf("import: %v", err)
	}

	again, err := runApp(t, "--config", cfg, "--data", dst, "dump")
	if err != nil {
		t.Fatalf("dump imported: %v", err)
	}
	if again != out {
		t.Errorf("imported dump differs:\n%s\nwant:\n%s", again, out)
	}
}

func TestCallEncodeAndSubmit(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	cfg := writeConfig(t, dir, `LogLevel = "error"`+"\n")

	if _, err := runApp(t, "keygen", "--out", keyFile); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	encoded, err := runApp(t, "call", "--key", keyFile, "--blueprint", "Missing", "--function", "run", "--encode")
	if err != nil {
		t.Fatalf("call --encode: %v", err)
	}

	txFile := filepath.Join(dir, "txs")
	if err := os.WriteFile(txFile, []byte("# one call\n"+encoded), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runApp(t, "--config", cfg, "--data", filepath.Join(dir, "db"), "submit", txFile)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "failed class=not_found") {
		t.Errorf("submit output = %q", out)
	}
}

// keygen writes a key file and returns the printed public key and account.
func keygen(t *testing.T, path string) (publicKey, account string) {
	t.Helper()

	out, err := runApp(t, "keygen", "--out", path)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	for _, line := range strings.Split(out, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch name {
		case "public key":
			publicKey = strings.TrimSpace(value)
		case "account":
			account = strings.TrimSpace(value)
		}
	}
	if publicKey == "" || account == "" {
		t.Fatalf("keygen output = %q", out)
	}

	return publicKey, account
}

func TestTransferEndToEnd(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "db")
	aliceKey, bobKey := filepath.Join(dir, "alice"), filepath.Join(dir, "bob")

	alicePub, aliceAcct := keygen(t, aliceKey)
	_, bobAcct := keygen(t, bobKey)

	cfg := writeConfig(t, dir, `
LogLevel = "error"
BlueprintDir = "`+filepath.Join(dir, "none")+`"

[Genesis]
Owner = "`+alicePub+`"
Supply = "1000"
`)
	ledger := func(args ...string) string {
		t.Helper()

		out, err := runApp(t, append([]string{"--config", cfg, "--data", data}, args...)...)
		if err != nil {
			t.Fatalf("%s: %v", args[0], err)
		}
		return out
	}
	balance := func(acct string) string {
		t.Helper()
		return strings.TrimSpace(ledger("balance", "--account", acct))
	}

	ledger("genesis")

	if out := ledger("transfer", "--key", aliceKey, "--to", bobAcct, "--amount", "250"); !strings.Contains(out, " committed ") {
		t.Fatalf("transfer output = %q", out)
	}
	if got := balance(aliceAcct); got != "balance 750" {
		t.Errorf("alice %s, want 750", got)
	}
	if got := balance(bobAcct); got != "balance 250" {
		t.Errorf("bob %s, want 250", got)
	}

	// Bob cannot spend from alice's account.
	out := ledger("transfer", "--key", bobKey, "--from", aliceAcct, "--to", bobAcct, "--amount", "1", "--nonce", "1")
	if !strings.Contains(out, "failed class=auth") {
		t.Errorf("foreign transfer output = %q", out)
	}

	// A transaction commits once; its replay is rejected.
	encoded := ledger("transfer", "--key", aliceKey, "--to", bobAcct, "--amount", "50", "--nonce", "2", "--encode")
	txFile := filepath.Join(dir, "txs")
	if err := os.WriteFile(txFile, []byte(encoded+encoded), 0o644); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(ledger("submit", txFile)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], " committed ") || !strings.Contains(lines[1], "rejected class=auth") {
		t.Errorf("submit output = %q", lines)
	}
	if got := balance(bobAcct); got != "balance 300" {
		t.Errorf("bob %s after replay, want 300", got)
	}
}
