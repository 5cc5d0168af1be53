package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"lendledger/config"
	"lendledger/core/ledger"
	"lendledger/observability/logging"
	"lendledger/storage/backend"
)

const (
	initCommand   = "init"
	verifyCommand = "verify"
	statsCommand  = "stats"
	blocksCommand = "blocks"
	showCommand   = "show"

	defaultConfig = "./ledgerctl.toml"

	exitOK      = 0
	exitError   = 1
	exitInvalid = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitError
	}
	cmd := args[0]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfig, "Path to the ledger config file")
	var from, index *uint64
	var limit *int
	switch cmd {
	case initCommand, verifyCommand, statsCommand:
	case blocksCommand:
		from = fs.Uint64("from", 0, "First block index to list")
		limit = fs.Int("limit", 50, "Maximum number of blocks to list (0 lists all)")
	case showCommand:
		index = fs.Uint64("index", 0, "Block index to show")
	default:
		usage(stderr)
		return exitError
	}
	if err := fs.Parse(args[1:]); err != nil {
		return exitError
	}

	if cmd == initCommand {
		cfg, err := config.Init(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "Wrote %s (storage: %s %s)\n", *configPath, cfg.Storage.Driver, cfg.Storage.Path)
		return exitOK
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	logger := logging.Setup(logging.Options{
		Service:    "ledgerctl",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Output:     stderr,
	})

	store, closer, err := backend.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close storage", slog.Any("error", err))
		}
	}()
	engine, err := ledger.NewEngine(store, ledger.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	switch cmd {
	case verifyCommand:
		return runVerify(ctx, engine, stdout, stderr)
	case statsCommand:
		stats, err := engine.Stats(ctx)
		return emit(stdout, stderr, statsOutput(stats), err)
	case blocksCommand:
		blocks, err := engine.Blocks(ctx, *from, *limit)
		if blocks == nil {
			blocks = []ledger.Block{}
		}
		return emit(stdout, stderr, blocks, err)
	default:
		block, err := engine.Block(ctx, *index)
		return emit(stdout, stderr, block, err)
	}
}

type verifyOutput struct {
	Valid      bool    `json:"valid"`
	BlockCount uint64  `json:"blockCount"`
	Index      *uint64 `json:"index,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Message    string  `json:"message"`
}

func runVerify(ctx context.Context, engine *ledger.Engine, stdout, stderr io.Writer) int {
	report, err := engine.Validate(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	out := verifyOutput{Valid: report.Valid, BlockCount: report.Count, Message: report.Message()}
	if !report.Valid {
		idx := report.Index
		out.Index = &idx
		out.Reason = string(report.Reason)
	}
	if code := emit(stdout, stderr, out, nil); code != exitOK {
		return code
	}
	if !report.Valid {
		return exitInvalid
	}
	return exitOK
}

func statsOutput(stats ledger.Stats) map[string]uint64 {
	out := map[string]uint64{"total": stats.Total}
	for _, t := range ledger.TxTypes() {
		out[string(t)] = stats.Count(t)
	}
	return out
}

func emit(stdout, stderr io.Writer, value any, err error) int {
	if err != nil {
		if errors.Is(err, ledger.ErrBlockNotFound) {
			fmt.Fprintln(stderr, "Error: block not found")
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitError
	}
	enc := json.NewEncoder(stdout)
	if isTerminal(stdout) {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(value); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

// isTerminal reports whether w is an interactive terminal. Piped output stays
// one JSON document per line.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ledgerctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init     Write a default config (SQLite ledger next to it)")
	fmt.Fprintln(w, "  verify   Recompute every hash and link; exits 2 when the chain is inconsistent")
	fmt.Fprintln(w, "  stats    Print block counts per transaction type")
	fmt.Fprintln(w, "  blocks   List blocks (-from, -limit)")
	fmt.Fprintln(w, "  show     Print a single block (-index)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "All commands accept -config (default ./ledgerctl.toml).")
}
