// CLAUDE:SUMMARY Operator CLI for tariff snapshots: versions, latest pointer, build from CSV, migrate, lookups and notes.
// Command arancelctl manages and queries versioned tariff snapshots.
//
// Usage:
//
//	arancelctl versions
//	arancelctl build --records arancel_abril_2024.csv --sections sections.csv
//	arancelctl migrate 202403 202404 --tables section_notes
//	arancelctl lookup 8421300000 --version 2024-04
//	arancelctl note section "VII - Plásticos"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/arancel/arancel"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "arancelctl:", err)
		os.Exit(1)
	}
}

// run executes one command line and releases the service it opened.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	root, a := newRootCmd(out, errOut)
	defer a.close()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	return root.ExecuteContext(ctx)
}

// app carries the global flags and the service opened for one command.
type app struct {
	configPath string
	envFile    string
	dataDir    string
	logLevel   string
	version    string

	out    io.Writer
	errOut io.Writer
	svc    *arancel.Service
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "arancelctl",
		Short:         "Manage and query versioned tariff snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.open()
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to arancel.yaml")
	f.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before ARANCEL_* overrides")
	f.StringVar(&a.dataDir, "data-dir", "", "snapshot directory (overrides config)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.version, "version", "", "snapshot version token (YYYYMM, YYYYMMDD, YYYY-MM-DD); empty means latest")

	root.AddCommand(
		a.versionsCmd(),
		a.resolveCmd(),
		a.latestCmd(),
		a.buildCmd(),
		a.migrateCmd(),
		a.lookupCmd(),
		a.searchCmd(),
		a.noteCmd(),
		a.historyCmd(),
	)
	return root, a
}

func (a *app) open() error {
	cfg, err := arancel.LoadConfig(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger := slog.New(slog.NewJSONHandler(a.errOut, &slog.HandlerOptions{Level: cfg.Level()}))
	svc, err := arancel.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	a.svc = svc
	return nil
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	return err
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
