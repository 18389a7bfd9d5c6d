// Command kitchenstore reads and writes the kitchen data store from the shell.
//
// Every subcommand opens the data directory with the same locking rules as
// the application, so it is safe to run while the application is in use.
// Configuration is read from kitchenstore.yaml and .env in the data directory,
// then from DREO_* environment variables, then from flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maruel/kitchenstore/internal/config"
	"github.com/maruel/kitchenstore/internal/datastore"
	"github.com/maruel/kitchenstore/internal/models"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kitchenstore: %v\n", err)
		if models.IsLockTimeout(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// app holds the global flags and the store opened for the running command.
type app struct {
	dataDir     string
	configPath  string
	logLevel    string
	lockTimeout time.Duration
	lockMode    string
	history     bool
	format      string

	ll    *slog.LevelVar
	store *datastore.Store
}

func newRootCmd() *cobra.Command {
	a := &app{ll: &slog.LevelVar{}}
	root := &cobra.Command{
		Use:           "kitchenstore",
		Short:         "Concurrent file backed tables for kitchen operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.dataDir, "data-dir", "", "Data directory (default $"+config.EnvDataDir+" or ./data)")
	f.StringVar(&a.configPath, "config", "", "YAML config file (default <data-dir>/"+config.FileName+")")
	f.StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.DurationVar(&a.lockTimeout, "lock-timeout", 0, "Lock acquisition timeout (overrides config)")
	f.StringVar(&a.lockMode, "lock-mode", "", "Lock implementation: sentinel or native (overrides config)")
	f.BoolVar(&a.history, "history", false, "Record every write in a git history at the data root")
	f.StringVar(&a.format, "format", "csv", "Output format for tables: csv or json")

	root.AddCommand(
		a.tableCmd(),
		a.snapshotCmd(),
		a.catalogCmd(),
		a.workspaceCmd(),
		a.exceptionsCmd(),
		a.schemaCmd(),
		a.historyCmd(),
		a.watchCmd(),
		a.metricsCmd(),
	)
	return root
}

// open configures logging, loads the configuration and opens the store.
func (a *app) open(cmd *cobra.Command) error {
	logger := newLogger(a.ll)
	slog.SetDefault(logger)
	switch a.logLevel {
	case "debug":
		a.ll.Set(slog.LevelDebug)
	case "info":
		a.ll.Set(slog.LevelInfo)
	case "warn":
		a.ll.Set(slog.LevelWarn)
	case "error":
		a.ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid log level %q", a.logLevel)
	}
	if a.format != "csv" && a.format != "json" {
		return fmt.Errorf("invalid format %q", a.format)
	}

	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	cfg, err := config.Load(a.configPath, a.dataDir)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("lock-timeout") {
		cfg.LockTimeout = a.lockTimeout
		cfg.WorkspaceLockTimeout = a.lockTimeout
	}
	if f.Changed("lock-mode") {
		cfg.LockMode = config.LockMode(a.lockMode)
	}
	if f.Changed("history") {
		cfg.History = a.history
	}
	if cmd.Name() == "watch" {
		// The watch command runs the watcher itself.
		cfg.Watch = false
	}
	a.store, err = datastore.Open(cmd.Context(), cfg, logger)
	return err
}

// newLogger returns a tint logger on stderr, colored on terminals.
func newLogger(level slog.Leveler) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}
