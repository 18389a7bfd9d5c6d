package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/maruel/kitchenstore/internal/config"
	"github.com/maruel/kitchenstore/internal/tabledb"
)

// readInput decodes a table from path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) (*tabledb.Table, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path) //nolint:gosec // G304: path is given on the command line
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	t, err := tabledb.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return t, nil
}

// writeTable prints t as CSV or as a JSON array of records.
func (a *app) writeTable(cmd *cobra.Command, t *tabledb.Table) error {
	w := cmd.OutOrStdout()
	if a.format == "json" {
		return printJSON(w, slices.Collect(t.Records()))
	}
	return tabledb.Encode(w, t)
}

func printJSON(w io.Writer, v any) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func (a *app) tableCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "table", Short: "Read and write tables"}
	var in string
	read := &cobra.Command{
		Use:   "read <name>",
		Short: "Print a table; a missing table is empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.store.Tables().Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.writeTable(cmd, t)
		},
	}
	write := &cobra.Command{
		Use:   "write <name>",
		Short: "Replace a table with CSV from --in or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			p, err := a.store.Tables().Write(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
	appendCmd := &cobra.Command{
		Use:   "append <name>",
		Short: "Append CSV rows from --in or stdin to a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			p, err := a.store.Tables().Append(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
	for _, c := range []*cobra.Command{write, appendCmd} {
		c.Flags().StringVar(&in, "in", "", "Input CSV file (default stdin)")
	}
	cmd.AddCommand(read, write, appendCmd)
	return cmd
}

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Timestamped immutable tables"}
	var in, prefix string
	var pathOnly bool
	create := &cobra.Command{
		Use:   "create <dir>",
		Short: "Write CSV from --in or stdin as a new snapshot in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			p, err := a.store.Tables().Snapshot(cmd.Context(), args[0], t, prefix)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
			return err
		},
	}
	create.Flags().StringVar(&in, "in", "", "Input CSV file (default stdin)")
	create.Flags().StringVar(&prefix, "prefix", "", "Name prefix, e.g. a workspace or vendor")
	latest := &cobra.Command{
		Use:   "latest <dir>",
		Short: "Print the most recent snapshot in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, info, err := a.store.Tables().LatestTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if info.Path == "" {
				return fmt.Errorf("no snapshot in %s", args[0])
			}
			if pathOnly {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), info.Path)
				return err
			}
			return a.writeTable(cmd, t)
		},
	}
	latest.Flags().BoolVar(&pathOnly, "path", false, "Print the path instead of the content")
	list := &cobra.Command{
		Use:   "list <dir>",
		Short: "List snapshots in dir, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := a.store.Tables().List(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, info := range infos {
				created := ""
				if ts, err := tabledb.ParseTimestamp(info.Name, a.store.Location()); err == nil {
					created = ts.Format("2006-01-02 15:04:05 MST")
				}
				if _, err := fmt.Fprintf(w, "%s\t%s\n", info.Name, created); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(create, latest, list)
	return cmd
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <catalog|exceptions|resolutions>",
		Short:     "Print the columns of a typed table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"catalog", "exceptions", "resolutions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := schemaOf(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cols)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Log table changes made by any process until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.ll.Set(min(a.ll.Level(), slog.LevelDebug))
			return a.store.Tables().Watch(cmd.Context())
		},
	}
}

func (a *app) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print dashboard metrics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.store.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show the recorded commits of a file or of the whole data root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := a.store.History()
			if repo == nil {
				return fmt.Errorf("history is disabled; enable it with --history or %s=1", config.EnvHistory)
			}
			p := ""
			if len(args) == 1 {
				p = args[0]
			}
			commits, err := repo.History(cmd.Context(), p, n)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), commits)
			}
			for _, c := range commits {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%.10s %s %s\n", c.Hash, c.When.In(a.store.Location()).Format("2006-01-02 15:04:05"), c.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "Maximum number of commits")
	return cmd
}
