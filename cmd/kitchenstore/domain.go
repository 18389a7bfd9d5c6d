package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/maruel/ksid"
	"github.com/spf13/cobra"

	"github.com/maruel/kitchenstore/internal/catalog"
	"github.com/maruel/kitchenstore/internal/exceptions"
	"github.com/maruel/kitchenstore/internal/tabledb"
	"github.com/maruel/kitchenstore/internal/workspace"
)

func schemaOf(name string) ([]tabledb.Column, error) {
	switch name {
	case "catalog":
		return tabledb.SchemaOf[catalog.Record]()
	case "exceptions":
		return tabledb.SchemaOf[exceptions.Record]()
	case "resolutions":
		return tabledb.SchemaOf[exceptions.Resolution]()
	}
	return nil, fmt.Errorf("unknown schema %q", name)
}

func (a *app) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Vendor price catalogs"}
	var in string
	merge := &cobra.Command{
		Use:   "merge <vendor>",
		Short: "Merge an uploaded catalog CSV from --in or stdin into the vendor catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			res, err := a.store.Catalogs().Upload(cmd.Context(), args[0], t)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	merge.Flags().StringVar(&in, "in", "", "Input CSV file (default stdin)")
	vendors := &cobra.Command{
		Use:   "vendors",
		Short: "List vendors found in the catalogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vs, err := a.store.Catalogs().Vendors(cmd.Context(), catalog.DefaultVendors)
			if err != nil {
				return err
			}
			return printLines(cmd.OutOrStdout(), vs)
		},
	}
	all := &cobra.Command{
		Use:   "all",
		Short: "Print every vendor catalog as one table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := a.store.Catalogs().LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			t, err := tabledb.Marshal(recs)
			if err != nil {
				return err
			}
			return a.writeTable(cmd, t)
		},
	}
	cmd.AddCommand(merge, vendors, all)
	return cmd
}

func (a *app) workspaceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workspace", Short: "Shared workspace payloads"}
	features := &cobra.Command{
		Use:   "features",
		Short: "List features with workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs, err := a.store.Workspaces().Features(cmd.Context())
			if err != nil {
				return err
			}
			return printLines(cmd.OutOrStdout(), fs)
		},
	}
	list := &cobra.Command{
		Use:   "list <feature>",
		Short: "List the workspaces of a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.store.Workspaces().List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printLines(cmd.OutOrStdout(), names)
		},
	}
	show := &cobra.Command{
		Use:   "show <feature> [name]",
		Short: "Print a workspace payload, creating it empty if needed",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := workspace.DefaultName
			if len(args) == 2 {
				name = args[1]
			}
			p, err := a.store.Workspaces().Load(cmd.Context(), args[0], name, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	var in string
	save := &cobra.Command{
		Use:   "save <feature> <name>",
		Short: "Replace a workspace payload with a JSON object from --in or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in) //nolint:gosec // G304: path is given on the command line
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			var p workspace.Payload
			if err := json.NewDecoder(r).Decode(&p); err != nil {
				return fmt.Errorf("failed to parse payload: %w", err)
			}
			return a.store.Workspaces().Save(cmd.Context(), args[0], args[1], p)
		},
	}
	save.Flags().StringVar(&in, "in", "", "Input JSON file (default stdin)")
	del := &cobra.Command{
		Use:   "delete <feature> <name>",
		Short: "Delete a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Workspaces().Delete(cmd.Context(), args[0], args[1])
		},
	}
	cmd.AddCommand(features, list, show, save, del)
	return cmd
}

func (a *app) exceptionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "exceptions", Short: "Data quality exceptions"}

	var rec exceptions.Record
	var severity string
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Append an exception",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec.Severity = exceptions.Severity(severity)
			out, err := a.store.Exceptions().Log(cmd.Context(), rec)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return err
		},
	}
	lf := logCmd.Flags()
	lf.StringVar(&rec.Code, "code", "", "Short machine readable kind (required)")
	lf.StringVar(&severity, "severity", string(exceptions.SeverityWarning), "info, warning or error")
	lf.StringVar(&rec.Message, "message", "", "Human readable message")
	lf.StringVar(&rec.Source, "source", "cli", "Table or feature that raised it")
	lf.StringVar(&rec.Context, "context", "", "Free text details")

	var f exceptions.Filter
	var filterSeverity string
	var since time.Duration
	list := &cobra.Command{
		Use:   "list",
		Short: "List exceptions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.Severity = exceptions.Severity(filterSeverity)
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			recs, err := a.store.Exceptions().List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if a.format == "json" {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			t, err := tabledb.Marshal(recs)
			if err != nil {
				return err
			}
			return tabledb.Encode(cmd.OutOrStdout(), t)
		},
	}
	ff := list.Flags()
	ff.StringVar(&f.Code, "code", "", "Only this code")
	ff.StringVar(&filterSeverity, "severity", "", "Only this severity")
	ff.StringVar(&f.Source, "source", "", "Only this source")
	ff.BoolVar(&f.Unresolved, "unresolved", false, "Only unresolved exceptions")
	ff.DurationVar(&since, "since", 0, "Only exceptions logged within this duration")

	var by string
	resolve := &cobra.Command{
		Use:   "resolve <id>...",
		Short: "Mark exceptions as resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]ksid.ID, 0, len(args))
			for _, s := range args {
				id, err := ksid.Parse(strings.TrimSpace(s))
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", s, err)
				}
				ids = append(ids, id)
			}
			n, err := a.store.Exceptions().Resolve(cmd.Context(), ids, by)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "resolved %d\n", n)
			return err
		},
	}
	resolve.Flags().StringVar(&by, "by", os.Getenv("USER"), "Who resolved them")

	cmd.AddCommand(logCmd, list, resolve)
	return cmd
}

func printLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
