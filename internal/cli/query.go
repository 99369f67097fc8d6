package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/parser"
)

// NewQueryCommand creates the query command group for named queries.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Manage named queries",
		Long: `Store, show and check named queries.

Named queries live in the catalog database, or in a directory of
<namespace>/<name>.mql files when --queries or the config names one.`,
	}
	cmd.AddCommand(newQueryPutCommand(rootOpts))
	cmd.AddCommand(newQueryGetCommand(rootOpts))
	cmd.AddCommand(newQueryListCommand(rootOpts))
	cmd.AddCommand(newQueryCheckCommand(rootOpts))
	cmd.AddCommand(newQueryWatchCommand(rootOpts))
	return cmd
}

func parseQueryDID(s, defaultNamespace string) (ir.DID, error) {
	did, err := ir.ParseDID(s, defaultNamespace)
	if err != nil {
		return ir.DID{}, err
	}
	if did.Namespace == "" {
		return ir.DID{}, fmt.Errorf("query %q has no namespace and no default namespace is set", s)
	}
	return did, nil
}

func newQueryPutCommand(rootOpts *RootOptions) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "put <namespace:name> [file]",
		Short: "Store a named query read from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			var (
				src []byte
				err error
			)
			if len(args) == 2 && args[1] != "-" {
				src, err = os.ReadFile(args[1])
			} else {
				src, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return formatter.CommandError("read query", err)
			}
			source := strings.TrimSpace(string(src))
			if _, err := parser.Parse(source); err != nil {
				return formatter.QueryError(err)
			}
			values, err := parseParams(params)
			if err != nil {
				return formatter.CommandError("invalid parameters", err)
			}

			s, err := rootOpts.open(cmd)
			if err != nil {
				return formatter.CommandError("open catalog", err)
			}
			defer s.Close()

			did, err := parseQueryDID(args[0], s.cfg.Namespace)
			if err != nil {
				return formatter.CommandError("invalid query name", err)
			}
			q := ir.NamedQuery{Namespace: did.Namespace, Name: did.Name, Source: source}
			if len(values) > 0 {
				q.Params = values
			}
			if err := s.queries.PutQuery(cmd.Context(), q); err != nil {
				return formatter.CommandError("store query", err)
			}
			if rootOpts.Format == "json" {
				return formatter.Success(q)
			}
			fmt.Fprintf(formatter.Writer, "%s Stored %s\n", okMark, did)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "default parameter value (name=value)")
	return cmd
}

func newQueryGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace:name>",
		Short: "Print a named query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return formatter.CommandError("open catalog", err)
			}
			defer s.Close()

			did, err := parseQueryDID(args[0], s.cfg.Namespace)
			if err != nil {
				return formatter.CommandError("invalid query name", err)
			}
			q, found, err := s.queries.GetQuery(cmd.Context(), did.Namespace, did.Name)
			if err != nil {
				return formatter.CommandError("read query", err)
			}
			if !found {
				_ = formatter.Error("UNKNOWN_NAMED_QUERY", fmt.Sprintf("unknown named query %s", did), nil)
				return NewExitError(ExitFailure, "unknown named query "+did.String())
			}
			if rootOpts.Format == "json" {
				return formatter.Success(q)
			}
			fmt.Fprintln(formatter.Writer, q.Source)
			for _, name := range ir.SortedKeys(q.Params) {
				fmt.Fprintf(formatter.Writer, "# %s = %s\n", name, q.Params[name].Literal())
			}
			return nil
		},
	}
}

func newQueryListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List named queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return formatter.CommandError("open catalog", err)
			}
			defer s.Close()

			queries, err := s.queries.Queries(cmd.Context())
			if err != nil {
				return formatter.CommandError("list queries", err)
			}
			if rootOpts.Format == "json" {
				if queries == nil {
					queries = []ir.NamedQuery{}
				}
				return formatter.Success(queries)
			}
			rows := make([][]string, len(queries))
			for i, q := range queries {
				rows[i] = []string{q.DID().String(), q.Source}
			}
			if len(rows) > 0 {
				formatter.Table([]string{"QUERY", "SOURCE"}, rows)
			}
			fmt.Fprintf(formatter.Writer, "%d query(s)\n", len(queries))
			return nil
		},
	}
}

func newQueryCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report named queries that reference each other in a cycle",
		Long: `Parse every named query and report reference cycles and bodies that
do not parse. Exits with status 1 when anything is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return formatter.CommandError("open catalog", err)
			}
			defer s.Close()

			queries, err := s.queries.Queries(cmd.Context())
			if err != nil {
				return formatter.CommandError("list queries", err)
			}
			warnings := compiler.AnalyzeCycles(queries)

			if rootOpts.Format == "json" {
				if err := formatter.Success(warnings); err != nil {
					return err
				}
			} else {
				for _, w := range warnings {
					mark := warnMark
					if w.Level == "error" {
						mark = failMark
					}
					fmt.Fprintf(formatter.Writer, "%s %s\n", mark, w.Message)
				}
				if len(warnings) == 0 {
					fmt.Fprintf(formatter.Writer, "%s %d query(s), no cycles\n", okMark, len(queries))
				}
			}
			if len(warnings) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) in named queries", len(warnings)))
			}
			return nil
		},
	}
}

func newQueryWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes to the named query directory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return formatter.CommandError("open catalog", err)
			}
			defer s.Close()
			if s.dir == nil {
				return formatter.CommandError("watch", fmt.Errorf("no query directory configured"))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			fmt.Fprintf(formatter.Writer, "watching %s\n", s.dir.Root())
			return s.dir.Watch(ctx, func(did ir.DID) {
				_, found, _ := s.dir.GetQuery(ctx, did.Namespace, did.Name)
				state := "removed"
				if found {
					state = "updated"
				}
				fmt.Fprintf(formatter.Writer, "%s %s\n", state, did)
			})
		},
	}
}
