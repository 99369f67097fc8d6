package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivmfnal/metacat-sub001/internal/querysql"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Params  []string
	Dialect string
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Print the SQL each store fetch of a query runs",
		Long: `Compile a query and print the SQL of every data source it reads.

The sqlite dialect prints complete parameterized statements. The
postgres dialect prints the metadata and dataset predicates with
literals inlined.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a query parameter (name=value)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", string(querysql.DialectSQLite), "SQL dialect (sqlite|postgres)")

	return cmd
}

func runSQL(opts *SQLOptions, src string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dialect, ok := querysql.ParseDialect(opts.Dialect)
	if !ok {
		return formatter.CommandError("invalid dialect", fmt.Errorf("%q is not sqlite or postgres", opts.Dialect))
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return formatter.CommandError("invalid parameters", err)
	}
	s, err := opts.open(cmd)
	if err != nil {
		return formatter.CommandError("open catalog", err)
	}
	defer s.Close()

	q, err := s.compile(cmd.Context(), src, params)
	if err != nil {
		return formatter.QueryError(err)
	}
	stmts, err := q.ToSQL(dialect)
	if err != nil {
		return formatter.QueryError(err)
	}

	if opts.Format == "json" {
		return formatter.SuccessWithID(q.ID.String(), stmts)
	}
	w := formatter.Writer
	for i, st := range stmts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "-- %s\n%s\n", st.Node, st.SQL)
		if st.Having != "" {
			fmt.Fprintf(w, "-- having\n%s\n", st.Having)
		}
		if len(st.Args) > 0 {
			fmt.Fprintf(w, "-- args: %v\n", st.Args)
		}
	}
	if len(stmts) == 0 {
		fmt.Fprintln(w, "-- no store fetches")
	}
	return nil
}
