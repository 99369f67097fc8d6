package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Params []string // name=value bindings
	Output string   // file to write the JSON tree to
}

// CompileResult is the JSON payload of a successful compile.
type CompileResult struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Pretty string          `json:"pretty"`
	Tree   json.RawMessage `json:"tree"`

	// Warnings name filters the SQL store and in-memory matching may
	// disagree on.
	Warnings []string `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query>",
		Short: "Compile a query and print its optimized tree",
		Long: `Parse, assemble and optimize a query without running it.

Named query references are inlined from the catalog, so the printed
tree is exactly what eval would run.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a query parameter (name=value)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON tree to a file")

	return cmd
}

func runCompile(opts *CompileOptions, src string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

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
	tree, err := q.JSON()
	if err != nil {
		return formatter.QueryError(err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, tree, 0o644); err != nil {
			return formatter.CommandError("write output file", err)
		}
		formatter.VerboseLog("Wrote tree to %s", opts.Output)
	}

	if opts.Format == "json" {
		return formatter.SuccessWithID(q.ID.String(), CompileResult{
			ID:       q.ID.String(),
			Source:   src,
			Pretty:   q.PrettyPrint(),
			Tree:     tree,
			Warnings: q.Warnings(),
		})
	}
	fmt.Fprintln(formatter.Writer, q.PrettyPrint())
	for _, w := range q.Warnings() {
		fmt.Fprintf(formatter.Writer, "%s %s\n", warnMark, w)
	}
	return nil
}
