package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Params       []string
	WithMetadata bool
	Limit        int
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <query>",
		Short: "Run a query against the catalog",
		Long: `Compile and run a query, printing the files or datasets it selects.

Examples:
  mql eval 'files from test:raw where run > 2'
  mql eval -m --limit 10 'children(files from test:raw)'
  mql eval 'datasets matching test:* having dataset.frozen = true'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "bind a query parameter (name=value)")
	cmd.Flags().BoolVarP(&opts.WithMetadata, "metadata", "m", false, "include file metadata")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "return at most this many files (0 = no limit)")

	return cmd
}

func runEval(opts *EvalOptions, src string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	if opts.Limit < 0 {
		return formatter.CommandError("invalid limit", fmt.Errorf("%d is negative", opts.Limit))
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

	q, err := s.compile(ctx, src, params)
	if err != nil {
		return formatter.QueryError(err)
	}
	formatter.VerboseLog("query %s: %s", q.ID, q.PrettyPrint())

	if q.SelectsDatasets() {
		datasets, err := q.Datasets(ctx, s.store)
		if err != nil {
			return formatter.QueryError(err)
		}
		if opts.Format == "json" {
			if datasets == nil {
				datasets = []ir.Dataset{}
			}
			return formatter.SuccessWithID(q.ID.String(), datasets)
		}
		printDatasets(formatter, datasets)
		return nil
	}

	stream, err := q.Evaluate(ctx, s.store, s.filters, opts.WithMetadata, opts.Limit)
	if err != nil {
		return formatter.QueryError(err)
	}
	files, err := engine.Collect(ctx, stream)
	if err != nil {
		return formatter.QueryError(err)
	}
	if opts.Format == "json" {
		if files == nil {
			files = []ir.File{}
		}
		return formatter.SuccessWithID(q.ID.String(), files)
	}
	printFiles(formatter, files, opts.WithMetadata)
	return nil
}

func printFiles(f *OutputFormatter, files []ir.File, withMeta bool) {
	header := []string{"FILE", "FID", "SIZE"}
	if withMeta {
		header = append(header, "METADATA")
	}
	rows := make([][]string, len(files))
	for i, file := range files {
		row := []string{file.DID().String(), file.FID, strconv.FormatInt(file.Size, 10)}
		if withMeta {
			row = append(row, metadataText(file.Metadata))
		}
		rows[i] = row
	}
	if len(rows) > 0 {
		f.Table(header, rows)
	}
	fmt.Fprintf(f.Writer, "%d file(s)\n", len(files))
}

func printDatasets(f *OutputFormatter, datasets []ir.Dataset) {
	rows := make([][]string, len(datasets))
	for i, d := range datasets {
		parent := ""
		if d.Parent != nil {
			parent = d.Parent.String()
		}
		rows[i] = []string{
			ir.DID{Namespace: d.Namespace, Name: d.Name}.String(),
			parent,
			strconv.FormatBool(d.Frozen),
			strconv.FormatBool(d.Monotonic),
			metadataText(d.Metadata),
		}
	}
	if len(rows) > 0 {
		f.Table([]string{"DATASET", "PARENT", "FROZEN", "MONOTONIC", "METADATA"}, rows)
	}
	fmt.Fprintf(f.Writer, "%d dataset(s)\n", len(datasets))
}

func metadataText(m map[string]any) string {
	data, err := ir.EncodeMetadata(m)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
