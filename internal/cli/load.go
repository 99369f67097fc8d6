package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivmfnal/metacat-sub001/internal/catalog"
)

// LoadResult summarizes a loaded fixture.
type LoadResult struct {
	Datasets int `json:"datasets"`
	Files    int `json:"files"`
	Queries  int `json:"queries"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <fixture.yaml>",
		Short: "Load a YAML catalog fixture into the database",
		Long: `Add the datasets, files, provenance links and named queries of a
YAML fixture to the catalog database. Datasets and named queries that
already exist are replaced.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(rootOpts, args[0], cmd)
		},
	}
}

func runLoad(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	fx, err := catalog.LoadFixture(path)
	if err != nil {
		return formatter.CommandError("read fixture", err)
	}
	s, err := opts.open(cmd)
	if err != nil {
		return formatter.CommandError("open catalog", err)
	}
	defer s.Close()

	if err := fx.Apply(cmd.Context(), s.store); err != nil {
		return formatter.CommandError("load fixture", err)
	}

	result := LoadResult{Datasets: len(fx.Datasets), Files: len(fx.Files), Queries: len(fx.Queries)}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%s Loaded %d dataset(s), %d file(s), %d query(s) into %s\n",
		okMark, result.Datasets, result.Files, result.Queries, s.cfg.Database)
	return nil
}
