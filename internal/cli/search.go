package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/repo"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Filters FilterOptions
	Repo    RepoFlags
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <product>",
		Short: "Locate data products matching the filters",
		Long: `Locate data products of one type and print their paths.

Product types: Config, Merged, Calibrated, Single, Object, Catalog.

Example:
  gapipe search Single --datadir /data --catid 10092 --objid 0x02-0x03
  gapipe search Config --registry /data/registry.db --visit 120031`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], cmd)
		},
	}

	opts.Filters.AddFilterFlags(cmd)
	opts.Repo.AddRepoFlags(cmd)
	return cmd
}

type searchResult struct {
	Product string   `json:"product"`
	Count   int      `json:"count"`
	Paths   []string `json:"paths"`
}

func runSearch(opts *SearchOptions, product string, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

	pt, err := repo.ParseProductType(product)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown product type", err)
	}
	filters, err := opts.Filters.Filters()
	if err != nil {
		return err
	}

	backend, closer, err := opts.Repo.Backend(log)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	matches, err := backend.Locate(cmd.Context(), pt, filters)
	if err != nil {
		return WrapExitError(ExitCommandError, "locate failed", err)
	}

	if opts.Format == "json" {
		paths := make([]string, 0, len(matches))
		for _, m := range matches {
			paths = append(paths, m.Path)
		}
		return out.Success(searchResult{Product: pt.String(), Count: len(matches), Paths: paths})
	}

	for _, m := range matches {
		fmt.Fprintln(cmd.OutOrStdout(), m.Path)
	}
	out.VerboseLog("%d %s products matched", len(matches), pt)
	return nil
}
