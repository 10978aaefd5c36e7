package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/catalog"
)

// CollectOptions holds flags for the collect command.
type CollectOptions struct {
	*RootOptions
	Filters FilterOptions
	Repo    RepoFlags
	Out     string
}

// NewCollectCommand creates the collect command.
func NewCollectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Merge per-object output records into one catalog",
		Long: `Collect the output records matching the filters and merge them into
one catalog table in the output tree. Records missing for otherwise
configured objects are reported as warnings; a catalog from a partially
complete run is still written.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(opts, cmd)
		},
	}

	opts.Filters.AddFilterFlags(cmd)
	opts.Repo.AddRepoFlags(cmd)
	cmd.Flags().StringVar(&opts.Out, "out", "", "catalog output path (default: canonical path in the output tree)")
	return cmd
}

type collectResult struct {
	Path     string   `json:"path"`
	Rows     int      `json:"rows"`
	Warnings []string `json:"warnings,omitempty"`
}

func runCollect(opts *CollectOptions, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

	filters, err := opts.Filters.Filters()
	if err != nil {
		return err
	}

	// Output records are never registered; collection always walks the
	// work and output trees.
	fs, err := opts.Repo.Filesystem()
	if err != nil {
		return err
	}

	table, warnings, err := catalog.Collect(cmd.Context(), fs, filters)
	if err != nil {
		return WrapExitError(ExitCommandError, "collecting records", err)
	}
	for _, w := range warnings {
		log.Warn("incomplete catalog", "object", w.Identity.Key(), "reason", w.Reason)
	}

	path := opts.Out
	if path == "" {
		path, err = catalog.Path(opts.Repo.Options(), table)
		if err != nil {
			return WrapExitError(ExitCommandError, "catalog path", err)
		}
	}
	if err := catalog.Write(path, table); err != nil {
		return WrapExitError(ExitCommandError, "writing catalog", err)
	}

	if opts.Format == "json" {
		res := collectResult{Path: path, Rows: len(table.Rows)}
		for _, w := range warnings {
			res.Warnings = append(res.Warnings, w.String())
		}
		return out.Success(res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows, %d warnings)\n", path, len(table.Rows), len(warnings))
	return nil
}
