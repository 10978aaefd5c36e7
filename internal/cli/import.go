package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/registry"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Repo RepoFlags
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Fill the metadata registry from a filesystem tree",
		Long: `Walk the data tree and register every Config product as a visit and
every Single product as an observation. Re-importing is idempotent;
existing rows are replaced.

Example:
  gapipe import --registry /data/registry.db --datadir /data`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	opts.Repo.AddRepoFlags(cmd)
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

	fs, err := opts.Repo.Filesystem()
	if err != nil {
		return err
	}
	store, err := registry.Open(opts.Repo.Registry)
	if err != nil {
		return WrapExitError(ExitBackendUnavailable, "opening registry", err)
	}
	defer store.Close()

	visits, observations, err := store.ImportFilesystem(cmd.Context(), fs)
	if err != nil {
		return WrapExitError(ExitCommandError, "import failed", err)
	}
	log.Info("import complete", "visits", visits, "observations", observations)

	if opts.Format == "json" {
		return out.Success(map[string]int{"visits": visits, "observations": observations})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "visits=%d observations=%d\n", visits, observations)
	return nil
}
