package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/batch"
	"gapipe/internal/config"
	"gapipe/internal/repo"
)

// ConfigureOptions holds flags for the configure command.
type ConfigureOptions struct {
	*RootOptions
	Filters FilterOptions
	Repo    RepoFlags

	Templates []string
	Priors    string
	ObsParams string
	DryRun    bool
	Top       int
}

// NewConfigureCommand creates the configure command.
func NewConfigureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Materialize one pipeline configuration per resolved object",
		Long: `Resolve the objects matching the filters and materialize the template
into one configuration per object in the work tree. A binding failure
isolates that object; the rest of the batch proceeds.

Example:
  gapipe configure --config base.yaml --config site.cue \
      --datadir /data --workdir /work --catid 10092`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(opts, cmd)
		},
	}

	opts.Filters.AddFilterFlags(cmd)
	opts.Repo.AddRepoFlags(cmd)
	cmd.Flags().StringSliceVar(&opts.Templates, "config", nil, "template file, repeatable; later files override earlier ones")
	cmd.Flags().StringVar(&opts.Priors, "priors", "", "stellar-parameter priors file keyed by object ID")
	cmd.Flags().StringVar(&opts.ObsParams, "obs-params", "", "observation-parameter file keyed by object ID")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print what would be written without writing")
	cmd.Flags().IntVar(&opts.Top, "top", 0, "stop after this many objects")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runConfigure(opts *ConfigureOptions, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

	filters, err := opts.Filters.Filters()
	if err != nil {
		return err
	}

	tpl, err := config.LoadTemplates(opts.Templates)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading templates", err)
	}
	priors, err := config.LoadPriors(opts.Priors)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading priors", err)
	}
	obsParams, err := config.LoadPriors(opts.ObsParams)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading obs-params", err)
	}
	m := &config.Materializer{Template: tpl, Priors: priors, ObsParams: obsParams}

	backend, closer, err := opts.Repo.Backend(log)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	objects, err := backend.ResolveObjects(cmd.Context(), filters)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving objects", err)
	}
	if opts.Top > 0 && len(objects) > opts.Top {
		objects = objects[:opts.Top]
	}

	sum := batch.Summary{Resolved: len(objects)}
	ropts := opts.Repo.Options()
	for _, obj := range objects {
		path, err := repo.ObjectConfigPath(ropts, obj.Identity)
		if err != nil {
			sum.Failed++
			log.Error("config path", "object", obj.Identity.Key(), "error", err)
			continue
		}
		if opts.DryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "dry run: would write %s\n", path)
			sum.Skipped++
			continue
		}
		cfg, err := m.Materialize(obj)
		if err != nil {
			// A binding failure isolates this object only.
			sum.Failed++
			log.Error("materialize", "object", obj.Identity.Key(), "error", err)
			continue
		}
		if err := config.WriteConfig(path, cfg); err != nil {
			sum.Failed++
			log.Error("write config", "object", obj.Identity.Key(), "error", err)
			continue
		}
		sum.Configured++
		log.Debug("configured", "object", obj.Identity.Key(), "path", path)
	}

	if err := reportSummary(out, cmd, opts.Format, sum); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d objects failed", sum.Failed))
	}
	return nil
}

func reportSummary(out *OutputFormatter, cmd *cobra.Command, format string, sum batch.Summary) error {
	if format == "json" {
		return out.Success(sum)
	}
	fmt.Fprintln(cmd.OutOrStdout(), summaryLine(sum.Resolved, sum.Configured, sum.Submitted, sum.Skipped, sum.Failed))
	return nil
}
