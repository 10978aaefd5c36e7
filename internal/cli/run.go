package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/batch"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Repo    RepoFlags
	Configs []string

	// StepRunner overrides the step execution (tests). Nil means the
	// external step subprocess.
	StepRunner batch.StepRunner
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline locally against materialized configurations",
		Long: `Run the configured processing steps synchronously, one configuration
at a time, and write each object's output record. This is also what a
submitted batch unit executes on its compute node.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, cmd)
		},
	}

	opts.Repo.AddRepoFlags(cmd)
	cmd.Flags().StringSliceVar(&opts.Configs, "config", nil, "materialized configuration file, repeatable")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runRun(opts *RunOptions, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

	o := batch.New(batch.Options{
		Repo: opts.Repo.Options(),
		Mode: batch.ModeLocal,
		Out:  cmd.OutOrStdout(),
	}, log)
	if opts.StepRunner != nil {
		o.SetStepRunner(opts.StepRunner)
	}

	failed := 0
	for _, path := range opts.Configs {
		if err := o.RunConfig(cmd.Context(), path); err != nil {
			failed++
			log.Error("run failed", "config", path, "error", err)
			continue
		}
		out.VerboseLog("completed %s", path)
	}

	if opts.Format == "json" {
		if err := out.Success(map[string]int{"configs": len(opts.Configs), "failed": failed}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "configs=%d failed=%d\n", len(opts.Configs), failed)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d runs failed", failed))
	}
	return nil
}
