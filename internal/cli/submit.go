package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gapipe/internal/batch"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Filters FilterOptions
	Repo    RepoFlags

	Partition string
	CPUs      int
	Memory    string
	Time      string
	GPUs      int
	Depend    string

	DryRun bool
	Force  bool
	Top    int
	Wait   bool

	// SubmitFunc overrides the scheduler call (tests). Nil means sbatch.
	SubmitFunc batch.SubmitFunc
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one batch job per configured object",
		Long: `Submit one Slurm unit per object whose configuration has been
materialized. Objects whose output record is already newer than their
configuration are skipped unless --force is given. Submission is
fire-and-forget; completion is observed from the output tree.

Example:
  gapipe submit --workdir /work --outdir /out --catid 10092 \
      --partition ga --cpus 8 --memory 16g --time 02:00:00`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	opts.Filters.AddFilterFlags(cmd)
	opts.Repo.AddRepoFlags(cmd)
	cmd.Flags().StringVar(&opts.Partition, "partition", "", "Slurm partition")
	cmd.Flags().IntVar(&opts.CPUs, "cpus", 0, "CPUs per task")
	cmd.Flags().StringVar(&opts.Memory, "memory", "", "memory per task")
	cmd.Flags().StringVar(&opts.Time, "time", "", "wall-clock limit")
	cmd.Flags().IntVar(&opts.GPUs, "gpus", 0, "GPUs per task")
	cmd.Flags().StringVar(&opts.Depend, "depend", "", "scheduler job ID to depend on")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print submission units without submitting")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "resubmit even when the output is up to date")
	cmd.Flags().IntVar(&opts.Top, "top", 0, "stop after this many objects")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "poll the output tree until every job completes")
	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	log := opts.Logger()
	out := opts.Formatter(cmd)

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

	objects, err := backend.ResolveObjects(cmd.Context(), filters)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving objects", err)
	}

	ropts := opts.Repo.Options()
	jobs := make([]*batch.Job, 0, len(objects))
	for _, obj := range objects {
		j, err := batch.NewJob(ropts, obj.Identity)
		if err != nil {
			return WrapExitError(ExitCommandError, "building job", err)
		}
		jobs = append(jobs, j)
	}

	o := batch.New(batch.Options{
		Repo: ropts,
		Mode: batch.ModeBatch,
		Resources: batch.Resources{
			Partition: opts.Partition,
			CPUs:      opts.CPUs,
			Memory:    opts.Memory,
			Time:      opts.Time,
			GPUs:      opts.GPUs,
			DependsOn: opts.Depend,
		},
		DryRun: opts.DryRun,
		Force:  opts.Force,
		Top:    opts.Top,
		Out:    cmd.OutOrStdout(),
	}, log)
	if opts.SubmitFunc != nil {
		o.SetSubmitFunc(opts.SubmitFunc)
	}

	sum, err := o.Submit(cmd.Context(), jobs)
	if err != nil {
		return WrapExitError(ExitCommandError, "submission aborted", err)
	}

	if opts.Wait && !opts.DryRun {
		if err := o.Wait(cmd.Context(), jobs); err != nil {
			return WrapExitError(ExitCommandError, "waiting for jobs", err)
		}
	}

	if err := reportSummary(out, cmd, opts.Format, sum); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d jobs failed", sum.Failed))
	}
	return nil
}
