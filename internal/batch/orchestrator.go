package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"gapipe/internal/config"
	"gapipe/internal/repo"
)

// Mode selects how jobs execute.
type Mode int

const (
	// ModeLocal runs each job synchronously as a direct subprocess.
	ModeLocal Mode = iota
	// ModeBatch submits one Slurm unit per job, fire-and-forget.
	ModeBatch
)

// SubmissionError reports a scheduler rejection after retries are exhausted.
type SubmissionError struct {
	Handle   string
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s failed after %d attempts: %v", e.Handle, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ProcessingError reports a job whose run exited nonzero. Processing
// failures are not assumed transient and are never retried.
type ProcessingError struct {
	ConfigPath string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.ConfigPath, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Summary counts job outcomes of one batch operation. It is always
// reported, whatever the outcome.
type Summary struct {
	Resolved   int `json:"resolved"`
	Configured int `json:"configured"`
	Submitted  int `json:"submitted"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SubmitFunc hands one rendered script to the scheduler and returns its
// acknowledgement (the scheduler job ID).
type SubmitFunc func(ctx context.Context, script string) (string, error)

// StepRunner executes one opaque processing step against a configuration.
type StepRunner interface {
	RunStep(ctx context.Context, step, configPath string) error
}

// Options collects every external input of the orchestrator.
type Options struct {
	Repo      repo.Options
	Mode      Mode
	Resources Resources

	// Executable is the command batch units run per configuration.
	Executable string

	DryRun bool
	Force  bool
	Top    int // stop after this many objects, 0 means no limit

	MaxRetries   int           // submission retry attempts after the first
	RetryBackoff time.Duration // first backoff interval, doubled per retry
	PollInterval time.Duration

	// Out receives dry-run output. Defaults to stdout.
	Out io.Writer
}

func (o Options) executable() string {
	if o.Executable == "" {
		return "gapipe"
	}
	return o.Executable
}

func (o Options) maxRetries() int {
	if o.MaxRetries < 0 {
		return 0
	}
	if o.MaxRetries == 0 {
		return 3
	}
	return o.MaxRetries
}

func (o Options) retryBackoff() time.Duration {
	if o.RetryBackoff <= 0 {
		return time.Second
	}
	return o.RetryBackoff
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return 10 * time.Second
	}
	return o.PollInterval
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// Orchestrator drives jobs through their lifecycle. The control logic is
// single-threaded; parallelism comes from the external scheduler running
// submitted units concurrently.
type Orchestrator struct {
	opts   Options
	gen    HandleGenerator
	log    *slog.Logger
	submit SubmitFunc
	runner StepRunner
}

// New creates an orchestrator with the production scheduler and runner.
func New(opts Options, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		opts: opts,
		gen:  UUIDv7Generator{},
		log:  log,
	}
	o.submit = o.sbatchSubmit
	o.runner = &execStepRunner{executable: opts.executable()}
	return o
}

// SetHandleGenerator replaces the handle generator (tests).
func (o *Orchestrator) SetHandleGenerator(gen HandleGenerator) { o.gen = gen }

// SetSubmitFunc replaces the scheduler submission (tests).
func (o *Orchestrator) SetSubmitFunc(fn SubmitFunc) { o.submit = fn }

// SetStepRunner replaces the step runner (tests).
func (o *Orchestrator) SetStepRunner(r StepRunner) { o.runner = r }

// Submit drives every job to submission or a terminal state and reports the
// summary. Per-job failures never abort the batch; the summary carries the
// failure count and each failed job its cause.
func (o *Orchestrator) Submit(ctx context.Context, jobs []*Job) (Summary, error) {
	if o.opts.Top > 0 && len(jobs) > o.opts.Top {
		jobs = jobs[:o.opts.Top]
	}

	var sum Summary
	sum.Resolved = len(jobs)

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		j.Refresh()
		if j.State == StatePending {
			// No configuration materialized for this identity.
			j.State = StateFailed
			j.Err = fmt.Errorf("no configuration at %s", j.ConfigPath)
			sum.Failed++
			continue
		}
		sum.Configured++

		if !o.opts.Force && j.UpToDate() {
			j.State = StateSkipped
			sum.Skipped++
			o.log.Debug("output up to date, skipping", "object", j.Identity.Key())
			continue
		}

		if err := o.dispatch(ctx, j); err != nil {
			j.State = StateFailed
			j.Err = err
			sum.Failed++
			o.log.Error("job failed", "object", j.Identity.Key(), "error", err)
			continue
		}
		if j.State == StateSkipped {
			// Dry run: dispatch printed the action without taking it.
			sum.Skipped++
		} else {
			sum.Submitted++
		}
	}
	return sum, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, j *Job) error {
	switch o.opts.Mode {
	case ModeLocal:
		return o.runLocal(ctx, j)
	case ModeBatch:
		return o.submitBatch(ctx, j)
	}
	return fmt.Errorf("unknown mode %d", o.opts.Mode)
}

// runLocal executes the job synchronously and settles its terminal state.
func (o *Orchestrator) runLocal(ctx context.Context, j *Job) error {
	if o.opts.DryRun {
		fmt.Fprintf(o.opts.out(), "dry run: would run %s\n", j.ConfigPath)
		j.State = StateSkipped
		return nil
	}
	j.State = StateRunning
	if err := o.RunConfig(ctx, j.ConfigPath); err != nil {
		return err
	}
	j.State = StateSucceeded
	return nil
}

// submitBatch renders and submits one scheduler unit, fire-and-forget.
// Completion is observed later by polling the output record.
func (o *Orchestrator) submitBatch(ctx context.Context, j *Job) error {
	handle := o.gen.Generate()
	outputDir, err := repo.ObjectOutputDir(o.opts.Repo, j.Identity)
	if err != nil {
		return err
	}
	command := fmt.Sprintf("%s run --config %s", o.opts.executable(), j.ConfigPath)
	script := SubmissionScript(handle, command, outputDir, o.opts.Resources)

	if o.opts.DryRun {
		fmt.Fprintf(o.opts.out(), "dry run: would submit %s\n%s", j.Identity.Key(), script)
		j.State = StateSkipped
		return nil
	}

	jobID, err := o.submitWithRetry(ctx, handle, script)
	if err != nil {
		return err
	}
	j.Handle = handle
	j.State = StateRunning
	o.log.Info("submitted", "object", j.Identity.Key(), "handle", handle, "jobId", jobID)
	return nil
}

// submitWithRetry retries scheduler rejections with exponential backoff.
// Only the submission call itself is retried; a job that ran and failed is
// never resubmitted.
func (o *Orchestrator) submitWithRetry(ctx context.Context, handle, script string) (string, error) {
	attempts := o.opts.maxRetries() + 1
	backoff := o.opts.retryBackoff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		jobID, err := o.submit(ctx, script)
		if err == nil {
			return jobID, nil
		}
		lastErr = err
		o.log.Warn("submission rejected", "handle", handle, "attempt", attempt, "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", &SubmissionError{Handle: handle, Attempts: attempts, Err: lastErr}
}

// sbatchSubmit pipes the script into sbatch on stdin and returns the
// scheduler's acknowledgement line.
func (o *Orchestrator) sbatchSubmit(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "sbatch")
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sbatch: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunConfig executes the configured processing steps against one
// materialized configuration and writes the output record. This is what a
// submitted unit invokes on the compute node, and what local mode calls
// directly.
func (o *Orchestrator) RunConfig(ctx context.Context, configPath string) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return err
	}

	for _, step := range cfg.Run.Steps {
		o.log.Info("running step", "step", step, "config", configPath)
		if err := o.runner.RunStep(ctx, step, configPath); err != nil {
			return &ProcessingError{ConfigPath: configPath, Err: fmt.Errorf("step %s: %w", step, err)}
		}
	}

	recordPath, err := repo.ObjectRecordPath(o.opts.Repo, recordIdentity(cfg))
	if err != nil {
		return err
	}
	if err := config.WriteRecord(recordPath, recordFor(cfg, recordPath)); err != nil {
		return err
	}
	o.log.Info("run complete", "record", recordPath)
	return nil
}

// Wait polls the output tree until every submitted job reaches a terminal
// state. Completion is observed from the filesystem only; no scheduler
// connection is held open.
func (o *Orchestrator) Wait(ctx context.Context, jobs []*Job) error {
	ticker := time.NewTicker(o.opts.pollInterval())
	defer ticker.Stop()

	for {
		pending := 0
		for _, j := range jobs {
			if j.State != StateRunning {
				continue
			}
			if j.UpToDate() {
				j.State = StateSucceeded
				continue
			}
			pending++
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
