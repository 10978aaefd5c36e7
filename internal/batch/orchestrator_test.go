package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapipe/internal/config"
	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

func testRepoOptions(t *testing.T) repo.Options {
	t.Helper()
	root := t.TempDir()
	return repo.Options{
		Datadir:  filepath.Join(root, "data"),
		Workdir:  filepath.Join(root, "work"),
		Outdir:   filepath.Join(root, "out"),
		Rerundir: "run17",
	}
}

func testIdentity(objID uint64) ident.Identity {
	patch := ident.Patch{X: 1, Y: 1}
	return ident.NewIdentity(90003, 1, &patch, objID, []uint32{100, 101})
}

func testConfigFor(id ident.Identity) *config.PipelineConfig {
	return &config.PipelineConfig{
		Target: config.Target{
			CatID:     id.CatID,
			Tract:     id.Tract,
			Patch:     id.PatchString(),
			ObjID:     id.ObjID,
			NVisit:    id.NVisit,
			VisitHash: id.VisitHash,
			Observations: []ident.Visit{
				{Visit: 100, Arm: ident.ArmBlue},
				{Visit: 101, Arm: ident.ArmBlue},
				{Visit: 100, Arm: ident.ArmRed},
			},
		},
		Run: config.RunSpec{Steps: []string{"rvfit", "coadd"}},
	}
}

func configuredJob(t *testing.T, opts repo.Options, objID uint64) *Job {
	t.Helper()
	id := testIdentity(objID)
	j, err := NewJob(opts, id)
	require.NoError(t, err)
	require.NoError(t, config.WriteConfig(j.ConfigPath, testConfigFor(id)))
	j.Refresh()
	require.Equal(t, StateConfigured, j.State)
	return j
}

type fakeRunner struct {
	mu    sync.Mutex
	steps []string
	fail  bool
}

func (r *fakeRunner) RunStep(ctx context.Context, step, configPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("step exited 1")
	}
	r.steps = append(r.steps, step)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localOrchestrator(t *testing.T, opts Options, runner StepRunner) *Orchestrator {
	t.Helper()
	o := New(opts, testLogger())
	o.SetStepRunner(runner)
	o.SetSubmitFunc(func(ctx context.Context, script string) (string, error) {
		t.Fatal("unexpected scheduler submission in local mode")
		return "", nil
	})
	return o
}

func TestSubmitLocalRunsAndWritesRecord(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)
	runner := &fakeRunner{}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal}, runner)

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Submitted: 1}, sum)
	assert.Equal(t, StateSucceeded, j.State)
	assert.Equal(t, []string{"rvfit", "coadd"}, runner.steps)

	rec, err := config.ReadRecord(j.RecordPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xabc), rec.ObjID)
	assert.Equal(t, map[string]int{"b": 2, "r": 1}, rec.ArmCounts)
	assert.Equal(t, []uint32{100, 101}, rec.Visits)
	assert.Equal(t, []string{"rvfit", "coadd"}, rec.Steps)
}

func TestSubmitSkipsUpToDateUnlessForced(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)
	runner := &fakeRunner{}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal}, runner)
	ctx := context.Background()

	_, err := o.Submit(ctx, []*Job{j})
	require.NoError(t, err)

	sum, err := o.Submit(ctx, []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Skipped: 1}, sum)
	assert.Equal(t, StateSkipped, j.State)
	assert.Len(t, runner.steps, 2) // no second run

	forced := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal, Force: true}, runner)
	sum, err = forced.Submit(ctx, []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Submitted: 1}, sum)
	assert.Len(t, runner.steps, 4)
}

func TestSubmitStaleRecordReruns(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)
	runner := &fakeRunner{}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal}, runner)
	ctx := context.Background()

	_, err := o.Submit(ctx, []*Job{j})
	require.NoError(t, err)

	// Touch the configuration into the future; the record is now stale.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(j.ConfigPath, future, future))

	sum, err := o.Submit(ctx, []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Submitted: 1}, sum)
}

func TestSubmitProcessingFailureNotRetried(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)
	runner := &fakeRunner{fail: true}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal}, runner)

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Failed: 1}, sum)
	assert.Equal(t, StateFailed, j.State)

	var pe *ProcessingError
	require.True(t, errors.As(j.Err, &pe))
	_, statErr := os.Stat(j.RecordPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSubmitUnconfiguredJobFails(t *testing.T) {
	ropts := testRepoOptions(t)
	j, err := NewJob(ropts, testIdentity(0xabc))
	require.NoError(t, err)
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal}, &fakeRunner{})

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Failed: 1}, sum)
	assert.Equal(t, StateFailed, j.State)
}

func TestSubmitTopLimitsJobs(t *testing.T) {
	ropts := testRepoOptions(t)
	jobs := []*Job{
		configuredJob(t, ropts, 0x01),
		configuredJob(t, ropts, 0x02),
		configuredJob(t, ropts, 0x03),
	}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal, Top: 2}, &fakeRunner{})

	sum, err := o.Submit(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Resolved)
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, StateConfigured, jobs[2].State)
}

func TestSubmitBatchRetriesThenSucceeds(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)

	attempts := 0
	o := New(Options{
		Repo:         ropts,
		Mode:         ModeBatch,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	o.SetHandleGenerator(NewFixedGenerator("h-1"))
	o.SetSubmitFunc(func(ctx context.Context, script string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("scheduler busy")
		}
		return "Submitted batch job 4242", nil
	})

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Submitted: 1}, sum)
	assert.Equal(t, StateRunning, j.State)
	assert.Equal(t, "h-1", j.Handle)
}

func TestSubmitBatchExhaustsRetries(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)

	attempts := 0
	o := New(Options{
		Repo:         ropts,
		Mode:         ModeBatch,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, testLogger())
	o.SetHandleGenerator(NewFixedGenerator("h-1"))
	o.SetSubmitFunc(func(ctx context.Context, script string) (string, error) {
		attempts++
		return "", errors.New("scheduler down")
	})

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Failed: 1}, sum)
	assert.Equal(t, StateFailed, j.State)

	var se *SubmissionError
	require.True(t, errors.As(j.Err, &se))
	assert.Equal(t, 3, se.Attempts)
}

func TestSubmitBatchDryRun(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)

	var out bytes.Buffer
	o := New(Options{Repo: ropts, Mode: ModeBatch, DryRun: true, Out: &out}, testLogger())
	o.SetHandleGenerator(NewFixedGenerator("h-1"))
	o.SetSubmitFunc(func(ctx context.Context, script string) (string, error) {
		t.Fatal("dry run must not submit")
		return "", nil
	})

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Skipped: 1}, sum)
	assert.Equal(t, StateSkipped, j.State)
	assert.Contains(t, out.String(), "#SBATCH --job-name gapipe-h-1")
	assert.Contains(t, out.String(), fmt.Sprintf("srun gapipe run --config %s", j.ConfigPath))
}

func TestSubmitLocalDryRun(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)

	var out bytes.Buffer
	runner := &fakeRunner{}
	o := localOrchestrator(t, Options{Repo: ropts, Mode: ModeLocal, DryRun: true, Out: &out}, runner)

	sum, err := o.Submit(context.Background(), []*Job{j})
	require.NoError(t, err)
	assert.Equal(t, Summary{Resolved: 1, Configured: 1, Skipped: 1}, sum)
	assert.Equal(t, StateSkipped, j.State)
	assert.Empty(t, runner.steps)
	assert.Contains(t, out.String(), fmt.Sprintf("dry run: would run %s", j.ConfigPath))
}

func TestWaitObservesRecord(t *testing.T) {
	ropts := testRepoOptions(t)
	j := configuredJob(t, ropts, 0xabc)
	j.State = StateRunning

	o := New(Options{Repo: ropts, Mode: ModeBatch, PollInterval: 5 * time.Millisecond}, testLogger())

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- o.Wait(ctx, []*Job{j})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, config.WriteRecord(j.RecordPath, &config.ObjectRecord{ObjID: 0xabc}))

	require.NoError(t, <-done)
	assert.Equal(t, StateSucceeded, j.State)
}

func TestJobRefreshFromFilesystem(t *testing.T) {
	ropts := testRepoOptions(t)
	id := testIdentity(0xabc)

	j, err := NewJob(ropts, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, j.State)

	require.NoError(t, config.WriteConfig(j.ConfigPath, testConfigFor(id)))
	j.Refresh()
	assert.Equal(t, StateConfigured, j.State)

	require.NoError(t, config.WriteRecord(j.RecordPath, &config.ObjectRecord{ObjID: 0xabc}))
	j.Refresh()
	assert.Equal(t, StateSucceeded, j.State)
}
