package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configureTree materializes configurations for every object in the tree.
func configureTree(t *testing.T, tree testTree) {
	t.Helper()
	tpl := writeTemplate(t, testTemplate)
	_, err := executeTree(t, tree, "configure", "--config", tpl)
	require.NoError(t, err)
}

func submitFlags(tree testTree) RepoFlags {
	return RepoFlags{
		Datadir:  tree.datadir,
		Workdir:  tree.workdir,
		Outdir:   tree.outdir,
		Rerundir: tree.rerundir,
	}
}

func TestSubmitWithStubScheduler(t *testing.T) {
	tree := newTestTree(t)
	configureTree(t, tree)

	var scripts []string
	opts := &SubmitOptions{
		RootOptions: &RootOptions{Format: "text"},
		Repo:        submitFlags(tree),
		SubmitFunc: func(ctx context.Context, script string) (string, error) {
			scripts = append(scripts, script)
			return "4711", nil
		},
	}
	cmd, out := newTestCommand()

	err := runSubmit(opts, cmd)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "resolved=2 configured=2 submitted=2 skipped=0 failed=0")
	require.Len(t, scripts, 2)
	for _, s := range scripts {
		assert.Contains(t, s, "#SBATCH --job-name gapipe-")
		assert.Contains(t, s, "srun gapipe run --config ")
	}
}

func TestSubmitDryRunPrintsScripts(t *testing.T) {
	tree := newTestTree(t)
	configureTree(t, tree)

	out, err := executeTree(t, tree, "submit", "--dry-run",
		"--partition", "ga", "--cpus", "8")
	require.NoError(t, err)

	assert.Contains(t, out, "dry run: would submit")
	assert.Contains(t, out, "#SBATCH --partition ga")
	assert.Contains(t, out, "#SBATCH --cpus-per-task 8")
	assert.Contains(t, out, "resolved=2 configured=2 submitted=0 skipped=2 failed=0")
}

func TestSubmitUnconfiguredObjectsFail(t *testing.T) {
	tree := newTestTree(t)

	opts := &SubmitOptions{
		RootOptions: &RootOptions{Format: "text"},
		Repo:        submitFlags(tree),
		SubmitFunc: func(ctx context.Context, script string) (string, error) {
			t.Fatal("nothing should be submitted")
			return "", nil
		},
	}
	cmd, out := newTestCommand()

	err := runSubmit(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out.String(), "failed=2")
}
