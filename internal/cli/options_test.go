package cli

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFiltersParse(t *testing.T) {
	opts := FilterOptions{
		CatID: []string{"10092"},
		ObjID: []string{"0x02-0x03"},
		Patch: "1,1",
	}
	f, err := opts.Filters()
	require.NoError(t, err)

	assert.True(t, f.CatID.Match(10092))
	assert.False(t, f.CatID.Match(10093))
	assert.True(t, f.ObjID.Match(0x02))
	assert.True(t, f.ObjID.Match(0x03))
	assert.False(t, f.ObjID.Match(0x04))
	require.NotNil(t, f.Patch)
	assert.Equal(t, ident.Patch{X: 1, Y: 1}, *f.Patch)
}

func TestFiltersSyntaxErrorExitCode(t *testing.T) {
	opts := FilterOptions{ObjID: []string{"12zz"}}
	_, err := opts.Filters()
	require.Error(t, err)
	assert.Equal(t, ExitFilterSyntax, GetExitCode(err))
}

func TestFiltersBadPatchExitCode(t *testing.T) {
	opts := FilterOptions{Patch: "banana"}
	_, err := opts.Filters()
	require.Error(t, err)
	assert.Equal(t, ExitFilterSyntax, GetExitCode(err))
}

func TestBackendMissingDatadir(t *testing.T) {
	flags := RepoFlags{Datadir: filepath.Join(t.TempDir(), "nope")}
	_, _, err := flags.Backend(discardLogger())
	require.Error(t, err)
	assert.Equal(t, ExitBackendUnavailable, GetExitCode(err))
}

func TestBackendRegistryUnavailableIsFatal(t *testing.T) {
	tree := newTestTree(t)
	flags := RepoFlags{
		Datadir:  tree.datadir,
		Registry: filepath.Join(tree.datadir, "missing", "registry.db"),
	}
	_, _, err := flags.Backend(discardLogger())
	require.Error(t, err)
	assert.Equal(t, ExitBackendUnavailable, GetExitCode(err))
}

func TestBackendRegistryFallsBackToFilesystem(t *testing.T) {
	tree := newTestTree(t)
	flags := RepoFlags{
		Datadir:            tree.datadir,
		Registry:           filepath.Join(tree.datadir, "missing", "registry.db"),
		FallbackFilesystem: true,
	}
	backend, closer, err := flags.Backend(discardLogger())
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &repo.Filesystem{}, backend)
}
