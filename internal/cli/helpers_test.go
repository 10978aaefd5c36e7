package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

// testTree lays out a small data tree: two visits, two objects on the first
// visit, one on the second.
type testTree struct {
	datadir  string
	workdir  string
	outdir   string
	rerundir string
}

// opts returns the repository configuration matching the tree layout.
func (tr testTree) opts() repo.Options {
	return repo.Options{
		Datadir:  tr.datadir,
		Workdir:  tr.workdir,
		Outdir:   tr.outdir,
		Rerundir: tr.rerundir,
	}
}

// flags returns the common repository flags of the tree as CLI arguments.
func (tr testTree) flags() []string {
	return []string{
		"--datadir", tr.datadir,
		"--workdir", tr.workdir,
		"--outdir", tr.outdir,
		"--rerundir", tr.rerundir,
	}
}

func newTestTree(t *testing.T) testTree {
	t.Helper()
	root := t.TempDir()
	tree := testTree{
		datadir:  filepath.Join(root, "data"),
		workdir:  filepath.Join(root, "work"),
		outdir:   filepath.Join(root, "out"),
		rerundir: "run1",
	}
	require.NoError(t, os.MkdirAll(tree.datadir, 0o755))

	vars := tree.opts().Vars()

	writeVisit := func(visit uint32, objIDs ...uint64) {
		vc := map[string]any{
			"designId": 0x5ee,
			"visit":    visit,
			"arms":     []string{"b", "r"},
			"obsTime":  time.Date(2025, 3, 1, 0, 0, int(visit), 0, time.UTC),
			"expTime":  900,
		}
		var fibers []map[string]any
		for _, id := range objIDs {
			fibers = append(fibers, map[string]any{
				"catId": 10092, "tract": 1, "patch": "1,1",
				"objId": id, "fiberId": 7, "fiberStatus": "GOOD",
				"spectrograph": 1, "proposalId": "S25A-001", "targetType": "SCIENCE",
			})
		}
		vc["fibers"] = fibers
		writeProductJSON(t, tree.datadir, repo.ProductConfig,
			repo.PathID{DesignID: 0x5ee, Visit: visit}, vars, vc)

		for _, id := range objIDs {
			patch := ident.Patch{X: 1, Y: 1}
			writeProductJSON(t, tree.datadir, repo.ProductSingle,
				repo.PathID{CatID: 10092, Tract: 1, Patch: &patch, ObjID: id, Visit: visit},
				vars, map[string]any{"catId": 10092, "objId": id, "visit": visit})
		}
	}
	writeVisit(100, 0x02, 0x03)
	writeVisit(101, 0x02)
	return tree
}

func writeProductJSON(t *testing.T, root string, pt repo.ProductType, pid repo.PathID, vars map[string]string, v any) {
	t.Helper()
	dir, err := repo.FormatDir(pt, pid, vars)
	require.NoError(t, err)
	name, err := repo.FormatFilename(pt, pid, "json")
	require.NoError(t, err)
	path := filepath.Join(root, dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// executeTree runs the root command with args plus the tree's repository
// flags appended, and returns stdout.
func executeTree(t *testing.T, tree testTree, args ...string) (string, error) {
	t.Helper()
	return execute(t, append(args, tree.flags()...)...)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	// Execute() normally seeds the command context; calling a RunE
	// directly bypasses that, so seed it here.
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}
