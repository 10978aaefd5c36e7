package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSingles(t *testing.T) {
	tree := newTestTree(t)

	out, err := executeTree(t, tree, "search", "Single", "--objid", "0x02")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "0000000000000002")
	}
}

func TestSearchVisitFilter(t *testing.T) {
	tree := newTestTree(t)

	out, err := executeTree(t, tree, "search", "Single", "--visit", "101")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "-000101.json")
}

func TestSearchJSONOutput(t *testing.T) {
	tree := newTestTree(t)

	out, err := executeTree(t, tree, "search", "Single", "--format", "json")
	require.NoError(t, err)

	var res struct {
		Status string `json:"status"`
		Data   struct {
			Product string   `json:"product"`
			Count   int      `json:"count"`
			Paths   []string `json:"paths"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "Single", res.Data.Product)
	assert.Equal(t, 3, res.Data.Count)
	assert.Len(t, res.Data.Paths, 3)
}

func TestSearchUnknownProduct(t *testing.T) {
	tree := newTestTree(t)

	_, err := executeTree(t, tree, "search", "Banana")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSearchMissingDatadir(t *testing.T) {
	_, err := execute(t, "search", "Single",
		"--datadir", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitBackendUnavailable, GetExitCode(err))
}

func TestSearchBadFilterToken(t *testing.T) {
	tree := newTestTree(t)

	_, err := executeTree(t, tree, "search", "Single", "--objid", "not-a-number")
	require.Error(t, err)
	assert.Equal(t, ExitFilterSyntax, GetExitCode(err))
}
