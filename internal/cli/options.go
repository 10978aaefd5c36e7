package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"gapipe/internal/idfilter"
	"gapipe/internal/ident"
	"gapipe/internal/registry"
	"gapipe/internal/repo"
)

// FilterOptions holds the identity filter flags shared by most commands.
type FilterOptions struct {
	CatID    []string
	Tract    []string
	Patch    string
	ObjID    []string
	Visit    []string
	NVisit   []string
	DesignID []string
}

// AddFilterFlags binds the filter flags to a command.
func (o *FilterOptions) AddFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&o.CatID, "catid", nil, "catalog ID filter (scalar or lo-hi range)")
	cmd.Flags().StringSliceVar(&o.Tract, "tract", nil, "tract filter")
	cmd.Flags().StringVar(&o.Patch, "patch", "", "patch (single i,j token)")
	cmd.Flags().StringSliceVar(&o.ObjID, "objid", nil, "object ID filter (decimal or 0x hex)")
	cmd.Flags().StringSliceVar(&o.Visit, "visit", nil, "visit filter")
	cmd.Flags().StringSliceVar(&o.NVisit, "nvisit", nil, "visit-count filter")
	cmd.Flags().StringSliceVar(&o.DesignID, "designid", nil, "design ID filter")
}

// Filters parses the flag tokens into the filter set. A malformed token is
// fatal before any I/O: it maps onto the filter-syntax exit code.
func (o *FilterOptions) Filters() (repo.Filters, error) {
	f := repo.NewFilters()
	for _, bind := range []struct {
		filter *idfilter.Filter
		tokens []string
	}{
		{f.CatID, o.CatID},
		{f.Tract, o.Tract},
		{f.ObjID, o.ObjID},
		{f.Visit, o.Visit},
		{f.NVisit, o.NVisit},
		{f.DesignID, o.DesignID},
	} {
		if err := bind.filter.Parse(bind.tokens); err != nil {
			var syntaxErr *idfilter.SyntaxError
			if errors.As(err, &syntaxErr) {
				return f, WrapExitError(ExitFilterSyntax, "invalid filter", err)
			}
			return f, err
		}
	}
	if o.Patch != "" {
		patch, err := ident.ParsePatch(o.Patch)
		if err != nil {
			return f, WrapExitError(ExitFilterSyntax, "invalid filter", err)
		}
		f.Patch = &patch
	}
	return f, nil
}

// RepoFlags holds the repository layout and backend selection flags.
type RepoFlags struct {
	Datadir  string
	Workdir  string
	Outdir   string
	Rerundir string

	Registry           string
	FallbackFilesystem bool
	WalkWorkers        int
}

// AddRepoFlags binds the repository flags to a command.
func (o *RepoFlags) AddRepoFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Datadir, "datadir", "", "input data tree root")
	cmd.Flags().StringVar(&o.Workdir, "workdir", "", "staging tree root")
	cmd.Flags().StringVar(&o.Outdir, "outdir", "", "output tree root")
	cmd.Flags().StringVar(&o.Rerundir, "rerundir", "", "processing run subtree name")
	cmd.Flags().StringVar(&o.Registry, "registry", "", "SQLite metadata registry path (selects the registry backend)")
	cmd.Flags().BoolVar(&o.FallbackFilesystem, "fallback-filesystem", false, "fall back to the filesystem walk when the registry is unavailable")
	cmd.Flags().IntVar(&o.WalkWorkers, "walk-workers", 0, "directory walk workers (0 = one per core)")
}

// Options converts the flags into the repository configuration.
func (o *RepoFlags) Options() repo.Options {
	return repo.Options{
		Datadir:  o.Datadir,
		Workdir:  o.Workdir,
		Outdir:   o.Outdir,
		Rerundir: o.Rerundir,
		Workers:  o.WalkWorkers,
	}
}

// Filesystem opens the filesystem backend. Repository errors map onto the
// backend exit code.
func (o *RepoFlags) Filesystem() (*repo.Filesystem, error) {
	fs, err := repo.NewFilesystem(o.Options())
	if err != nil {
		return nil, WrapExitError(ExitBackendUnavailable, "repository not found", err)
	}
	return fs, nil
}

// Backend selects the lookup backend once per invocation: the registry when
// configured and reachable, otherwise the filesystem walk when the fallback
// is enabled. The choice is never mixed mid-query. The returned closer is
// nil for the filesystem backend.
func (o *RepoFlags) Backend(log *slog.Logger) (repo.Backend, func() error, error) {
	if o.Registry == "" {
		fs, err := o.Filesystem()
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	}

	store, err := registry.Open(o.Registry)
	if err != nil {
		if !o.FallbackFilesystem {
			return nil, nil, WrapExitError(ExitBackendUnavailable, "metadata registry unavailable", err)
		}
		log.Warn("registry unavailable, falling back to filesystem walk", "registry", o.Registry, "error", err)
		fs, fsErr := o.Filesystem()
		if fsErr != nil {
			return nil, nil, fsErr
		}
		return fs, nil, nil
	}
	log.Debug("using metadata registry", "path", o.Registry)
	return registry.NewBackend(store), store.Close, nil
}

// summaryLine renders the always-reported batch summary.
func summaryLine(resolved, configured, submitted, skipped, failed int) string {
	return fmt.Sprintf("resolved=%d configured=%d submitted=%d skipped=%d failed=%d",
		resolved, configured, submitted, skipped, failed)
}
