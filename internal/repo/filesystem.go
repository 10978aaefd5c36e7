package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"gapipe/internal/ident"
)

// Options collects every external input of the filesystem backend. The
// backend holds no ambient state; all paths and knobs arrive here.
type Options struct {
	// Datadir is the read-only input tree holding Config, Calibrated and
	// Merged products (and Single products of earlier processing runs).
	Datadir string

	// Workdir is the staging tree: extracted Single files and materialized
	// Object configurations.
	Workdir string

	// Outdir is the output tree: Object records and catalogs.
	Outdir string

	// Rerundir names the processing run subtree under Workdir/Outdir and
	// the rerun subtree of Datadir. May be empty.
	Rerundir string

	// Workers bounds the concurrent directory-walk pool. Zero means one
	// worker per core; set to 1 for slow or networked filesystems.
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Vars returns the repository variables available to directory formats.
func (o Options) Vars() map[string]string {
	return map[string]string{
		"datadir":  o.Datadir,
		"workdir":  o.Workdir,
		"outdir":   o.Outdir,
		"rerundir": o.Rerundir,
	}
}

// Filesystem locates products by walking a directory tree and parsing
// filenames against the naming grammar. It opens no product content during
// location; identity comes from the filename alone.
type Filesystem struct {
	opts Options
}

// NewFilesystem creates the filesystem backend. The data root must exist;
// work and output trees are created on demand by writers.
func NewFilesystem(opts Options) (*Filesystem, error) {
	info, err := os.Stat(opts.Datadir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, opts.Datadir)
	}
	return &Filesystem{opts: opts}, nil
}

// Options returns the backend configuration.
func (fs *Filesystem) Options() Options { return fs.opts }

// rootsFor maps a product type to the roots searched for it, in precedence
// order: a product staged in the work tree shadows the same product in the
// data tree.
func (fs *Filesystem) rootsFor(pt ProductType) []string {
	switch pt {
	case ProductConfig, ProductMerged, ProductCalibrated:
		return []string{fs.opts.Datadir}
	case ProductSingle:
		return []string{fs.opts.Workdir, fs.opts.Datadir}
	case ProductObject:
		return []string{fs.opts.Workdir, fs.opts.Outdir}
	case ProductCatalog:
		return []string{fs.opts.Outdir}
	}
	return nil
}

// Locate implements Backend. Candidate directories are found by glob,
// narrowed by single-valued filters; candidate filenames are parsed with
// the product grammar and matched against the filters before being
// yielded. Non-matching names are silently skipped.
func (fs *Filesystem) Locate(ctx context.Context, pt ProductType, f Filters) ([]Match, error) {
	f = f.forProduct(pt)
	glob, err := dirGlob(pt, f, fs.opts.Vars())
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []Match
		seen    = make(map[string]struct{})
	)

	for _, root := range fs.rootsFor(pt) {
		if root == "" {
			continue
		}
		dirs, err := filepath.Glob(filepath.Join(root, glob))
		if err != nil {
			return nil, fmt.Errorf("globbing %s: %w", glob, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fs.opts.workers())

		for _, dir := range dirs {
			dir := dir
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				found, err := scanDir(pt, dir, f)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for _, m := range found {
					base := filepath.Base(m.Path)
					if _, dup := seen[base]; dup {
						continue
					}
					seen[base] = struct{}{}
					matches = append(matches, m)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return matches, nil
}

// scanDir parses every entry of one candidate directory.
func scanDir(pt ProductType, dir string, f Filters) ([]Match, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var matches []Match
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pid, ext, ok := ParseFilename(pt, e.Name())
		if !ok {
			continue
		}
		if !f.Match(pid) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		matches = append(matches, Match{
			Product: pt,
			Path:    filepath.Join(dir, e.Name()),
			Ext:     ext,
			ID:      pid,
			ModTime: info.ModTime(),
		})
	}
	return matches, nil
}

// ResolveObjects implements Backend: Single files matching the filters are
// grouped per object, then visit metadata is recovered from the matching
// Config products. Objects whose visit configs are missing keep minimal
// visit rows; resolution itself does not fail on them.
func (fs *Filesystem) ResolveObjects(ctx context.Context, f Filters) ([]Object, error) {
	singles, err := fs.Locate(ctx, ProductSingle, f.perVisit())
	if err != nil {
		return nil, err
	}
	if len(singles) == 0 {
		return nil, nil
	}

	configs, err := fs.loadVisitConfigs(ctx, f)
	if err != nil {
		return nil, err
	}

	var objects []Object
	for _, group := range groupSingles(singles) {
		obj := fs.buildObject(group, configs, f.designFiltered())
		if len(obj.Visits) == 0 || !f.MatchIdentity(obj.Identity) {
			continue
		}
		objects = append(objects, obj)
	}
	sortObjects(objects)
	return objects, nil
}

// loadVisitConfigs locates and reads the Config products matching the
// request's visit and design filters, keyed by visit ID.
func (fs *Filesystem) loadVisitConfigs(ctx context.Context, f Filters) (map[uint32]*VisitConfig, error) {
	matches, err := fs.Locate(ctx, ProductConfig, Filters{Visit: f.Visit, DesignID: f.DesignID})
	if err != nil {
		return nil, err
	}
	configs := make(map[uint32]*VisitConfig, len(matches))
	for _, m := range matches {
		vc, err := ReadVisitConfig(m.Path)
		if err != nil {
			return nil, err
		}
		configs[vc.Visit] = vc
	}
	return configs, nil
}

// buildObject assembles one Object from its Single matches and the visit
// configs, one visit row per (visit, arm). With designOnly set, visits
// without a matching config are dropped instead of kept as minimal rows;
// that is how a design filter narrows the visit set.
func (fs *Filesystem) buildObject(group []Match, configs map[uint32]*VisitConfig, designOnly bool) Object {
	first := group[0].ID
	visitIDs := make([]uint32, 0, len(group))
	paths := make([]string, 0, len(group))

	sort.Slice(group, func(i, j int) bool { return group[i].ID.Visit < group[j].ID.Visit })

	obj := Object{}
	for _, m := range group {
		vc, ok := configs[m.ID.Visit]
		if !ok {
			if designOnly {
				continue
			}
			// No visit config found: keep the visit ID, leave metadata zero.
			visitIDs = append(visitIDs, m.ID.Visit)
			paths = append(paths, m.Path)
			obj.Visits = append(obj.Visits, ident.Visit{Visit: m.ID.Visit})
			continue
		}
		visitIDs = append(visitIDs, m.ID.Visit)
		paths = append(paths, m.Path)
		fiber, ok := vc.FindFiber(first.ObjID)
		if !ok {
			obj.Visits = append(obj.Visits, ident.Visit{
				Visit:    vc.Visit,
				DesignID: vc.DesignID,
				ObsTime:  vc.ObsTime,
				ExpTime:  vc.ExpTime,
			})
			continue
		}
		if obj.ProposalID == "" {
			obj.ProposalID = fiber.ProposalID
		}
		if obj.TargetType == "" {
			obj.TargetType = fiber.TargetType
		}
		for _, arm := range vc.Arms {
			obj.Visits = append(obj.Visits, ident.Visit{
				Visit:        vc.Visit,
				Arm:          ident.Arm(arm),
				Spectrograph: fiber.Spectrograph,
				DesignID:     vc.DesignID,
				FiberID:      fiber.FiberID,
				FiberStatus:  fiber.FiberStatus,
				ObsTime:      vc.ObsTime,
				ExpTime:      vc.ExpTime,
			})
		}
	}

	ident.SortVisits(obj.Visits)
	obj.Identity = ident.NewIdentity(first.CatID, first.Tract, first.Patch, first.ObjID, visitIDs)
	obj.Paths = paths
	return obj
}
