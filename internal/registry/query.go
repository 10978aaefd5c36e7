package registry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gapipe/internal/idfilter"
	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

// Backend adapts the Store to the repo.Backend contract. All queries are
// parameterized and carry an ORDER BY so result grouping is deterministic.
type Backend struct {
	store *Store
}

// NewBackend wraps an open Store.
func NewBackend(s *Store) *Backend {
	return &Backend{store: s}
}

// Locate implements repo.Backend for the product types the registry is
// authoritative for: Config and Single. Work- and output-tree products are
// never registered, locating them here is a caller bug.
func (b *Backend) Locate(ctx context.Context, pt repo.ProductType, f repo.Filters) ([]repo.Match, error) {
	switch pt {
	case repo.ProductConfig:
		return b.locateConfigs(ctx, f)
	case repo.ProductSingle:
		return b.locateSingles(ctx, f)
	default:
		return nil, fmt.Errorf("product type %v is not registered in the metadata registry", pt)
	}
}

func (b *Backend) locateConfigs(ctx context.Context, f repo.Filters) ([]repo.Match, error) {
	w := newWhere()
	w.filter("visit", f.Visit)
	w.filter("design_id", f.DesignID)

	rows, err := b.store.db.QueryContext(ctx,
		`SELECT visit, design_id, path FROM visits`+w.clause()+` ORDER BY visit`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var matches []repo.Match
	for rows.Next() {
		var visit, designID int64
		var path string
		if err := rows.Scan(&visit, &designID, &path); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		matches = append(matches, repo.Match{
			Product: repo.ProductConfig,
			Path:    path,
			Ext:     "json",
			ID: repo.PathID{
				Visit:    uint32(visit),
				DesignID: uint64(designID),
			},
		})
	}
	return matches, rows.Err()
}

func (b *Backend) locateSingles(ctx context.Context, f repo.Filters) ([]repo.Match, error) {
	objRows, err := b.queryObservations(ctx, f)
	if err != nil {
		return nil, err
	}
	matches := make([]repo.Match, 0, len(objRows))
	for _, r := range objRows {
		matches = append(matches, repo.Match{
			Product: repo.ProductSingle,
			Path:    r.path,
			Ext:     "json",
			ID:      r.pathID(),
		})
	}
	return matches, nil
}

// ResolveObjects implements repo.Backend with one join over observations
// and visits, grouped per object, one visit row per (visit, arm).
func (b *Backend) ResolveObjects(ctx context.Context, f repo.Filters) ([]repo.Object, error) {
	objRows, err := b.queryObservations(ctx, f)
	if err != nil {
		return nil, err
	}

	type key struct {
		catID uint32
		tract uint32
		patch string
		objID uint64
	}
	grouped := make(map[key][]obsRow)
	var order []key
	for _, r := range objRows {
		k := key{r.catID, r.tract, r.patch, r.objID}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}

	objects := make([]repo.Object, 0, len(order))
	for _, k := range order {
		group := grouped[k]
		obj := repo.Object{}
		visitIDs := make([]uint32, 0, len(group))
		for _, r := range group {
			visitIDs = append(visitIDs, r.visit)
			obj.Paths = append(obj.Paths, r.path)
			for _, arm := range strings.Split(r.arms, "") {
				obj.Visits = append(obj.Visits, ident.Visit{
					Visit:        r.visit,
					Arm:          ident.Arm(arm),
					Spectrograph: r.spectrograph,
					DesignID:     r.designID,
					FiberID:      r.fiberID,
					FiberStatus:  r.fiberStatus,
					ObsTime:      r.obsTime,
					ExpTime:      r.expTime,
				})
			}
		}
		ident.SortVisits(obj.Visits)

		var patch *ident.Patch
		if p, err := ident.ParsePatch(k.patch); err == nil {
			patch = &p
		}
		obj.Identity = ident.NewIdentity(k.catID, k.tract, patch, k.objID, visitIDs)
		// NVisit and the visit-set hash only exist once the group is
		// assembled; apply those filters here rather than in SQL.
		if !f.MatchIdentity(obj.Identity) {
			continue
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

type obsRow struct {
	visit        uint32
	catID        uint32
	tract        uint32
	patch        string
	objID        uint64
	spectrograph uint8
	fiberID      uint32
	fiberStatus  string
	path         string
	designID     uint64
	arms         string
	obsTime      time.Time
	expTime      float64
}

func (r obsRow) pathID() repo.PathID {
	pid := repo.PathID{
		CatID: r.catID,
		Tract: r.tract,
		ObjID: r.objID,
		Visit: r.visit,
	}
	if p, err := ident.ParsePatch(r.patch); err == nil {
		pid.Patch = &p
	}
	return pid
}

func (b *Backend) queryObservations(ctx context.Context, f repo.Filters) ([]obsRow, error) {
	w := newWhere()
	w.filter("o.cat_id", f.CatID)
	w.filter("o.tract", f.Tract)
	w.filter("o.obj_id", f.ObjID)
	w.filter("o.visit", f.Visit)
	w.filter("v.design_id", f.DesignID)
	if f.Patch != nil {
		w.equal("o.patch", f.Patch.String())
	}

	query := `
		SELECT o.visit, o.cat_id, o.tract, o.patch, o.obj_id,
		       o.spectrograph, o.fiber_id, o.fiber_status, o.path,
		       v.design_id, v.arms, v.obs_time, v.exp_time
		FROM observations o
		JOIN visits v ON v.visit = o.visit` + w.clause() + `
		ORDER BY o.cat_id, o.obj_id, o.visit`

	rows, err := b.store.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []obsRow
	for rows.Next() {
		var r obsRow
		var visit, catID, tract, objID, spectrograph, fiberID, designID int64
		if err := rows.Scan(&visit, &catID, &tract, &r.patch, &objID,
			&spectrograph, &fiberID, &r.fiberStatus, &r.path,
			&designID, &r.arms, &r.obsTime, &r.expTime); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		r.visit = uint32(visit)
		r.catID = uint32(catID)
		r.tract = uint32(tract)
		r.objID = uint64(objID)
		r.spectrograph = uint8(spectrograph)
		r.fiberID = uint32(fiberID)
		r.designID = uint64(designID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// where accumulates a parameterized WHERE clause. Per field, listed values
// and ranges combine by OR; fields combine by AND. Values are always
// parameterized, never interpolated.
type where struct {
	conds []string
	args  []any
}

func newWhere() *where {
	return &where{}
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) equal(col string, v any) {
	w.conds = append(w.conds, col+" = ?")
	w.args = append(w.args, v)
}

func (w *where) filter(col string, f *idfilter.Filter) {
	if f == nil || f.Empty() {
		return
	}
	var parts []string
	if values := f.Values(); len(values) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		parts = append(parts, col+" IN ("+placeholders+")")
		for _, v := range values {
			w.args = append(w.args, int64(v))
		}
	}
	for _, r := range f.Ranges() {
		lo, hi := int64(r.Lo), int64(r.Hi)
		if lo > hi {
			// The unsigned range straddles 2^63, so its int64 images wrap.
			// Split at the sign boundary into two ranges that stay ordered
			// in the signed domain SQLite compares in.
			parts = append(parts, "("+col+" BETWEEN ? AND ?)", "("+col+" BETWEEN ? AND ?)")
			w.args = append(w.args, lo, int64(math.MaxInt64), int64(math.MinInt64), hi)
			continue
		}
		parts = append(parts, "("+col+" BETWEEN ? AND ?)")
		w.args = append(w.args, lo, hi)
	}
	w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
}
