package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"gapipe/internal/ident"
)

// Sentinel errors of backend setup. Both abort before any identity is
// processed; per-identity failures never map onto these.
var (
	// ErrBackendUnavailable indicates the metadata registry is unreachable
	// or misconfigured. Fatal unless the filesystem fallback is enabled.
	ErrBackendUnavailable = errors.New("metadata registry unavailable")

	// ErrRepositoryNotFound indicates the configured repository root does
	// not exist.
	ErrRepositoryNotFound = errors.New("repository root not found")
)

// Match is one located product: the identity fields recovered for it bound
// to a physical path. No file content has been opened to produce a Match.
type Match struct {
	Product ProductType
	Path    string
	Ext     string
	ID      PathID
	ModTime time.Time
}

// Object is one resolved unit of work: an Identity plus the visit rows it
// was observed under (one row per visit and arm) and the paths of the
// per-visit products that contributed to the resolution.
type Object struct {
	Identity   ident.Identity
	ProposalID string
	TargetType string
	Visits     []ident.Visit
	Paths      []string
}

// VisitIDs returns the distinct visit IDs of the object, sorted.
func (o Object) VisitIDs() []uint32 {
	seen := make(map[uint32]struct{}, len(o.Visits))
	var ids []uint32
	for _, v := range o.Visits {
		if _, ok := seen[v.Visit]; ok {
			continue
		}
		seen[v.Visit] = struct{}{}
		ids = append(ids, v.Visit)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Backend is the single lookup contract implemented by both the SQLite
// registry and the filesystem walk. Results are finite, restartable slices;
// result order is unspecified.
type Backend interface {
	// Locate resolves a product type under the request filters into a set
	// of (identity, path) matches. Zero matches is not an error.
	Locate(ctx context.Context, pt ProductType, f Filters) ([]Match, error)

	// ResolveObjects groups the per-visit observations matching the
	// filters into per-object identities with their visit rows.
	ResolveObjects(ctx context.Context, f Filters) ([]Object, error)
}

// groupKey identifies one object before its visit set is known.
type groupKey struct {
	catID uint32
	tract uint32
	patch string
	objID uint64
}

// groupSingles partitions Single matches by object. The returned groups
// carry visit IDs and paths only; visit metadata is filled in by the
// backend from its own substrate.
func groupSingles(matches []Match) map[groupKey][]Match {
	groups := make(map[groupKey][]Match)
	for _, m := range matches {
		k := groupKey{
			catID: m.ID.CatID,
			tract: m.ID.Tract,
			patch: patchField(m.ID.Patch),
			objID: m.ID.ObjID,
		}
		groups[k] = append(groups[k], m)
	}
	return groups
}

// sortObjects orders resolved objects by (catId, objId) so callers see a
// stable sequence even though locate order is unspecified.
func sortObjects(objects []Object) {
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i].Identity, objects[j].Identity
		if a.CatID != b.CatID {
			return a.CatID < b.CatID
		}
		return a.ObjID < b.ObjID
	})
}
