package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapipe/internal/repo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedVisit(t *testing.T, s *Store, visit uint32, designID uint64, arms []string) {
	t.Helper()
	vc := &repo.VisitConfig{
		DesignID: designID,
		Visit:    visit,
		Arms:     arms,
		ObsTime:  time.Date(2025, 3, 1, 0, 0, int(visit), 0, time.UTC),
		ExpTime:  900,
	}
	require.NoError(t, s.InsertVisit(context.Background(), vc, "/data/Config-"+time.Now().Format("150405")))
}

func seedObservation(t *testing.T, s *Store, visit uint32, objID uint64) {
	t.Helper()
	rec := repo.SingleRecord{
		CatID:        90003,
		Tract:        1,
		Patch:        "1,1",
		ObjID:        objID,
		Visit:        visit,
		FiberID:      42,
		FiberStatus:  "GOOD",
		Spectrograph: 1,
	}
	require.NoError(t, s.InsertObservation(context.Background(), rec, "/data/Single"))
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open("/nonexistent/dir/registry.db")
	assert.ErrorIs(t, err, repo.ErrBackendUnavailable)
}

func TestInsertVisitUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b", "r"})
	seedVisit(t, s, 100, 0x5ef, []string{"b", "r", "n"})

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits").Scan(&n))
	assert.Equal(t, 1, n)

	var designID int64
	var arms string
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT design_id, arms FROM visits WHERE visit = 100").Scan(&designID, &arms))
	assert.Equal(t, int64(0x5ef), designID)
	assert.Equal(t, "brn", arms)
}

func TestInsertObservationUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	seedObservation(t, s, 100, 0xabc)
	seedObservation(t, s, 100, 0xabc)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM observations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestResolveObjectsGroupsByObject(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b", "r"})
	seedVisit(t, s, 101, 0x5ee, []string{"b", "r"})
	seedObservation(t, s, 100, 0xabc)
	seedObservation(t, s, 101, 0xabc)
	seedObservation(t, s, 100, 0xdef)

	objects, err := b.ResolveObjects(ctx, repo.NewFilters())
	require.NoError(t, err)
	require.Len(t, objects, 2)

	// Sorted by (catId, objId).
	assert.Equal(t, uint64(0xabc), objects[0].Identity.ObjID)
	assert.Equal(t, uint64(0xdef), objects[1].Identity.ObjID)

	// Two visits, two arms each.
	assert.Equal(t, []uint32{100, 101}, objects[0].VisitIDs())
	assert.Len(t, objects[0].Visits, 4)
	assert.Equal(t, uint32(2), objects[0].Identity.NVisit)
	assert.Equal(t, uint32(1), objects[1].Identity.NVisit)
}

func TestResolveObjectsVisitFilter(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	seedVisit(t, s, 101, 0x5ee, []string{"b"})
	seedObservation(t, s, 100, 0xabc)
	seedObservation(t, s, 101, 0xabc)

	f := repo.NewFilters()
	require.NoError(t, f.Visit.Parse([]string{"100"}))

	objects, err := b.ResolveObjects(ctx, f)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, []uint32{100}, objects[0].VisitIDs())
}

func TestResolveObjectsObjIDRange(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	for _, id := range []uint64{0x10, 0x20, 0x30} {
		seedObservation(t, s, 100, id)
	}

	f := repo.NewFilters()
	require.NoError(t, f.ObjID.Parse([]string{"0x10-0x20"}))

	objects, err := b.ResolveObjects(ctx, f)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, uint64(0x10), objects[0].Identity.ObjID)
	assert.Equal(t, uint64(0x20), objects[1].Identity.ObjID)
}

func TestResolveObjectsObjIDRangeAcrossSignBoundary(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	// Object IDs above 2^63 wrap negative as int64 in SQLite; a range
	// crossing the boundary must still match both sides.
	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	for _, id := range []uint64{
		0x7ffffffffffffffd,
		0x7fffffffffffffff,
		0x8000000000000002,
		0x8000000000000009,
	} {
		seedObservation(t, s, 100, id)
	}

	f := repo.NewFilters()
	require.NoError(t, f.ObjID.Parse([]string{"0x7ffffffffffffffe-0x8000000000000004"}))

	objects, err := b.ResolveObjects(ctx, f)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	ids := []uint64{objects[0].Identity.ObjID, objects[1].Identity.ObjID}
	assert.ElementsMatch(t, []uint64{0x7fffffffffffffff, 0x8000000000000002}, ids)
}

func TestResolveObjectsNVisitFilter(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	seedVisit(t, s, 101, 0x5ee, []string{"b"})
	seedObservation(t, s, 100, 0xabc)
	seedObservation(t, s, 101, 0xabc)
	seedObservation(t, s, 100, 0xdef)

	f := repo.NewFilters()
	require.NoError(t, f.NVisit.Parse([]string{"2"}))

	objects, err := b.ResolveObjects(ctx, f)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, uint64(0xabc), objects[0].Identity.ObjID)
}

func TestLocateConfigs(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)
	ctx := context.Background()

	seedVisit(t, s, 100, 0x5ee, []string{"b"})
	seedVisit(t, s, 101, 0x5ff, []string{"b"})

	f := repo.NewFilters()
	require.NoError(t, f.DesignID.Parse([]string{"0x5ff"}))

	matches, err := b.Locate(ctx, repo.ProductConfig, f)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(101), matches[0].ID.Visit)
	assert.Equal(t, uint64(0x5ff), matches[0].ID.DesignID)
}

func TestLocateUnsupportedProduct(t *testing.T) {
	s := openTestStore(t)
	b := NewBackend(s)

	_, err := b.Locate(context.Background(), repo.ProductCatalog, repo.NewFilters())
	assert.Error(t, err)
}
