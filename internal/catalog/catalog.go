// Package catalog merges per-object output records into one result table.
// A catalog from a partially complete run is still useful: missing records
// become warnings next to the table, never a hard failure.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gapipe/internal/config"
	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

// Row is one catalog entry: the identity of a succeeded object with its
// fitted stellar parameters.
type Row struct {
	ProposalID string `json:"proposalId,omitempty"`
	TargetType string `json:"targetType,omitempty"`

	CatID     uint32 `json:"catId"`
	Tract     uint32 `json:"tract"`
	Patch     string `json:"patch,omitempty"`
	ObjID     uint64 `json:"objId"`
	NVisit    uint32 `json:"nVisit"`
	VisitHash uint64 `json:"pfsVisitHash"`

	Params    config.StellarParams `json:"params"`
	ArmCounts map[string]int       `json:"armCounts,omitempty"`

	CompletedAt time.Time `json:"completedAt"`
}

// Table is the merged catalog: rows sorted by (catId, objId), one common
// catId across the whole table.
type Table struct {
	CatID     uint32 `json:"catId"`
	NVisit    uint32 `json:"nVisit"`
	VisitHash uint64 `json:"pfsVisitHash"`
	Rows      []Row  `json:"rows"`
}

// Warning reports one expected output missing at collection time.
type Warning struct {
	Identity ident.Identity
	Path     string
	Reason   string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Identity.Key(), w.Reason)
}

// Collect locates the per-object output records matching the filters and
// merges them into one table. When two records share an identity, the one
// with the newer modification time wins outright; partial rows from two
// runs are never merged. A materialized configuration whose record is
// missing yields a warning.
func Collect(ctx context.Context, backend repo.Backend, f repo.Filters) (*Table, []Warning, error) {
	matches, err := backend.Locate(ctx, repo.ProductObject, f)
	if err != nil {
		return nil, nil, err
	}

	type winner struct {
		rec     *config.ObjectRecord
		modTime time.Time
	}
	records := make(map[string]winner)
	var configured []repo.Match

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if m.Ext != "json" {
			configured = append(configured, m)
			continue
		}
		rec, err := config.ReadRecord(m.Path)
		if err != nil {
			return nil, nil, err
		}
		key := rec.Identity().Key()
		if w, ok := records[key]; ok && !m.ModTime.After(w.modTime) {
			continue
		}
		records[key] = winner{rec: rec, modTime: m.ModTime}
	}

	var warnings []Warning
	for _, m := range configured {
		id := m.ID.Identity()
		if _, ok := records[id.Key()]; ok {
			continue
		}
		warnings = append(warnings, Warning{
			Identity: id,
			Path:     m.Path,
			Reason:   "configured but no output record found",
		})
	}

	table := &Table{}
	visitSet := make(map[uint32]struct{})
	for _, w := range records {
		rec := w.rec
		if len(table.Rows) > 0 && rec.CatID != table.CatID {
			return nil, nil, fmt.Errorf("catalog spans catalog IDs %05d and %05d", table.CatID, rec.CatID)
		}
		table.CatID = rec.CatID
		for _, v := range rec.Visits {
			visitSet[v] = struct{}{}
		}
		table.Rows = append(table.Rows, Row{
			ProposalID:  rec.ProposalID,
			TargetType:  rec.TargetType,
			CatID:       rec.CatID,
			Tract:       rec.Tract,
			Patch:       rec.Patch,
			ObjID:       rec.ObjID,
			NVisit:      rec.NVisit,
			VisitHash:   rec.VisitHash,
			Params:      rec.Params,
			ArmCounts:   rec.ArmCounts,
			CompletedAt: rec.CompletedAt,
		})
	}

	sort.Slice(table.Rows, func(i, j int) bool {
		a, b := table.Rows[i], table.Rows[j]
		if a.CatID != b.CatID {
			return a.CatID < b.CatID
		}
		return a.ObjID < b.ObjID
	})

	visits := make([]uint32, 0, len(visitSet))
	for v := range visitSet {
		visits = append(visits, v)
	}
	table.NVisit = ident.WraparoundNVisit(len(visits))
	table.VisitHash = ident.VisitSetHash(visits)

	return table, warnings, nil
}
