package repo

import (
	"gapipe/internal/idfilter"
	"gapipe/internal/ident"
)

// Filters is the set of per-field identity predicates of one request.
// Fields combine by AND; a nil or empty filter matches everything.
type Filters struct {
	CatID     *idfilter.Filter
	Tract     *idfilter.Filter
	Patch     *ident.Patch
	ObjID     *idfilter.Filter
	Visit     *idfilter.Filter
	NVisit    *idfilter.Filter
	VisitHash *idfilter.Filter
	DesignID  *idfilter.Filter
}

// NewFilters creates an empty filter set with the canonical field names and
// rendering formats of the naming convention.
func NewFilters() Filters {
	return Filters{
		CatID:     idfilter.New("catid", "%05d"),
		Tract:     idfilter.New("tract", "%05d"),
		ObjID:     idfilter.New("objid", "%016x"),
		Visit:     idfilter.New("visit", "%06d"),
		NVisit:    idfilter.New("nvisit", "%03d"),
		VisitHash: idfilter.New("pfsvisithash", "%016x"),
		DesignID:  idfilter.New("designid", "%016x"),
	}
}

// Match reports whether a parsed PathID satisfies every filter field.
func (f Filters) Match(pid PathID) bool {
	if !matchFilter(f.CatID, uint64(pid.CatID)) {
		return false
	}
	if !matchFilter(f.Tract, uint64(pid.Tract)) {
		return false
	}
	if f.Patch != nil && (pid.Patch == nil || *pid.Patch != *f.Patch) {
		return false
	}
	if !matchFilter(f.ObjID, pid.ObjID) {
		return false
	}
	if !matchFilter(f.Visit, uint64(pid.Visit)) {
		return false
	}
	if !matchFilter(f.NVisit, uint64(pid.NVisit)) {
		return false
	}
	if !matchFilter(f.VisitHash, pid.VisitHash) {
		return false
	}
	return matchFilter(f.DesignID, pid.DesignID)
}

func matchFilter(f *idfilter.Filter, v uint64) bool {
	return f == nil || f.Match(v)
}

// perVisit returns a copy of the filter set without the fields absent from
// Single filenames. NVisit and VisitHash describe an object's visit
// combination, not any single per-visit product; DesignID lives in the
// visit configs and constrains resolution through them.
func (f Filters) perVisit() Filters {
	f.NVisit = nil
	f.VisitHash = nil
	f.DesignID = nil
	return f
}

// forProduct returns a copy of the filter set restricted to the fields the
// product's naming grammar can recover. A filter on a field the grammar does
// not carry would compare against a zero PathID field and reject every file;
// such fields constrain nothing at the filename level and are dropped here.
func (f Filters) forProduct(pt ProductType) Filters {
	d, ok := descriptors[pt]
	if !ok {
		return f
	}
	named := make(map[string]bool)
	for _, name := range d.re.SubexpNames() {
		if name != "" {
			named[name] = true
		}
	}
	if !named["catid"] {
		f.CatID = nil
	}
	if !named["tract"] {
		f.Tract = nil
	}
	if !named["patch"] {
		f.Patch = nil
	}
	if !named["objid"] {
		f.ObjID = nil
	}
	if !named["visit"] {
		f.Visit = nil
	}
	if !named["nvisit"] {
		f.NVisit = nil
	}
	if !named["pfsvisithash"] {
		f.VisitHash = nil
	}
	if !named["designid"] {
		f.DesignID = nil
	}
	return f
}

// designFiltered reports whether a design filter constrains the request.
func (f Filters) designFiltered() bool {
	return f.DesignID != nil && !f.DesignID.Empty()
}

// MatchIdentity applies the aggregate fields to a resolved identity.
func (f Filters) MatchIdentity(id ident.Identity) bool {
	if !matchFilter(f.NVisit, uint64(id.NVisit)) {
		return false
	}
	return matchFilter(f.VisitHash, id.VisitHash)
}

// globStrings returns per-field glob fragments used to narrow directory
// walks: the formatted value for single-scalar filters, "*" otherwise.
func (f Filters) globStrings() map[string]string {
	g := map[string]string{
		"catid":        globOf(f.CatID),
		"tract":        globOf(f.Tract),
		"patch":        "*",
		"objid":        globOf(f.ObjID),
		"visit":        globOf(f.Visit),
		"nvisit":       globOf(f.NVisit),
		"pfsvisithash": globOf(f.VisitHash),
		"designid":     globOf(f.DesignID),
	}
	if f.Patch != nil {
		g["patch"] = f.Patch.String()
	}
	return g
}

func globOf(f *idfilter.Filter) string {
	if f == nil {
		return "*"
	}
	return f.GlobPattern()
}
