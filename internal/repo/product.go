// Package repo resolves logical data products to physical locations.
//
// A product is addressed by its identity fields. Two interchangeable
// backends implement the same lookup contract: a SQLite metadata registry
// (package registry) and a filesystem walk over a directory tree whose
// filenames follow one fixed naming grammar per product type. Backend
// selection is decided once per invocation and never mixed mid-query.
package repo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gapipe/internal/ident"
)

// ProductType identifies one logical product kind.
type ProductType int

// Known product types.
//
// Config, Merged and Calibrated are per-visit products; Calibrated and
// Merged are containers holding one record per observed object. Single is a
// per-object, per-visit spectrum. Object is per-object across a visit set:
// the .yaml rendition is the materialized pipeline configuration, the .json
// rendition the pipeline's output record. Catalog is the merged result
// table.
const (
	ProductConfig ProductType = iota
	ProductMerged
	ProductCalibrated
	ProductSingle
	ProductObject
	ProductCatalog
)

var productNames = map[ProductType]string{
	ProductConfig:     "Config",
	ProductMerged:     "Merged",
	ProductCalibrated: "Calibrated",
	ProductSingle:     "Single",
	ProductObject:     "Object",
	ProductCatalog:    "Catalog",
}

func (pt ProductType) String() string {
	if n, ok := productNames[pt]; ok {
		return n
	}
	return fmt.Sprintf("ProductType(%d)", int(pt))
}

// ParseProductType parses a product type name, case-insensitively.
func ParseProductType(s string) (ProductType, error) {
	for pt, n := range productNames {
		if strings.EqualFold(s, n) {
			return pt, nil
		}
	}
	return 0, fmt.Errorf("unknown product type %q", s)
}

// PathID holds the identity fields recoverable from a product path. Which
// fields are populated depends on the product type: per-visit products carry
// DesignID and Visit, per-object products carry the Identity fields.
type PathID struct {
	CatID     uint32
	Tract     uint32
	Patch     *ident.Patch
	ObjID     uint64
	NVisit    uint32
	VisitHash uint64
	DesignID  uint64
	Visit     uint32
}

// Identity converts the per-object fields of the PathID into an Identity.
func (p PathID) Identity() ident.Identity {
	return ident.Identity{
		CatID:     p.CatID,
		Tract:     p.Tract,
		Patch:     p.Patch,
		ObjID:     p.ObjID,
		NVisit:    p.NVisit,
		VisitHash: p.VisitHash,
	}
}

// descriptor binds a product type to its naming grammar: a directory format,
// a filename format and a parsing regex with named captures. Formats use
// {field} and {field:spec} placeholders (see ExpandTemplate) plus $variable
// references resolved against the repository configuration.
type descriptor struct {
	dirFormat  string
	fileFormat string
	re         *regexp.Regexp
}

// One fixed grammar per product type. The regexes are the single source of
// truth for parsing; ad hoc string splitting is not used anywhere.
var descriptors = map[ProductType]descriptor{
	ProductConfig: {
		dirFormat:  "Config",
		fileFormat: "Config-0x{designid:016x}-{visit:06d}.json",
		re:         regexp.MustCompile(`^Config-0x(?P<designid>[0-9a-f]{16})-(?P<visit>\d{6})\.(?P<ext>json)$`),
	},
	ProductMerged: {
		dirFormat:  "Merged",
		fileFormat: "Merged-0x{designid:016x}-{visit:06d}.json",
		re:         regexp.MustCompile(`^Merged-0x(?P<designid>[0-9a-f]{16})-(?P<visit>\d{6})\.(?P<ext>json)$`),
	},
	ProductCalibrated: {
		dirFormat:  "Calibrated",
		fileFormat: "Calibrated-0x{designid:016x}-{visit:06d}.json",
		re:         regexp.MustCompile(`^Calibrated-0x(?P<designid>[0-9a-f]{16})-(?P<visit>\d{6})\.(?P<ext>json)$`),
	},
	ProductSingle: {
		dirFormat:  "$rerundir/Single/{catid:05d}/{tract:05d}/{patch}",
		fileFormat: "Single-{catid:05d}-{tract:05d}-{patch}-{objid:016x}-{visit:06d}.json",
		re:         regexp.MustCompile(`^Single-(?P<catid>\d{5})-(?P<tract>\d{5})-(?P<patch>\d+,\d+)-(?P<objid>[0-9a-f]{16})-(?P<visit>\d{6})\.(?P<ext>json)$`),
	},
	ProductObject: {
		dirFormat:  "$rerundir/Object/{catid:05d}/{objid:016x}-{nvisit:03d}-0x{pfsvisithash:016x}",
		fileFormat: "Object-{catid:05d}-{tract:05d}-{patch}-{objid:016x}-{nvisit:03d}-0x{pfsvisithash:016x}.{ext}",
		re:         regexp.MustCompile(`^Object-(?P<catid>\d{5})-(?P<tract>\d{5})-(?P<patch>\d+,\d+)-(?P<objid>[0-9a-f]{16})-(?P<nvisit>\d{3})-0x(?P<pfsvisithash>[0-9a-f]{16})\.(?P<ext>yaml|json)$`),
	},
	ProductCatalog: {
		dirFormat:  "$rerundir/Catalog/{catid:05d}",
		fileFormat: "Catalog-{catid:05d}-{nvisit:03d}-0x{pfsvisithash:016x}.json",
		re:         regexp.MustCompile(`^Catalog-(?P<catid>\d{5})-(?P<nvisit>\d{3})-0x(?P<pfsvisithash>[0-9a-f]{16})\.(?P<ext>json)$`),
	},
}

// Fields returns the template fields of a PathID, keyed by placeholder name.
func (p PathID) Fields() map[string]any {
	return map[string]any{
		"catid":        p.CatID,
		"tract":        p.Tract,
		"patch":        patchField(p.Patch),
		"objid":        p.ObjID,
		"nvisit":       p.NVisit,
		"pfsvisithash": p.VisitHash,
		"designid":     p.DesignID,
		"visit":        p.Visit,
	}
}

func patchField(p *ident.Patch) string {
	if p == nil {
		return "0,0"
	}
	return p.String()
}

// FormatFilename renders the canonical filename of a product. ext selects
// the extension for product types that admit more than one (Object).
func FormatFilename(pt ProductType, pid PathID, ext string) (string, error) {
	d, ok := descriptors[pt]
	if !ok {
		return "", fmt.Errorf("no naming grammar for product type %v", pt)
	}
	fields := pid.Fields()
	fields["ext"] = ext
	return ExpandTemplate(d.fileFormat, fields)
}

// FormatDir renders the directory of a product relative to the repository
// root. vars supplies $variable values (e.g. rerundir).
func FormatDir(pt ProductType, pid PathID, vars map[string]string) (string, error) {
	d, ok := descriptors[pt]
	if !ok {
		return "", fmt.Errorf("no naming grammar for product type %v", pt)
	}
	s, err := expandVars(d.dirFormat, vars)
	if err != nil {
		return "", err
	}
	return ExpandTemplate(s, pid.Fields())
}

// dirGlob renders the directory format as a glob pattern, narrowing each
// identity field to the filter's glob fragment.
func dirGlob(pt ProductType, f Filters, vars map[string]string) (string, error) {
	d := descriptors[pt]
	s, err := expandVars(d.dirFormat, vars)
	if err != nil {
		return "", err
	}
	return expandGlob(s, f.globStrings()), nil
}

// ParseFilename matches a candidate filename against the product's grammar
// and recovers the identity fields. ok is false for non-matching names;
// that is not an error, such files are silently skipped by the walk.
func ParseFilename(pt ProductType, name string) (pid PathID, ext string, ok bool) {
	d, found := descriptors[pt]
	if !found {
		return PathID{}, "", false
	}
	m := d.re.FindStringSubmatch(name)
	if m == nil {
		return PathID{}, "", false
	}
	for i, group := range d.re.SubexpNames() {
		if i == 0 || group == "" {
			continue
		}
		if !pid.setField(group, m[i]) {
			return PathID{}, "", false
		}
		if group == "ext" {
			ext = m[i]
		}
	}
	return pid, ext, true
}

// setField assigns one named capture to the PathID. The captures are
// guaranteed numeric by the regexes, so parse failures mean grammar bugs,
// not bad input; they are treated as non-matches.
func (p *PathID) setField(name, value string) bool {
	switch name {
	case "catid":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false
		}
		p.CatID = uint32(v)
	case "tract":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false
		}
		p.Tract = uint32(v)
	case "patch":
		patch, err := ident.ParsePatch(value)
		if err != nil {
			return false
		}
		p.Patch = &patch
	case "objid":
		v, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return false
		}
		p.ObjID = v
	case "nvisit":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false
		}
		p.NVisit = uint32(v)
	case "pfsvisithash":
		v, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return false
		}
		p.VisitHash = v
	case "designid":
		v, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return false
		}
		p.DesignID = v
	case "visit":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false
		}
		p.Visit = uint32(v)
	case "ext":
		// captured separately
	default:
		return false
	}
	return true
}
