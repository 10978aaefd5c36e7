// Package ident defines the identity primitives of the pipeline: the
// per-object Identity, the per-exposure Visit, sky patches and the
// permutation-invariant visit-set hash.
//
// Identities are read-only facts derived from upstream metadata. The tuple
// (CatID, ObjID, VisitHash) is the natural key: the same physical object
// observed under a different visit combination is a distinct Identity.
package ident

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Arm identifies one spectrograph arm.
type Arm string

// Spectrograph arms.
const (
	ArmBlue   Arm = "b"
	ArmRed    Arm = "r"
	ArmMedRes Arm = "m"
	ArmNIR    Arm = "n"
)

// ValidArm reports whether a is one of the four known arms.
func ValidArm(a Arm) bool {
	switch a {
	case ArmBlue, ArmRed, ArmMedRes, ArmNIR:
		return true
	}
	return false
}

// Patch is a sky patch within a tract, addressed by two small integers.
type Patch struct {
	X int
	Y int
}

// ParsePatch parses a patch token. The two coordinates may be joined by a
// comma or a dot ("1,1" or "1.1").
func ParsePatch(s string) (Patch, error) {
	sep := ","
	if !strings.Contains(s, sep) {
		sep = "."
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return Patch{}, fmt.Errorf("invalid patch %q: expected two integers joined by ',' or '.'", s)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return Patch{}, fmt.Errorf("invalid patch %q: %v", s, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return Patch{}, fmt.Errorf("invalid patch %q: %v", s, err)
	}
	return Patch{X: x, Y: y}, nil
}

// String renders the patch in the canonical "x,y" form used in filenames.
func (p Patch) String() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// Identity is the unit of work: one object observed under one visit
// combination. Immutable once resolved.
type Identity struct {
	CatID     uint32
	Tract     uint32
	Patch     *Patch // nil when the product is not patch-addressed
	ObjID     uint64
	NVisit    uint32
	VisitHash uint64
}

// Key returns the natural key of the identity, suitable as a map key.
func (id Identity) Key() string {
	return fmt.Sprintf("%05d-%016x-%016x", id.CatID, id.ObjID, id.VisitHash)
}

// PatchString renders the patch field, or "0,0" when absent.
func (id Identity) PatchString() string {
	if id.Patch == nil {
		return "0,0"
	}
	return id.Patch.String()
}

func (id Identity) String() string {
	return fmt.Sprintf("catId=%05d tract=%05d patch=%s objId=0x%016x nVisit=%03d pfsVisitHash=0x%016x",
		id.CatID, id.Tract, id.PatchString(), id.ObjID, id.NVisit, id.VisitHash)
}

// Visit is one exposure of one object.
type Visit struct {
	Visit        uint32    `json:"visit" yaml:"visit"`
	Arm          Arm       `json:"arm" yaml:"arm"`
	Spectrograph uint8     `json:"spectrograph" yaml:"spectrograph"`
	DesignID     uint64    `json:"designId" yaml:"designId"`
	FiberID      uint32    `json:"fiberId" yaml:"fiberId"`
	FiberStatus  string    `json:"fiberStatus" yaml:"fiberStatus"`
	ObsTime      time.Time `json:"obsTime" yaml:"obsTime"`
	ExpTime      float64   `json:"expTime" yaml:"expTime"`
}

// SortVisits orders visits by observation time, then visit ID as tiebreaker.
// Order matters for provenance only; downstream aggregation is
// permutation-invariant.
func SortVisits(visits []Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		if !visits[i].ObsTime.Equal(visits[j].ObsTime) {
			return visits[i].ObsTime.Before(visits[j].ObsTime)
		}
		return visits[i].Visit < visits[j].Visit
	})
}

// NewIdentity builds an Identity for an object observed under the given
// visit set. NVisit and VisitHash are derived from the set.
func NewIdentity(catID, tract uint32, patch *Patch, objID uint64, visits []uint32) Identity {
	return Identity{
		CatID:     catID,
		Tract:     tract,
		Patch:     patch,
		ObjID:     objID,
		NVisit:    WraparoundNVisit(len(visits)),
		VisitHash: VisitSetHash(visits),
	}
}
