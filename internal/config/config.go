// Package config implements the pipeline configuration document and its
// materialization: expanding one template into one fully bound configuration
// per resolved object. Templates are authored in YAML, JSON or CUE;
// materialized configurations are written as YAML into the work tree and the
// pipeline's output records are read back as JSON from the output tree.
package config

import (
	"time"

	"gapipe/internal/ident"
)

// Params is a free-form parameter block passed through to the opaque
// processing steps. yaml.v3 renders map keys sorted, so marshaling a Params
// value is deterministic.
type Params map[string]any

// PipelineConfig is the per-object configuration document consumed by the
// processing steps. Path-valued fields may carry {field} placeholders in the
// template; a materialized configuration has none left.
type PipelineConfig struct {
	Workdir  string `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Outdir   string `yaml:"outdir,omitempty" json:"outdir,omitempty"`
	Datadir  string `yaml:"datadir,omitempty" json:"datadir,omitempty"`
	Rerundir string `yaml:"rerundir,omitempty" json:"rerundir,omitempty"`

	Target Target  `yaml:"target" json:"target"`
	RVFit  RVFit   `yaml:"rvfit,omitempty" json:"rvfit,omitempty"`
	Coadd  Coadd   `yaml:"coadd,omitempty" json:"coadd,omitempty"`
	Run    RunSpec `yaml:"run,omitempty" json:"run,omitempty"`
}

// Target identifies the object the configuration is bound to, with its
// resolved observation list. Filled by materialization, empty in templates.
type Target struct {
	ProposalID string `yaml:"proposalId,omitempty" json:"proposalId,omitempty"`
	TargetType string `yaml:"targetType,omitempty" json:"targetType,omitempty"`

	CatID     uint32 `yaml:"catId" json:"catId"`
	Tract     uint32 `yaml:"tract" json:"tract"`
	Patch     string `yaml:"patch,omitempty" json:"patch,omitempty"`
	ObjID     uint64 `yaml:"objId" json:"objId"`
	NVisit    uint32 `yaml:"nVisit" json:"nVisit"`
	VisitHash uint64 `yaml:"pfsVisitHash" json:"pfsVisitHash"`

	Observations []ident.Visit `yaml:"observations,omitempty" json:"observations,omitempty"`

	// ObsParams holds per-object observation-parameter overrides merged in
	// from the obs-params source.
	ObsParams Params `yaml:"obsParams,omitempty" json:"obsParams,omitempty"`
}

// RVFit configures the line-of-sight velocity fitting step.
type RVFit struct {
	FitArms          []string `yaml:"fitArms,omitempty" json:"fitArms,omitempty"`
	RequireAllArms   bool     `yaml:"requireAllArms,omitempty" json:"requireAllArms,omitempty"`
	ModelGridPath    string   `yaml:"modelGridPath,omitempty" json:"modelGridPath,omitempty"`
	PSFPath          string   `yaml:"psfPath,omitempty" json:"psfPath,omitempty"`
	MaskFlags        []string `yaml:"maskFlags,omitempty" json:"maskFlags,omitempty"`
	RequiredProducts []string `yaml:"requiredProducts,omitempty" json:"requiredProducts,omitempty"`
	Args             Params   `yaml:"args,omitempty" json:"args,omitempty"`
}

// Coadd configures the coaddition step.
type Coadd struct {
	Enabled   bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CoaddArms []string `yaml:"coaddArms,omitempty" json:"coaddArms,omitempty"`
	Args      Params   `yaml:"args,omitempty" json:"args,omitempty"`
}

// RunSpec selects the processing steps and their execution environment.
type RunSpec struct {
	Steps []string `yaml:"steps,omitempty" json:"steps,omitempty"`
	Env   Params   `yaml:"env,omitempty" json:"env,omitempty"`
}

// StellarParams are the fitted stellar parameters reported by the processing
// steps in the output record.
type StellarParams struct {
	VLos    float64 `json:"v_los"`
	VLosErr float64 `json:"v_los_err"`
	TEff    float64 `json:"t_eff"`
	TEffErr float64 `json:"t_eff_err"`
	MH      float64 `json:"m_h"`
	MHErr   float64 `json:"m_h_err"`
	LogG    float64 `json:"log_g"`
	LogGErr float64 `json:"log_g_err"`
}

// ObjectRecord is the pipeline's per-object output document, written next to
// the object's products in the output tree and merged by the catalog
// collector. Its presence (and freshness relative to the configuration) is
// how job completion is reconstructed from the filesystem.
type ObjectRecord struct {
	ProposalID string `json:"proposalId,omitempty"`
	TargetType string `json:"targetType,omitempty"`

	CatID     uint32 `json:"catId"`
	Tract     uint32 `json:"tract"`
	Patch     string `json:"patch,omitempty"`
	ObjID     uint64 `json:"objId"`
	NVisit    uint32 `json:"nVisit"`
	VisitHash uint64 `json:"pfsVisitHash"`

	// Visits are the contributing visit IDs, sorted; ArmCounts is the
	// number of contributing exposures per arm.
	Visits    []uint32       `json:"visits,omitempty"`
	ArmCounts map[string]int `json:"armCounts,omitempty"`

	Params StellarParams `json:"params"`

	Steps       []string  `json:"steps,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Identity reconstructs the record's identity fields.
func (r *ObjectRecord) Identity() ident.Identity {
	id := ident.Identity{
		CatID:     r.CatID,
		Tract:     r.Tract,
		ObjID:     r.ObjID,
		NVisit:    r.NVisit,
		VisitHash: r.VisitHash,
	}
	if r.Patch != "" {
		if p, err := ident.ParsePatch(r.Patch); err == nil {
			id.Patch = &p
		}
	}
	return id
}
