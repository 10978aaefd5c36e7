package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// VisitConfig is the per-visit fiber configuration: which object sits on
// which fiber for one exposure. It is the Config product's JSON payload.
type VisitConfig struct {
	DesignID uint64       `json:"designId"`
	Visit    uint32       `json:"visit"`
	Arms     []string     `json:"arms"`
	ObsTime  time.Time    `json:"obsTime"`
	ExpTime  float64      `json:"expTime"`
	Fibers   []FiberEntry `json:"fibers"`
}

// FiberEntry is one fiber assignment within a VisitConfig.
type FiberEntry struct {
	CatID        uint32 `json:"catId"`
	Tract        uint32 `json:"tract"`
	Patch        string `json:"patch"`
	ObjID        uint64 `json:"objId"`
	FiberID      uint32 `json:"fiberId"`
	FiberStatus  string `json:"fiberStatus"`
	Spectrograph uint8  `json:"spectrograph"`
	ProposalID   string `json:"proposalId,omitempty"`
	TargetType   string `json:"targetType,omitempty"`
}

// ReadVisitConfig loads a Config product from disk.
func ReadVisitConfig(path string) (*VisitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading visit config: %w", err)
	}
	var vc VisitConfig
	if err := json.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("parsing visit config %s: %w", path, err)
	}
	return &vc, nil
}

// FindFiber returns the fiber entry of one object, if present.
func (vc *VisitConfig) FindFiber(objID uint64) (FiberEntry, bool) {
	for _, f := range vc.Fibers {
		if f.ObjID == objID {
			return f, true
		}
	}
	return FiberEntry{}, false
}

// Container is the payload of a Calibrated or Merged product: one per-visit
// file holding the calibrated records of every object observed in that
// visit. Extraction decomposes it into independent Single files.
type Container struct {
	DesignID uint64            `json:"designId"`
	Visit    uint32            `json:"visit"`
	Arms     []string          `json:"arms"`
	ObsTime  time.Time         `json:"obsTime"`
	ExpTime  float64           `json:"expTime"`
	Objects  []ContainedRecord `json:"objects"`
}

// ContainedRecord is one object's record inside a container. The spectrum
// payload is opaque to the resolver; only the identity fields are
// interpreted.
type ContainedRecord struct {
	FiberEntry
	Spectrum json.RawMessage `json:"spectrum,omitempty"`
}

// ReadContainer loads a container product from disk.
func ReadContainer(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading container: %w", err)
	}
	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing container %s: %w", path, err)
	}
	return &c, nil
}

// SingleRecord is the payload of a Single product: one object, one visit.
type SingleRecord struct {
	CatID        uint32          `json:"catId"`
	Tract        uint32          `json:"tract"`
	Patch        string          `json:"patch"`
	ObjID        uint64          `json:"objId"`
	Visit        uint32          `json:"visit"`
	DesignID     uint64          `json:"designId"`
	Arms         []string        `json:"arms"`
	FiberID      uint32          `json:"fiberId"`
	FiberStatus  string          `json:"fiberStatus"`
	Spectrograph uint8           `json:"spectrograph"`
	ObsTime      time.Time       `json:"obsTime"`
	ExpTime      float64         `json:"expTime"`
	Spectrum     json.RawMessage `json:"spectrum,omitempty"`
}

// ReadSingle loads a Single product from disk.
func ReadSingle(path string) (SingleRecord, error) {
	var rec SingleRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("reading single record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parsing single record %s: %w", path, err)
	}
	return rec, nil
}
