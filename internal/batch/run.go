package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"gapipe/internal/config"
	"gapipe/internal/ident"
)

// execStepRunner invokes one external step subcommand per processing step.
// The steps themselves are opaque; the orchestrator only triggers them.
type execStepRunner struct {
	executable string
}

func (r *execStepRunner) RunStep(ctx context.Context, step, configPath string) error {
	cmd := exec.CommandContext(ctx, r.executable, "step", step, "--config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s step %s: %w", r.executable, step, err)
	}
	return nil
}

func recordIdentity(cfg *config.PipelineConfig) ident.Identity {
	id := ident.Identity{
		CatID:     cfg.Target.CatID,
		Tract:     cfg.Target.Tract,
		ObjID:     cfg.Target.ObjID,
		NVisit:    cfg.Target.NVisit,
		VisitHash: cfg.Target.VisitHash,
	}
	if cfg.Target.Patch != "" {
		if p, err := ident.ParsePatch(cfg.Target.Patch); err == nil {
			id.Patch = &p
		}
	}
	return id
}

// recordFor assembles the output record of one completed run. The fitted
// stellar parameters are picked up from the params.json the processing
// steps leave next to the record, when present.
func recordFor(cfg *config.PipelineConfig, recordPath string) *config.ObjectRecord {
	rec := &config.ObjectRecord{
		ProposalID:  cfg.Target.ProposalID,
		TargetType:  cfg.Target.TargetType,
		CatID:       cfg.Target.CatID,
		Tract:       cfg.Target.Tract,
		Patch:       cfg.Target.Patch,
		ObjID:       cfg.Target.ObjID,
		NVisit:      cfg.Target.NVisit,
		VisitHash:   cfg.Target.VisitHash,
		Steps:       cfg.Run.Steps,
		CompletedAt: time.Now().UTC(),
	}

	counts := make(map[string]int)
	seen := make(map[uint32]struct{})
	for _, v := range cfg.Target.Observations {
		if v.Arm != "" {
			counts[string(v.Arm)]++
		}
		if _, ok := seen[v.Visit]; !ok {
			seen[v.Visit] = struct{}{}
			rec.Visits = append(rec.Visits, v.Visit)
		}
	}
	sort.Slice(rec.Visits, func(i, j int) bool { return rec.Visits[i] < rec.Visits[j] })
	if len(counts) > 0 {
		rec.ArmCounts = counts
	}

	paramsPath := filepath.Join(filepath.Dir(recordPath), "params.json")
	if data, err := os.ReadFile(paramsPath); err == nil {
		// Best effort: a malformed params file leaves the zero values.
		_ = json.Unmarshal(data, &rec.Params)
	}
	return rec
}
