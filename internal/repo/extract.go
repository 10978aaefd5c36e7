package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gapipe/internal/ident"
)

// ExtractResult summarizes one extraction pass.
type ExtractResult struct {
	Containers int // containers decomposed
	Written    int // Single files written
	Skipped    int // objects skipped because their Single file already existed
}

// Extract decomposes the Calibrated containers matching the filters into one
// independent Single file per contained object, staged into the work tree.
//
// Extraction is an idempotent resume: objects whose Single file already
// exists are skipped, unless force is set, in which case every file is
// rewritten. Only the identity fields of each contained record are
// interpreted; the spectrum payload passes through opaquely.
func (fs *Filesystem) Extract(ctx context.Context, f Filters, force bool, log *slog.Logger) (ExtractResult, error) {
	var res ExtractResult

	// Container filenames carry the visit fields only; the per-object
	// fields are matched against the contained records below.
	cf := Filters{Visit: f.Visit, DesignID: f.DesignID}
	containers, err := fs.Locate(ctx, ProductCalibrated, cf)
	if err != nil {
		return res, err
	}

	// A visit without a Calibrated container may still have a Merged one;
	// when both exist the Calibrated rendition wins.
	merged, err := fs.Locate(ctx, ProductMerged, cf)
	if err != nil {
		return res, err
	}
	calibrated := make(map[uint32]struct{}, len(containers))
	for _, m := range containers {
		calibrated[m.ID.Visit] = struct{}{}
	}
	for _, m := range merged {
		if _, ok := calibrated[m.ID.Visit]; ok {
			continue
		}
		containers = append(containers, m)
	}

	pv := f.perVisit()
	for _, m := range containers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c, err := ReadContainer(m.Path)
		if err != nil {
			return res, err
		}
		res.Containers++

		for _, rec := range c.Objects {
			pid, ok := singlePathID(rec, c.Visit)
			if !ok || !pv.Match(pid) {
				continue
			}

			path, err := fs.SinglePath(pid)
			if err != nil {
				return res, err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					res.Skipped++
					log.Debug("single already extracted", "path", path)
					continue
				}
			}

			if err := writeSingle(path, c, rec); err != nil {
				return res, err
			}
			res.Written++
			log.Debug("extracted single", "path", path)
		}
	}

	return res, nil
}

// SinglePath returns the staging path of one Single product in the work
// tree.
func (fs *Filesystem) SinglePath(pid PathID) (string, error) {
	dir, err := FormatDir(ProductSingle, pid, fs.opts.Vars())
	if err != nil {
		return "", err
	}
	name, err := FormatFilename(ProductSingle, pid, "json")
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.opts.Workdir, dir, name), nil
}

func singlePathID(rec ContainedRecord, visit uint32) (PathID, bool) {
	pid := PathID{
		CatID: rec.CatID,
		Tract: rec.Tract,
		ObjID: rec.ObjID,
		Visit: visit,
	}
	if rec.Patch != "" {
		patch, err := ident.ParsePatch(rec.Patch)
		if err != nil {
			return PathID{}, false
		}
		pid.Patch = &patch
	}
	return pid, true
}

func writeSingle(path string, c *Container, rec ContainedRecord) error {
	single := SingleRecord{
		CatID:        rec.CatID,
		Tract:        rec.Tract,
		Patch:        rec.Patch,
		ObjID:        rec.ObjID,
		Visit:        c.Visit,
		DesignID:     c.DesignID,
		Arms:         c.Arms,
		FiberID:      rec.FiberID,
		FiberStatus:  rec.FiberStatus,
		Spectrograph: rec.Spectrograph,
		ObsTime:      c.ObsTime,
		ExpTime:      c.ExpTime,
		Spectrum:     rec.Spectrum,
	}

	data, err := json.MarshalIndent(&single, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding single record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing single record: %w", err)
	}
	return nil
}
