package repo

import (
	"path/filepath"

	"gapipe/internal/ident"
)

// pidOf lifts an identity into the path fields of a per-object product.
func pidOf(id ident.Identity) PathID {
	return PathID{
		CatID:     id.CatID,
		Tract:     id.Tract,
		Patch:     id.Patch,
		ObjID:     id.ObjID,
		NVisit:    id.NVisit,
		VisitHash: id.VisitHash,
	}
}

func objectPath(root string, opts Options, id ident.Identity, ext string) (string, error) {
	pid := pidOf(id)
	dir, err := FormatDir(ProductObject, pid, opts.Vars())
	if err != nil {
		return "", err
	}
	name, err := FormatFilename(ProductObject, pid, ext)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, dir, name), nil
}

// ObjectConfigPath is the deterministic path of an identity's materialized
// configuration in the work tree. The same identity always maps to the same
// path, so rematerializing overwrites rather than duplicates.
func ObjectConfigPath(opts Options, id ident.Identity) (string, error) {
	return objectPath(opts.Workdir, opts, id, "yaml")
}

// ObjectRecordPath is the deterministic path of an identity's output record
// in the output tree.
func ObjectRecordPath(opts Options, id ident.Identity) (string, error) {
	return objectPath(opts.Outdir, opts, id, "json")
}

// ObjectOutputDir is the identity's private subtree in the output tree. Each
// identity owns a disjoint subtree, so concurrent jobs for different
// identities never write-conflict.
func ObjectOutputDir(opts Options, id ident.Identity) (string, error) {
	dir, err := FormatDir(ProductObject, pidOf(id), opts.Vars())
	if err != nil {
		return "", err
	}
	return filepath.Join(opts.Outdir, dir), nil
}
