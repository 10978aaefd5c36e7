package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gapipe/internal/repo"
)

// Path returns the table's canonical location in the output tree, derived
// from the catalog naming grammar.
func Path(opts repo.Options, table *Table) (string, error) {
	pid := repo.PathID{
		CatID:     table.CatID,
		NVisit:    table.NVisit,
		VisitHash: table.VisitHash,
	}
	dir, err := repo.FormatDir(repo.ProductCatalog, pid, opts.Vars())
	if err != nil {
		return "", err
	}
	name, err := repo.FormatFilename(repo.ProductCatalog, pid, "json")
	if err != nil {
		return "", err
	}
	return filepath.Join(opts.Outdir, dir, name), nil
}

// Write renders the table as JSON at the given path, creating parent
// directories. Rewriting the same visit set overwrites.
func Write(path string, table *Table) error {
	data, err := Encode(table)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// Encode renders the table deterministically.
func Encode(table *Table) ([]byte, error) {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	return append(data, '\n'), nil
}
