// Package registry implements the SQLite metadata registry backend: an
// authoritative per-survey database mapping observations to product paths.
// It satisfies the same lookup contract as the filesystem walk and is
// preferred when configured.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"gapipe/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the registry database.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the registry database at the given path and
// verifies it is reachable. Pragmas and schema are applied automatically;
// the function is idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// An unreachable or unreadable database maps onto ErrBackendUnavailable so
// callers can decide whether the filesystem fallback applies.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repo.ErrBackendUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", repo.ErrBackendUnavailable, err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent imports.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", repo.ErrBackendUnavailable, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", repo.ErrBackendUnavailable, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries. Prefer the typed
// Store methods where available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// InsertVisit records one visit and the path of its Config product.
// Idempotent: re-inserting the same visit replaces the row.
func (s *Store) InsertVisit(ctx context.Context, vc *repo.VisitConfig, path string) error {
	arms := ""
	for _, a := range vc.Arms {
		arms += a
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (visit, design_id, arms, obs_time, exp_time, path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(visit) DO UPDATE SET
			design_id = excluded.design_id,
			arms      = excluded.arms,
			obs_time  = excluded.obs_time,
			exp_time  = excluded.exp_time,
			path      = excluded.path
	`, int64(vc.Visit), int64(vc.DesignID), arms, vc.ObsTime.UTC(), vc.ExpTime, path)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// InsertObservation records one (visit, object) observation and the path of
// its Single product. Idempotent on the (visit, obj_id) key.
func (s *Store) InsertObservation(ctx context.Context, rec repo.SingleRecord, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations
		(visit, cat_id, tract, patch, obj_id, spectrograph, fiber_id, fiber_status, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(visit, obj_id) DO UPDATE SET
			cat_id       = excluded.cat_id,
			tract        = excluded.tract,
			patch        = excluded.patch,
			spectrograph = excluded.spectrograph,
			fiber_id     = excluded.fiber_id,
			fiber_status = excluded.fiber_status,
			path         = excluded.path
	`,
		int64(rec.Visit),
		int64(rec.CatID),
		int64(rec.Tract),
		rec.Patch,
		int64(rec.ObjID),
		int64(rec.Spectrograph),
		int64(rec.FiberID),
		rec.FiberStatus,
		path,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// ImportFilesystem fills the registry from a filesystem tree: every Config
// product becomes a visit row, every Single product an observation row.
func (s *Store) ImportFilesystem(ctx context.Context, fs *repo.Filesystem) (visits, observations int, err error) {
	configs, err := fs.Locate(ctx, repo.ProductConfig, repo.Filters{})
	if err != nil {
		return 0, 0, err
	}
	for _, m := range configs {
		vc, err := repo.ReadVisitConfig(m.Path)
		if err != nil {
			return visits, observations, err
		}
		if err := s.InsertVisit(ctx, vc, m.Path); err != nil {
			return visits, observations, err
		}
		visits++
	}

	singles, err := fs.Locate(ctx, repo.ProductSingle, repo.Filters{})
	if err != nil {
		return visits, observations, err
	}
	for _, m := range singles {
		// The filename carries the identity fields; the payload adds fiber
		// and spectrograph metadata when it parses.
		rec, err := repo.ReadSingle(m.Path)
		if err != nil {
			rec = repo.SingleRecord{}
		}
		rec.CatID = m.ID.CatID
		rec.Tract = m.ID.Tract
		rec.Patch = patchString(m)
		rec.ObjID = m.ID.ObjID
		rec.Visit = m.ID.Visit
		if err := s.InsertObservation(ctx, rec, m.Path); err != nil {
			return visits, observations, err
		}
		observations++
	}
	return visits, observations, nil
}

func patchString(m repo.Match) string {
	if m.ID.Patch == nil {
		return "0,0"
	}
	return m.ID.Patch.String()
}
