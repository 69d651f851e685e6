package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout has fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	preset        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	controller    TEXT NOT NULL,
	integrator    TEXT NOT NULL,
	formulation   TEXT NOT NULL DEFAULT '',
	horizon       INTEGER NOT NULL DEFAULT 0,
	terminal      TEXT NOT NULL DEFAULT '',
	u_max         REAL NOT NULL DEFAULT 0,
	dt            REAL NOT NULL,
	duration      REAL NOT NULL,
	steps         INTEGER NOT NULL,
	diverged      INTEGER NOT NULL,
	solves        INTEGER NOT NULL DEFAULT 0,
	failures      INTEGER NOT NULL DEFAULT 0,
	fallbacks     INTEGER NOT NULL DEFAULT 0,
	mean_solve_ms REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS run_metrics (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (run_id, name)
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Catalog indexes saved runs in SQLite for filtering and ordering.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database at path. ":memory:"
// gives a private in-memory catalog.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// Record inserts or replaces a run and its metrics.
func (c *Catalog) Record(ctx context.Context, meta RunMetadata) error {
	if meta.ID == "" {
		return fmt.Errorf("storage: record needs a run id")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, meta.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, preset, created_at, controller, integrator, formulation, horizon, terminal,
			u_max, dt, duration, steps, diverged, solves, failures, fallbacks, mean_solve_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Preset, meta.Timestamp.UTC().Format(timeLayout), meta.Controller, meta.Integrator,
		meta.Formulation, meta.Horizon, meta.Terminal, meta.UMax, meta.Dt, meta.Duration, meta.Steps,
		boolInt(meta.Diverged), meta.Solves, meta.Failures, meta.Fallbacks, meta.MeanSolveMs)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_metrics (run_id, name, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for name, value := range meta.Metrics {
		if _, err := stmt.ExecContext(ctx, meta.ID, name, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Filter narrows a catalog query. Zero fields match everything.
type Filter struct {
	Controller string
	Preset     string
	// Limit caps the result count when positive.
	Limit int
}

// Query returns matching runs, newest first.
func (c *Catalog) Query(ctx context.Context, f Filter) ([]RunMetadata, error) {
	q := `SELECT id, preset, created_at, controller, integrator, formulation, horizon, terminal,
		u_max, dt, duration, steps, diverged, solves, failures, fallbacks, mean_solve_ms
		FROM runs WHERE (? = '' OR controller = ?) AND (? = '' OR preset = ?)
		ORDER BY created_at DESC, id`
	args := []interface{}{f.Controller, f.Controller, f.Preset, f.Preset}
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunMetadata
	for rows.Next() {
		meta, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Metrics, err = c.metrics(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*RunMetadata, error) {
	row := c.db.QueryRowContext(ctx, `SELECT id, preset, created_at, controller, integrator, formulation, horizon, terminal,
		u_max, dt, duration, steps, diverged, solves, failures, fallbacks, mean_solve_ms
		FROM runs WHERE id = ?`, id)
	meta, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if meta.Metrics, err = c.metrics(ctx, id); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Best returns the non-diverged run with the lowest value of metric.
func (c *Catalog) Best(ctx context.Context, metric string) (*RunMetadata, error) {
	var id string
	err := c.db.QueryRowContext(ctx, `
		SELECT r.id FROM runs r JOIN run_metrics m ON m.run_id = r.id
		WHERE m.name = ? AND r.diverged = 0
		ORDER BY m.value ASC, r.created_at DESC LIMIT 1`, metric).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no run has metric %q", ErrNotFound, metric)
	}
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (c *Catalog) metrics(ctx context.Context, id string) (map[string]float64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, value FROM run_metrics WHERE run_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (RunMetadata, error) {
	var meta RunMetadata
	var created string
	err := s.Scan(&meta.ID, &meta.Preset, &created, &meta.Controller, &meta.Integrator, &meta.Formulation,
		&meta.Horizon, &meta.Terminal, &meta.UMax, &meta.Dt, &meta.Duration, &meta.Steps, &meta.Diverged,
		&meta.Solves, &meta.Failures, &meta.Fallbacks, &meta.MeanSolveMs)
	if err != nil {
		return meta, err
	}
	meta.Timestamp, err = time.Parse(timeLayout, created)
	return meta, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
