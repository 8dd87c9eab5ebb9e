package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"devutils/internal/cpuusage"
)

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the SQLite file at dbPath and runs the
// migration. The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// The modernc.org driver is pure Go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT    NOT NULL,
    cpu_count   INTEGER NOT NULL,
    interval_ms INTEGER NOT NULL,
    started_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq       INTEGER NOT NULL,
    ts        INTEGER NOT NULL,
    cpu       REAL    NOT NULL,
    segment   TEXT    NOT NULL,
    processes INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_samples_run_seq ON samples(run_id, seq);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	s.log.Debug("SQLite migration applied")
	return nil
}

// SaveRun stores a series in a single transaction.
func (s *SQLite) SaveRun(ctx context.Context, series cpuusage.Series) (int64, error) {
	if err := series.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (name, cpu_count, interval_ms, started_at) VALUES (?, ?, ?, ?)`,
		series.Name, series.CPUCount, series.Interval.Milliseconds(), series.Start().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (run_id, seq, ts, cpu, segment, processes) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range series.Samples {
		if _, err := stmt.ExecContext(ctx, id, i, smp.Time.UnixNano(), smp.CPU, smp.Segment, smp.Processes); err != nil {
			return 0, fmt.Errorf("exec insert for sample %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	s.log.Debug("run persisted", zap.Int64("run_id", id), zap.Int("samples", len(series.Samples)))
	return id, nil
}

// Runs lists stored runs with their sample counts.
func (s *SQLite) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.name, r.cpu_count, r.interval_ms, r.started_at,
       (SELECT COUNT(*) FROM samples WHERE run_id = r.id)
FROM runs r ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r          Run
			intervalMS int64
			started    int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.CPUCount, &intervalMS, &started, &r.Samples); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Interval = time.Duration(intervalMS) * time.Millisecond
		r.StartedAt = time.Unix(0, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Series loads one run with its samples.
func (s *SQLite) Series(ctx context.Context, id int64) (cpuusage.Series, error) {
	var (
		series     cpuusage.Series
		intervalMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, cpu_count, interval_ms FROM runs WHERE id = ?`, id).
		Scan(&series.Name, &series.CPUCount, &intervalMS)
	if errors.Is(err, sql.ErrNoRows) {
		return series, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return series, fmt.Errorf("query run %d: %w", id, err)
	}
	series.Interval = time.Duration(intervalMS) * time.Millisecond

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, cpu, segment, processes FROM samples WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return series, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			smp cpuusage.Sample
			ts  int64
		)
		if err := rows.Scan(&ts, &smp.CPU, &smp.Segment, &smp.Processes); err != nil {
			return series, fmt.Errorf("scan sample: %w", err)
		}
		smp.Time = time.Unix(0, ts)
		series.Samples = append(series.Samples, smp)
	}
	return series, rows.Err()
}

// DeleteRun removes a run; its samples go with it through the foreign key.
func (s *SQLite) DeleteRun(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
