package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// single writer; the training loop is sequential
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, env_id, seed, total_timesteps, status, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			error = excluded.error
	`, run.ID, run.EnvID, run.Seed, run.TotalTimesteps, string(run.Status),
		unixNano(run.StartedAt), unixNano(run.FinishedAt), run.Error)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, env_id, seed, total_timesteps, status, started_at, finished_at, error
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, env_id, seed, total_timesteps, status, started_at, finished_at, error
		FROM runs ORDER BY started_at DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, kind, path, step, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind) DO UPDATE SET
			path = excluded.path,
			step = excluded.step,
			created_at = excluded.created_at
	`, rec.RunID, rec.Kind, rec.Path, rec.Step, unixNano(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]CheckpointRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, kind, path, step, created_at
		FROM checkpoints WHERE run_id = ? ORDER BY step ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		var (
			rec     CheckpointRecord
			created int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Kind, &rec.Path, &rec.Step, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = fromUnixNano(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveEpisode(ctx context.Context, rec EpisodeRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO episodes (run_id, idx, reward, length, elapsed_ns, step)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			reward = excluded.reward,
			length = excluded.length,
			elapsed_ns = excluded.elapsed_ns,
			step = excluded.step
	`, rec.RunID, rec.Index, rec.Reward, rec.Length, int64(rec.Elapsed), rec.Step)
	return err
}

func (s *SQLiteStore) ListEpisodes(ctx context.Context, runID string) ([]EpisodeRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT run_id, idx, reward, length, elapsed_ns, step
		FROM episodes WHERE run_id = ? ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpisodeRecord
	for rows.Next() {
		var (
			rec     EpisodeRecord
			elapsed int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Index, &rec.Reward, &rec.Length, &elapsed, &rec.Step); err != nil {
			return nil, err
		}
		rec.Elapsed = time.Duration(elapsed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run               Run
		status            string
		started, finished int64
	)
	if err := row.Scan(&run.ID, &run.EnvID, &run.Seed, &run.TotalTimesteps, &status, &started, &finished, &run.Error); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.StartedAt = fromUnixNano(started)
	run.FinishedAt = fromUnixNano(finished)
	return run, nil
}

// zero times are stored as 0
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			env_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			total_timesteps INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			error TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			step INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			reward REAL NOT NULL,
			length INTEGER NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			step INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
