package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/promptgym-dev/promptgym/internal/domain"
	_ "modernc.org/sqlite"
)

// Store persists the controller snapshot and the append-only trial
// history in sqlite. The snapshot is a single row; trials are never
// updated after insert.
type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// WAL for concurrent read access (the inspect tool reads while the
	// trainer writes), busy_timeout instead of immediate lock failures.
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	// Serialize all Go-side access through a single connection so SQLite
	// never sees concurrent writers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS training_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			iteration INTEGER NOT NULL,
			model_index INTEGER NOT NULL,
			model TEXT NOT NULL,
			target INTEGER NOT NULL,
			budget INTEGER NOT NULL,
			consecutive_clears INTEGER NOT NULL,
			consecutive_failures INTEGER NOT NULL,
			cumulative_cost REAL NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			id TEXT PRIMARY KEY,
			iteration INTEGER NOT NULL,
			model TEXT NOT NULL,
			target INTEGER NOT NULL,
			budget INTEGER NOT NULL,
			progress INTEGER NOT NULL,
			turns_used INTEGER NOT NULL,
			tool_calls INTEGER NOT NULL,
			cost REAL NOT NULL,
			crashed INTEGER NOT NULL DEFAULT 0,
			outcome_path TEXT,
			transcript_path TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trials_created ON trials(created_at);
	`)
	return err
}

func (s *Store) SaveState(ctx context.Context, state *domain.TrainingState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_state (id, iteration, model_index, model, target, budget, consecutive_clears, consecutive_failures, cumulative_cost, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   iteration=excluded.iteration, model_index=excluded.model_index, model=excluded.model,
		   target=excluded.target, budget=excluded.budget,
		   consecutive_clears=excluded.consecutive_clears, consecutive_failures=excluded.consecutive_failures,
		   cumulative_cost=excluded.cumulative_cost, updated_at=excluded.updated_at`,
		state.Iteration, state.ModelIndex, state.Model, state.Target, state.Budget,
		state.ConsecutiveClears, state.ConsecutiveFailures, state.CumulativeCost,
		formatTime(time.Now()),
	)
	return err
}

// LoadState returns the persisted snapshot with its recent trial history
// attached, or nil when no snapshot exists.
func (s *Store) LoadState(ctx context.Context) (*domain.TrainingState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT iteration, model_index, model, target, budget, consecutive_clears, consecutive_failures, cumulative_cost
		 FROM training_state WHERE id = 1`)

	state := &domain.TrainingState{}
	err := row.Scan(&state.Iteration, &state.ModelIndex, &state.Model, &state.Target, &state.Budget,
		&state.ConsecutiveClears, &state.ConsecutiveFailures, &state.CumulativeCost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	history, err := s.RecentTrials(ctx, 50)
	if err != nil {
		return nil, err
	}
	state.History = history
	return state, nil
}

func (s *Store) AppendTrial(ctx context.Context, rec *domain.TrialRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trials (id, iteration, model, target, budget, progress, turns_used, tool_calls, cost, crashed, outcome_path, transcript_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Iteration, rec.Model, rec.Target, rec.Budget,
		rec.Progress, rec.TurnsUsed, rec.ToolCalls, rec.Cost, boolInt(rec.Crashed),
		rec.OutcomePath, rec.TranscriptPath, formatTime(rec.CreatedAt),
	)
	return err
}

// RecentTrials returns up to n most recent trials, oldest first.
func (s *Store) RecentTrials(ctx context.Context, n int) ([]domain.TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, iteration, model, target, budget, progress, turns_used, tool_calls, cost, crashed,
		        COALESCE(outcome_path,''), COALESCE(transcript_path,''), created_at
		 FROM trials ORDER BY created_at DESC, iteration DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.TrialRecord
	for rows.Next() {
		var rec domain.TrialRecord
		var crashed int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Iteration, &rec.Model, &rec.Target, &rec.Budget,
			&rec.Progress, &rec.TurnsUsed, &rec.ToolCalls, &rec.Cost, &crashed,
			&rec.OutcomePath, &rec.TranscriptPath, &createdAt); err != nil {
			return nil, err
		}
		rec.Crashed = crashed != 0
		rec.CreatedAt = parseTime(createdAt)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
