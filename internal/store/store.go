// Package store keeps the history of optimization runs in sqlite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record is one stored run.
type Record struct {
	ID        string `json:"id"`
	Algorithm string `json:"algorithm"`
	Status    string `json:"status"`
	// Score is nil when the run produced no finite score.
	Score       *float64               `json:"score,omitempty"`
	Best        antenna.GeometryParams `json:"best"`
	Evaluations int                    `json:"evaluations"`
	Simulated   int                    `json:"simulated"`
	Converged   bool                   `json:"converged"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	Duration    time.Duration          `json:"duration"`
}

// NewRecord describes a finished run. run may be nil when the run failed
// before a strategy was started.
func NewRecord(id, algorithm, status string, run *driver.Run, runErr error) Record {
	rec := Record{ID: id, Algorithm: algorithm, Status: status, StartedAt: time.Now()}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if run == nil {
		return rec
	}
	rec.Score = finite(run.Score)
	rec.Best = run.Best
	rec.Evaluations = run.Evaluations
	rec.Simulated = run.Simulated
	rec.Converged = run.Converged
	rec.Message = run.Message
	rec.Warnings = run.Warnings
	rec.StartedAt = run.Started
	rec.Duration = run.Duration
	return rec
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Store is a sqlite backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts rec, replacing any record with the same id.
func (s *Store) Save(ctx context.Context, rec Record) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, algorithm, status, score, l1, l2, l3, d1, d2,
			evaluations, simulated, converged, message, error,
			warnings, summary, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Algorithm, rec.Status, score,
		rec.Best.L1, rec.Best.L2, rec.Best.L3, rec.Best.D1, rec.Best.D2,
		rec.Evaluations, rec.Simulated, rec.Converged, rec.Message, rec.Error,
		string(warnings), rec.Summary, rec.StartedAt.UnixNano(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

const selectRuns = `
	SELECT id, algorithm, status, score, l1, l2, l3, d1, d2,
		evaluations, simulated, converged, message, error,
		warnings, summary, started_at, duration_ms
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		score     sql.NullFloat64
		warnings  string
		started   int64
		durationM int64
	)
	err := row.Scan(&rec.ID, &rec.Algorithm, &rec.Status, &score,
		&rec.Best.L1, &rec.Best.L2, &rec.Best.L3, &rec.Best.D1, &rec.Best.D2,
		&rec.Evaluations, &rec.Simulated, &rec.Converged, &rec.Message, &rec.Error,
		&warnings, &rec.Summary, &started, &durationM)
	if err != nil {
		return Record{}, err
	}
	if score.Valid {
		rec.Score = &score.Float64
	}
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		return Record{}, fmt.Errorf("decode warnings of run %s: %w", rec.ID, err)
	}
	rec.StartedAt = time.Unix(0, started)
	rec.Duration = time.Duration(durationM) * time.Millisecond
	return rec, nil
}

// Get returns the run with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
