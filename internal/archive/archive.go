package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial runs table
// 1 - index on runs.status
const currentSchemaVersion = 1

const defaultListLimit = 50

// ErrNotFound is returned when no archived run has the requested id
var ErrNotFound = errors.New("archived run not found")

// Record is one archived adaptation run
type Record struct {
	Run        models.Run               `json:"run"`
	ConfigYAML string                   `json:"config_yaml,omitempty"`
	Result     *models.AdaptationResult `json:"result,omitempty"`
}

// Store persists finished runs in SQLite
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive database at path and applies the schema.
// The database runs in WAL mode with a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
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
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SaveRun inserts or replaces the archived copy of a run
func (s *Store) SaveRun(ctx context.Context, rec Record) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("save run: id is required")
	}

	var (
		weight, rate sql.NullFloat64
		iterations   int
		converged    bool
		reason       string
		steps        = []byte("[]")
	)
	if res := rec.Result; res != nil {
		weight = sql.NullFloat64{Float64: res.Weight, Valid: true}
		rate = sql.NullFloat64{Float64: res.RateHz, Valid: true}
		iterations = res.Iterations
		converged = res.Converged
		reason = res.Reason
		if len(res.Steps) > 0 {
			b, err := json.Marshal(res.Steps)
			if err != nil {
				return fmt.Errorf("save run %s: encode steps: %w", rec.Run.ID, err)
			}
			steps = b
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, status, created_at_unix_ms, started_at_unix_ms, ended_at_unix_ms, error,
		 config_yaml, weight, rate_hz, iterations, converged, reason, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at_unix_ms = excluded.started_at_unix_ms,
			ended_at_unix_ms = excluded.ended_at_unix_ms,
			error = excluded.error,
			config_yaml = excluded.config_yaml,
			weight = excluded.weight,
			rate_hz = excluded.rate_hz,
			iterations = excluded.iterations,
			converged = excluded.converged,
			reason = excluded.reason,
			steps = excluded.steps
	`,
		rec.Run.ID,
		string(rec.Run.Status),
		rec.Run.CreatedAtUnixMs,
		rec.Run.StartedAtUnixMs,
		rec.Run.EndedAtUnixMs,
		rec.Run.Error,
		rec.ConfigYAML,
		weight,
		rate,
		iterations,
		converged,
		reason,
		string(steps),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.Run.ID, err)
	}
	return nil
}

const selectColumns = `id, status, created_at_unix_ms, started_at_unix_ms, ended_at_unix_ms, error,
	config_yaml, weight, rate_hz, iterations, converged, reason, steps`

// GetRun loads one archived run
func (s *Store) GetRun(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recently created runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM runs ORDER BY created_at_unix_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec          Record
		status       string
		weight, rate sql.NullFloat64
		iterations   int
		converged    bool
		reason       string
		steps        string
	)
	err := row.Scan(
		&rec.Run.ID,
		&status,
		&rec.Run.CreatedAtUnixMs,
		&rec.Run.StartedAtUnixMs,
		&rec.Run.EndedAtUnixMs,
		&rec.Run.Error,
		&rec.ConfigYAML,
		&weight,
		&rate,
		&iterations,
		&converged,
		&reason,
		&steps,
	)
	if err != nil {
		return nil, err
	}
	rec.Run.Status = models.RunStatus(status)

	if weight.Valid {
		res := &models.AdaptationResult{
			Weight:     weight.Float64,
			RateHz:     rate.Float64,
			Iterations: iterations,
			Converged:  converged,
			Reason:     reason,
		}
		if err := json.Unmarshal([]byte(steps), &res.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", rec.Run.ID, err)
		}
		if len(res.Steps) == 0 {
			res.Steps = nil
		}
		rec.Result = res
	}
	return &rec, nil
}
