package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Migrate creates the schema if it does not exist. The DDL is shared between
// sqlite and postgres.
func Migrate(ctx context.Context, db DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS learned_patterns (
			id TEXT PRIMARY KEY,
			phrase TEXT NOT NULL UNIQUE,
			frequency INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			examples TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_set_meta (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL
		)`,
		`INSERT INTO pattern_set_meta (id, version)
			SELECT 1, 0 WHERE NOT EXISTS (SELECT 1 FROM pattern_set_meta WHERE id = 1)`,
		`CREATE TABLE IF NOT EXISTS normalization_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			clean_text TEXT NOT NULL,
			transformations TEXT NOT NULL DEFAULT '[]',
			intent TEXT NOT NULL,
			confidence REAL NOT NULL,
			scaffolded_prompt TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS low_confidence_queue (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			clean_text TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mining_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PatternRepository handles learned-pattern persistence.
type PatternRepository struct {
	db DB
}

// NewPatternRepository creates a new pattern repository.
func NewPatternRepository(db DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// Upsert inserts a pattern or refreshes frequency/confidence/examples on an
// existing one. Approved and rejected patterns keep their status.
func (r *PatternRepository) Upsert(ctx context.Context, p *LearnedPattern) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PatternStatusPending
	}

	examples, err := json.Marshal(p.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}

	query := `
		INSERT INTO learned_patterns (id, phrase, frequency, confidence, examples, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (phrase) DO UPDATE SET
			frequency = $3,
			confidence = $4,
			examples = $5,
			updated_at = $8
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID.String(), p.Phrase, p.Frequency, p.Confidence, string(examples),
		string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID retrieves a pattern by ID.
func (r *PatternRepository) GetByID(ctx context.Context, id uuid.UUID) (*LearnedPattern, error) {
	query := `
		SELECT id, phrase, frequency, confidence, examples, status, created_at, updated_at
		FROM learned_patterns WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetByPhrase retrieves a pattern by phrase.
func (r *PatternRepository) GetByPhrase(ctx context.Context, phrase string) (*LearnedPattern, error) {
	query := `
		SELECT id, phrase, frequency, confidence, examples, status, created_at, updated_at
		FROM learned_patterns WHERE phrase = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, phrase))
}

// List returns patterns filtered by status; empty status returns all.
func (r *PatternRepository) List(ctx context.Context, status PatternStatus) ([]LearnedPattern, error) {
	query := `
		SELECT id, phrase, frequency, confidence, examples, status, created_at, updated_at
		FROM learned_patterns
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY confidence * frequency DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LearnedPattern
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetStatus transitions a pending pattern to approved or rejected. The
// transition bumps the pattern-set version so live readers can detect
// staleness. Transitioning a non-pending pattern is a conflict.
func (r *PatternRepository) SetStatus(ctx context.Context, id uuid.UUID, status PatternStatus) error {
	query := `
		UPDATE learned_patterns SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}

	_, err = r.db.ExecContext(ctx, `UPDATE pattern_set_meta SET version = version + 1 WHERE id = 1`)
	return err
}

// LoadApprovedSet returns every approved phrase plus the current set version.
// The read is whole-set: callers swap the result in atomically.
func (r *PatternRepository) LoadApprovedSet(ctx context.Context) ([]string, int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM pattern_set_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		return nil, 0, fmt.Errorf("read pattern set version: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT phrase FROM learned_patterns WHERE status = 'approved' ORDER BY phrase`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return nil, 0, err
		}
		phrases = append(phrases, phrase)
	}
	return phrases, version, rows.Err()
}

func (r *PatternRepository) scanOne(row *sql.Row) (*LearnedPattern, error) {
	p := &LearnedPattern{}
	var id, examples, status string
	err := row.Scan(&id, &p.Phrase, &p.Frequency, &p.Confidence, &examples, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID, _ = uuid.Parse(id)
	p.Status = PatternStatus(status)
	if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
		p.Examples = nil
	}
	return p, nil
}

func (r *PatternRepository) scanRow(rows *sql.Rows) (*LearnedPattern, error) {
	p := &LearnedPattern{}
	var id, examples, status string
	err := rows.Scan(&id, &p.Phrase, &p.Frequency, &p.Confidence, &examples, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID, _ = uuid.Parse(id)
	p.Status = PatternStatus(status)
	if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
		p.Examples = nil
	}
	return p, nil
}

// NormalizationLogRepository handles the append-only normalization log and
// the bounded low-confidence queue. Records are never updated or deleted
// from the log after creation.
type NormalizationLogRepository struct {
	db DB
}

// NewNormalizationLogRepository creates a new log repository.
func NewNormalizationLogRepository(db DB) *NormalizationLogRepository {
	return &NormalizationLogRepository{db: db}
}

// Append inserts a record into the append-only log.
func (r *NormalizationLogRepository) Append(ctx context.Context, rec *NormalizationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	transformations, err := json.Marshal(rec.Transformations)
	if err != nil {
		return fmt.Errorf("marshal transformations: %w", err)
	}

	query := `
		INSERT INTO normalization_log
			(id, user_id, raw_text, clean_text, transformations, intent, confidence, scaffolded_prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID.String(), rec.UserID, rec.RawText, rec.CleanText, string(transformations),
		rec.Intent, rec.Confidence, rec.ScaffoldedPrompt, rec.CreatedAt,
	)
	return err
}

// Enqueue adds a record to the low-confidence queue, trimming the oldest
// entries past the limit so the queue stays bounded.
func (r *NormalizationLogRepository) Enqueue(ctx context.Context, rec *NormalizationRecord, limit int) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO low_confidence_queue (id, user_id, raw_text, clean_text, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID.String(), rec.UserID, rec.RawText, rec.CleanText, rec.Confidence, rec.CreatedAt,
	)
	if err != nil {
		return err
	}

	if limit > 0 {
		// NOT IN + LIMIT keeps the trim portable between sqlite and postgres.
		trim := `
			DELETE FROM low_confidence_queue WHERE id NOT IN (
				SELECT id FROM low_confidence_queue
				ORDER BY created_at DESC
				LIMIT $1
			)
		`
		if _, err := r.db.ExecContext(ctx, trim, limit); err != nil {
			return err
		}
	}
	return nil
}

// ListLowConfidence returns up to limit entries from the queue, oldest first.
func (r *NormalizationLogRepository) ListLowConfidence(ctx context.Context, limit int) ([]NormalizationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, raw_text, clean_text, confidence, created_at
		FROM low_confidence_queue
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NormalizationRecord
	for rows.Next() {
		var rec NormalizationRecord
		var id string
		if err := rows.Scan(&id, &rec.UserID, &rec.RawText, &rec.CleanText, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ID, _ = uuid.Parse(id)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MiningRunRepository serializes mining batches: at most one active run.
type MiningRunRepository struct {
	db DB
}

// NewMiningRunRepository creates a new mining run repository.
func NewMiningRunRepository(db DB) *MiningRunRepository {
	return &MiningRunRepository{db: db}
}

// Begin starts a mining run. A second concurrent run over the same store
// returns ErrConflict and must not proceed. The claim is a single guarded
// insert so two racing callers cannot both observe an idle store.
func (r *MiningRunRepository) Begin(ctx context.Context) (*MiningRun, error) {
	run := &MiningRun{ID: uuid.New(), StartedAt: time.Now().UTC()}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mining_runs (id, started_at)
		SELECT $1, $2
		WHERE NOT EXISTS (SELECT 1 FROM mining_runs WHERE finished_at IS NULL)
	`, run.ID.String(), run.StartedAt)
	if err != nil {
		return nil, err
	}

	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if claimed == 0 {
		return nil, ErrConflict
	}
	return run, nil
}

// Finish marks a run complete, releasing the single-writer lock.
func (r *MiningRunRepository) Finish(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mining_runs SET finished_at = $1 WHERE id = $2`,
		time.Now().UTC(), id.String())
	return err
}
