package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestPatternUpsertAndGet(t *testing.T) {
	repo := NewPatternRepository(testDB(t))
	ctx := context.Background()

	p := &LearnedPattern{
		Phrase:     "sir please tell",
		Frequency:  12,
		Confidence: 0.8,
		Examples:   []string{"sir please tell what is gravity"},
	}
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.GetByPhrase(ctx, "sir please tell")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, 12, got.Frequency)
	assert.Equal(t, PatternStatusPending, got.Status)
	assert.Equal(t, p.Examples, got.Examples)
}

func TestPatternUpsertKeepsStatusOnConflict(t *testing.T) {
	repo := NewPatternRepository(testDB(t))
	ctx := context.Background()

	p := &LearnedPattern{Phrase: "pls help", Frequency: 10, Confidence: 0.5}
	require.NoError(t, repo.Upsert(ctx, p))
	require.NoError(t, repo.SetStatus(ctx, p.ID, PatternStatusApproved))

	// A later mining run refreshes counts but must not revert the status.
	again := &LearnedPattern{Phrase: "pls help", Frequency: 15, Confidence: 0.6}
	require.NoError(t, repo.Upsert(ctx, again))

	got, err := repo.GetByPhrase(ctx, "pls help")
	require.NoError(t, err)
	assert.Equal(t, PatternStatusApproved, got.Status)
	assert.Equal(t, 15, got.Frequency)
}

func TestSetStatusOnlyFromPending(t *testing.T) {
	repo := NewPatternRepository(testDB(t))
	ctx := context.Background()

	p := &LearnedPattern{Phrase: "tell me fast", Frequency: 10}
	require.NoError(t, repo.Upsert(ctx, p))

	require.NoError(t, repo.SetStatus(ctx, p.ID, PatternStatusApproved))
	err := repo.SetStatus(ctx, p.ID, PatternStatusRejected)
	assert.ErrorIs(t, err, ErrConflict)

	err = repo.SetStatus(ctx, uuid.New(), PatternStatusApproved)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoadApprovedSetVersioning(t *testing.T) {
	repo := NewPatternRepository(testDB(t))
	ctx := context.Background()

	phrases, v0, err := repo.LoadApprovedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, phrases)

	p := &LearnedPattern{Phrase: "bhai batao", Frequency: 11}
	require.NoError(t, repo.Upsert(ctx, p))

	// Pending patterns never enter the approved set.
	phrases, _, err = repo.LoadApprovedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, phrases)

	require.NoError(t, repo.SetStatus(ctx, p.ID, PatternStatusApproved))
	phrases, v1, err := repo.LoadApprovedSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bhai batao"}, phrases)
	assert.Greater(t, v1, v0)
}

func TestNormalizationLogAppendAndQueue(t *testing.T) {
	db := testDB(t)
	repo := NewNormalizationLogRepository(db)
	ctx := context.Background()

	rec := &NormalizationRecord{
		UserID:     "u1",
		RawText:    "pls tell me what is gravity",
		CleanText:  "What is gravity?",
		Intent:     "DEFINE",
		Confidence: 0.55,
	}
	require.NoError(t, repo.Append(ctx, rec))
	require.NoError(t, repo.Enqueue(ctx, rec, 100))

	queued, err := repo.ListLowConfidence(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "pls tell me what is gravity", queued[0].RawText)
}

func TestLowConfidenceQueueBounded(t *testing.T) {
	repo := NewNormalizationLogRepository(testDB(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rec := &NormalizationRecord{
			UserID:     "u1",
			RawText:    "query",
			CleanText:  "Query",
			Intent:     "UNSPECIFIED",
			Confidence: 0.3,
		}
		require.NoError(t, repo.Enqueue(ctx, rec, 5))
	}

	queued, err := repo.ListLowConfidence(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, queued, 5)
}

func TestMiningRunSingleWriter(t *testing.T) {
	repo := NewMiningRunRepository(testDB(t))
	ctx := context.Background()

	run, err := repo.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.Begin(ctx)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, repo.Finish(ctx, run.ID))
	_, err = repo.Begin(ctx)
	assert.NoError(t, err)
}

// racingDB lets another writer claim the lock between a caller deciding to
// begin and its insert reaching the database.
type racingDB struct {
	*sql.DB
	before func()
}

func (d *racingDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if d.before != nil {
		fn := d.before
		d.before = nil
		fn()
	}
	return d.DB.ExecContext(ctx, query, args...)
}

func TestMiningRunBeginRace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rival := NewMiningRunRepository(db)
	wrapped := &racingDB{DB: db}
	wrapped.before = func() {
		_, err := rival.Begin(ctx)
		require.NoError(t, err)
	}
	repo := NewMiningRunRepository(wrapped)

	_, err := repo.Begin(ctx)
	assert.ErrorIs(t, err, ErrConflict)

	var active int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mining_runs WHERE finished_at IS NULL`).Scan(&active))
	assert.Equal(t, 1, active)
}
