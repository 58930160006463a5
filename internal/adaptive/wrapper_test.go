package adaptive

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

func testOptions() Options {
	return Options{LowConfidenceThreshold: 0.7, QueueLimit: 100}
}

func testNormOptions() normalize.Options {
	return normalize.Options{
		FuzzyThreshold:      0.85,
		ContextPenalty:      0.85,
		IntentPenalty:       0.9,
		HeavyRewritePenalty: 0.8,
	}
}

func testRepos(t *testing.T) (*storage.PatternRepository, *storage.NormalizationLogRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db))
	return storage.NewPatternRepository(db), storage.NewNormalizationLogRepository(db)
}

func TestProcessLogsAndReturnsRecord(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	rec, err := w.Process(ctx, "what is gravity", "u1")
	require.NoError(t, err)
	assert.Equal(t, "What is gravity?", rec.CleanText)
	assert.Equal(t, int64(1), w.Metrics().Processed)

	// High-confidence results stay out of the mining queue.
	queued, err := normLog.ListLowConfidence(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestProcessQueuesLowConfidence(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	// Heavy rewrite, an unresolved pronoun and no intent push confidence
	// under 0.7.
	rec, err := w.Process(ctx, "umm so that thing bro", "u1")
	require.NoError(t, err)
	require.Less(t, rec.Confidence, 0.7)

	queued, err := normLog.ListLowConfidence(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "umm so that thing bro", queued[0].RawText)
	assert.Equal(t, int64(1), w.Metrics().LowConfidence)
}

func TestProcessEmptyInput(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	_, err := w.Process(ctx, "   ", "u1")
	assert.ErrorIs(t, err, normalize.ErrEmptyInput)
}

func TestLogFailureNeverFailsQuery(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(context.Background(), db))

	patterns := storage.NewPatternRepository(db)
	normLog := storage.NewNormalizationLogRepository(db)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	// Closing the database makes every log write fail.
	require.NoError(t, db.Close())

	rec, err := w.Process(ctx, "what is gravity", "u1")
	require.NoError(t, err)
	assert.Equal(t, "What is gravity?", rec.CleanText)
	assert.Positive(t, w.Metrics().LogFailures)
}

func TestPatternPromotionInvariant(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	const input = "bhai batao what is gravity"

	p := &storage.LearnedPattern{Phrase: "bhai batao", Frequency: 12, Confidence: 0.8}
	require.NoError(t, patterns.Upsert(ctx, p))

	// Pending: normalization is unaffected even after a reload.
	require.NoError(t, w.ReloadPatterns(ctx))
	rec, err := w.Process(ctx, input, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bhai batao what is gravity", rec.CleanText)

	// Approved and reloaded: the phrase is stripped.
	require.NoError(t, patterns.SetStatus(ctx, p.ID, storage.PatternStatusApproved))
	require.NoError(t, w.ReloadPatterns(ctx))
	rec, err = w.Process(ctx, input, "u1")
	require.NoError(t, err)
	assert.Equal(t, "What is gravity?", rec.CleanText)
	assert.Contains(t, rec.Transformations, normalize.TagNoiseLearned)
}

func TestRejectedPatternLeavesBehaviorUnchanged(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, nil, nil)

	p := &storage.LearnedPattern{Phrase: "bhai batao", Frequency: 12}
	require.NoError(t, patterns.Upsert(ctx, p))
	require.NoError(t, patterns.SetStatus(ctx, p.ID, storage.PatternStatusRejected))
	require.NoError(t, w.ReloadPatterns(ctx))

	rec, err := w.Process(ctx, "bhai batao what is gravity", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bhai batao what is gravity", rec.CleanText)
}

func TestReloadOnBroadcast(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	mem := cache.NewMemoryClient(0)
	defer mem.Close()

	w := NewWrapper(ctx, testOptions(), testNormOptions(), nil, patterns, normLog, mem, nil)
	stop, err := w.SubscribeReloads(ctx)
	require.NoError(t, err)
	defer stop()

	p := &storage.LearnedPattern{Phrase: "bhai batao", Frequency: 12}
	require.NoError(t, patterns.Upsert(ctx, p))
	require.NoError(t, patterns.SetStatus(ctx, p.ID, storage.PatternStatusApproved))

	require.NoError(t, mem.Publish(ctx, ReloadChannel, []byte("reload")))

	assert.Eventually(t, func() bool {
		return len(w.Patterns()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCorrectionCounted(t *testing.T) {
	patterns, normLog := testRepos(t)
	ctx := context.Background()

	corrector := normalize.NewRuleCorrector(nil, 0, nil)
	w := NewWrapper(ctx, testOptions(), testNormOptions(), corrector, patterns, normLog, nil, nil)

	rec, err := w.Process(ctx, "hey can u tell me what is fotosynthesis bro", "u1")
	require.NoError(t, err)
	assert.Equal(t, "What is photosynthesis?", rec.CleanText)
	assert.Equal(t, normalize.IntentDefine, rec.Intent)
	assert.Equal(t, "hey can u tell me what is fotosynthesis bro", rec.RawText)
	assert.Equal(t, int64(1), w.Metrics().Corrections)
}
