package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/adaptive"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/mining"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

type scriptedEmbedder struct {
	vec      []float32
	failures atomic.Int64
	calls    atomic.Int64
}

func (e *scriptedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls.Add(1)
	if e.failures.Load() > 0 {
		e.failures.Add(-1)
		return nil, errors.New("connection refused")
	}
	return e.vec, nil
}

func (e *scriptedEmbedder) Dimension() int { return len(e.vec) }

func buildTestPipeline(t *testing.T, embedder *scriptedEmbedder) (*Pipeline, *storage.PatternRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, storage.Migrate(ctx, db))

	patterns := storage.NewPatternRepository(db)
	normLog := storage.NewNormalizationLogRepository(db)
	runs := storage.NewMiningRunRepository(db)

	corrector := normalize.NewRuleCorrector(nil, 0, nil)
	wrapper := adaptive.NewWrapper(ctx,
		adaptive.Options{LowConfidenceThreshold: 0.7, QueueLimit: 100},
		normalize.Options{
			FuzzyThreshold:      0.85,
			ContextPenalty:      0.85,
			IntentPenalty:       0.9,
			HeavyRewritePenalty: 0.8,
		},
		corrector, patterns, normLog, nil, nil)

	store := retrieval.NewMemoryStore()
	store.Add("physics_textbook", retrieval.Chunk{
		ID:     "c1",
		Text:   "Photosynthesis is the process by which green plants convert light energy into chemical energy stored in glucose.",
		Source: "textbook",
		Vector: []float32{1, 0},
	})

	fallback, err := retrieval.NewFallbackIndex(nil)
	require.NoError(t, err)
	t.Cleanup(func() { fallback.Close() })
	require.NoError(t, fallback.Index("physics_textbook", retrieval.Chunk{
		ID:     "c1",
		Text:   "Photosynthesis is the process by which green plants convert light energy into chemical energy stored in glucose.",
		Source: "textbook",
	}))

	eng := retrieval.NewEngine(retrieval.Options{
		MaxResults:        3,
		DistanceThreshold: 0.65,
		CacheCapacity:     128,
		FallbackEnabled:   true,
	}, embedder, store, fallback, retrieval.SubjectCollections{
		"physics": {"physics_textbook"},
	}, nil)

	miner := mining.NewMiner(mining.Options{
		MinFrequency: 10,
		NgramMin:     2,
		NgramMax:     5,
		QueueLimit:   100,
		MaxExamples:  3,
	}, patterns, normLog, runs, nil, nil)

	return NewPipeline(wrapper, eng, retrieval.NewScorer(50), miner, nil), patterns
}

func TestHandleQueryEndToEnd(t *testing.T) {
	embedder := &scriptedEmbedder{vec: []float32{1, 0}}
	p, _ := buildTestPipeline(t, embedder)

	answer, err := p.HandleQuery(context.Background(),
		"hey can u tell me what is fotosynthesis bro", "u1", "physics")
	require.NoError(t, err)

	assert.Equal(t, "What is photosynthesis?", answer.CleanText)
	assert.Equal(t, normalize.IntentDefine, answer.Intent)
	assert.Equal(t, "Define precisely: What is photosynthesis?", answer.ScaffoldedPrompt)
	require.NotEmpty(t, answer.Results)
	assert.Equal(t, "c1", answer.Results[0].ChunkID)
	assert.Equal(t, retrieval.BandHigh, answer.Band)
	assert.False(t, answer.Fallback)
}

func TestHandleQueryEmptyInput(t *testing.T) {
	p, _ := buildTestPipeline(t, &scriptedEmbedder{vec: []float32{1, 0}})

	_, err := p.HandleQuery(context.Background(), "   ", "u1", "physics")
	assert.ErrorIs(t, err, normalize.ErrEmptyInput)
}

func TestHandleQueryRetriesOnceThenDegrades(t *testing.T) {
	embedder := &scriptedEmbedder{vec: []float32{1, 0}}
	embedder.failures.Store(10)
	p, _ := buildTestPipeline(t, embedder)

	answer, err := p.HandleQuery(context.Background(), "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)

	assert.True(t, answer.Degraded)
	assert.Equal(t, retrieval.BandLow, answer.Band)
	assert.Empty(t, answer.Results)
	assert.Equal(t, "What is photosynthesis?", answer.CleanText)
	assert.Equal(t, int64(2), embedder.calls.Load(), "exactly one retry")
}

func TestHandleQueryRetrySucceeds(t *testing.T) {
	embedder := &scriptedEmbedder{vec: []float32{1, 0}}
	embedder.failures.Store(1)
	p, _ := buildTestPipeline(t, embedder)

	answer, err := p.HandleQuery(context.Background(), "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	assert.NotEmpty(t, answer.Results)
}

func TestHandleQueryFallbackForcedLowBand(t *testing.T) {
	// Vector is orthogonal to the indexed chunk, so nothing clears the
	// distance gate and the lexical index serves the answer.
	embedder := &scriptedEmbedder{vec: []float32{0, 1}}
	p, _ := buildTestPipeline(t, embedder)

	answer, err := p.HandleQuery(context.Background(), "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)

	assert.True(t, answer.Fallback)
	assert.Equal(t, retrieval.BandLow, answer.Band)
	assert.Equal(t, retrieval.BandLow, retrieval.BandFor(answer.Confidence),
		"reported score agrees with the band")
	require.NotEmpty(t, answer.Results, "low-confidence answers are flagged, not suppressed")
}

func TestHandleQueryEdgeCases(t *testing.T) {
	p, _ := buildTestPipeline(t, &scriptedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	tests := []struct {
		input string
	}{
		{"hello"},
		{"thanks"},
		{"sorry"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			answer, err := p.HandleQuery(ctx, tt.input, "u1", "physics")
			require.NoError(t, err)
			assert.NotEmpty(t, answer.Message)
			assert.Empty(t, answer.Results)
		})
	}
}

func TestApprovePatternRefreshesSnapshotAndCache(t *testing.T) {
	embedder := &scriptedEmbedder{vec: []float32{1, 0}}
	p, patterns := buildTestPipeline(t, embedder)
	ctx := context.Background()

	// Warm the retrieval cache.
	_, err := p.HandleQuery(ctx, "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)
	before := p.Metrics()
	require.Positive(t, before.CachedResponses)

	pending := &storage.LearnedPattern{Phrase: "sir ji", Frequency: 12, Confidence: 0.8}
	require.NoError(t, patterns.Upsert(ctx, pending))
	stored, err := patterns.GetByPhrase(ctx, "sir ji")
	require.NoError(t, err)

	require.NoError(t, p.ApprovePattern(ctx, stored.ID))

	after := p.Metrics()
	assert.Greater(t, after.PatternVersion, before.PatternVersion)
	assert.Zero(t, after.CachedResponses, "approval drops cached responses")

	answer, err := p.HandleQuery(ctx, "sir ji what is photosynthesis", "u1", "physics")
	require.NoError(t, err)
	assert.Equal(t, "What is photosynthesis?", answer.CleanText)
}

func TestMetricsSnapshotCounters(t *testing.T) {
	p, _ := buildTestPipeline(t, &scriptedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	_, err := p.HandleQuery(ctx, "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)
	_, err = p.HandleQuery(ctx, "what is photosynthesis", "u1", "physics")
	require.NoError(t, err)

	snap := p.Metrics()
	assert.Equal(t, int64(2), snap.Wrapper.Processed)
	assert.Equal(t, int64(1), snap.Retrieval.CacheHits)
	assert.Equal(t, 1, snap.CachedResponses)
}
