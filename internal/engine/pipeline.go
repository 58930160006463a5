// Package engine composes the full query pipeline: adaptive normalization,
// retrieval with confidence scoring, and the offline pattern review
// workflow.
package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/adaptive"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/mining"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/retrieval"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

// Answer is the pipeline output for one query. Low-confidence answers are
// flagged by their band, never suppressed.
type Answer struct {
	CleanText        string             `json:"clean_text"`
	Intent           normalize.Intent   `json:"intent"`
	ScaffoldedPrompt string             `json:"scaffolded_prompt,omitempty"`
	Results          []retrieval.Result `json:"results"`
	Confidence       float64            `json:"confidence"`
	Band             retrieval.Band     `json:"band"`
	Fallback         bool               `json:"fallback"`
	Degraded         bool               `json:"degraded,omitempty"`
	Message          string             `json:"message,omitempty"`
}

// Pipeline wires the wrapper, retrieval engine, scorer and miner together.
type Pipeline struct {
	wrapper *adaptive.Wrapper
	engine  *retrieval.Engine
	scorer  *retrieval.Scorer
	miner   *mining.Miner
	logger  *observability.Logger
}

// NewPipeline builds the pipeline. miner may be nil when the review
// workflow is not wired, e.g. in the API process.
func NewPipeline(wrapper *adaptive.Wrapper, engine *retrieval.Engine, scorer *retrieval.Scorer,
	miner *mining.Miner, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Pipeline{
		wrapper: wrapper,
		engine:  engine,
		scorer:  scorer,
		miner:   miner,
		logger:  logger,
	}
}

// HandleQuery answers one raw student query. Empty input returns
// normalize.ErrEmptyInput. A retrieval outage is retried once; if it
// persists the answer degrades to no context in the low band rather than
// failing the query.
func (p *Pipeline) HandleQuery(ctx context.Context, raw, userID, subject string) (*Answer, error) {
	if kind, ok := detectEdgeCase(raw); ok {
		p.logger.Debug().Str("kind", string(kind)).Msg("edge case short-circuit")
		return &Answer{
			Intent:  normalize.IntentUnspecified,
			Band:    retrieval.BandHigh,
			Message: edgeResponses[kind],
		}, nil
	}

	if subject != "" {
		p.wrapper.Normalizer().SetTopic(subject)
	}

	rec, err := p.wrapper.Process(ctx, raw, userID)
	if err != nil {
		return nil, err
	}

	resp, err := p.retrieveWithRetry(ctx, retrieval.Request{Query: rec.CleanText, Subject: subject})
	if err != nil {
		if !errors.Is(err, retrieval.ErrRetrievalUnavailable) {
			return nil, err
		}
		p.logger.Warn().Err(err).Msg("retrieval unavailable, serving degraded answer")
		return &Answer{
			CleanText:        rec.CleanText,
			Intent:           rec.Intent,
			ScaffoldedPrompt: rec.ScaffoldedPrompt,
			Band:             retrieval.BandLow,
			Degraded:         true,
		}, nil
	}

	score := p.scorer.Score(resp.Results, rec.Confidence)
	band := retrieval.BandFor(score)
	if resp.Fallback {
		band = retrieval.BandLow
		score = retrieval.CapToLow(score)
	}

	return &Answer{
		CleanText:        rec.CleanText,
		Intent:           rec.Intent,
		ScaffoldedPrompt: rec.ScaffoldedPrompt,
		Results:          resp.Results,
		Confidence:       score,
		Band:             band,
		Fallback:         resp.Fallback,
	}, nil
}

func (p *Pipeline) retrieveWithRetry(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	resp, err := p.engine.Retrieve(ctx, req)
	if err == nil || !errors.Is(err, retrieval.ErrRetrievalUnavailable) {
		return resp, err
	}
	return p.engine.Retrieve(ctx, req)
}

// MinePatterns runs one offline mining batch.
func (p *Pipeline) MinePatterns(ctx context.Context) ([]storage.LearnedPattern, error) {
	if p.miner == nil {
		return nil, errors.New("engine: miner not configured")
	}
	return p.miner.Mine(ctx)
}

// PendingPatterns lists candidates awaiting review.
func (p *Pipeline) PendingPatterns(ctx context.Context) ([]storage.LearnedPattern, error) {
	if p.miner == nil {
		return nil, errors.New("engine: miner not configured")
	}
	return p.miner.Pending(ctx)
}

// ApprovePattern promotes a candidate and refreshes the active phrase set.
func (p *Pipeline) ApprovePattern(ctx context.Context, id uuid.UUID) error {
	if p.miner == nil {
		return errors.New("engine: miner not configured")
	}
	if err := p.miner.Approve(ctx, id); err != nil {
		return err
	}
	// The broadcast covers other instances; reload locally so the change is
	// visible without a round trip.
	if err := p.wrapper.ReloadPatterns(ctx); err != nil {
		return err
	}
	// Cached responses and embeddings were keyed on pre-approval phrasing.
	p.engine.Invalidate()
	return nil
}

// RejectPattern marks a candidate rejected.
func (p *Pipeline) RejectPattern(ctx context.Context, id uuid.UUID) error {
	if p.miner == nil {
		return errors.New("engine: miner not configured")
	}
	return p.miner.Reject(ctx, id)
}

// Snapshot is one read of the pipeline counters.
type Snapshot struct {
	Wrapper         adaptive.Metrics `json:"wrapper"`
	Retrieval       retrieval.Stats  `json:"retrieval"`
	PatternVersion  int64            `json:"pattern_version"`
	CachedResponses int              `json:"cached_responses"`
}

// Metrics reports wrapper counters, retrieval cache stats and the active
// pattern set version.
func (p *Pipeline) Metrics() Snapshot {
	return Snapshot{
		Wrapper:         p.wrapper.Metrics(),
		Retrieval:       p.engine.Stats(),
		PatternVersion:  p.wrapper.PatternVersion(),
		CachedResponses: p.engine.CacheLen(),
	}
}
