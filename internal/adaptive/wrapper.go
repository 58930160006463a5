// Package adaptive wraps the normalizer with persistence and learning
// hooks: every normalization is appended to an immutable log, low-confidence
// results feed the mining queue, and the approved pattern set is kept hot
// via atomic snapshot swaps.
package adaptive

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/normalize"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

// ReloadChannel is the pub/sub channel announcing approved-pattern changes.
const ReloadChannel = "patterns.reload"

// Metrics is a snapshot of the wrapper counters. Log failures never fail a
// query; they only show up here.
type Metrics struct {
	Processed     int64 `json:"processed"`
	LowConfidence int64 `json:"low_confidence"`
	LogFailures   int64 `json:"log_failures"`
	Corrections   int64 `json:"corrections"`
}

// patternSet is an immutable snapshot of the approved phrases. Readers hold
// a pointer to one set for the duration of a normalization; swaps are atomic
// so a partial set is never observable.
type patternSet struct {
	phrases []string
	version int64
}

// Options carries the wrapper tunables.
type Options struct {
	LowConfidenceThreshold float64
	QueueLimit             int
}

// Wrapper is the adaptive logging layer around the normalizer.
type Wrapper struct {
	opts       Options
	normalizer *normalize.Normalizer
	corrector  normalize.Corrector
	patterns   *storage.PatternRepository
	log        *storage.NormalizationLogRepository
	publisher  cache.Publisher
	logger     *observability.Logger

	active atomic.Pointer[patternSet]

	processed     atomic.Int64
	lowConfidence atomic.Int64
	logFailures   atomic.Int64
	corrections   atomic.Int64
}

// NewWrapper builds the wrapper and loads the approved pattern set. A failed
// initial load is logged and the wrapper starts with an empty set; the next
// reload will pick the patterns up. corrector and publisher may be nil.
func NewWrapper(ctx context.Context, opts Options, normOpts normalize.Options, corrector normalize.Corrector,
	patterns *storage.PatternRepository, log *storage.NormalizationLogRepository,
	publisher cache.Publisher, logger *observability.Logger) *Wrapper {

	if logger == nil {
		logger = observability.Nop()
	}
	w := &Wrapper{
		opts:      opts,
		corrector: corrector,
		patterns:  patterns,
		log:       log,
		publisher: publisher,
		logger:    logger,
	}
	w.active.Store(&patternSet{})
	w.normalizer = normalize.New(normOpts, w, logger)

	if err := w.ReloadPatterns(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial pattern load failed, starting with empty set")
	}
	return w
}

// Patterns returns the current approved phrase snapshot. Implements
// normalize.PatternProvider.
func (w *Wrapper) Patterns() []string {
	return w.active.Load().phrases
}

// PatternVersion returns the version of the active snapshot.
func (w *Wrapper) PatternVersion() int64 {
	return w.active.Load().version
}

// Normalizer exposes the wrapped normalizer for session-topic updates.
func (w *Wrapper) Normalizer() *normalize.Normalizer {
	return w.normalizer
}

// Process corrects and normalizes one raw query, logging the result. The
// log write is best effort: a failing store never fails the query. Results
// below the confidence threshold also land in the mining queue.
func (w *Wrapper) Process(ctx context.Context, raw, userID string) (*normalize.Record, error) {
	text := raw
	if w.corrector != nil {
		corrected, err := w.corrector.Correct(ctx, raw)
		if err != nil {
			w.logger.Warn().Err(err).Msg("correction failed, using raw text")
		} else {
			if corrected != text {
				w.corrections.Add(1)
			}
			text = corrected
		}
	}

	rec, err := w.normalizer.Normalize(text)
	if err != nil {
		return nil, err
	}
	rec.RawText = raw
	w.processed.Add(1)

	w.persist(ctx, rec, userID)
	return rec, nil
}

func (w *Wrapper) persist(ctx context.Context, rec *normalize.Record, userID string) {
	if w.log == nil {
		return
	}
	logger := w.logger.WithUser(userID)

	stored := &storage.NormalizationRecord{
		ID:               recordID(rec.ID),
		UserID:           userID,
		RawText:          rec.RawText,
		CleanText:        rec.CleanText,
		Transformations:  rec.Transformations,
		Intent:           string(rec.Intent),
		Confidence:       rec.Confidence,
		ScaffoldedPrompt: rec.ScaffoldedPrompt,
		CreatedAt:        rec.CreatedAt,
	}

	if err := w.log.Append(ctx, stored); err != nil {
		w.logFailures.Add(1)
		logger.Warn().Err(err).Msg("normalization log append failed")
	}

	if rec.Confidence < w.opts.LowConfidenceThreshold {
		w.lowConfidence.Add(1)
		if err := w.log.Enqueue(ctx, stored, w.opts.QueueLimit); err != nil {
			w.logFailures.Add(1)
			logger.Warn().Err(err).Msg("low-confidence enqueue failed")
		}
	}
}

// ReloadPatterns swaps in a fresh approved-phrase snapshot. Readers that
// started with the old snapshot finish with it; new reads see the new one.
func (w *Wrapper) ReloadPatterns(ctx context.Context) error {
	if w.patterns == nil {
		return nil
	}
	phrases, version, err := w.patterns.LoadApprovedSet(ctx)
	if err != nil {
		return err
	}
	w.active.Store(&patternSet{phrases: phrases, version: version})
	w.logger.Info().
		Int("patterns", len(phrases)).
		Int64("version", version).
		Msg("approved pattern set reloaded")
	return nil
}

// SubscribeReloads listens on the reload channel and refreshes the pattern
// set on every message. Returns a stop function; a nil publisher yields a
// no-op.
func (w *Wrapper) SubscribeReloads(ctx context.Context) (func(), error) {
	if w.publisher == nil {
		return func() {}, nil
	}
	msgs, stop, err := w.publisher.Subscribe(ctx, ReloadChannel)
	if err != nil {
		return nil, err
	}
	go func() {
		for range msgs {
			if err := w.ReloadPatterns(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("pattern reload failed")
			}
		}
	}()
	return stop, nil
}

// Metrics returns a snapshot of the counters.
func (w *Wrapper) Metrics() Metrics {
	return Metrics{
		Processed:     w.processed.Load(),
		LowConfidence: w.lowConfidence.Load(),
		LogFailures:   w.logFailures.Load(),
		Corrections:   w.corrections.Load(),
	}
}

func recordID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.New()
	}
	return parsed
}
