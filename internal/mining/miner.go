// Package mining discovers recurring noise phrases in low-confidence
// normalizations. Candidates are n-grams that clear a frequency floor; they
// are persisted as pending and only enter the active phrase set after a
// human approves them.
package mining

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/adaptive"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/storage"
)

// ErrPatternStoreConflict is returned when a mining batch or review action
// races with another writer over the pattern store.
var ErrPatternStoreConflict = errors.New("mining: pattern store conflict")

// noiseIndicators boosts candidates containing words typical of politeness
// and urgency framing rather than subject matter.
var noiseIndicators = map[string]bool{
	"please":  true,
	"pls":     true,
	"sir":     true,
	"mam":     true,
	"madam":   true,
	"tell":    true,
	"help":    true,
	"urgent":  true,
	"fast":    true,
	"quickly": true,
	"kindly":  true,
}

// Options carries the mining tunables.
type Options struct {
	MinFrequency int
	NgramMin     int
	NgramMax     int
	QueueLimit   int
	MaxExamples  int
}

// Miner runs the offline pattern-mining batch and the review transitions.
type Miner struct {
	opts      Options
	patterns  *storage.PatternRepository
	log       *storage.NormalizationLogRepository
	runs      *storage.MiningRunRepository
	publisher cache.Publisher
	logger    *observability.Logger

	// OnProgress, when set, is called after each queue record is scanned.
	OnProgress func(done, total int)
}

// NewMiner builds a Miner. publisher may be nil; approvals then skip the
// reload broadcast.
func NewMiner(opts Options, patterns *storage.PatternRepository, log *storage.NormalizationLogRepository,
	runs *storage.MiningRunRepository, publisher cache.Publisher, logger *observability.Logger) *Miner {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Miner{
		opts:      opts,
		patterns:  patterns,
		log:       log,
		runs:      runs,
		publisher: publisher,
		logger:    logger,
	}
}

type candidateStats struct {
	frequency int
	users     map[string]bool
	examples  []string
}

// Mine scans the low-confidence queue, extracts n-gram candidates and
// persists the ones that clear the frequency floor as pending patterns.
// A second concurrent run returns ErrPatternStoreConflict. Nothing mined
// here is ever auto-approved.
func (m *Miner) Mine(ctx context.Context) ([]storage.LearnedPattern, error) {
	run, err := m.runs.Begin(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrPatternStoreConflict
		}
		return nil, fmt.Errorf("begin mining run: %w", err)
	}
	defer func() {
		if ferr := m.runs.Finish(context.WithoutCancel(ctx), run.ID); ferr != nil {
			m.logger.Warn().Err(ferr).Msg("finish mining run failed")
		}
	}()

	records, err := m.log.ListLowConfidence(ctx, m.opts.QueueLimit)
	if err != nil {
		return nil, fmt.Errorf("read low-confidence queue: %w", err)
	}

	stats := make(map[string]*candidateStats)
	for i, rec := range records {
		m.collectNgrams(rec, stats)
		if m.OnProgress != nil {
			m.OnProgress(i+1, len(records))
		}
	}

	candidates := m.score(stats)
	for i := range candidates {
		if err := m.patterns.Upsert(ctx, &candidates[i]); err != nil {
			return nil, fmt.Errorf("persist candidate %q: %w", candidates[i].Phrase, err)
		}
	}

	m.logger.Info().
		Int("records", len(records)).
		Int("candidates", len(candidates)).
		Msg("mining run complete")
	return candidates, nil
}

func (m *Miner) collectNgrams(rec storage.NormalizationRecord, stats map[string]*candidateStats) {
	tokens := tokenize(rec.RawText)
	for n := m.opts.NgramMin; n <= m.opts.NgramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			phrase := strings.Join(tokens[i:i+n], " ")
			s, ok := stats[phrase]
			if !ok {
				s = &candidateStats{users: make(map[string]bool)}
				stats[phrase] = s
			}
			s.frequency++
			if rec.UserID != "" {
				s.users[rec.UserID] = true
			}
			if len(s.examples) < m.opts.MaxExamples && !contains(s.examples, rec.RawText) {
				s.examples = append(s.examples, rec.RawText)
			}
		}
	}
}

// score filters by frequency and ranks survivors by confidence weighted
// frequency. Confidence blends normalized frequency, distinct-user
// dispersion and the noise-indicator lexicon.
func (m *Miner) score(stats map[string]*candidateStats) []storage.LearnedPattern {
	var out []storage.LearnedPattern
	for phrase, s := range stats {
		if s.frequency < m.opts.MinFrequency {
			continue
		}
		out = append(out, storage.LearnedPattern{
			ID:         uuid.New(),
			Phrase:     phrase,
			Frequency:  s.frequency,
			Confidence: m.confidence(phrase, s),
			Examples:   s.examples,
			Status:     storage.PatternStatusPending,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		wi := out[i].Confidence * float64(out[i].Frequency)
		wj := out[j].Confidence * float64(out[j].Frequency)
		if wi != wj {
			return wi > wj
		}
		return out[i].Phrase < out[j].Phrase
	})
	return out
}

func (m *Miner) confidence(phrase string, s *candidateStats) float64 {
	freqScore := float64(s.frequency) / float64(m.opts.MinFrequency*3)
	if freqScore > 1 {
		freqScore = 1
	}

	dispersion := 0.0
	if s.frequency > 0 {
		dispersion = float64(len(s.users)) / float64(s.frequency)
	}

	indicator := 0.0
	for _, tok := range strings.Fields(phrase) {
		if noiseIndicators[tok] {
			indicator = 1
			break
		}
	}

	score := 0.5*freqScore + 0.3*dispersion + 0.2*indicator
	if score > 1 {
		score = 1
	}
	return score
}

// Approve promotes a pending candidate into the active set and broadcasts a
// reload. Approving a non-pending pattern returns ErrPatternStoreConflict.
func (m *Miner) Approve(ctx context.Context, id uuid.UUID) error {
	if err := m.patterns.SetStatus(ctx, id, storage.PatternStatusApproved); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrPatternStoreConflict
		}
		return err
	}
	m.broadcastReload(ctx)
	return nil
}

// Reject marks a pending candidate rejected. The phrase may resurface in a
// later run if it keeps recurring.
func (m *Miner) Reject(ctx context.Context, id uuid.UUID) error {
	if err := m.patterns.SetStatus(ctx, id, storage.PatternStatusRejected); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrPatternStoreConflict
		}
		return err
	}
	return nil
}

// Pending lists the review queue, strongest candidates first.
func (m *Miner) Pending(ctx context.Context) ([]storage.LearnedPattern, error) {
	return m.patterns.List(ctx, storage.PatternStatusPending)
}

func (m *Miner) broadcastReload(ctx context.Context) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, adaptive.ReloadChannel, []byte("reload")); err != nil {
		m.logger.Warn().Err(err).Msg("reload broadcast failed")
	}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(strings.Map(stripPunct, text)))
}

func stripPunct(r rune) rune {
	switch r {
	case ',', '.', '!', '?', ';', ':', '"', '\'':
		return ' '
	}
	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
