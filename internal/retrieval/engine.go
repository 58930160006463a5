package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/embedding"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

// ErrRetrievalUnavailable signals a transient collaborator failure, usually
// the embedding service. Callers may retry.
var ErrRetrievalUnavailable = errors.New("retrieval: temporarily unavailable")

// Request is one retrieval call. MaxResults <= 0 uses the engine default.
type Request struct {
	Query      string
	Subject    string
	MaxResults int
}

// Response is the retrieval outcome. Fallback marks results that came from
// the lexical index instead of vector search.
type Response struct {
	Results  []Result `json:"results"`
	Fallback bool     `json:"fallback"`
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Fallbacks   int64 `json:"fallbacks"`
}

// SubjectCollections maps a subject to the collections searched for it, in
// priority order. An unmapped subject searches every known collection.
type SubjectCollections map[string][]string

// DefaultSubjectCollections returns the standard curriculum mapping.
func DefaultSubjectCollections() SubjectCollections {
	return SubjectCollections{
		"physics":   {"physics_textbook", "physics_supplementary"},
		"chemistry": {"chemistry_textbook", "chemistry_supplementary"},
		"biology":   {"biology_textbook", "biology_supplementary"},
		"math":      {"math_textbook", "math_supplementary"},
	}
}

// Options carries the engine tunables.
type Options struct {
	MaxResults        int
	DistanceThreshold float64
	CacheCapacity     int
	FallbackEnabled   bool
}

// Engine answers retrieval requests: response cache, embed, vector search
// across subject collections, distance gate, then lexical fallback.
type Engine struct {
	opts     Options
	embedder embedding.Embedder
	store    VectorStore
	fallback *FallbackIndex
	subjects SubjectCollections
	logger   *observability.Logger

	responses  *lruCache[*Response]
	embeddings *lruCache[[]float32]

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	fallbacks   atomic.Int64
}

// NewEngine builds an Engine. fallback may be nil when lexical fallback is
// disabled; subjects may be nil to search all collections for any subject.
func NewEngine(opts Options, embedder embedding.Embedder, store VectorStore,
	fallback *FallbackIndex, subjects SubjectCollections, logger *observability.Logger) *Engine {

	if logger == nil {
		logger = observability.Nop()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 3
	}
	return &Engine{
		opts:       opts,
		embedder:   embedder,
		store:      store,
		fallback:   fallback,
		subjects:   subjects,
		logger:     logger,
		responses:  newLRUCache[*Response](opts.CacheCapacity),
		embeddings: newLRUCache[[]float32](opts.CacheCapacity),
	}
}

// Retrieve finds content for the request. A cached response is returned
// as-is without touching the embedder. Embedding failure returns
// ErrRetrievalUnavailable; a failing fallback index degrades to an empty
// response.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = e.opts.MaxResults
	}

	key := cache.Key("retrieve", req.Query, req.Subject, strconv.Itoa(maxResults))
	if resp, ok := e.responses.Get(key); ok {
		e.cacheHits.Add(1)
		return resp, nil
	}
	e.cacheMisses.Add(1)

	vector, err := e.embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	merged, err := e.searchCollections(ctx, req.Subject, vector, maxResults)
	if err != nil {
		return nil, err
	}

	results := e.gate(merged, maxResults)
	resp := &Response{Results: results}

	if len(results) == 0 && e.opts.FallbackEnabled && e.fallback != nil {
		resp = e.runFallback(ctx, req.Query, maxResults)
	}

	e.responses.Put(key, resp)
	return resp, nil
}

func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	embedKey := cache.Key("embed", query)
	if vec, ok := e.embeddings.Get(embedKey); ok {
		return vec, nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	e.embeddings.Put(embedKey, vec)
	return vec, nil
}

// searchCollections merges candidates from each subject-relevant
// collection. A collection that errors is skipped, not fatal; vector search
// should degrade per collection, not per query.
func (e *Engine) searchCollections(ctx context.Context, subject string, vector []float32, k int) ([]Result, error) {
	collections, err := e.collectionsFor(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var merged []Result
	for _, name := range collections {
		results, qerr := e.store.Query(ctx, name, vector, k)
		if qerr != nil {
			e.logger.Warn().Err(qerr).Str("collection", name).Msg("collection search failed, skipping")
			continue
		}
		merged = append(merged, results...)
	}
	return merged, nil
}

func (e *Engine) collectionsFor(ctx context.Context, subject string) ([]string, error) {
	if cols, ok := e.subjects[subject]; ok {
		return cols, nil
	}
	return e.store.Collections(ctx)
}

// gate filters by the distance threshold, sorts ascending, dedupes by chunk
// ID and truncates. No non-fallback result ever exceeds the threshold.
func (e *Engine) gate(results []Result, maxResults int) []Result {
	kept := results[:0]
	for _, r := range results {
		if r.Distance <= e.opts.DistanceThreshold {
			kept = append(kept, r)
		}
	}
	sortResults(kept)

	seen := make(map[string]bool, len(kept))
	deduped := kept[:0]
	for _, r := range kept {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		deduped = append(deduped, r)
	}
	if len(deduped) > maxResults {
		deduped = deduped[:maxResults]
	}
	return deduped
}

func (e *Engine) runFallback(ctx context.Context, query string, maxResults int) *Response {
	e.fallbacks.Add(1)
	results, err := e.fallback.Search(ctx, query, maxResults)
	if err != nil {
		e.logger.Warn().Err(err).Msg("lexical fallback failed, returning empty response")
		return &Response{Fallback: true}
	}
	e.logger.Info().Int("results", len(results)).Msg("lexical fallback served")
	return &Response{Results: results, Fallback: true}
}

// Invalidate drops both caches, e.g. after re-indexing content.
func (e *Engine) Invalidate() {
	e.responses.Invalidate()
	e.embeddings.Invalidate()
}

// CacheLen returns the number of cached responses.
func (e *Engine) CacheLen() int {
	return e.responses.Len()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CacheHits:   e.cacheHits.Load(),
		CacheMisses: e.cacheMisses.Load(),
		Fallbacks:   e.fallbacks.Load(),
	}
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
