package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

// Source priorities for fallback ranking. Curated textbook content
// outranks supplementary material at equal lexical score.
const (
	SourcePriorityCurated       = 1.0
	SourcePrioritySupplementary = 0.7
)

// FallbackIndex is the BM25 lexical index used when vector search finds
// nothing under the distance threshold.
type FallbackIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *observability.Logger

	// priority by source name; unknown sources rank as supplementary.
	priorities map[string]float64
}

// NewFallbackIndex builds an in-memory lexical index.
func NewFallbackIndex(logger *observability.Logger) (*FallbackIndex, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	index, err := bleve.NewMemOnly(buildFallbackMapping())
	if err != nil {
		return nil, fmt.Errorf("create fallback index: %w", err)
	}
	return &FallbackIndex{
		index:      index,
		logger:     logger,
		priorities: make(map[string]float64),
	}, nil
}

func buildFallbackMapping() mapping.IndexMapping {
	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("text", bleve.NewTextFieldMapping())
	chunkMapping.AddFieldMappingsAt("source", bleve.NewTextFieldMapping())
	chunkMapping.AddFieldMappingsAt("grade", bleve.NewTextFieldMapping())
	chunkMapping.AddFieldMappingsAt("collection", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", chunkMapping)
	return indexMapping
}

// SetSourcePriority registers a ranking weight for a source.
func (f *FallbackIndex) SetSourcePriority(source string, priority float64) {
	f.mu.Lock()
	f.priorities[source] = priority
	f.mu.Unlock()
}

// Index adds chunks to the lexical index.
func (f *FallbackIndex) Index(collection string, chunks ...Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.index.NewBatch()
	for _, c := range chunks {
		doc := map[string]interface{}{
			"text":       c.Text,
			"source":     c.Source,
			"grade":      c.Grade,
			"collection": collection,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := f.index.Batch(batch); err != nil {
		return fmt.Errorf("batch index: %w", err)
	}
	return nil
}

// Search runs a BM25 match query and returns results reweighted by source
// priority. Distances are synthetic, derived from the normalized lexical
// score, so fallback results always carry a usable distance.
func (f *FallbackIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if limit <= 0 {
		limit = 3
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequestOptions(matchQuery, limit*2, 0, false)
	req.Fields = []string{"text", "source", "grade", "collection"}

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fallback search: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	maxScore := res.Hits[0].Score
	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		text, _ := hit.Fields["text"].(string)
		source, _ := hit.Fields["source"].(string)
		grade, _ := hit.Fields["grade"].(string)
		collection, _ := hit.Fields["collection"].(string)

		weighted := hit.Score * f.priorityFor(source)
		norm := 0.0
		if maxScore > 0 {
			norm = weighted / maxScore
			if norm > 1 {
				norm = 1
			}
		}
		results = append(results, Result{
			ChunkID:    hit.ID,
			Text:       text,
			Source:     source,
			Grade:      grade,
			Collection: collection,
			Distance:   1 - norm,
		})
	}

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *FallbackIndex) priorityFor(source string) float64 {
	if p, ok := f.priorities[source]; ok {
		return p
	}
	return SourcePrioritySupplementary
}

// Close releases the index.
func (f *FallbackIndex) Close() error {
	return f.index.Close()
}
