package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/embedding"
)

// ContentChunk is one entry in a content file. Vector may be omitted; the
// indexer embeds the text in that case.
type ContentChunk struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	Grade      string    `json:"grade,omitempty"`
	Collection string    `json:"collection"`
	Priority   float64   `json:"priority,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

// LoadContent reads a JSON content file: an array of chunks.
func LoadContent(path string) ([]ContentChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	var chunks []ContentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parse content file: %w", err)
	}
	for i, c := range chunks {
		if c.ID == "" || c.Text == "" || c.Collection == "" {
			return nil, fmt.Errorf("content chunk %d: id, text and collection are required", i)
		}
	}
	return chunks, nil
}

// IndexContent embeds chunks that carry no vector and adds everything to the
// vector store and, when present, the fallback index. progress is called
// after each chunk and may be nil.
func IndexContent(ctx context.Context, store *MemoryStore, fallback *FallbackIndex,
	embedder embedding.Embedder, chunks []ContentChunk, progress func(done, total int)) error {

	for i, c := range chunks {
		vector := c.Vector
		if len(vector) == 0 {
			var err error
			vector, err = embedder.Embed(ctx, c.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", c.ID, err)
			}
		}

		chunk := Chunk{ID: c.ID, Text: c.Text, Source: c.Source, Grade: c.Grade, Vector: vector}
		store.Add(c.Collection, chunk)
		if fallback != nil {
			if err := fallback.Index(c.Collection, chunk); err != nil {
				return fmt.Errorf("index chunk %s: %w", c.ID, err)
			}
			if c.Priority > 0 {
				fallback.SetSourcePriority(c.Source, c.Priority)
			}
		}
		if progress != nil {
			progress(i+1, len(chunks))
		}
	}
	return nil
}
