package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/cache"
	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

// Corrector fixes spelling and grammar ahead of normalization. A failing
// corrector degrades gracefully: callers fall back to the uncorrected text.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// CorrectorStats reports correction cache behavior.
type CorrectorStats struct {
	Hits        int64
	Misses      int64
	Corrections int64
}

// misspellings covers the high-frequency errors seen in student queries.
var misspellings = map[string]string{
	"fotosynthesis": "photosynthesis",
	"fotosintesis":  "photosynthesis",
	"photosynthsis": "photosynthesis",
	"respration":    "respiration",
	"newtans":       "newton's",
	"gravitty":      "gravity",
	"electrisity":   "electricity",
	"magnetizm":     "magnetism",
	"osmossis":      "osmosis",
	"mitocondria":   "mitochondria",
	"chlorophil":    "chlorophyll",
	"evaporisation": "evaporation",
	"refration":     "refraction",
}

// RuleCorrector corrects via a fixed misspelling table. Results are cached
// so repeated queries skip the token walk.
type RuleCorrector struct {
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	corrections atomic.Int64
}

// NewRuleCorrector builds a RuleCorrector. cacheClient may be nil; caching
// is then disabled.
func NewRuleCorrector(cacheClient cache.Client, ttl time.Duration, logger *observability.Logger) *RuleCorrector {
	if logger == nil {
		logger = observability.Nop()
	}
	return &RuleCorrector{cache: cacheClient, ttl: ttl, logger: logger}
}

// Correct returns the corrected text. Inputs the shouldCorrect gate rejects
// pass through unchanged.
func (c *RuleCorrector) Correct(ctx context.Context, text string) (string, error) {
	if !shouldCorrect(text) {
		return text, nil
	}

	key := cache.Key("correct", strings.ToLower(text))
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, key); err == nil {
			c.hits.Add(1)
			return string(cached), nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Msg("correction cache read failed")
		}
		c.misses.Add(1)
	}

	corrected := c.applyTable(text)
	if corrected != text {
		c.corrections.Add(1)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, []byte(corrected), c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("correction cache write failed")
		}
	}
	return corrected, nil
}

// Stats returns a snapshot of the counters.
func (c *RuleCorrector) Stats() CorrectorStats {
	return CorrectorStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Corrections: c.corrections.Load(),
	}
}

func (c *RuleCorrector) applyTable(text string) string {
	tokens := strings.Fields(text)
	changed := false
	for i, tok := range tokens {
		core := strings.Trim(strings.ToLower(tok), ",.!?;:")
		if fix, ok := misspellings[core]; ok {
			tokens[i] = strings.Replace(strings.ToLower(tok), core, fix, 1)
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(tokens, " ")
}

// shouldCorrect gates correction. Very short inputs, option markers like
// "(a)" and all-caps text are usually exam fragments where correction does
// more harm than good.
func shouldCorrect(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 8 {
		return false
	}
	if strings.ContainsAny(trimmed, "()") {
		return false
	}
	allCaps := true
	for _, r := range trimmed {
		if unicode.IsLower(r) {
			allCaps = false
			break
		}
	}
	return !allCaps
}

// HTTPCorrector delegates correction to an external grammar service.
type HTTPCorrector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCorrector builds an HTTPCorrector against the given base URL.
func NewHTTPCorrector(baseURL string, timeout time.Duration) *HTTPCorrector {
	return &HTTPCorrector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Correct posts the text to the service and returns its corrected form.
func (c *HTTPCorrector) Correct(ctx context.Context, text string) (string, error) {
	if !shouldCorrect(text) {
		return text, nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("marshal correction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/correct", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build correction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("correction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("correction service returned status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode correction response: %w", err)
	}
	if out.Text == "" {
		return text, nil
	}
	return out.Text, nil
}
