// Package normalize rewrites raw student queries into clean, formal,
// retrieval-ready text. The pipeline strips noise phrases, formalizes
// casual language, expands abbreviations, resolves implicit subjects
// from session state, classifies intent and attaches a scaffolded
// prompt, degrading a confidence score whenever a stage cannot resolve
// the input unambiguously.
package normalize

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyInput is returned when the raw query is empty or whitespace-only.
var ErrEmptyInput = errors.New("normalize: empty input")

// Intent is the closed set of question intents the classifier produces.
type Intent string

const (
	IntentCompare     Intent = "COMPARE"
	IntentDefine      Intent = "DEFINE"
	IntentWhy         Intent = "WHY"
	IntentHow         Intent = "HOW"
	IntentSolve       Intent = "SOLVE"
	IntentDescribe    Intent = "DESCRIBE"
	IntentUnspecified Intent = "UNSPECIFIED"
)

// Transformation tags, recorded in the order the stages fired.
const (
	TagNoiseRegex    = "noise_regex"
	TagNoiseFuzzy    = "noise_fuzzy"
	TagNoiseLearned  = "noise_learned"
	TagNoiseFiller   = "noise_filler"
	TagFormalized    = "formalized"
	TagAbbrevExpand  = "abbrev_expanded"
	TagSentenceCase  = "sentence_cased"
	TagPunctuation   = "punctuation"
	TagContextExpand = "context_expanded"
	TagScaffolded    = "scaffolded"
)

// Record is the result of normalizing one raw query. CleanText is the
// retrieval-ready form; ScaffoldedPrompt carries the intent instruction
// prefix and is kept separate so retrieval always sees the clean text.
type Record struct {
	ID               string    `json:"id"`
	RawText          string    `json:"raw_text"`
	CleanText        string    `json:"clean_text"`
	ScaffoldedPrompt string    `json:"scaffolded_prompt,omitempty"`
	Intent           Intent    `json:"intent"`
	Confidence       float64   `json:"confidence"`
	Transformations  []string  `json:"transformations,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func newRecord(raw string) *Record {
	return &Record{
		ID:        uuid.New().String(),
		RawText:   raw,
		Intent:    IntentUnspecified,
		CreatedAt: time.Now().UTC(),
	}
}

// confidenceBuilder accumulates multiplicative stage penalties. It starts
// at 1.0 and is clamped to [0, 1] when read.
type confidenceBuilder struct {
	score float64
}

func newConfidenceBuilder() *confidenceBuilder {
	return &confidenceBuilder{score: 1.0}
}

func (b *confidenceBuilder) penalize(factor float64) {
	if factor <= 0 || factor >= 1 {
		return
	}
	b.score *= factor
}

func (b *confidenceBuilder) value() float64 {
	if b.score < 0 {
		return 0
	}
	if b.score > 1 {
		return 1
	}
	return b.score
}
