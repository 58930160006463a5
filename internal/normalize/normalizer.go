package normalize

import (
	"strings"
	"sync"
	"unicode"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

// Options carries the normalizer tunables. The penalty factors feed the
// confidence accumulator; they are configuration, not contract values.
type Options struct {
	FuzzyThreshold      float64
	ContextPenalty      float64
	IntentPenalty       float64
	HeavyRewritePenalty float64
}

// Normalizer runs the staged cleanup pipeline. It is pure given its phrase
// tables: the only mutable state is the session topic, which is guarded for
// concurrent use.
type Normalizer struct {
	opts       Options
	strategies []NoiseStrategy
	logger     *observability.Logger

	mu    sync.Mutex
	topic string
}

// New builds a Normalizer with the standard strategy order: exact regex,
// fuzzy, learned phrases, then the filler heuristic. provider may be nil
// when no learned patterns are available yet.
func New(opts Options, provider PatternProvider, logger *observability.Logger) *Normalizer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Normalizer{
		opts:   opts,
		logger: logger,
		strategies: []NoiseStrategy{
			newRegexStrategy(),
			newFuzzyStrategy(opts.FuzzyThreshold),
			newLearnedStrategy(provider),
			fillerStrategy{},
		},
	}
}

// SetTopic records the most recently discussed subject token for context
// expansion of anaphoric queries.
func (n *Normalizer) SetTopic(topic string) {
	n.mu.Lock()
	n.topic = strings.TrimSpace(topic)
	n.mu.Unlock()
}

// Topic returns the current session topic, empty when none is known.
func (n *Normalizer) Topic() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topic
}

// Normalize rewrites one raw query into a Record. Empty or whitespace-only
// input returns ErrEmptyInput.
func (n *Normalizer) Normalize(raw string) (*Record, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyInput
	}

	rec := newRecord(raw)
	conf := newConfidenceBuilder()
	allCaps := isAllCaps(trimmed)

	text := strings.ToLower(trimmed)

	for _, s := range n.strategies {
		out, fired := s.Apply(text)
		if fired {
			text = out
			rec.Transformations = append(rec.Transformations, s.Name())
		}
	}

	if out, fired := n.formalize(text); fired {
		text = out
		rec.Transformations = append(rec.Transformations, TagFormalized)
	}

	if out, fired := expandAbbreviations(text); fired {
		text = out
		rec.Transformations = append(rec.Transformations, TagAbbrevExpand)
	}

	text, expanded, unresolved := n.expandContext(text)
	if expanded {
		rec.Transformations = append(rec.Transformations, TagContextExpand)
	}
	if unresolved {
		conf.penalize(n.opts.ContextPenalty)
	}

	rec.Intent = classifyIntent(text)
	if rec.Intent == IntentUnspecified {
		conf.penalize(n.opts.IntentPenalty)
	}

	text, punctuated := normalizeSentence(text)
	if allCaps || startsLower(trimmed) {
		rec.Transformations = append(rec.Transformations, TagSentenceCase)
	}
	if punctuated {
		rec.Transformations = append(rec.Transformations, TagPunctuation)
	}

	if len(text)*2 < len(trimmed) {
		conf.penalize(n.opts.HeavyRewritePenalty)
	}

	rec.CleanText = text
	if scaffold, ok := scaffoldTable[rec.Intent]; ok {
		rec.ScaffoldedPrompt = scaffold + " " + text
		rec.Transformations = append(rec.Transformations, TagScaffolded)
	}
	rec.Confidence = conf.value()

	n.logger.Debug().
		Str("intent", string(rec.Intent)).
		Float64("confidence", rec.Confidence).
		Strs("transformations", rec.Transformations).
		Msg("query normalized")

	return rec, nil
}

// formalize applies the slang table and drops filler words, whole-word only.
func (n *Normalizer) formalize(text string) (string, bool) {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	fired := false
	for _, tok := range tokens {
		core := strings.Trim(tok, ",.!?;:")
		if fillerWords[core] {
			fired = true
			continue
		}
		if formal, ok := slangTable[core]; ok {
			out = append(out, strings.Fields(strings.ToLower(formal))...)
			fired = true
			continue
		}
		out = append(out, tok)
	}
	if !fired {
		return text, false
	}
	return strings.Join(out, " "), true
}

func expandAbbreviations(text string) (string, bool) {
	tokens := strings.Fields(text)
	fired := false
	for i, tok := range tokens {
		core := strings.Trim(tok, ",.!?;:")
		if full, ok := abbreviationTable[core]; ok {
			tokens[i] = full
			fired = true
		}
	}
	if !fired {
		return text, false
	}
	return strings.Join(tokens, " "), true
}

// expandContext substitutes the session topic for a bare anaphoric pronoun.
// When the query is anaphoric but no topic is known, the text is left
// unchanged and the caller applies the context penalty.
func (n *Normalizer) expandContext(text string) (out string, expanded, unresolved bool) {
	tokens := strings.Fields(text)
	idx := -1
	for i, tok := range tokens {
		if anaphoricPronouns[strings.Trim(tok, ",.!?")] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return text, false, false
	}

	topic := n.Topic()
	if topic == "" {
		return text, false, true
	}
	tokens[idx] = strings.ToLower(topic)
	return strings.Join(tokens, " "), true, false
}

func classifyIntent(text string) Intent {
	for _, rule := range intentRules {
		if rule.pattern.MatchString(text) {
			return rule.intent
		}
	}
	return IntentUnspecified
}

// normalizeSentence produces sentence case, promotes lone "i", and ends
// interrogatives with exactly one question mark.
func normalizeSentence(text string) (string, bool) {
	original := text
	text = strings.TrimRight(text, " ?!.")
	if text == "" {
		return text, false
	}

	tokens := strings.Fields(text)
	for i, tok := range tokens {
		if tok == "i" {
			tokens[i] = "I"
		}
	}
	text = strings.Join(tokens, " ")

	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	text = string(runes)

	if interrogativeStarters[strings.ToLower(tokens[0])] {
		text += "?"
	}
	return text, suffixPunct(original) != suffixPunct(text)
}

// suffixPunct returns the trailing punctuation run, used to decide whether
// the punctuation stage actually changed anything.
func suffixPunct(s string) string {
	return s[len(strings.TrimRight(s, " ?!.")):]
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func startsLower(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsLower(r)
		}
	}
	return false
}
