package normalize

import (
	"regexp"
	"strings"
)

// NoiseStrategy removes one class of noise from a query. Apply returns the
// rewritten text and whether the strategy fired. Strategies are independent
// and cumulative; a single query may be rewritten by more than one.
type NoiseStrategy interface {
	Name() string
	Apply(text string) (string, bool)
}

// PatternProvider supplies the approved learned-phrase set. Implementations
// must return a stable snapshot; the normalizer never mutates it.
type PatternProvider interface {
	Patterns() []string
}

// regexStrategy matches the static noise-phrase list and the numeric
// exam-instruction patterns exactly.
type regexStrategy struct {
	phrases  []*regexp.Regexp
	patterns []*regexp.Regexp
}

func newRegexStrategy() *regexStrategy {
	s := &regexStrategy{patterns: noiseRegexPatterns}
	for _, p := range noisePhrases {
		s.phrases = append(s.phrases, regexp.MustCompile(`\b`+regexp.QuoteMeta(p)+`\b`))
	}
	return s
}

func (s *regexStrategy) Name() string { return TagNoiseRegex }

func (s *regexStrategy) Apply(text string) (string, bool) {
	fired := false
	for _, re := range s.phrases {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, " ")
			fired = true
		}
	}
	for _, re := range s.patterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, " ")
			fired = true
		}
	}
	return collapseSpaces(text), fired
}

// fuzzyStrategy slides a token window over the query and strips any window
// whose edit-distance similarity to a noise phrase meets the threshold. It
// catches misspelled or slang-mangled politeness the exact matcher misses.
type fuzzyStrategy struct {
	phrases   [][]string
	threshold float64
}

func newFuzzyStrategy(threshold float64) *fuzzyStrategy {
	s := &fuzzyStrategy{threshold: threshold}
	for _, p := range noisePhrases {
		s.phrases = append(s.phrases, strings.Fields(p))
	}
	return s
}

func (s *fuzzyStrategy) Name() string { return TagNoiseFuzzy }

func (s *fuzzyStrategy) Apply(text string) (string, bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, false
	}

	fired := false
	for _, phrase := range s.phrases {
		tokens, fired = s.stripPhrase(tokens, phrase, fired)
	}
	if !fired {
		return text, false
	}
	return strings.Join(tokens, " "), true
}

func (s *fuzzyStrategy) stripPhrase(tokens, phrase []string, fired bool) ([]string, bool) {
	target := strings.Join(phrase, " ")
	// Windows one token shorter or longer than the phrase still count, so
	// "can u tell me" matches "can you tell me".
	for width := len(phrase) - 1; width <= len(phrase)+1; width++ {
		if width < 1 {
			continue
		}
		for i := 0; i+width <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+width], " ")
			if similarity(window, target) >= s.threshold {
				tokens = append(tokens[:i:i], tokens[i+width:]...)
				return tokens, true
			}
		}
	}
	return tokens, fired
}

// learnedStrategy strips phrases the pattern miner has surfaced and a human
// has approved. The provider hands out an immutable snapshot, so reads are
// safe against concurrent reloads.
type learnedStrategy struct {
	provider PatternProvider
}

func newLearnedStrategy(provider PatternProvider) *learnedStrategy {
	return &learnedStrategy{provider: provider}
}

func (s *learnedStrategy) Name() string { return TagNoiseLearned }

func (s *learnedStrategy) Apply(text string) (string, bool) {
	if s.provider == nil {
		return text, false
	}
	fired := false
	for _, phrase := range s.provider.Patterns() {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, " ")
			fired = true
		}
	}
	if !fired {
		return text, false
	}
	return collapseSpaces(text), true
}

// fillerStrategy strips leading discourse markers when no lexical strategy
// can claim them. It only ever removes tokens from the front so it cannot
// damage the body of the question.
type fillerStrategy struct{}

func (fillerStrategy) Name() string { return TagNoiseFiller }

func (fillerStrategy) Apply(text string) (string, bool) {
	tokens := strings.Fields(text)
	stripped := 0
	for len(tokens) > 1 {
		head := strings.Trim(tokens[0], ",.!")
		if !discourseMarkers[head] {
			break
		}
		tokens = tokens[1:]
		stripped++
	}
	if stripped == 0 {
		return text, false
	}
	return strings.Join(tokens, " "), true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// similarity is a Levenshtein ratio in [0, 1]; 1 means identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
