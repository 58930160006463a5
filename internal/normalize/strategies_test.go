package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"can u tell me", "can you tell me", 0.85, 1.0},
		{"identical", "identical", 1.0, 1.0},
		{"abc", "xyz", 0.0, 0.1},
		{"", "anything", 0.0, 0.0},
	}
	for _, tt := range tests {
		got := similarity(tt.a, tt.b)
		assert.GreaterOrEqual(t, got, tt.min, "%q vs %q", tt.a, tt.b)
		assert.LessOrEqual(t, got, tt.max, "%q vs %q", tt.a, tt.b)
	}
}

func TestFuzzyStrategyStripsNearMatches(t *testing.T) {
	s := newFuzzyStrategy(0.85)

	out, fired := s.Apply("can u tell me what is gravity")
	assert.True(t, fired)
	assert.Equal(t, "what is gravity", out)

	out, fired = s.Apply("what is gravity")
	assert.False(t, fired)
	assert.Equal(t, "what is gravity", out)
}

func TestRegexStrategyStripsExamNoise(t *testing.T) {
	s := newRegexStrategy()

	out, fired := s.Apply("explain newton's laws for 5 marks")
	assert.True(t, fired)
	assert.Equal(t, "explain newton's laws", out)

	out, fired = s.Apply("answer in 100 words what is soil erosion")
	assert.True(t, fired)
	assert.Equal(t, "what is soil erosion", out)
}

func TestFillerStrategyStripsOnlyLeadingMarkers(t *testing.T) {
	s := fillerStrategy{}

	out, fired := s.Apply("umm so what is gravity")
	assert.True(t, fired)
	assert.Equal(t, "what is gravity", out)

	// Markers inside the sentence stay untouched.
	out, fired = s.Apply("what is gravity so far")
	assert.False(t, fired)
	assert.Equal(t, "what is gravity so far", out)
}

func TestLearnedStrategyWholeWordOnly(t *testing.T) {
	s := newLearnedStrategy(&staticProvider{phrases: []string{"na"}})

	out, fired := s.Apply("what is sodium na")
	assert.True(t, fired)
	assert.Equal(t, "what is sodium", out)

	out, fired = s.Apply("what is natural selection")
	assert.False(t, fired)
	assert.Equal(t, "what is natural selection", out)
}
