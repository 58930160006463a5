package retrieval

import "math"

// Band is the coarse confidence bucket user-facing layers act on.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Band boundaries are a fixed contract, not configuration: high is >= 0.70,
// medium is [0.40, 0.70), low is everything below.
const (
	highBoundary   = 0.70
	mediumBoundary = 0.40
)

// shortContextFactor is applied when the retrieved context is too thin to
// answer from.
const shortContextFactor = 0.75

// Scorer combines normalization confidence with retrieval quality.
type Scorer struct {
	minContextChars int
}

// NewScorer builds a Scorer. minContextChars is the total retrieved text
// length below which the short-context penalty applies.
func NewScorer(minContextChars int) *Scorer {
	return &Scorer{minContextChars: minContextChars}
}

// Score returns the blended confidence in [0, 1]. The retrieval factor is
// monotone decreasing in the best (lowest) distance, so closer matches can
// only help.
func (s *Scorer) Score(results []Result, normConfidence float64) float64 {
	if normConfidence < 0 {
		normConfidence = 0
	}
	if normConfidence > 1 {
		normConfidence = 1
	}
	if len(results) == 0 {
		return 0
	}

	best := results[0].Distance
	contextChars := 0
	for _, r := range results {
		if r.Distance < best {
			best = r.Distance
		}
		contextChars += len(r.Text)
	}

	distanceFactor := 1 - best
	if distanceFactor < 0 {
		distanceFactor = 0
	}
	if distanceFactor > 1 {
		distanceFactor = 1
	}

	score := normConfidence * distanceFactor
	if s.minContextChars > 0 && contextChars < s.minContextChars {
		score *= shortContextFactor
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// CapToLow lowers a score, when needed, so BandFor places it in the low
// band. Fallback answers carry synthetic distances, so their score and band
// must agree on low confidence.
func CapToLow(score float64) float64 {
	if score >= mediumBoundary {
		return math.Nextafter(mediumBoundary, 0)
	}
	return score
}

// BandFor maps a score onto its band. The boundaries leave no gaps and no
// overlaps.
func BandFor(score float64) Band {
	switch {
	case score >= highBoundary:
		return BandHigh
	case score >= mediumBoundary:
		return BandMedium
	default:
		return BandLow
	}
}
