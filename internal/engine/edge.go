package engine

import "strings"

// Edge cases are conversational inputs that are not questions. They are
// answered with canned text before normalization or retrieval runs.

type edgeKind string

const (
	edgeGreeting  edgeKind = "greeting"
	edgeGratitude edgeKind = "gratitude"
	edgeApology   edgeKind = "apology"
	edgeTooShort  edgeKind = "too_short"
)

var edgeResponses = map[edgeKind]string{
	edgeGreeting:  "Hello! Ask me any question from your subject and I will find the answer for you.",
	edgeGratitude: "You're welcome! Happy to help with your next question.",
	edgeApology:   "No problem at all. What would you like to ask?",
	edgeTooShort:  "Could you ask that as a full question? A little more detail helps me find the right answer.",
}

var greetingWords = map[string]bool{
	"hi":        true,
	"hello":     true,
	"hey":       true,
	"yo":        true,
	"namaste":   true,
	"good":      true,
	"morning":   true,
	"afternoon": true,
	"evening":   true,
}

var gratitudeWords = map[string]bool{
	"thanks":  true,
	"thank":   true,
	"thx":     true,
	"ty":      true,
	"welcome": true,
	"great":   true,
	"awesome": true,
}

var apologyWords = map[string]bool{
	"sorry":     true,
	"oops":      true,
	"apologies": true,
	"apology":   true,
}

// detectEdgeCase classifies conversational inputs. It only ever fires for
// short inputs; anything with enough tokens is treated as a real question.
func detectEdgeCase(raw string) (edgeKind, bool) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	if len(tokens) == 0 || len(tokens) > 4 {
		return "", false
	}

	all := func(words map[string]bool) bool {
		for _, tok := range tokens {
			if !words[strings.Trim(tok, ",.!?")] {
				return false
			}
		}
		return true
	}

	switch {
	case all(greetingWords):
		return edgeGreeting, true
	case all(gratitudeWords):
		return edgeGratitude, true
	case all(apologyWords):
		return edgeApology, true
	case len(tokens) == 1:
		return edgeTooShort, true
	}
	return "", false
}
