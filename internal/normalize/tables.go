package normalize

import "regexp"

// noisePhrases is the static noise-phrase list shared by the regex and
// fuzzy strategies: exam meta-language and politeness framing that carries
// no semantic content for retrieval.
var noisePhrases = []string{
	"with reference to the diagram",
	"as per the syllabus",
	"as per the textbook",
	"according to the textbook",
	"from exam point of view",
	"for board exam",
	"answer in brief",
	"answer in detail",
	"write a short note on",
	"can you tell me",
	"could you tell me",
	"can you explain",
	"could you explain",
	"please tell me",
	"please explain",
	"i want to know",
	"i would like to know",
}

// noiseRegexPatterns cover the numeric exam-instruction forms the static
// list cannot enumerate.
var noiseRegexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bfor \d+ marks?\b`),
	regexp.MustCompile(`\banswer in \d+ words?\b`),
	regexp.MustCompile(`\bquestion (?:no\.?|number) ?\d+\b`),
	regexp.MustCompile(`\bexplain in detail for \d+ marks?\b`),
}

// discourseMarkers are leading tokens the filler strategy strips when no
// lexical noise match fired.
var discourseMarkers = map[string]bool{
	"hey":    true,
	"hi":     true,
	"hello":  true,
	"yo":     true,
	"so":     true,
	"umm":    true,
	"um":     true,
	"uh":     true,
	"well":   true,
	"okay":   true,
	"ok":     true,
	"listen": true,
}

// slangTable maps casual short forms onto their formal equivalents.
// Applied via whole-word matching only.
var slangTable = map[string]string{
	"u":     "you",
	"ur":    "your",
	"r":     "are",
	"gonna": "going to",
	"wanna": "want to",
	"gotta": "have to",
	"coz":   "because",
	"cuz":   "because",
	"cos":   "because",
	"idk":   "I don't know",
	"pls":   "please",
	"plz":   "please",
	"thx":   "thanks",
	"b4":    "before",
	"gimme": "give me",
	"lemme": "let me",
	"dont":  "don't",
	"cant":  "can't",
	"wont":  "won't",
	"whats": "what is",
	"hows":  "how is",
	"whys":  "why is",
}

// fillerWords are dropped wherever they occur.
var fillerWords = map[string]bool{
	"bro":       true,
	"bruh":      true,
	"dude":      true,
	"yaar":      true,
	"na":        true,
	"lol":       true,
	"basically": true,
	"actually":  true,
	"literally": true,
}

// abbreviationTable expands domain short forms. Whole-word matching only,
// so tokens such as "academic" are never corrupted by "ac".
var abbreviationTable = map[string]string{
	"emf": "electromotive force",
	"ac":  "alternating current",
	"dc":  "direct current",
	"dna": "deoxyribonucleic acid",
	"rna": "ribonucleic acid",
	"atp": "adenosine triphosphate",
	"ph":  "potential of hydrogen",
	"hcl": "hydrochloric acid",
	"co2": "carbon dioxide",
	"h2o": "water",
	"led": "light emitting diode",
	"cpu": "central processing unit",
}

// intentRule binds a compiled pattern to an intent. Rules are evaluated in
// order; the earliest match wins.
type intentRule struct {
	pattern *regexp.Regexp
	intent  Intent
}

var intentRules = []intentRule{
	{regexp.MustCompile(`\b(difference between|compare|contrast|distinguish between)\b`), IntentCompare},
	{regexp.MustCompile(`\b(what is|what are|define|definition of|meaning of)\b`), IntentDefine},
	{regexp.MustCompile(`\b(why|what causes|reason for|reason behind)\b`), IntentWhy},
	{regexp.MustCompile(`\b(how do|how does|how is|how are|how to|how can)\b`), IntentHow},
	{regexp.MustCompile(`\b(solve|calculate|compute|find the value|evaluate)\b`), IntentSolve},
	{regexp.MustCompile(`\b(explain|describe|elaborate|what happens)\b`), IntentDescribe},
}

// scaffoldTable holds the per-intent instruction prefix recorded as the
// scaffolded prompt. Unspecified intent gets no scaffold.
var scaffoldTable = map[Intent]string{
	IntentDefine:   "Define precisely:",
	IntentWhy:      "Explain the reason clearly:",
	IntentHow:      "Explain the process step by step:",
	IntentDescribe: "Describe in detail:",
	IntentCompare:  "Compare and contrast clearly:",
	IntentSolve:    "Solve step by step, showing all work:",
}

// interrogativeStarters decide whether a clean sentence ends with a
// question mark.
var interrogativeStarters = map[string]bool{
	"what":  true,
	"why":   true,
	"how":   true,
	"when":  true,
	"where": true,
	"which": true,
	"who":   true,
	"is":    true,
	"are":   true,
	"do":    true,
	"does":  true,
	"can":   true,
}

// anaphoricPronouns trigger context expansion when they stand in for a
// subject that was never named in the query.
var anaphoricPronouns = map[string]bool{
	"it":   true,
	"this": true,
	"that": true,
}
