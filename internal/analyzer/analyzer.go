// Package analyzer derives routing signals from raw query text: keywords,
// a complexity bucket, and a sentiment polarity score.
//
// All three assessments are synchronous, allocation-light, and deterministic;
// they run inline on the submit path before any agent is dispatched.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/deskrouter/deskrouter/pkg/models"
)

const (
	maxKeywords   = 8
	minTokenLen   = 3
	highCutoff    = 8
	mediumCutoff  = 4
	questionScore = 2
	techScore     = 1.5
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// stopWords are dropped during keyword extraction. Deliberately small: the
// scorer matches profile keywords against the full token set anyway.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"have": true, "this": true, "that": true, "with": true, "from": true,
	"they": true, "been": true, "will": true, "what": true, "when": true,
	"your": true, "how": true, "why": true, "who": true, "its": true,
	"there": true, "their": true, "would": true, "could": true, "should": true,
	"about": true, "into": true, "some": true, "very": true, "just": true,
}

// technicalTerms feed the complexity score.
var technicalTerms = []string{
	"api", "webhook", "ssl", "certificate", "database", "integration",
	"authentication", "encryption", "timeout", "latency", "oauth", "token",
	"server", "endpoint", "dns", "deployment", "migration", "regression",
}

// Sentiment lexicons count emotional polarity. Failure vocabulary ("error",
// "failing") is intentionally absent from the negative set so that plain
// technical problem reports stay neutral and do not force escalation.
var positiveWords = []string{
	"thanks", "thank", "great", "love", "awesome", "excellent", "perfect",
	"amazing", "happy", "appreciate", "wonderful", "helpful",
}

var negativeWords = []string{
	"angry", "frustrated", "terrible", "awful", "horrible", "hate",
	"worst", "unacceptable", "disappointed", "furious", "useless", "ridiculous",
}

// Analyze runs all three assessments over one query.
func Analyze(text string) models.QueryAnalysis {
	return models.QueryAnalysis{
		Keywords:   ExtractKeywords(text),
		Complexity: AssessComplexity(text),
		Sentiment:  AssessSentiment(text),
	}
}

// ExtractKeywords lower-cases the text, splits on non-word boundaries, drops
// stop-words and tokens shorter than 3 characters, and returns at most 8
// unique tokens in first-seen order.
func ExtractKeywords(text string) []string {
	tokens := Tokenize(text)

	seen := make(map[string]bool, len(tokens))
	keywords := make([]string, 0, maxKeywords)
	for _, tok := range tokens {
		if len(tok) < minTokenLen || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// Tokenize lower-cases and splits text on non-word boundaries. Used by both
// keyword extraction and the scorer's full-text keyword matching.
func Tokenize(text string) []string {
	raw := tokenSplit.Split(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// AssessComplexity buckets a query by structural effort:
// wordCount/10 + questionMarks*2 + technicalTermHits*1.5,
// high above 8, medium above 4, low otherwise.
func AssessComplexity(text string) models.Complexity {
	words := len(strings.Fields(text))
	questions := strings.Count(text, "?")

	lower := strings.ToLower(text)
	techHits := 0
	for _, term := range technicalTerms {
		if containsWord(lower, term) {
			techHits++
		}
	}

	score := float64(words)/10 + float64(questions)*questionScore + float64(techHits)*techScore
	switch {
	case score > highCutoff:
		return models.ComplexityHigh
	case score > mediumCutoff:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

// AssessSentiment returns positive lexicon hits minus negative lexicon hits.
func AssessSentiment(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if containsWord(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if containsWord(lower, w) {
			score--
		}
	}
	return score
}

// containsWord reports whether term occurs in lower as a whole token.
func containsWord(lower, term string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
