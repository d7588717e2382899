// Package routing implements the deskrouter dispatch decision: per-agent
// relevance scoring, ranked selection with a guaranteed non-empty output,
// and the human-escalation decision.
package routing

import (
	"math/rand"
	"strings"

	"github.com/deskrouter/deskrouter/internal/analyzer"
	"github.com/deskrouter/deskrouter/pkg/models"
)

const (
	keywordWeight   = 15.0
	expertiseWeight = 8.0
	categoryBoost   = 10.0
	complexityBonus = 5.0
	bonusThreshold  = 0.7
	maxScore        = 100.0
	maxConfidence   = 95.0
)

// categoryCues maps an agent category to the query terms that grant the
// category boost.
var categoryCues = map[string][]string{
	"technical": {"error", "bug", "broken", "failing", "api", "webhook", "ssl", "integration", "crash"},
	"billing":   {"invoice", "charge", "refund", "payment", "billing", "subscription", "price"},
	"security":  {"security", "breach", "hacked", "password", "vulnerability", "phishing", "access"},
	"general":   {"help", "question", "support"},
}

// Rand supplies the confidence jitter. It is injectable so scoring and
// selection stay deterministic in tests; jitter never influences ranking or
// triggering, only the displayed confidence.
type Rand interface {
	Float64() float64
}

// Scorer computes relevance scores for agent profiles against a query.
type Scorer struct {
	rng Rand
}

// NewScorer creates a scorer with the given jitter source. A nil source
// disables jitter entirely.
func NewScorer(rng Rand) *Scorer {
	return &Scorer{rng: rng}
}

// NewDefaultScorer uses a process-local math/rand source for jitter.
func NewDefaultScorer() *Scorer {
	return &Scorer{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Score computes one agent's relevance against an analyzed query:
//
//	15*matchedKeywords + categoryBoost + 8*matchedExpertise
//	  + (historicalSuccessRate-80)/4 + complexityBonus
//
// clamped to [0,100]. WouldTrigger holds iff score > threshold*100.
func (s *Scorer) Score(profile models.AgentProfile, text string, an models.QueryAnalysis) models.AgentScore {
	tokens := tokenSet(text)
	lower := joinedLower(text)

	matched := make([]string, 0, len(profile.Keywords))
	for _, kw := range profile.Keywords {
		if tokens[kw] {
			matched = append(matched, kw)
		}
	}

	expertiseHits := 0
	for _, exp := range profile.Expertise {
		if tokens[exp] || containsPhrase(lower, exp) {
			expertiseHits++
		}
	}

	score := keywordWeight * float64(len(matched))
	score += expertiseWeight * float64(expertiseHits)
	score += (profile.HistoricalSuccessRate - 80) / 4

	for _, cue := range categoryCues[profile.Category] {
		if tokens[cue] {
			score += categoryBoost
			break
		}
	}

	if an.Complexity == models.ComplexityHigh && profile.ConfidenceThreshold > bonusThreshold {
		score += complexityBonus
	}

	score = clamp(score, 0, maxScore)

	confidence := score
	if s.rng != nil {
		confidence += s.rng.Float64() * 10
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return models.AgentScore{
		AgentID:         profile.ID,
		Score:           score,
		MatchedKeywords: matched,
		Confidence:      confidence,
		WouldTrigger:    score > profile.ConfidenceThreshold*100,
	}
}

// ScoreAll scores every profile against the query.
func (s *Scorer) ScoreAll(profiles []models.AgentProfile, text string, an models.QueryAnalysis) []models.AgentScore {
	scores := make([]models.AgentScore, 0, len(profiles))
	for _, p := range profiles {
		scores = append(scores, s.Score(p, text, an))
	}
	return scores
}

func tokenSet(text string) map[string]bool {
	tokens := analyzer.Tokenize(text)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func joinedLower(text string) string {
	return strings.Join(analyzer.Tokenize(text), " ")
}

// containsPhrase matches multi-word expertise entries like "incident-response"
// after normalizing separators to spaces.
func containsPhrase(lower, phrase string) bool {
	norm := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(phrase))
	return norm != "" && strings.Contains(lower, norm)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
