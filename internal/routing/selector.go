package routing

import (
	"sort"

	"github.com/deskrouter/deskrouter/pkg/models"
)

const (
	// recommendFloor is the minimum score for the recommended set.
	recommendFloor = 30.0
	// maxRecommended caps the dispatch set.
	maxRecommended = 3
)

// Selector ranks scored agents into a dispatch set. Its output is never
// empty: when nothing triggers, a single fallback agent is selected so the
// orchestrator always has work to dispatch.
type Selector struct {
	// defaultAgent is used when every profile scores zero.
	defaultAgent string
}

// NewSelector creates a selector with the configured default agent id.
func NewSelector(defaultAgent string) *Selector {
	return &Selector{defaultAgent: defaultAgent}
}

// Selection is the selector output.
type Selection struct {
	// Ranked is every score sorted best-first.
	Ranked []models.AgentScore
	// Recommended are the agents to dispatch, 1..3 entries.
	Recommended []string
	// Fallback is true when no agent triggered and a single best-effort
	// agent was chosen instead.
	Fallback bool
}

// Select sorts scores descending (ties broken by higher historical success
// rate, then agent id) and picks the recommended set: triggering agents with
// score above 30, capped at 3. With no qualifying agent it falls back to the
// single highest scorer, or the configured default when all scores are zero.
func (s *Selector) Select(scores []models.AgentScore, profiles map[string]models.AgentProfile) Selection {
	ranked := make([]models.AgentScore, len(scores))
	copy(ranked, scores)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		ri := profiles[ranked[i].AgentID].HistoricalSuccessRate
		rj := profiles[ranked[j].AgentID].HistoricalSuccessRate
		if ri != rj {
			return ri > rj
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})

	var recommended []string
	for _, sc := range ranked {
		if sc.WouldTrigger && sc.Score > recommendFloor {
			recommended = append(recommended, sc.AgentID)
			if len(recommended) == maxRecommended {
				break
			}
		}
	}

	if len(recommended) > 0 {
		return Selection{Ranked: ranked, Recommended: recommended}
	}

	// Fallback: single best scorer, or the configured default when nothing
	// scored at all.
	fallback := s.defaultAgent
	if len(ranked) > 0 && ranked[0].Score > 0 {
		fallback = ranked[0].AgentID
	}
	return Selection{Ranked: ranked, Recommended: []string{fallback}, Fallback: true}
}
