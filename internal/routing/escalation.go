package routing

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/deskrouter/deskrouter/pkg/models"
)

// Decider flags sessions that need human-in-the-loop intervention.
//
// The builtin rule escalates when the query is high-complexity, the sentiment
// is at or below -1, or more than two agents were recommended. Operators can
// OR in an additional expr rule (DESKROUTER_ESCALATION_RULE) evaluated with
// {complexity, sentiment, recommended_count, top_score}.
type Decider struct {
	program *vm.Program
	rule    string
}

// ruleEnv is the expr evaluation environment for custom escalation rules.
type ruleEnv struct {
	Complexity       string  `expr:"complexity"`
	Sentiment        int     `expr:"sentiment"`
	RecommendedCount int     `expr:"recommended_count"`
	TopScore         float64 `expr:"top_score"`
}

// NewDecider compiles the optional custom rule. An empty rule is valid; a
// malformed rule is a configuration error.
func NewDecider(rule string) (*Decider, error) {
	d := &Decider{rule: rule}
	if rule == "" {
		return d, nil
	}
	program, err := expr.Compile(rule, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile escalation rule %q: %w", rule, err)
	}
	d.program = program
	return d, nil
}

// Decide evaluates the escalation rules for one routing decision. On
// escalation it returns a PENDING record to attach to the session.
func (d *Decider) Decide(sessionID string, an models.QueryAnalysis, sel Selection) (*models.EscalationRecord, string) {
	reason := ""
	switch {
	case an.Complexity == models.ComplexityHigh:
		reason = "high complexity query"
	case an.Sentiment <= -1:
		reason = fmt.Sprintf("negative sentiment (%d)", an.Sentiment)
	case len(sel.Recommended) > 2:
		reason = fmt.Sprintf("broad match across %d agents", len(sel.Recommended))
	}

	if reason == "" && d.program != nil {
		topScore := 0.0
		if len(sel.Ranked) > 0 {
			topScore = sel.Ranked[0].Score
		}
		out, err := expr.Run(d.program, ruleEnv{
			Complexity:       string(an.Complexity),
			Sentiment:        an.Sentiment,
			RecommendedCount: len(sel.Recommended),
			TopScore:         topScore,
		})
		if err != nil {
			log.Warn().Err(err).Str("rule", d.rule).Msg("Escalation rule evaluation failed, ignoring rule")
		} else if matched, _ := out.(bool); matched {
			reason = "custom escalation rule matched"
		}
	}

	if reason == "" {
		return nil, ""
	}
	return &models.EscalationRecord{
		SessionID:   sessionID,
		Reason:      reason,
		TriggeredAt: time.Now().UTC(),
		Status:      models.EscalationPending,
	}, reason
}
