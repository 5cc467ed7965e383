package routing

import (
	"github.com/rs/zerolog"
)

// RuleMatch pairs a matched rule with the captures extracted from the topic.
type RuleMatch struct {
	Rule     *Rule
	Captures Captures
}

// Router evaluates every inbound topic against an immutable rule set. The
// router itself performs no I/O; side effects belong to the dispatcher.
type Router struct {
	rules  *RuleSet
	logger zerolog.Logger
}

// NewRouter creates a Router over a validated rule set. The rule set is
// read-only after load and safe to share across workers.
func NewRouter(rules *RuleSet, logger zerolog.Logger) *Router {
	return &Router{
		rules:  rules,
		logger: logger.With().Str("component", "Router").Logger(),
	}
}

// Route returns a match for every enabled rule whose pattern the topic
// satisfies, in rule order. All matching rules fire: a specific heartbeat
// rule and a catch-all '#' monitoring rule may both legitimately claim the
// same message. A topic matching zero rules returns an empty slice, which is
// not an error.
func (r *Router) Route(topic string) []RuleMatch {
	var matches []RuleMatch
	for _, rule := range r.rules.Rules() {
		if !rule.Enabled {
			continue
		}
		wildcards, ok := rule.pattern.Match(topic)
		if !ok {
			continue
		}
		captures := make(Captures, len(rule.CaptureNames)+1)
		for i, name := range rule.CaptureNames {
			captures[name] = wildcards[i]
		}
		captures[OriginalTopic] = topic
		matches = append(matches, RuleMatch{Rule: rule, Captures: captures})
	}
	r.logger.Debug().Str("topic", topic).Int("matched_rules", len(matches)).Msg("Routed topic against rule set.")
	return matches
}
