package routing

import (
	"encoding/json"
	"fmt"
)

// ActionKind discriminates the closed set of action variants a rule may carry.
type ActionKind string

const (
	// ActionHTTPForward posts the message, with its captures, to a configured URL.
	ActionHTTPForward ActionKind = "http_forward"
	// ActionRepublish re-publishes the message payload to a templated topic.
	ActionRepublish ActionKind = "republish"
	// ActionInvoke calls a named in-process handler. Handlers are the only
	// action kind permitted to append domain events.
	ActionInvoke ActionKind = "invoke"
)

// Action is a tagged variant: exactly one kind is active per instance, and
// only the fields belonging to that kind may be set. An unknown kind or a
// mixed-kind action is a configuration error at load time.
type Action struct {
	Kind ActionKind `json:"kind"`

	// http_forward
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// republish
	TopicTemplate string `json:"topic_template,omitempty"`
	QoS           byte   `json:"qos,omitempty"`
	Retain        bool   `json:"retain,omitempty"`

	// invoke
	Handler string `json:"handler,omitempty"`
}

// Rule routes messages whose topic satisfies TopicPattern to an ordered list
// of actions. CaptureNames assigns names to the pattern's '+' wildcards in
// order; unnamed wildcard positions are matched but not captured.
type Rule struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	TopicPattern string   `json:"topic_pattern"`
	CaptureNames []string `json:"capture_names,omitempty"`
	Enabled      bool     `json:"enabled"`
	Actions      []Action `json:"actions"`

	pattern *Pattern
}

// ConfigError reports an invalid rule set. It is fatal: a service must refuse
// to start rather than run with a partial or ambiguous rule set.
type ConfigError struct {
	Rule   string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("rule config: %s", e.Detail)
	}
	return fmt.Sprintf("rule config: rule %q: %s", e.Rule, e.Detail)
}

// RuleSet is an immutable, fully validated ordered rule list. Rule sets are
// replaced as a whole; there are no partial updates mid-evaluation.
type RuleSet struct {
	rules []*Rule
}

// LoadRuleSet parses a JSON array of rules and validates every rule against
// the compile-time contract: unique names, well-formed patterns, a known
// action kind per action, capture names that fit the pattern's wildcards, and
// handler names present in knownHandlers. Any violation fails the whole load.
func LoadRuleSet(data []byte, knownHandlers []string) (*RuleSet, error) {
	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, &ConfigError{Detail: fmt.Sprintf("parse rules: %v", err)}
	}
	return NewRuleSet(rules, knownHandlers)
}

// NewRuleSet validates an in-memory rule list. See LoadRuleSet.
func NewRuleSet(rules []*Rule, knownHandlers []string) (*RuleSet, error) {
	handlers := make(map[string]struct{}, len(knownHandlers))
	for _, h := range knownHandlers {
		handlers[h] = struct{}{}
	}

	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, &ConfigError{Detail: "rule with empty name"}
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, &ConfigError{Rule: rule.Name, Detail: "duplicate rule name"}
		}
		seen[rule.Name] = struct{}{}

		pattern, err := CompilePattern(rule.TopicPattern)
		if err != nil {
			return nil, &ConfigError{Rule: rule.Name, Detail: err.Error()}
		}
		if len(rule.CaptureNames) > pattern.Wildcards() {
			return nil, &ConfigError{Rule: rule.Name, Detail: fmt.Sprintf(
				"%d capture names for %d '+' wildcards", len(rule.CaptureNames), pattern.Wildcards())}
		}
		for _, name := range rule.CaptureNames {
			if name == OriginalTopic {
				return nil, &ConfigError{Rule: rule.Name, Detail: fmt.Sprintf("capture name %q is reserved", OriginalTopic)}
			}
		}
		rule.pattern = pattern

		for i := range rule.Actions {
			if err := validateAction(&rule.Actions[i], handlers); err != nil {
				return nil, &ConfigError{Rule: rule.Name, Detail: err.Error()}
			}
		}
	}
	return &RuleSet{rules: rules}, nil
}

func validateAction(a *Action, handlers map[string]struct{}) error {
	switch a.Kind {
	case ActionHTTPForward:
		if a.URL == "" {
			return fmt.Errorf("http_forward action requires a url")
		}
		if a.TopicTemplate != "" || a.Handler != "" {
			return fmt.Errorf("http_forward action carries fields of another kind")
		}
		if a.Method == "" {
			a.Method = "POST"
		}
	case ActionRepublish:
		if a.TopicTemplate == "" {
			return fmt.Errorf("republish action requires a topic_template")
		}
		if a.URL != "" || a.Handler != "" {
			return fmt.Errorf("republish action carries fields of another kind")
		}
		if a.QoS > 2 {
			return fmt.Errorf("republish action has invalid qos %d", a.QoS)
		}
	case ActionInvoke:
		if a.Handler == "" {
			return fmt.Errorf("invoke action requires a handler name")
		}
		if a.URL != "" || a.TopicTemplate != "" {
			return fmt.Errorf("invoke action carries fields of another kind")
		}
		if _, ok := handlers[a.Handler]; !ok {
			return fmt.Errorf("unknown handler %q", a.Handler)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Rules returns the ordered rule list.
func (rs *RuleSet) Rules() []*Rule {
	return rs.rules
}

// SubscriptionFilters returns the distinct topic patterns of enabled rules,
// in rule order. They are valid broker subscription filters as-is; a caller
// that prefers a single wide subscription can subscribe to "#" instead.
func (rs *RuleSet) SubscriptionFilters() []string {
	var filters []string
	seen := make(map[string]struct{})
	for _, rule := range rs.rules {
		if !rule.Enabled {
			continue
		}
		if _, dup := seen[rule.TopicPattern]; dup {
			continue
		}
		seen[rule.TopicPattern] = struct{}{}
		filters = append(filters, rule.TopicPattern)
	}
	return filters
}
