// Package dispatch routes CMS change events to agent runs. Routing rules are
// expr conditions loaded from a YAML file; a matching rule names the agent
// type that handles the event, and the event's record keys become the
// session's allowed set.
package dispatch

import (
	"fmt"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Event is a CMS change notification as delivered to the webhook endpoint.
type Event struct {
	Event      string         `json:"event"`
	Collection string         `json:"collection"`
	Keys       []any          `json:"keys,omitempty"`
	Key        any            `json:"key,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// RecordIDs returns the affected record keys as strings. The CMS sends
// integer keys as JSON numbers; those are rendered without a decimal point.
func (e Event) RecordIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	add := func(v any) {
		s := stringifyKey(v)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		ids = append(ids, s)
	}
	for _, k := range e.Keys {
		add(k)
	}
	add(e.Key)
	return ids
}

func stringifyKey(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case float64:
		if k == float64(int64(k)) {
			return strconv.FormatInt(int64(k), 10)
		}
		return strconv.FormatFloat(k, 'f', -1, 64)
	case int:
		return strconv.Itoa(k)
	default:
		return ""
	}
}

// Rule maps matching events to an agent type.
type Rule struct {
	Name  string `yaml:"name"`
	When  string `yaml:"when"`
	Agent string `yaml:"agent"`
	Task  string `yaml:"task,omitempty"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	program *vm.Program
}

// RuleSet is an immutable parsed rules file. Loaders swap whole sets on
// reload.
type RuleSet struct {
	rules []compiledRule
}

// exprEnv defines the variables rule conditions may reference.
func exprEnv() map[string]any {
	return map[string]any{
		"event":      "",
		"collection": "",
		"payload":    map[string]any{},
	}
}

// ParseRules parses and compiles a YAML rules document. A rule with an
// invalid condition or an empty agent fails the whole parse so a bad file
// never half-applies.
func ParseRules(data []byte) (*RuleSet, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ParseRules: %w", err)
	}

	set := &RuleSet{rules: make([]compiledRule, 0, len(file.Rules))}
	for i, r := range file.Rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if r.Agent == "" {
			return nil, fmt.Errorf("ParseRules: rule %q: missing agent", r.Name)
		}
		if r.When == "" {
			return nil, fmt.Errorf("ParseRules: rule %q: missing when condition", r.Name)
		}
		program, err := expr.Compile(r.When, expr.Env(exprEnv()), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("ParseRules: rule %q: %w", r.Name, err)
		}
		set.rules = append(set.rules, compiledRule{Rule: r, program: program})
	}
	return set, nil
}

// Match evaluates every rule against the event and returns those that match.
// A rule whose condition errors at runtime is skipped, not matched.
func (rs *RuleSet) Match(ev Event) ([]Rule, []error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	env := map[string]any{
		"event":      ev.Event,
		"collection": ev.Collection,
		"payload":    payload,
	}

	var matched []Rule
	var errs []error
	for _, r := range rs.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
			continue
		}
		if ok, _ := out.(bool); ok {
			matched = append(matched, r.Rule)
		}
	}
	return matched, errs
}

// Len reports the number of rules in the set.
func (rs *RuleSet) Len() int { return len(rs.rules) }
