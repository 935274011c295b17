// Package filter implements the rule engine deciding the disposition of
// each framed record. Rules are evaluated as a plain ordered scan, first
// match wins, so per-record work is bounded by the rule count and can never
// back-pressure the framer.
package filter

import (
	"fmt"

	"PCIeSpectra/internal/model"
)

// Engine evaluates an immutable ordered rule list. Built once per session at
// arm time.
type Engine struct {
	rules         []model.FilterRule
	defaultAction model.Action
}

// New validates the rule list and builds an engine. A trigger default action
// is rejected: a session whose every unmatched record fires the trigger is a
// misconfiguration, not a capture plan.
func New(rules []model.FilterRule, defaultAction model.Action) (*Engine, error) {
	if defaultAction == model.ActionTrigger {
		return nil, fmt.Errorf("default action cannot be trigger")
	}
	for i, r := range rules {
		if r.AddrHi < r.AddrLo {
			return nil, fmt.Errorf("rule %d (%s): address range is inverted", i, r.Name)
		}
		if r.Action > model.ActionTrigger {
			return nil, fmt.Errorf("rule %d (%s): unknown action %d", i, r.Name, r.Action)
		}
	}
	return &Engine{
		rules:         append([]model.FilterRule(nil), rules...),
		defaultAction: defaultAction,
	}, nil
}

// Evaluate returns the action of the first matching rule, or the default
// action if none matches. Records with Valid=false are always captured:
// their header fields are not trustworthy enough to match against, and a
// broken frame is exactly what an analyst wants to see.
func (e *Engine) Evaluate(rec *model.TLPRecord) model.Action {
	if !rec.Valid {
		return model.ActionCapture
	}
	for i := range e.rules {
		if e.rules[i].Matches(rec) {
			return e.rules[i].Action
		}
	}
	return e.defaultAction
}

// Len returns the number of rules, for STATUS reporting.
func (e *Engine) Len() int {
	return len(e.rules)
}
