// Package rules evaluates per-user sender rules ahead of classification.
package rules

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
)

type Engine struct {
	repo out.RuleRepository
}

func NewEngine(repo out.RuleRepository) *Engine {
	return &Engine{repo: repo}
}

// Evaluate runs the user's rules against a message sender.
// A matching block rule short-circuits everything else. Otherwise the
// first matching rule carrying a category wins the category override,
// the first carrying a priority wins the priority override; later
// matches never replace either.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID, sender string) (*domain.RuleOutcome, error) {
	ruleList, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return EvaluateRules(ruleList, sender), nil
}

// EvaluateRules is the pure evaluation over an in-memory rule list,
// ordered by descending priority (ties keep insertion order).
func EvaluateRules(ruleList []*domain.Rule, sender string) *domain.RuleOutcome {
	ordered := make([]*domain.Rule, len(ruleList))
	copy(ordered, ruleList)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	outcome := &domain.RuleOutcome{}
	for _, rule := range ordered {
		if !matches(rule, sender) {
			continue
		}
		if rule.Block {
			outcome.Blocked = true
			outcome.CategoryOverride = nil
			outcome.ForcedPriority = nil
			return outcome
		}
		if outcome.CategoryOverride == nil && rule.Category != nil && *rule.Category != "" {
			outcome.CategoryOverride = rule.Category
		}
		if outcome.ForcedPriority == nil && rule.PriorityOverride != nil && *rule.PriorityOverride != "" {
			outcome.ForcedPriority = rule.PriorityOverride
		}
	}
	return outcome
}

func matches(rule *domain.Rule, sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return false
	}
	if rule.SenderEmail != "" && strings.EqualFold(rule.SenderEmail, sender) {
		return true
	}
	if rule.SenderDomain != "" {
		at := strings.LastIndex(sender, "@")
		if at >= 0 && strings.EqualFold(rule.SenderDomain, sender[at+1:]) {
			return true
		}
	}
	return false
}
