package rules

import (
	"testing"

	"ingest_server/core/domain"
)

func strPtr(s string) *string { return &s }

func TestEvaluateRules(t *testing.T) {
	tests := []struct {
		name         string
		rules        []*domain.Rule
		sender       string
		wantBlocked  bool
		wantCategory string // empty means no override
		wantPriority string // empty means no override
	}{
		{
			name:   "no rules",
			sender: "someone@example.com",
		},
		{
			name: "block by exact address",
			rules: []*domain.Rule{
				{SenderEmail: "spammer@junk.com", Block: true},
			},
			sender:      "spammer@junk.com",
			wantBlocked: true,
		},
		{
			name: "block by domain",
			rules: []*domain.Rule{
				{SenderDomain: "junk.com", Block: true},
			},
			sender:      "anyone@junk.com",
			wantBlocked: true,
		},
		{
			name: "block short-circuits category rules",
			rules: []*domain.Rule{
				{SenderDomain: "corp.com", Category: strPtr("Work"), Priority: 10},
				{SenderEmail: "noisy@corp.com", Block: true, Priority: 20},
			},
			sender:      "noisy@corp.com",
			wantBlocked: true,
		},
		{
			name: "first matching category wins",
			rules: []*domain.Rule{
				{SenderEmail: "boss@corp.com", Category: strPtr("Urgent"), Priority: 20},
				{SenderDomain: "corp.com", Category: strPtr("Work"), Priority: 10},
			},
			sender:       "boss@corp.com",
			wantCategory: "Urgent",
		},
		{
			name: "later matches do not replace the winner",
			rules: []*domain.Rule{
				{SenderDomain: "corp.com", Category: strPtr("Work"), Priority: 20},
				{SenderEmail: "boss@corp.com", Category: strPtr("Urgent"), Priority: 10},
			},
			sender:       "boss@corp.com",
			wantCategory: "Work",
		},
		{
			name: "nil category rules are skipped",
			rules: []*domain.Rule{
				{SenderDomain: "corp.com", Priority: 20},
				{SenderEmail: "boss@corp.com", Category: strPtr("Urgent"), Priority: 10},
			},
			sender:       "boss@corp.com",
			wantCategory: "Urgent",
		},
		{
			name: "priority override from matching rule",
			rules: []*domain.Rule{
				{SenderDomain: "corp.com", PriorityOverride: strPtr(domain.PriorityImportant), Priority: 10},
			},
			sender:       "boss@corp.com",
			wantPriority: domain.PriorityImportant,
		},
		{
			name: "category and priority come from different rules",
			rules: []*domain.Rule{
				{SenderEmail: "boss@corp.com", Category: strPtr("Urgent"), Priority: 20},
				{SenderDomain: "corp.com", PriorityOverride: strPtr(domain.PriorityImportant), Priority: 10},
			},
			sender:       "boss@corp.com",
			wantCategory: "Urgent",
			wantPriority: domain.PriorityImportant,
		},
		{
			name: "block clears priority override",
			rules: []*domain.Rule{
				{SenderDomain: "corp.com", PriorityOverride: strPtr(domain.PriorityImportant), Priority: 20},
				{SenderEmail: "noisy@corp.com", Block: true, Priority: 10},
			},
			sender:      "noisy@corp.com",
			wantBlocked: true,
		},
		{
			name: "no match leaves outcome empty",
			rules: []*domain.Rule{
				{SenderDomain: "other.com", Block: true},
				{SenderEmail: "x@other.com", Category: strPtr("X")},
			},
			sender: "someone@example.com",
		},
		{
			name: "case insensitive matching",
			rules: []*domain.Rule{
				{SenderEmail: "Boss@Corp.com", Category: strPtr("Work")},
			},
			sender:       "boss@corp.com",
			wantCategory: "Work",
		},
		{
			name: "empty sender never matches",
			rules: []*domain.Rule{
				{SenderDomain: "junk.com", Block: true},
			},
			sender: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateRules(tt.rules, tt.sender)
			if got.Blocked != tt.wantBlocked {
				t.Errorf("Blocked = %v, want %v", got.Blocked, tt.wantBlocked)
			}
			if tt.wantCategory == "" {
				if got.CategoryOverride != nil {
					t.Errorf("CategoryOverride = %q, want nil", *got.CategoryOverride)
				}
			} else {
				if got.CategoryOverride == nil || *got.CategoryOverride != tt.wantCategory {
					t.Errorf("CategoryOverride = %v, want %q", got.CategoryOverride, tt.wantCategory)
				}
			}
			if tt.wantPriority == "" {
				if got.ForcedPriority != nil {
					t.Errorf("ForcedPriority = %q, want nil", *got.ForcedPriority)
				}
			} else {
				if got.ForcedPriority == nil || *got.ForcedPriority != tt.wantPriority {
					t.Errorf("ForcedPriority = %v, want %q", got.ForcedPriority, tt.wantPriority)
				}
			}
			if got.Blocked && (got.CategoryOverride != nil || got.ForcedPriority != nil) {
				t.Error("blocked outcome must not carry overrides")
			}
		})
	}
}
