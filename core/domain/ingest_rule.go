package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is a user-defined bucket the classifier sorts mail into.
type Category struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rule is a per-user sender rule evaluated before classification.
// Block drops the message outright; a non-empty Category overrides the
// classifier's topic and a PriorityOverride pins the projected priority.
type Rule struct {
	ID     int64     `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	// Match targets; either may be empty
	SenderEmail  string `json:"sender_email,omitempty"`
	SenderDomain string `json:"sender_domain,omitempty"`

	Block    bool    `json:"block"`
	Category *string `json:"category,omitempty"`
	// One of the priority labels, important/information/useless
	PriorityOverride *string `json:"priority_override,omitempty"`
	Priority         int     `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleOutcome is the rule engine's verdict for one message.
type RuleOutcome struct {
	Blocked          bool
	CategoryOverride *string
	ForcedPriority   *string
}
