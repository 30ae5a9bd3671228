package domain

import "time"

// RuleType discriminates feature flag targeting rules.
type RuleType string

// Supported rule types.
const (
	RuleUser       RuleType = "user"
	RuleGroup      RuleType = "group"
	RulePercentage RuleType = "percentage"
	RuleCustom     RuleType = "custom"
)

// FlagRule is one ordered targeting rule on a feature flag.
type FlagRule struct {
	Type      RuleType `json:"type"`
	Condition string   `json:"condition"`
	Value     any      `json:"value"`
}

// FlagMetadata carries bookkeeping for a feature flag.
type FlagMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// FeatureFlag gates exposure of one evolution. Version only ever increases;
// Percentage stays within [0,100].
type FeatureFlag struct {
	ID         string       `json:"id"`
	Enabled    bool         `json:"enabled"`
	Percentage float64      `json:"percentage"`
	UserGroups []string     `json:"user_groups,omitempty"`
	Rules      []FlagRule   `json:"rules,omitempty"`
	Metadata   FlagMetadata `json:"metadata"`
}

// EvalContext describes the user a flag is evaluated for.
type EvalContext struct {
	UserID     string         `json:"user_id"`
	UserGroup  string         `json:"user_group,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
