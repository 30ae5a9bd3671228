package domain

import "time"

// ActionType classifies compensating actions.
type ActionType string

// Compensating action types.
const (
	ActionFeatureFlag    ActionType = "feature-flag"
	ActionTrafficSwitch  ActionType = "traffic-switch"
	ActionInstanceRevert ActionType = "instance-revert"
	ActionCacheClear     ActionType = "cache-clear"
	ActionEnvShutdown    ActionType = "environment-shutdown"
)

// ActionStatus tracks a rollback action through execution.
type ActionStatus string

// Rollback action statuses.
const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in-progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// RollbackAction is one step of a compensating plan.
type RollbackAction struct {
	Name   string       `json:"name"`
	Type   ActionType   `json:"type"`
	Status ActionStatus `json:"status"`
}

// Checkpoint snapshots state captured before a stage began.
type Checkpoint struct {
	Stage      string         `json:"stage"`
	CapturedAt time.Time      `json:"captured_at"`
	State      map[string]any `json:"state,omitempty"`
}

// RollbackPlan holds the ordered actions and per-stage checkpoints for one
// deployment. Actions are generated from the strategy and executed in
// reverse order during rollback.
type RollbackPlan struct {
	DeploymentID      string           `json:"deployment_id"`
	EvolutionID       string           `json:"evolution_id"`
	Strategy          Strategy         `json:"strategy"`
	Actions           []RollbackAction `json:"actions"`
	Checkpoints       []Checkpoint     `json:"checkpoints"`
	EstimatedDuration time.Duration    `json:"estimated_duration"`
	CreatedAt         time.Time        `json:"created_at"`
}

// RollbackResult is the terminal outcome of one rollback invocation.
type RollbackResult struct {
	ID              string           `json:"id"`
	DeploymentID    string           `json:"deployment_id"`
	Reason          string           `json:"reason"`
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	ExecutedActions []RollbackAction `json:"executed_actions"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
}
