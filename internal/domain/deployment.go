package domain

import "time"

// Strategy identifies how an evolution is exposed to traffic.
type Strategy string

// Supported rollout strategies.
const (
	StrategyDirect    Strategy = "direct"
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue-green"
)

// Strategies lists every supported strategy in presentation order.
func Strategies() []Strategy {
	return []Strategy{StrategyDirect, StrategyCanary, StrategyBlueGreen}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyCanary, StrategyBlueGreen:
		return true
	}
	return false
}

// Stage captures one lifecycle step of a deployment.
type Stage struct {
	Name        string     `json:"name"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Success     bool       `json:"success"`
}

// DeploymentMetrics is the orchestrator's snapshot of rollout impact.
type DeploymentMetrics struct {
	AffectedUsers     int     `json:"affected_users"`
	ErrorRate         float64 `json:"error_rate"`
	PerformanceImpact float64 `json:"performance_impact"`
	RollbackRequired  bool    `json:"rollback_required"`
}

// DeploymentResult is present only once a deployment reaches a terminal state.
type DeploymentResult struct {
	Success          bool `json:"success"`
	RollbackRequired bool `json:"rollback_required"`
}

// Deployment is the aggregate driven by the external orchestrator. The
// control plane treats it as read-only input; only the orchestrator writes
// Result and CompletedAt.
type Deployment struct {
	ID          string            `json:"id"`
	EvolutionID string            `json:"evolution_id"`
	Strategy    Strategy          `json:"strategy"`
	Stages      []Stage           `json:"stages"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metrics     DeploymentMetrics `json:"metrics"`
	Result      *DeploymentResult `json:"result,omitempty"`
}

// Duration returns the wall-clock duration of the deployment, zero when it
// has not completed.
func (d Deployment) Duration() time.Duration {
	if d.CompletedAt == nil {
		return 0
	}
	return d.CompletedAt.Sub(d.StartedAt)
}
