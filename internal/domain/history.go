package domain

import "time"

// StageDuration records how long one stage of a finished deployment took.
type StageDuration struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
}

// DeploymentRecord is the immutable archive entry for one finished
// deployment.
type DeploymentRecord struct {
	ID             string            `json:"id"`
	DeploymentID   string            `json:"deployment_id"`
	EvolutionID    string            `json:"evolution_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Strategy       Strategy          `json:"strategy"`
	Duration       time.Duration     `json:"duration"`
	Result         DeploymentResult  `json:"result"`
	Metrics        DeploymentMetrics `json:"metrics"`
	StageDurations []StageDuration   `json:"stage_durations,omitempty"`
}

// StrategyStats aggregates outcomes for one strategy.
type StrategyStats struct {
	Count        int     `json:"count"`
	SuccessRate  float64 `json:"success_rate"`
	RollbackRate float64 `json:"rollback_rate"`
}

// DailyTrend aggregates records for one UTC calendar day.
type DailyTrend struct {
	Date        string  `json:"date"`
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
	Rollbacks   int     `json:"rollbacks"`
}

// DeploymentAnalytics is derived on demand from the most recent records.
type DeploymentAnalytics struct {
	TotalDeployments  int                        `json:"total_deployments"`
	SuccessRate       float64                    `json:"success_rate"`
	AverageDuration   time.Duration              `json:"average_duration"`
	RollbackRate      float64                    `json:"rollback_rate"`
	StrategyBreakdown map[Strategy]StrategyStats `json:"strategy_breakdown"`
	Trends            []DailyTrend               `json:"trends"`
}
