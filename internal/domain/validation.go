package domain

import "time"

// FindingType classifies a validation finding.
type FindingType string

// Finding types.
const (
	FindingPositive FindingType = "positive"
	FindingNegative FindingType = "negative"
	FindingNeutral  FindingType = "neutral"
)

// FindingCategory groups findings by metric family.
type FindingCategory string

// Finding categories.
const (
	CategoryPerformance    FindingCategory = "performance"
	CategoryReliability    FindingCategory = "reliability"
	CategoryUserExperience FindingCategory = "user-experience"
	CategoryBusiness       FindingCategory = "business"
)

// Finding is one piece of evidence from post-deployment validation.
type Finding struct {
	Type     FindingType     `json:"type"`
	Category FindingCategory `json:"category"`
	Severity AlertSeverity   `json:"severity"`
	Evidence string          `json:"evidence"`
}

// ValidationReport is the long-horizon verdict for a finished deployment.
// Success holds exactly when no finding is both negative and high severity.
type ValidationReport struct {
	DeploymentID    string        `json:"deployment_id"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	SampleCount     int           `json:"sample_count"`
	TerminatedEarly bool          `json:"terminated_early"`
	Findings        []Finding     `json:"findings"`
	ConfidenceScore float64       `json:"confidence_score"`
	Success         bool          `json:"success"`
	Recommendations []string      `json:"recommendations"`
	SampledWindow   time.Duration `json:"sampled_window"`
}
