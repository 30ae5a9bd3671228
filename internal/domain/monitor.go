package domain

import "time"

// MetricChannel names one time-series tracked by a monitoring session.
type MetricChannel string

// Channels sampled on every monitor tick.
const (
	ChannelErrorRate    MetricChannel = "error_rate"
	ChannelResponseTime MetricChannel = "response_time"
	ChannelCPUUsage     MetricChannel = "cpu_usage"
	ChannelMemoryUsage  MetricChannel = "memory_usage"
	ChannelUserFeedback MetricChannel = "user_feedback"
)

// Sample is one timestamped metric observation.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HealthStatus grades a health check.
type HealthStatus string

// Health statuses, ordered from best to worst.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// AlertSeverity ranks alerts.
type AlertSeverity string

// Alert severities.
const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert records a threshold breach observed by the monitor.
type Alert struct {
	ID           string        `json:"id"`
	DeploymentID string        `json:"deployment_id"`
	Severity     AlertSeverity `json:"severity"`
	Metric       MetricChannel `json:"metric"`
	Message      string        `json:"message"`
	Value        float64       `json:"value"`
	Threshold    float64       `json:"threshold"`
	RaisedAt     time.Time     `json:"raised_at"`
}

// CheckResults flags which individual checks passed on one tick.
type CheckResults struct {
	ErrorRate    bool `json:"error_rate"`
	ResponseTime bool `json:"response_time"`
	Resources    bool `json:"resources"`
	Dependencies bool `json:"dependencies"`
}

// HealthCheck is the outcome of one monitor tick's evaluation.
type HealthCheck struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Checks    CheckResults `json:"checks"`
}

// MonitoringSession accumulates observations for one active deployment.
// Samples are appended in poll order; consumers read trailing windows.
type MonitoringSession struct {
	DeploymentID string                     `json:"deployment_id"`
	StartedAt    time.Time                  `json:"started_at"`
	Channels     map[MetricChannel][]Sample `json:"channels"`
	Alerts       []Alert                    `json:"alerts"`
	HealthChecks []HealthCheck              `json:"health_checks"`
}

// Recommendation is the monitor's advice to the orchestrator.
type Recommendation string

// Monitor recommendations.
const (
	RecommendProceed  Recommendation = "proceed"
	RecommendMonitor  Recommendation = "monitor"
	RecommendRollback Recommendation = "rollback"
)

// HealthReport summarises a session for the orchestrator.
type HealthReport struct {
	DeploymentID   string         `json:"deployment_id"`
	GeneratedAt    time.Time      `json:"generated_at"`
	OverallHealth  float64        `json:"overall_health"`
	Recommendation Recommendation `json:"recommendation"`
	RecentChecks   []HealthCheck  `json:"recent_checks"`
	ActiveAlerts   []Alert        `json:"active_alerts"`
}

// ChannelSummary aggregates one session channel.
type ChannelSummary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Latest  float64 `json:"latest"`
}

// MetricsSummary aggregates every channel of a session.
type MetricsSummary struct {
	DeploymentID string                           `json:"deployment_id"`
	Channels     map[MetricChannel]ChannelSummary `json:"channels"`
}
