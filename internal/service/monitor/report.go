package monitor

import (
	"github.com/splax/rollout/internal/domain"
)

// Per-check scores feeding overall health.
const (
	scoreHealthy   = 1.0
	scoreDegraded  = 0.7
	scoreUnhealthy = 0.3
)

// GenerateHealthReport summarises the trailing health checks and alerts of a
// session into an orchestrator-facing report.
func (m *Monitor) GenerateHealthReport(deploymentID string) (*domain.HealthReport, error) {
	t, err := m.task(deploymentID)
	if err != nil {
		return nil, err
	}
	session := snapshotSession(t)

	recent := session.HealthChecks
	if len(recent) > reportWindow {
		recent = recent[len(recent)-reportWindow:]
	}
	overall := 1.0
	if len(recent) > 0 {
		var sum float64
		for _, check := range recent {
			switch check.Status {
			case domain.HealthDegraded:
				sum += scoreDegraded
			case domain.HealthUnhealthy:
				sum += scoreUnhealthy
			default:
				sum += scoreHealthy
			}
		}
		overall = sum / float64(len(recent))
	}

	var criticals, highs int
	for _, alert := range session.Alerts {
		switch alert.Severity {
		case domain.SeverityCritical:
			criticals++
		case domain.SeverityHigh:
			highs++
		}
	}

	recommendation := domain.RecommendProceed
	switch {
	case overall < 0.5 || criticals > 0:
		recommendation = domain.RecommendRollback
	case overall < 0.8 || highs > 2:
		recommendation = domain.RecommendMonitor
	}

	return &domain.HealthReport{
		DeploymentID:   deploymentID,
		GeneratedAt:    m.now().UTC(),
		OverallHealth:  overall,
		Recommendation: recommendation,
		RecentChecks:   recent,
		ActiveAlerts:   session.Alerts,
	}, nil
}

// MetricsSummary aggregates every channel of a session.
func (m *Monitor) MetricsSummary(deploymentID string) (*domain.MetricsSummary, error) {
	t, err := m.task(deploymentID)
	if err != nil {
		return nil, err
	}
	session := snapshotSession(t)

	summary := &domain.MetricsSummary{
		DeploymentID: deploymentID,
		Channels:     make(map[domain.MetricChannel]domain.ChannelSummary, len(session.Channels)),
	}
	for channel, samples := range session.Channels {
		if len(samples) == 0 {
			continue
		}
		cs := domain.ChannelSummary{
			Count:  len(samples),
			Min:    samples[0].Value,
			Max:    samples[0].Value,
			Latest: samples[len(samples)-1].Value,
		}
		var sum float64
		for _, s := range samples {
			sum += s.Value
			if s.Value < cs.Min {
				cs.Min = s.Value
			}
			if s.Value > cs.Max {
				cs.Max = s.Value
			}
		}
		cs.Average = sum / float64(len(samples))
		summary.Channels[channel] = cs
	}
	return summary, nil
}
