// Package validate runs long-horizon statistical validation after a rollout
// is nominally complete.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/metrics"
)

// Hard safety cutoffs, independent of the configured duration.
const (
	cutoffWindow       = 5
	errorRateCutoff    = 0.10
	responseTimeCutoff = 1000.0
)

// Config tunes the validator.
type Config struct {
	// SampleInterval between pulls. Defaults to 60s.
	SampleInterval time.Duration
	// DefaultDuration of the sampling window when the caller passes none.
	// Defaults to one hour.
	DefaultDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Minute
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = time.Hour
	}
	return c
}

// Validator samples the metrics source over an extended window and produces
// a success/rollback recommendation with a confidence score.
type Validator struct {
	source metrics.Source
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// New constructs a Validator.
func New(source metrics.Source, logger *slog.Logger, cfg Config) *Validator {
	if logger != nil {
		logger = logger.With("component", "validate")
	}
	return &Validator{
		source: source,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// samples accumulates the collected observations per metric family.
type samples struct {
	errorRates    []float64
	responseTimes []float64
	p95s          []float64
	p99s          []float64
	feedbackSum   float64
	feedbackN     int
	feedbackSize  int
	conversions   []float64
}

// Validate samples metrics for the given duration (default one hour) on the
// configured cadence and scores the outcome. The loop stops early when the
// trailing five error-rate samples average above 10% or the trailing five
// response-time samples average above 1000ms. Context cancellation ends
// collection; whatever was gathered is still scored so the caller always
// receives a terminal, inspectable report.
func (v *Validator) Validate(ctx context.Context, deployment domain.Deployment, duration time.Duration) (*domain.ValidationReport, error) {
	if duration <= 0 {
		duration = v.cfg.DefaultDuration
	}
	started := v.now().UTC()
	deadline := started.Add(duration)

	if v.logger != nil {
		v.logger.Info("validation started", "deployment_id", deployment.ID, "duration", duration, "interval", v.cfg.SampleInterval)
	}

	collected := &samples{}
	earlyStop := false
	ticker := time.NewTicker(v.cfg.SampleInterval)
	defer ticker.Stop()

loop:
	for v.now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		v.collect(ctx, deployment.ID, collected)

		if avg, ok := trailingMean(collected.errorRates, cutoffWindow); ok && avg > errorRateCutoff {
			earlyStop = true
			if v.logger != nil {
				v.logger.Warn("validation cut off on error rate", "deployment_id", deployment.ID, "trailing_avg", avg)
			}
			break
		}
		if avg, ok := trailingMean(collected.responseTimes, cutoffWindow); ok && avg > responseTimeCutoff {
			earlyStop = true
			if v.logger != nil {
				v.logger.Warn("validation cut off on response time", "deployment_id", deployment.ID, "trailing_avg", avg)
			}
			break
		}
	}

	report := v.score(deployment.ID, collected)
	report.StartedAt = started
	report.CompletedAt = v.now().UTC()
	report.TerminatedEarly = earlyStop
	report.SampledWindow = report.CompletedAt.Sub(started)

	if v.logger != nil {
		v.logger.Info("validation finished", "deployment_id", deployment.ID,
			"success", report.Success, "confidence", report.ConfidenceScore,
			"findings", len(report.Findings), "early", earlyStop)
	}
	return report, nil
}

// collect pulls one observation per family. A failed pull is a skipped
// sample; the loop continues on the next tick.
func (v *Validator) collect(ctx context.Context, deploymentID string, acc *samples) {
	if rate, err := v.source.ErrorRate(ctx, deploymentID); err != nil {
		v.pollFailed(deploymentID, "error_rate", err)
	} else {
		acc.errorRates = append(acc.errorRates, rate)
	}
	if rt, err := v.source.ResponseTimes(ctx, deploymentID); err != nil {
		v.pollFailed(deploymentID, "response_times", err)
	} else {
		acc.responseTimes = append(acc.responseTimes, rt.Average)
		acc.p95s = append(acc.p95s, rt.P95)
		acc.p99s = append(acc.p99s, rt.P99)
	}
	if feedback, err := v.source.UserFeedback(ctx, deploymentID); err != nil {
		v.pollFailed(deploymentID, "user_feedback", err)
	} else if feedback.OK {
		acc.feedbackSum += feedback.Score
		acc.feedbackN++
		acc.feedbackSize += feedback.SampleSize
	}
	if biz, err := v.source.BusinessMetrics(ctx, deploymentID); err != nil {
		v.pollFailed(deploymentID, "business", err)
	} else {
		acc.conversions = append(acc.conversions, biz.ConversionRate)
	}
}

func (v *Validator) pollFailed(deploymentID, family string, err error) {
	if v.logger == nil {
		return
	}
	v.logger.Warn("validation sample failed", "deployment_id", deploymentID, "family", family, "error", err)
}

// score evaluates each metric family independently and multiplies the four
// family confidences into the overall score.
func (v *Validator) score(deploymentID string, acc *samples) *domain.ValidationReport {
	report := &domain.ValidationReport{
		DeploymentID: deploymentID,
		SampleCount:  len(acc.errorRates),
	}

	reliability := v.scoreReliability(acc, report)
	performance := v.scorePerformance(acc, report)
	experience := v.scoreUserExperience(acc, report)
	business := v.scoreBusiness(acc, report)

	report.ConfidenceScore = reliability * performance * experience * business
	report.Success = true
	for _, finding := range report.Findings {
		if finding.Severity == domain.SeverityHigh && finding.Type == domain.FindingNegative {
			report.Success = false
			break
		}
	}
	report.Recommendations = recommendations(report)
	return report
}

func (v *Validator) scoreReliability(acc *samples, report *domain.ValidationReport) float64 {
	confidence := 1.0
	if len(acc.errorRates) == 0 {
		return confidence
	}
	avg := mean(acc.errorRates)
	switch {
	case avg < 0.01:
		addFinding(report, domain.FindingPositive, domain.CategoryReliability, domain.SeverityLow,
			fmt.Sprintf("average error rate %.4f below 1%%", avg))
	case avg < 0.05:
		addFinding(report, domain.FindingNeutral, domain.CategoryReliability, domain.SeverityLow,
			fmt.Sprintf("average error rate %.4f within tolerance", avg))
	default:
		addFinding(report, domain.FindingNegative, domain.CategoryReliability, domain.SeverityHigh,
			fmt.Sprintf("average error rate %.4f at or above 5%%", avg))
		confidence *= 0.7
	}
	if classifyTrend(acc.errorRates) == trendIncreasing {
		addFinding(report, domain.FindingNegative, domain.CategoryReliability, domain.SeverityMedium,
			"error rate increasing over the sampling window")
		confidence *= 0.8
	}
	return confidence
}

func (v *Validator) scorePerformance(acc *samples, report *domain.ValidationReport) float64 {
	confidence := 1.0
	if len(acc.responseTimes) == 0 {
		return confidence
	}
	avg := mean(acc.responseTimes)
	switch {
	case avg < 200:
		addFinding(report, domain.FindingPositive, domain.CategoryPerformance, domain.SeverityLow,
			fmt.Sprintf("average response time %.0fms below 200ms", avg))
	case avg < 500:
		addFinding(report, domain.FindingNeutral, domain.CategoryPerformance, domain.SeverityLow,
			fmt.Sprintf("average response time %.0fms within tolerance", avg))
	default:
		addFinding(report, domain.FindingNegative, domain.CategoryPerformance, domain.SeverityMedium,
			fmt.Sprintf("average response time %.0fms at or above 500ms", avg))
		confidence *= 0.8
	}
	if classifyTrend(acc.responseTimes) == trendIncreasing {
		addFinding(report, domain.FindingNegative, domain.CategoryPerformance, domain.SeverityMedium,
			"response time increasing over the sampling window")
		confidence *= 0.85
	}
	return confidence
}

func (v *Validator) scoreUserExperience(acc *samples, report *domain.ValidationReport) float64 {
	if acc.feedbackN == 0 {
		// No feedback collected at all; fixed reduced confidence, no findings.
		return 0.7
	}
	confidence := 1.0
	avg := acc.feedbackSum / float64(acc.feedbackN)
	switch {
	case avg >= 4.5:
		addFinding(report, domain.FindingPositive, domain.CategoryUserExperience, domain.SeverityLow,
			fmt.Sprintf("average feedback score %.2f of 5", avg))
	case avg >= 3.5:
		addFinding(report, domain.FindingNeutral, domain.CategoryUserExperience, domain.SeverityLow,
			fmt.Sprintf("average feedback score %.2f of 5", avg))
	default:
		addFinding(report, domain.FindingNegative, domain.CategoryUserExperience, domain.SeverityHigh,
			fmt.Sprintf("average feedback score %.2f below 3.5", avg))
		confidence *= 0.6
	}
	if acc.feedbackSize < 100 {
		confidence *= 0.8
	}
	return confidence
}

func (v *Validator) scoreBusiness(acc *samples, report *domain.ValidationReport) float64 {
	confidence := 1.0
	if len(acc.conversions) == 0 {
		return confidence
	}
	switch classifyTrend(acc.conversions) {
	case trendIncreasing:
		addFinding(report, domain.FindingPositive, domain.CategoryBusiness, domain.SeverityLow,
			"conversion rate increasing over the sampling window")
	case trendDecreasing:
		addFinding(report, domain.FindingNegative, domain.CategoryBusiness, domain.SeverityMedium,
			"conversion rate decreasing over the sampling window")
		confidence *= 0.85
	default:
		addFinding(report, domain.FindingNeutral, domain.CategoryBusiness, domain.SeverityLow,
			"conversion rate stable over the sampling window")
	}
	return confidence
}

func addFinding(report *domain.ValidationReport, kind domain.FindingType, category domain.FindingCategory, severity domain.AlertSeverity, evidence string) {
	report.Findings = append(report.Findings, domain.Finding{
		Type:     kind,
		Category: category,
		Severity: severity,
		Evidence: evidence,
	})
}

// recommendations derives operator guidance from which findings fired.
func recommendations(report *domain.ValidationReport) []string {
	var out []string
	if !report.Success {
		out = append(out, "High-severity regression detected; roll back this deployment")
	}
	for _, finding := range report.Findings {
		if finding.Type != domain.FindingNegative {
			continue
		}
		switch finding.Category {
		case domain.CategoryPerformance:
			out = appendUnique(out, "Profile hot paths and review caching before the next rollout")
		case domain.CategoryReliability:
			out = appendUnique(out, "Inspect error logs and recent changes for the elevated error rate")
		case domain.CategoryUserExperience:
			out = appendUnique(out, "Review user feedback for actionable complaints")
		case domain.CategoryBusiness:
			out = appendUnique(out, "Compare conversion funnels between versions before promoting further")
		}
	}
	if len(out) == 0 {
		out = append(out, "No action required; continue normal monitoring")
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
