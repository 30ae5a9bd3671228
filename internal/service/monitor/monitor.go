// Package monitor polls live metrics for active deployments, derives health
// state, and raises alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/events"
	"github.com/splax/rollout/internal/metrics"
)

// ErrSessionNotFound indicates no monitoring session exists for the given
// deployment.
var ErrSessionNotFound = errors.New("monitor: session not found")

// ErrAlreadyMonitoring indicates a session is already active for the given
// deployment.
var ErrAlreadyMonitoring = errors.New("monitor: session already active")

// Fixed resource bounds applied by the health check.
const (
	cpuBound            = 80.0
	memoryBound         = 85.0
	memoryCriticalBound = 90.0
)

// Trailing window sizes.
const (
	healthWindow = 5
	alertWindow  = 3
	reportWindow = 10
)

// Config tunes the monitor.
type Config struct {
	// Interval between poll ticks. Defaults to 10s.
	Interval time.Duration
	// ErrorThreshold is the error-rate ceiling (fraction). Defaults to 0.05.
	ErrorThreshold float64
	// PerformanceThreshold is the response-time ceiling in ms. Defaults to 500.
	PerformanceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 0.05
	}
	if c.PerformanceThreshold <= 0 {
		c.PerformanceThreshold = 500
	}
	return c
}

// task couples a session with its periodic poller.
type task struct {
	mu      sync.Mutex
	session *domain.MonitoringSession
	cancel  context.CancelFunc
	done    chan struct{}
	retired bool
}

// Monitor owns one monitoring session per active deployment. Sessions are
// fully independent; each runs its own timer-driven poll loop.
type Monitor struct {
	source metrics.Source
	bus    *events.Bus
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	// baseCtx bounds every poll loop. Loops must not inherit the caller's
	// context: an HTTP request context dies when the handler returns.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// New constructs a Monitor.
func New(source metrics.Source, bus *events.Bus, logger *slog.Logger, cfg Config) *Monitor {
	if logger != nil {
		logger = logger.With("component", "monitor")
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Monitor{
		source:     source,
		bus:        bus,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		tasks:      make(map[string]*task),
	}
}

// Close cancels every running poll loop. Sessions stay registered so reports
// remain readable after shutdown begins.
func (m *Monitor) Close() {
	m.baseCancel()
}

// StartMonitoring creates a session for the deployment and begins polling on
// the configured interval. ctx applies to the synchronous setup only; the
// poll loop runs until StopMonitoring or Close, and the caller is never
// blocked.
func (m *Monitor) StartMonitoring(ctx context.Context, deployment domain.Deployment) (*domain.MonitoringSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if _, exists := m.tasks[deployment.ID]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyMonitoring
	}
	session := &domain.MonitoringSession{
		DeploymentID: deployment.ID,
		StartedAt:    m.now().UTC(),
		Channels:     make(map[domain.MetricChannel][]domain.Sample),
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	t := &task{session: session, cancel: cancel, done: make(chan struct{})}
	m.tasks[deployment.ID] = t
	m.mu.Unlock()

	go m.run(runCtx, t)

	if m.logger != nil {
		m.logger.Info("monitoring started", "deployment_id", deployment.ID, "interval", m.cfg.Interval)
	}
	m.publish(events.MonitoringStarted, deployment.ID, map[string]any{"interval": m.cfg.Interval.String()})
	return snapshotSession(t), nil
}

// StopMonitoring halts the poll loop and retires the session. It returns
// once no further appends can occur.
func (m *Monitor) StopMonitoring(deploymentID string) error {
	m.mu.Lock()
	t, ok := m.tasks[deploymentID]
	if ok {
		delete(m.tasks, deploymentID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	t.cancel()
	<-t.done
	t.mu.Lock()
	t.retired = true
	t.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("monitoring stopped", "deployment_id", deploymentID)
	}
	m.publish(events.MonitoringStopped, deploymentID, nil)
	return nil
}

// Session returns a copy of the active session for a deployment.
func (m *Monitor) Session(deploymentID string) (*domain.MonitoringSession, error) {
	t, err := m.task(deploymentID)
	if err != nil {
		return nil, err
	}
	return snapshotSession(t), nil
}

func (m *Monitor) task(deploymentID string) (*task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[deploymentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return t, nil
}

func (m *Monitor) run(ctx context.Context, t *task) {
	defer close(t.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, t)
		}
	}
}

// tick performs one collect / health-check / alert cycle. A failed poll is a
// skipped sample, never a fatal condition.
func (m *Monitor) tick(ctx context.Context, t *task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retired {
		return
	}

	now := m.now().UTC()
	session := t.session
	m.collect(ctx, session, now)
	check := m.healthCheck(session, now)
	session.HealthChecks = append(session.HealthChecks, check)
	if check.Status != domain.HealthHealthy {
		m.publish(events.HealthDegraded, session.DeploymentID, map[string]any{
			"status": check.Status,
			"checks": check.Checks,
		})
	}
	m.evaluateAlerts(session, now)
}

func (m *Monitor) collect(ctx context.Context, session *domain.MonitoringSession, now time.Time) {
	id := session.DeploymentID

	if errorRate, err := m.source.ErrorRate(ctx, id); err != nil {
		m.pollFailed(id, domain.ChannelErrorRate, err)
	} else {
		appendSample(session, domain.ChannelErrorRate, now, errorRate)
	}

	if rt, err := m.source.ResponseTimes(ctx, id); err != nil {
		m.pollFailed(id, domain.ChannelResponseTime, err)
	} else {
		appendSample(session, domain.ChannelResponseTime, now, rt.Average)
	}

	if usage, err := m.source.ResourceUsage(ctx, id); err != nil {
		m.pollFailed(id, domain.ChannelCPUUsage, err)
	} else {
		appendSample(session, domain.ChannelCPUUsage, now, usage.CPU)
		appendSample(session, domain.ChannelMemoryUsage, now, usage.Memory)
	}

	if feedback, err := m.source.UserFeedback(ctx, id); err != nil {
		m.pollFailed(id, domain.ChannelUserFeedback, err)
	} else if feedback.OK {
		appendSample(session, domain.ChannelUserFeedback, now, feedback.Score)
	}
}

func (m *Monitor) pollFailed(deploymentID string, channel domain.MetricChannel, err error) {
	if m.logger == nil {
		return
	}
	m.logger.Warn("metric poll failed", "deployment_id", deploymentID, "channel", channel, "error", err)
}

// healthCheck grades the trailing window of each channel. A failed error
// check forces unhealthy; response-time or resource failures degrade but
// never escalate past degraded on their own.
func (m *Monitor) healthCheck(session *domain.MonitoringSession, now time.Time) domain.HealthCheck {
	checks := domain.CheckResults{
		ErrorRate:    true,
		ResponseTime: true,
		Resources:    true,
		Dependencies: true,
	}
	status := domain.HealthHealthy

	if avg, ok := trailingAverage(session.Channels[domain.ChannelErrorRate], healthWindow); ok && avg > m.cfg.ErrorThreshold {
		checks.ErrorRate = false
		status = domain.HealthUnhealthy
	}
	if avg, ok := trailingAverage(session.Channels[domain.ChannelResponseTime], healthWindow); ok && avg > m.cfg.PerformanceThreshold {
		checks.ResponseTime = false
		if status != domain.HealthUnhealthy {
			status = domain.HealthDegraded
		}
	}
	cpuAvg, cpuOK := trailingAverage(session.Channels[domain.ChannelCPUUsage], healthWindow)
	memAvg, memOK := trailingAverage(session.Channels[domain.ChannelMemoryUsage], healthWindow)
	if (cpuOK && cpuAvg > cpuBound) || (memOK && memAvg > memoryBound) {
		checks.Resources = false
		if status != domain.HealthUnhealthy {
			status = domain.HealthDegraded
		}
	}

	return domain.HealthCheck{Timestamp: now, Status: status, Checks: checks}
}

func (m *Monitor) evaluateAlerts(session *domain.MonitoringSession, now time.Time) {
	if avg, ok := trailingAverage(session.Channels[domain.ChannelErrorRate], alertWindow); ok {
		switch {
		case avg > 2*m.cfg.ErrorThreshold:
			m.raiseAlert(session, domain.SeverityCritical, domain.ChannelErrorRate, avg, m.cfg.ErrorThreshold,
				fmt.Sprintf("error rate %.4f above twice threshold %.4f", avg, m.cfg.ErrorThreshold), now)
		case avg > m.cfg.ErrorThreshold:
			m.raiseAlert(session, domain.SeverityHigh, domain.ChannelErrorRate, avg, m.cfg.ErrorThreshold,
				fmt.Sprintf("error rate %.4f above threshold %.4f", avg, m.cfg.ErrorThreshold), now)
		}
	}
	if avg, ok := trailingAverage(session.Channels[domain.ChannelResponseTime], alertWindow); ok && avg > 1.5*m.cfg.PerformanceThreshold {
		m.raiseAlert(session, domain.SeverityHigh, domain.ChannelResponseTime, avg, m.cfg.PerformanceThreshold,
			fmt.Sprintf("response time %.0fms above 1.5x threshold %.0fms", avg, m.cfg.PerformanceThreshold), now)
	}
	if latest, ok := latestSample(session.Channels[domain.ChannelMemoryUsage]); ok && latest > memoryCriticalBound {
		m.raiseAlert(session, domain.SeverityCritical, domain.ChannelMemoryUsage, latest, memoryCriticalBound,
			fmt.Sprintf("memory usage %.1f%% above %.0f%%", latest, memoryCriticalBound), now)
	}
}

func (m *Monitor) raiseAlert(session *domain.MonitoringSession, severity domain.AlertSeverity, channel domain.MetricChannel, value, threshold float64, message string, now time.Time) {
	alert := domain.Alert{
		ID:           uuid.NewString(),
		DeploymentID: session.DeploymentID,
		Severity:     severity,
		Metric:       channel,
		Message:      message,
		Value:        value,
		Threshold:    threshold,
		RaisedAt:     now,
	}
	session.Alerts = append(session.Alerts, alert)
	observeAlert(string(severity))
	if m.logger != nil {
		m.logger.Warn("alert raised", "deployment_id", session.DeploymentID, "severity", severity, "metric", channel, "value", value)
	}
	m.publish(events.AlertRaised, session.DeploymentID, alert)
}

func (m *Monitor) publish(eventType events.Type, deploymentID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:         eventType,
		DeploymentID: deploymentID,
		At:           m.now().UTC(),
		Payload:      payload,
	})
}

func appendSample(session *domain.MonitoringSession, channel domain.MetricChannel, now time.Time, value float64) {
	session.Channels[channel] = append(session.Channels[channel], domain.Sample{Timestamp: now, Value: value})
}

func trailingAverage(samples []domain.Sample, window int) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	if window > len(samples) {
		window = len(samples)
	}
	var sum float64
	for _, s := range samples[len(samples)-window:] {
		sum += s.Value
	}
	return sum / float64(window), true
}

func latestSample(samples []domain.Sample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	return samples[len(samples)-1].Value, true
}

func snapshotSession(t *task) *domain.MonitoringSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	session := *t.session
	session.Channels = make(map[domain.MetricChannel][]domain.Sample, len(t.session.Channels))
	for channel, samples := range t.session.Channels {
		session.Channels[channel] = append([]domain.Sample(nil), samples...)
	}
	session.Alerts = append([]domain.Alert(nil), t.session.Alerts...)
	session.HealthChecks = append([]domain.HealthCheck(nil), t.session.HealthChecks...)
	return &session
}
