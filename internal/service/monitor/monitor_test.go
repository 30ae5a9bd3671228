package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/events"
	"github.com/splax/rollout/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves fixed observations, optionally failing one family.
type fakeSource struct {
	mu       sync.Mutex
	errRate  float64
	respAvg  float64
	cpu      float64
	mem      float64
	feedback metrics.Feedback
	rateErr  error
	respErr  error
	usageErr error
}

func (f *fakeSource) set(errRate, respAvg, cpu, mem float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errRate, f.respAvg, f.cpu, f.mem = errRate, respAvg, cpu, mem
}

func (f *fakeSource) ErrorRate(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateErr != nil {
		return 0, f.rateErr
	}
	return f.errRate, nil
}

func (f *fakeSource) ResponseTimes(context.Context, string) (metrics.ResponseTimes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.respErr != nil {
		return metrics.ResponseTimes{}, f.respErr
	}
	return metrics.ResponseTimes{Average: f.respAvg, P95: f.respAvg * 2, P99: f.respAvg * 3}, nil
}

func (f *fakeSource) ResourceUsage(context.Context, string) (metrics.ResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageErr != nil {
		return metrics.ResourceUsage{}, f.usageErr
	}
	return metrics.ResourceUsage{CPU: f.cpu, Memory: f.mem}, nil
}

func (f *fakeSource) UserFeedback(context.Context, string) (metrics.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feedback, nil
}

func (f *fakeSource) BusinessMetrics(context.Context, string) (metrics.BusinessMetrics, error) {
	return metrics.BusinessMetrics{ConversionRate: 0.04}, nil
}

func startTask(t *testing.T, m *Monitor, deploymentID string) *task {
	t.Helper()
	_, err := m.StartMonitoring(context.Background(), domain.Deployment{ID: deploymentID, EvolutionID: "evo-1"})
	if err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	tk, err := m.task(deploymentID)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	return tk
}

func TestStartMonitoringConflict(t *testing.T) {
	m := New(&fakeSource{}, nil, testLogger(), Config{})
	defer m.StopMonitoring("dep-1")

	startTask(t, m, "dep-1")
	if _, err := m.StartMonitoring(context.Background(), domain.Deployment{ID: "dep-1"}); !errors.Is(err, ErrAlreadyMonitoring) {
		t.Fatalf("err = %v, want ErrAlreadyMonitoring", err)
	}
}

func TestStopMonitoringUnknown(t *testing.T) {
	m := New(&fakeSource{}, nil, testLogger(), Config{})
	if err := m.StopMonitoring("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestTickCollectsAllChannels(t *testing.T) {
	source := &fakeSource{feedback: metrics.Feedback{Score: 4.2, SampleSize: 50, OK: true}}
	source.set(0.01, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)

	session, err := m.Session("dep-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	for _, channel := range []domain.MetricChannel{
		domain.ChannelErrorRate,
		domain.ChannelResponseTime,
		domain.ChannelCPUUsage,
		domain.ChannelMemoryUsage,
		domain.ChannelUserFeedback,
	} {
		if len(session.Channels[channel]) != 1 {
			t.Errorf("channel %s has %d samples, want 1", channel, len(session.Channels[channel]))
		}
	}
	if len(session.HealthChecks) != 1 {
		t.Fatalf("health checks = %d, want 1", len(session.HealthChecks))
	}
	if session.HealthChecks[0].Status != domain.HealthHealthy {
		t.Errorf("status = %s, want healthy", session.HealthChecks[0].Status)
	}
	if len(session.Alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(session.Alerts))
	}
}

func TestTickSkipsFailedPolls(t *testing.T) {
	source := &fakeSource{respErr: metrics.ErrUnavailable}
	source.set(0.01, 0, 40, 55)
	m := New(source, nil, testLogger(), Config{})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)

	session, _ := m.Session("dep-1")
	if len(session.Channels[domain.ChannelResponseTime]) != 0 {
		t.Error("response-time sample recorded despite poll failure")
	}
	if len(session.Channels[domain.ChannelErrorRate]) != 1 {
		t.Error("error-rate sample missing")
	}
}

func TestPollLoopOutlivesCallerContext(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{Interval: 5 * time.Millisecond})
	defer m.StopMonitoring("dep-1")

	// A start request's context dies as soon as the handler returns; the
	// poll loop must keep running regardless.
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.StartMonitoring(ctx, domain.Deployment{ID: "dep-1"}); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		session, err := m.Session("dep-1")
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if len(session.Channels[domain.ChannelErrorRate]) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no samples collected after the caller context was cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	tk, err := m.task("dep-1")
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	select {
	case <-tk.done:
		t.Fatal("poll loop exited with the caller context")
	default:
	}
}

func TestStartMonitoringCancelledContext(t *testing.T) {
	m := New(&fakeSource{}, nil, testLogger(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.StartMonitoring(ctx, domain.Deployment{ID: "dep-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := m.Session("dep-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session registered despite cancelled start: err = %v", err)
	}
}

func TestCloseStopsAllPollLoops(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{Interval: 5 * time.Millisecond})

	tk1 := startTask(t, m, "dep-1")
	tk2 := startTask(t, m, "dep-2")

	m.Close()

	for _, tk := range []*task{tk1, tk2} {
		select {
		case <-tk.done:
		case <-time.After(time.Second):
			t.Fatal("poll loop still running after Close")
		}
	}
	// Sessions stay readable for post-shutdown reporting.
	if _, err := m.Session("dep-1"); err != nil {
		t.Fatalf("Session after Close: %v", err)
	}
}

func TestSlowResponseTimeOnlyDegrades(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 800, 40, 55)
	m := New(source, nil, testLogger(), Config{ErrorThreshold: 0.05, PerformanceThreshold: 500})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	for i := 0; i < 5; i++ {
		m.tick(context.Background(), tk)
	}

	session, _ := m.Session("dep-1")
	for _, check := range session.HealthChecks {
		if check.Status != domain.HealthDegraded {
			t.Errorf("status = %s, want degraded", check.Status)
		}
		if !check.Checks.ErrorRate {
			t.Error("error-rate check failed with rate under threshold")
		}
		if check.Checks.ResponseTime {
			t.Error("response-time check passed at 800ms against 500ms threshold")
		}
	}
}

func TestResourcePressureOnlyDegrades(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 95, 55)
	m := New(source, nil, testLogger(), Config{ErrorThreshold: 0.05, PerformanceThreshold: 500})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	for i := 0; i < 5; i++ {
		m.tick(context.Background(), tk)
	}

	session, _ := m.Session("dep-1")
	for _, check := range session.HealthChecks {
		if check.Status != domain.HealthDegraded {
			t.Errorf("status = %s, want degraded", check.Status)
		}
		if !check.Checks.ErrorRate {
			t.Error("error-rate check failed with rate under threshold")
		}
		if check.Checks.Resources {
			t.Error("resource check passed at 95% CPU")
		}
	}
}

func TestElevatedErrorRateGoesUnhealthyAndCritical(t *testing.T) {
	source := &fakeSource{}
	source.set(0.20, 120, 40, 55)
	bus := events.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []events.Type
	done := make(chan struct{}, 16)
	bus.Subscribe("dep-1", events.SubscriberFunc(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	m := New(source, bus, testLogger(), Config{ErrorThreshold: 0.05})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	for i := 0; i < 5; i++ {
		m.tick(context.Background(), tk)
	}

	session, _ := m.Session("dep-1")
	last := session.HealthChecks[len(session.HealthChecks)-1]
	if last.Status != domain.HealthUnhealthy {
		t.Errorf("status = %s, want unhealthy", last.Status)
	}
	if last.Checks.ErrorRate {
		t.Error("error-rate check passed at 4x the threshold")
	}
	if len(session.Alerts) == 0 {
		t.Fatal("no alerts raised")
	}
	critical := false
	for _, alert := range session.Alerts {
		if alert.Severity == domain.SeverityCritical && alert.Metric == domain.ChannelErrorRate {
			critical = true
		}
	}
	if !critical {
		t.Error("no critical error-rate alert at twice the threshold")
	}

	// Bus fan-out is asynchronous; wait for the degraded event to land.
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		var sawDegraded bool
		for _, typ := range seen {
			if typ == events.HealthDegraded {
				sawDegraded = true
			}
		}
		mu.Unlock()
		if sawDegraded {
			return
		}
		select {
		case <-done:
		case <-deadline:
			mu.Lock()
			defer mu.Unlock()
			t.Fatalf("events %v missing %s", seen, events.HealthDegraded)
		}
	}
}

func TestHighAlertBetweenThresholds(t *testing.T) {
	source := &fakeSource{}
	source.set(0.07, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{ErrorThreshold: 0.05})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	for i := 0; i < 3; i++ {
		m.tick(context.Background(), tk)
	}

	session, _ := m.Session("dep-1")
	if len(session.Alerts) == 0 {
		t.Fatal("no alerts raised")
	}
	for _, alert := range session.Alerts {
		if alert.Metric == domain.ChannelErrorRate && alert.Severity != domain.SeverityHigh {
			t.Errorf("error-rate alert severity = %s, want high", alert.Severity)
		}
	}
}

func TestMemoryCriticalAlert(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 40, 95)
	m := New(source, nil, testLogger(), Config{})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)

	session, _ := m.Session("dep-1")
	found := false
	for _, alert := range session.Alerts {
		if alert.Metric == domain.ChannelMemoryUsage && alert.Severity == domain.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Error("no critical memory alert at 95%")
	}
}

func TestStopMonitoringPreventsFurtherAppends(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{})
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)
	if err := m.StopMonitoring("dep-1"); err != nil {
		t.Fatalf("StopMonitoring: %v", err)
	}

	before := len(tk.session.HealthChecks)
	m.tick(context.Background(), tk)
	if len(tk.session.HealthChecks) != before {
		t.Error("tick appended to a retired session")
	}
	if _, err := m.Session("dep-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Session after stop: err = %v, want ErrSessionNotFound", err)
	}
}

func TestGenerateHealthReportRecommendations(t *testing.T) {
	source := &fakeSource{}
	source.set(0.01, 120, 40, 55)
	m := New(source, nil, testLogger(), Config{ErrorThreshold: 0.05})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)
	report, err := m.GenerateHealthReport("dep-1")
	if err != nil {
		t.Fatalf("GenerateHealthReport: %v", err)
	}
	if report.Recommendation != domain.RecommendProceed {
		t.Errorf("recommendation = %s, want proceed", report.Recommendation)
	}
	if report.OverallHealth != 1.0 {
		t.Errorf("overall health = %v, want 1.0", report.OverallHealth)
	}

	// Degrade hard: sustained elevated error rate forces rollback advice.
	source.set(0.25, 120, 40, 55)
	for i := 0; i < 10; i++ {
		m.tick(context.Background(), tk)
	}
	report, err = m.GenerateHealthReport("dep-1")
	if err != nil {
		t.Fatalf("GenerateHealthReport: %v", err)
	}
	if report.Recommendation != domain.RecommendRollback {
		t.Errorf("recommendation = %s, want rollback", report.Recommendation)
	}
	if report.OverallHealth >= 0.5 {
		t.Errorf("overall health = %v, want < 0.5", report.OverallHealth)
	}
}

func TestMetricsSummary(t *testing.T) {
	source := &fakeSource{}
	source.set(0.02, 100, 40, 55)
	m := New(source, nil, testLogger(), Config{})
	defer m.StopMonitoring("dep-1")
	tk := startTask(t, m, "dep-1")

	m.tick(context.Background(), tk)
	source.set(0.04, 300, 40, 55)
	m.tick(context.Background(), tk)

	summary, err := m.MetricsSummary("dep-1")
	if err != nil {
		t.Fatalf("MetricsSummary: %v", err)
	}
	rt := summary.Channels[domain.ChannelResponseTime]
	if rt.Count != 2 {
		t.Fatalf("response-time count = %d, want 2", rt.Count)
	}
	if rt.Min != 100 || rt.Max != 300 || rt.Latest != 300 {
		t.Errorf("min/max/latest = %v/%v/%v, want 100/300/300", rt.Min, rt.Max, rt.Latest)
	}
	if rt.Average != 200 {
		t.Errorf("average = %v, want 200", rt.Average)
	}
}
